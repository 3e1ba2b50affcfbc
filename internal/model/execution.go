package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of an Execution.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func (s Status) validateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusRunning || target == StatusFailed
	case StatusRunning:
		return target == StatusCompleted || target == StatusFailed || target == StatusStopped
	default:
		return false
	}
}

// Reason tells why an execution ended in FAILED or STOPPED.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonLaunchError     Reason = "launch_error"
	ReasonRuntimeFailure  Reason = "runtime_failure"
	ReasonMissingOutput   Reason = "missing_output"
	ReasonStopRequested   Reason = "stop_requested"
	ReasonTimeoutExceeded Reason = "timeout_exceeded"
)

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of worker output. Seq starts at 1 and grows by one per line
// across both streams.
type Line struct {
	Seq    int64     `json:"seq"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

const StderrTailLines = 20

// Execution is the record of one worker run. The supervisor owns the only
// mutable copy; everybody else sees values returned by Snapshot.
type Execution struct {
	ID          string    `json:"id"`
	Request     Request   `json:"request"`
	Args        []string  `json:"args"`
	WorkDir     string    `json:"work_dir"`
	Status      Status    `json:"status"`
	PID         int       `json:"pid,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartTime   time.Time `json:"start_time,omitzero"`
	EndTime     time.Time `json:"end_time,omitzero"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Reason      Reason    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	Output      []Line    `json:"output,omitempty"`
	OutputFiles []string  `json:"output_files,omitempty"`
	Missing     []string  `json:"missing,omitempty"`
	Tail        []string  `json:"stderr_tail,omitempty"` // last stderr lines of a FAILED or STOPPED run
}

// NewExecution returns a PENDING record.
func NewExecution(id string, req Request, args []string, workDir string, outputs []string, now time.Time) *Execution {
	return &Execution{
		ID:          id,
		Request:     req,
		Args:        slices.Clone(args),
		WorkDir:     workDir,
		Status:      StatusPending,
		CreatedAt:   now,
		OutputFiles: slices.Clone(outputs),
	}
}

func (e *Execution) transition(target Status) error {
	if err := e.Status.validateTransition(target); err != nil {
		return fmt.Errorf("execution %s: %w", e.ID, err)
	}
	e.Status = target
	return nil
}

func (e *Execution) MarkRunning(pid int, at time.Time) error {
	if pid <= 0 {
		return fmt.Errorf("execution %s: invalid pid %d", e.ID, pid)
	}
	if err := e.transition(StatusRunning); err != nil {
		return err
	}
	e.PID = pid
	e.StartTime = at
	return nil
}

// AppendLine adds a line of output and returns it. Lines arriving after a
// terminal transition are dropped.
func (e *Execution) AppendLine(stream Stream, text string, at time.Time) (Line, bool) {
	if e.Status.Terminal() {
		return Line{}, false
	}
	l := Line{
		Seq:    int64(len(e.Output)) + 1,
		Stream: stream,
		Text:   text,
		Time:   at,
	}
	e.Output = append(e.Output, l)
	return l, true
}

func (e *Execution) MarkCompleted(at time.Time) error {
	if err := e.transition(StatusCompleted); err != nil {
		return err
	}
	e.finish(at)
	zero := 0
	e.ExitCode = &zero
	return nil
}

// MarkLaunchFailed moves a PENDING record to FAILED without a process.
func (e *Execution) MarkLaunchFailed(cause error, at time.Time) error {
	if e.Status != StatusPending {
		return fmt.Errorf("execution %s: %w from %s to %s", e.ID, ErrInvalidTransition, e.Status, StatusFailed)
	}
	if err := e.transition(StatusFailed); err != nil {
		return err
	}
	e.finish(at)
	e.Reason = ReasonLaunchError
	e.Message = cause.Error()
	return nil
}

// MarkExited records a non zero exit of a RUNNING worker.
func (e *Execution) MarkExited(code int, at time.Time) error {
	if code == 0 {
		return fmt.Errorf("execution %s: exit code 0 is not a failure", e.ID)
	}
	if err := e.transition(StatusFailed); err != nil {
		return err
	}
	e.finish(at)
	e.ExitCode = &code
	e.Reason = ReasonRuntimeFailure
	e.Message = (&ExitError{Code: code, StderrTail: e.Tail}).Error()
	return nil
}

// MarkMissingOutput records a clean exit whose declared files are absent.
func (e *Execution) MarkMissingOutput(missing []string, at time.Time) error {
	if len(missing) == 0 {
		return fmt.Errorf("execution %s: no missing files given", e.ID)
	}
	if err := e.transition(StatusFailed); err != nil {
		return err
	}
	e.finish(at)
	zero := 0
	e.ExitCode = &zero
	e.Reason = ReasonMissingOutput
	e.Missing = slices.Clone(missing)
	e.Message = (&MissingOutputError{Paths: e.Missing}).Error()
	return nil
}

// MarkStopped records a termination caused by a stop request or the timeout.
func (e *Execution) MarkStopped(reason Reason, at time.Time) error {
	if reason != ReasonStopRequested && reason != ReasonTimeoutExceeded {
		return fmt.Errorf("execution %s: invalid stop reason %q", e.ID, reason)
	}
	if err := e.transition(StatusStopped); err != nil {
		return err
	}
	e.finish(at)
	e.Reason = reason
	if reason == ReasonTimeoutExceeded {
		e.Message = ErrTimeoutExceeded.Error()
	} else {
		e.Message = ErrStopRequested.Error()
	}
	return nil
}

func (e *Execution) finish(at time.Time) {
	e.PID = 0
	e.EndTime = at
	if e.Status == StatusFailed || e.Status == StatusStopped {
		e.Tail = e.StderrTail(StderrTailLines)
	}
}

// Snapshot returns a copy that shares no mutable state with e. The output
// slice is capped so later appends to e never become visible through it.
func (e *Execution) Snapshot() *Execution {
	s := *e
	s.Args = slices.Clip(e.Args)
	s.Output = e.Output[:len(e.Output):len(e.Output)]
	s.OutputFiles = slices.Clip(e.OutputFiles)
	s.Missing = slices.Clip(e.Missing)
	s.Tail = slices.Clip(e.Tail)
	if e.ExitCode != nil {
		code := *e.ExitCode
		s.ExitCode = &code
	}
	return &s
}

func (e *Execution) Finished() bool {
	return e.Status.Terminal()
}

// Check verifies the cross field invariants of the current status.
func (e *Execution) Check() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("id is empty"))
	}
	running := e.Status == StatusRunning
	if running != (e.PID != 0) {
		errs = append(errs, fmt.Errorf("status %s with pid %d", e.Status, e.PID))
	}
	if e.Status.Terminal() == e.EndTime.IsZero() {
		errs = append(errs, fmt.Errorf("status %s with end time %v", e.Status, e.EndTime))
	}
	switch e.Status {
	case StatusPending:
		if e.ExitCode != nil || e.Reason != ReasonNone {
			errs = append(errs, errors.New("pending execution has a result"))
		}
	case StatusRunning:
		if e.StartTime.IsZero() {
			errs = append(errs, errors.New("running execution without start time"))
		}
		if e.ExitCode != nil {
			errs = append(errs, errors.New("running execution has an exit code"))
		}
	case StatusCompleted:
		if e.ExitCode == nil || *e.ExitCode != 0 {
			errs = append(errs, errors.New("completed execution without exit code 0"))
		}
		if len(e.Missing) != 0 {
			errs = append(errs, errors.New("completed execution with missing files"))
		}
	case StatusFailed:
		switch e.Reason {
		case ReasonLaunchError:
			if e.ExitCode != nil || !e.StartTime.IsZero() {
				errs = append(errs, errors.New("launch failure with a process"))
			}
		case ReasonRuntimeFailure:
			if e.ExitCode == nil || *e.ExitCode == 0 {
				errs = append(errs, errors.New("runtime failure without non zero exit code"))
			}
		case ReasonMissingOutput:
			if e.ExitCode == nil || *e.ExitCode != 0 || len(e.Missing) == 0 {
				errs = append(errs, errors.New("missing output failure without clean exit and missing files"))
			}
		default:
			errs = append(errs, fmt.Errorf("failed execution with reason %q", e.Reason))
		}
	case StatusStopped:
		if e.Reason != ReasonStopRequested && e.Reason != ReasonTimeoutExceeded {
			errs = append(errs, fmt.Errorf("stopped execution with reason %q", e.Reason))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown status %q", e.Status))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("execution %s: %w", e.ID, err)
	}
	return nil
}

// Err returns the typed error describing a FAILED or STOPPED execution.
func (e *Execution) Err() error {
	switch e.Reason {
	case ReasonLaunchError:
		return &LaunchError{Err: errors.New(e.Message)}
	case ReasonRuntimeFailure:
		code := -1
		if e.ExitCode != nil {
			code = *e.ExitCode
		}
		return &ExitError{Code: code, StderrTail: slices.Clone(e.Tail)}
	case ReasonMissingOutput:
		return &MissingOutputError{Paths: slices.Clone(e.Missing)}
	case ReasonStopRequested:
		return ErrStopRequested
	case ReasonTimeoutExceeded:
		return ErrTimeoutExceeded
	}
	return nil
}

// Summary is a human readable description of the state. FAILED and STOPPED
// executions are followed by their stderr tail, one indented line each.
func (e *Execution) Summary() string {
	switch e.Status {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return fmt.Sprintf("running (pid %d) for %s", e.PID, e.Duration(time.Now()).Round(time.Second))
	case StatusCompleted:
		return fmt.Sprintf("completed in %s", e.Duration(time.Now()).Round(time.Millisecond))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s): %s", strings.ToLower(string(e.Status)), e.Reason, e.Message)
	for _, l := range e.Tail {
		sb.WriteString("\n    ")
		sb.WriteString(l)
	}
	return sb.String()
}

// Duration is the time the worker has been running, measured up to now for a live worker.
func (e *Execution) Duration(now time.Time) time.Duration {
	if e.StartTime.IsZero() {
		return 0
	}
	if !e.EndTime.IsZero() {
		return e.EndTime.Sub(e.StartTime)
	}
	return now.Sub(e.StartTime)
}

// StderrTail returns up to n last stderr lines.
func (e *Execution) StderrTail(n int) []string {
	var ret []string
	for i := len(e.Output) - 1; i >= 0 && len(ret) < n; i-- {
		if e.Output[i].Stream == Stderr {
			ret = append(ret, e.Output[i].Text)
		}
	}
	slices.Reverse(ret)
	return ret
}

// Text joins all lines of one stream.
func (e *Execution) Text(stream Stream) string {
	var sb strings.Builder
	for _, l := range e.Output {
		if l.Stream != stream {
			continue
		}
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// LinesSince returns the lines with a sequence number greater than seq.
func (e *Execution) LinesSince(seq int64) []Line {
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(e.Output)) {
		return nil
	}
	return e.Output[seq:]
}
