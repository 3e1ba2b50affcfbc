package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lizheng/media-analyst/internal/log"
	"github.com/lizheng/media-analyst/internal/model"
)

const (
	DefaultGrace = 5 * time.Second
	tracerName   = "github.com/lizheng/media-analyst/internal/service"
)

// Config is the resolved worker invocation.
type Config struct {
	Command []string // prefix, e.g. uv run main.py
	Dir     string   // default working directory
	Env     []string // KEY=VALUE added to the inherited environment
	Timeout time.Duration
	Grace   time.Duration // between SIGTERM and SIGKILL
	Settle  time.Duration // before the output files are checked again
	Flags   model.FlagTable
	Layout  OutputLayout // nil => no output files are expected
}

// Supervisor starts workers, follows them until they terminate and keeps
// their executions in a Registry.
type Supervisor struct {
	cfg        Config
	registry   *Registry
	sinks      []model.Sink
	metrics    Metrics
	tracer     trace.Tracer
	normalizer model.LinkNormalizer

	scheduler gocron.Scheduler
	jobsMx    sync.Mutex
	jobs      map[string]model.Job
	jobRuns   map[string]string // job name => last execution id

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

type Option func(*Supervisor)

func WithSinks(sinks ...model.Sink) Option {
	return func(s *Supervisor) {
		s.sinks = append(s.sinks, sinks...)
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Supervisor) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithNormalizer sets the normalizer used by StartRaw and scheduled jobs.
func WithNormalizer(n model.LinkNormalizer) Option {
	return func(s *Supervisor) {
		s.normalizer = n
	}
}

func WithRegistry(r *Registry) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.registry = r
		}
	}
}

func NewSupervisor(cfg Config, opts ...Option) (*Supervisor, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("worker command is empty")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Flags.Platforms == nil {
		cfg.Flags = model.DefaultFlagTable()
	}
	s := &Supervisor{
		cfg:      cfg,
		registry: NewRegistry(),
		metrics:  nopMetrics{},
		tracer:   otel.Tracer(tracerName),
		jobs:     make(map[string]model.Job),
		jobRuns:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Supervisor) Registry() *Registry { return s.registry }

func (s *Supervisor) Config() Config { return s.cfg }

// Normalizer returns the configured link normalizer or nil.
func (s *Supervisor) Normalizer() model.LinkNormalizer { return s.normalizer }

type startOptions struct {
	dir     string
	timeout time.Duration
}

type StartOption func(*startOptions)

// WithWorkDir overrides the configured working directory.
func WithWorkDir(dir string) StartOption {
	return func(o *startOptions) { o.dir = dir }
}

// WithTimeout overrides the configured timeout, zero disables it.
func WithTimeout(d time.Duration) StartOption {
	return func(o *startOptions) { o.timeout = d }
}

// StartRaw validates raw, normalizing links when a normalizer is configured,
// and starts the worker.
func (s *Supervisor) StartRaw(ctx context.Context, raw model.RawFields, opts ...StartOption) (*Handle, error) {
	req, err := model.ValidateContext(ctx, raw, s.normalizer)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx, req, opts...)
}

// Start launches the worker for req and returns without waiting for it.
// An invalid request returns only an error. When the launch itself fails the
// FAILED execution is registered and returned together with a *model.LaunchError.
func (s *Supervisor) Start(ctx context.Context, req model.Request, opts ...StartOption) (*Handle, error) {
	if err := model.Check(req); err != nil {
		return nil, err
	}
	o := startOptions{dir: s.cfg.Dir, timeout: s.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "supervisor.start",
		trace.WithAttributes(
			attribute.String("execution_id", id),
			attribute.String("platform", string(req.Common().Platform)),
			attribute.String("mode", string(req.Mode())),
		))
	defer span.End()
	ctx = log.ContextAttrs(ctx, slog.String("execution_id", id))

	args := s.cfg.Flags.Build(req)
	var outputs []string
	if s.cfg.Layout != nil {
		outputs = s.cfg.Layout.Expected(req, o.dir, time.Now())
	}
	h := newHandle(model.NewExecution(id, req, args, o.dir, outputs, time.Now().UTC()))
	if err := s.registry.Register(h); err != nil {
		return nil, err
	}
	s.metrics.ExecutionStarted(req.Common().Platform, req.Mode())

	cmd, stdout, stderr := s.command(o.dir, args, h)
	if err := s.launch(ctx, h, cmd, o.dir); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "worker launch failed", "dir", o.dir, "error", err)
		s.finish(ctx, h)
		return h, err
	}
	slog.InfoContext(ctx, "worker started",
		"pid", cmd.Process.Pid,
		"dir", o.dir,
		"platform", req.Common().Platform,
		"mode", req.Mode(),
	)

	mctx := context.WithoutCancel(ctx)
	s.wg.Go(func() {
		s.monitor(mctx, h, cmd, stdout, stderr, o.timeout)
	})
	return h, nil
}

func (s *Supervisor) command(dir string, args []string, h *Handle) (*exec.Cmd, *lineWriter, *lineWriter) {
	argv := model.Command(s.cfg.Command, args)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8")
	cmd.Env = append(cmd.Env, s.cfg.Env...)

	stdout := newLineWriter(func(text string) {
		if h.appendLine(model.Stdout, text) {
			s.metrics.OutputLine(model.Stdout)
		}
	})
	stderr := newLineWriter(func(text string) {
		if h.appendLine(model.Stderr, text) {
			s.metrics.OutputLine(model.Stderr)
		}
	})
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// bounds the wait for pipes still held open by orphaned children
	cmd.WaitDelay = s.cfg.Grace
	setProcAttr(cmd)
	return cmd, stdout, stderr
}

func (s *Supervisor) launch(ctx context.Context, h *Handle, cmd *exec.Cmd, dir string) error {
	var lerr *model.LaunchError
	if info, err := os.Stat(dir); err != nil {
		lerr = &model.LaunchError{Op: "chdir", Path: dir, Err: err}
	} else if !info.IsDir() {
		lerr = &model.LaunchError{Op: "chdir", Path: dir, Err: errors.New("not a directory")}
	} else if err := cmd.Start(); err != nil {
		op := "start"
		if errors.Is(err, exec.ErrNotFound) {
			op = "lookup"
		}
		lerr = &model.LaunchError{Op: op, Path: cmd.Path, Err: err}
	}

	h.mx.Lock()
	defer h.mx.Unlock()
	now := time.Now().UTC()
	if lerr != nil {
		if err := h.updateLocked(ctx, func(rec *model.Execution) error {
			return rec.MarkLaunchFailed(lerr, now)
		}); err != nil {
			slog.ErrorContext(ctx, "recording launch failure", "error", err)
		}
		close(h.exited)
		return lerr
	}

	h.proc = cmd.Process
	if err := h.updateLocked(ctx, func(rec *model.Execution) error {
		return rec.MarkRunning(cmd.Process.Pid, now)
	}); err != nil {
		return err
	}
	// a stop requested while the worker was being launched
	if h.stopping != model.ReasonNone {
		reason := h.stopping
		h.stopping = model.ReasonNone
		if err := s.requestStopLocked(ctx, h, reason); err != nil {
			slog.ErrorContext(ctx, "stopping worker", "error", err)
		}
	}
	return nil
}

func (s *Supervisor) monitor(ctx context.Context, h *Handle, cmd *exec.Cmd, stdout, stderr *lineWriter, timeout time.Duration) {
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			slog.WarnContext(ctx, "execution timed out", "timeout", timeout.String())
			if err := s.requestStop(ctx, h, model.ReasonTimeoutExceeded); err != nil {
				slog.ErrorContext(ctx, "stopping timed out worker", "error", err)
			}
		})
	}

	waitErr := cmd.Wait()
	exitedAt := time.Now().UTC()
	close(h.exited)
	if timer != nil {
		timer.Stop()
	}
	stdout.Flush()
	stderr.Flush()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		slog.WarnContext(ctx, "waiting for worker", "error", waitErr)
	}

	// the worker is reaped, no stop can take effect from now on
	reason := h.stopReason()
	var files, missing []string
	if reason == model.ReasonNone && code == 0 {
		files, missing = s.checkOutputs(ctx, h.Snapshot(), exitedAt)
	}

	err := h.update(ctx, func(rec *model.Execution) error {
		if files != nil {
			rec.OutputFiles = files
		}
		switch {
		case reason != model.ReasonNone:
			return rec.MarkStopped(reason, exitedAt)
		case code != 0:
			return rec.MarkExited(code, exitedAt)
		case len(missing) > 0:
			return rec.MarkMissingOutput(missing, exitedAt)
		default:
			return rec.MarkCompleted(exitedAt)
		}
	})
	if err != nil {
		slog.ErrorContext(ctx, "recording worker exit", "error", err)
	}
	s.finish(ctx, h)
}

// checkOutputs resolves the expected files of a run which exited at
// exitedAt. Files dated any day between the start and the exit count.
func (s *Supervisor) checkOutputs(ctx context.Context, snap *model.Execution, exitedAt time.Time) (files, missing []string) {
	if s.cfg.Layout == nil || len(snap.OutputFiles) == 0 {
		return nil, nil
	}
	check := func() {
		var err error
		files, missing, err = resolveOutputs(s.cfg.Layout, snap.Request, snap.WorkDir, snap.StartTime, exitedAt)
		if err != nil {
			slog.WarnContext(ctx, "checking output files", "error", err)
		}
	}
	check()
	if len(missing) == 0 || s.cfg.Settle <= 0 {
		return files, missing
	}
	slog.DebugContext(ctx, "output files missing: checking again", "missing", missing, "settle", s.cfg.Settle.String())
	time.Sleep(s.cfg.Settle)
	check()
	return files, missing
}

func (s *Supervisor) finish(ctx context.Context, h *Handle) {
	snap := h.Snapshot()
	close(h.done)
	s.metrics.ExecutionFinished(snap)

	attrs := []any{
		"status", snap.Status,
		"duration", snap.Duration(time.Now()).String(),
	}
	if snap.Reason != model.ReasonNone {
		attrs = append(attrs, "reason", snap.Reason, "message", snap.Message)
	}
	if snap.ExitCode != nil {
		attrs = append(attrs, "exit_code", *snap.ExitCode)
	}
	slog.InfoContext(ctx, "execution finished", attrs...)

	if err := publish(ctx, s.sinks, snap); err != nil {
		slog.ErrorContext(ctx, "publishing execution failed", "error", err)
	}
}

// Stop asks the worker to terminate and waits until the execution is terminal
// or ctx is done. Workers ignoring SIGTERM are killed after the grace period,
// even when ctx ends first. Stopping a terminal execution is a no-op.
func (s *Supervisor) Stop(ctx context.Context, id string) (*model.Execution, error) {
	h, ok := s.registry.Handle(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}
	ctx, span := s.tracer.Start(ctx, "supervisor.stop",
		trace.WithAttributes(attribute.String("execution_id", id)))
	defer span.End()
	ctx = log.ContextAttrs(ctx, slog.String("execution_id", id))

	if err := s.requestStop(ctx, h, model.ReasonStopRequested); err != nil {
		span.RecordError(err)
		return h.Snapshot(), err
	}
	snap, err := h.Wait(ctx)
	span.SetAttributes(attribute.String("status", string(snap.Status)))
	return snap, err
}

func (s *Supervisor) requestStop(ctx context.Context, h *Handle, reason model.Reason) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	return s.requestStopLocked(ctx, h, reason)
}

func (s *Supervisor) requestStopLocked(ctx context.Context, h *Handle, reason model.Reason) error {
	if h.stopping != model.ReasonNone {
		return nil
	}
	switch h.rec.Status {
	case model.StatusPending:
		// picked up by launch
		h.stopping = reason
		return nil
	case model.StatusRunning:
	default:
		return nil
	}

	err := terminate(h.proc)
	if errors.Is(err, os.ErrProcessDone) {
		slog.DebugContext(ctx, "worker exited before the stop took effect")
		return nil
	}
	if err != nil {
		return fmt.Errorf("terminating worker %d: %w", h.proc.Pid, err)
	}
	h.stopping = reason
	slog.InfoContext(ctx, "worker asked to terminate", "pid", h.proc.Pid, "reason", reason, "grace", s.cfg.Grace.String())

	proc := h.proc
	s.wg.Go(func() {
		s.escalate(context.WithoutCancel(ctx), h, proc)
	})
	return nil
}

func (s *Supervisor) escalate(ctx context.Context, h *Handle, proc *os.Process) {
	timer := time.NewTimer(s.cfg.Grace)
	defer timer.Stop()
	select {
	case <-h.exited:
		return
	case <-timer.C:
	}
	slog.WarnContext(ctx, "worker ignored termination: killing", "pid", proc.Pid, "grace", s.cfg.Grace.String())
	if err := kill(proc); err != nil {
		slog.ErrorContext(ctx, "killing worker", "pid", proc.Pid, "error", err)
	}
}

// Get returns a snapshot of one execution.
func (s *Supervisor) Get(id string) (*model.Execution, error) {
	return s.registry.Get(id)
}

// List returns snapshots of all known executions.
func (s *Supervisor) List() []*model.Execution {
	return s.registry.List()
}

// Evict forgets a terminal execution.
func (s *Supervisor) Evict(id string) error {
	return s.registry.Evict(id)
}

// StopAll stops every active execution in parallel.
func (s *Supervisor) StopAll(ctx context.Context) error {
	active := s.registry.Active()
	if len(active) == 0 {
		return nil
	}
	slog.InfoContext(ctx, "stopping active executions", "count", len(active))
	var g errgroup.Group
	g.SetLimit(16)
	for _, h := range active {
		g.Go(func() error {
			_, err := s.Stop(ctx, h.ID())
			return err
		})
	}
	return g.Wait()
}

// Do runs the scheduled jobs until ctx is cancelled, then shuts down.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor")
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	<-ctx.Done()
	return s.Close(context.WithoutCancel(ctx))
}

// Close stops the scheduler and all running workers, waits for the
// monitors and closes the sinks. It is safe to call more than once.
func (s *Supervisor) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.scheduler != nil {
			if err := s.scheduler.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
				errs = append(errs, err)
			}
		}
		if err := s.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
		s.wg.Wait()
		closeSinks(ctx, s.sinks)
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
