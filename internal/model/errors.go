package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("execution not found")
	ErrExecutionActive   = errors.New("execution is still active")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobInProgress     = errors.New("job in progress")
	ErrStopRequested     = errors.New("stop requested")
	ErrTimeoutExceeded   = errors.New("timeout exceeded")
)

// ValidationError reports a malformed or incomplete request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err carries at least one ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ValidationErrors flattens err into the ValidationErrors it carries.
func ValidationErrors(err error) []*ValidationError {
	switch e := err.(type) {
	case nil:
		return nil
	case *ValidationError:
		return []*ValidationError{e}
	case interface{ Unwrap() []error }:
		var ret []*ValidationError
		for _, x := range e.Unwrap() {
			ret = append(ret, ValidationErrors(x)...)
		}
		return ret
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return []*ValidationError{v}
	}
	return nil
}

// LaunchError means no worker process ever existed for the execution.
type LaunchError struct {
	Op   string
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("launch %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitError is a worker that terminated with a non zero exit code.
type ExitError struct {
	Code       int
	StderrTail []string
}

func (e *ExitError) Error() string {
	if len(e.StderrTail) == 0 {
		return fmt.Sprintf("worker exited with code %d", e.Code)
	}
	return fmt.Sprintf("worker exited with code %d: %s", e.Code, e.StderrTail[len(e.StderrTail)-1])
}

// MissingOutputError is a worker that exited cleanly without producing
// the files it was expected to produce.
type MissingOutputError struct {
	Paths []string
}

func (e *MissingOutputError) Error() string {
	return "missing output files: " + strings.Join(e.Paths, ", ")
}
