package service

import "github.com/lizheng/media-analyst/internal/model"

// Metrics observes the executions of a Supervisor.
type Metrics interface {
	ExecutionStarted(platform model.Platform, mode model.Mode)
	ExecutionFinished(e *model.Execution)
	OutputLine(stream model.Stream)
}

type nopMetrics struct{}

func (nopMetrics) ExecutionStarted(model.Platform, model.Mode) {}
func (nopMetrics) ExecutionFinished(*model.Execution)          {}
func (nopMetrics) OutputLine(model.Stream)                     {}
