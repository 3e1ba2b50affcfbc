package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lizheng/media-analyst/internal/model"
)

// Supervisor implements service.Metrics
type Supervisor struct {
	ExecutionsStarted  *prometheus.CounterVec
	ExecutionsFinished *prometheus.CounterVec
	ActiveExecutions   prometheus.Gauge
	ExecutionDuration  *prometheus.HistogramVec
	OutputLines        *prometheus.CounterVec
	LastFinishedTime   prometheus.Gauge
}

const namespace = "media_analyst"

// New registers the collectors with reg, prometheus.DefaultRegisterer when nil.
func New(reg prometheus.Registerer) *Supervisor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Supervisor{
		ExecutionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_started_total",
			Help:      "Total number of executions started",
		}, []string{"platform", "mode"}),
		ExecutionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_finished_total",
			Help:      "Total number of executions which reached a terminal status",
		}, []string{"status", "reason"}),
		ActiveExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Number of executions not finished yet",
		}),
		ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time between the worker start and its exit",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"status"}),
		OutputLines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_lines_total",
			Help:      "Total number of captured worker output lines",
		}, []string{"stream"}),
		LastFinishedTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_execution_finished_timestamp_seconds",
			Help:      "Unix time of the last finished execution",
		}),
	}
}

func (m *Supervisor) ExecutionStarted(platform model.Platform, mode model.Mode) {
	m.ExecutionsStarted.WithLabelValues(string(platform), string(mode)).Inc()
	m.ActiveExecutions.Inc()
}

func (m *Supervisor) ExecutionFinished(e *model.Execution) {
	m.ActiveExecutions.Dec()
	m.ExecutionsFinished.WithLabelValues(string(e.Status), string(e.Reason)).Inc()
	if !e.StartTime.IsZero() {
		m.ExecutionDuration.WithLabelValues(string(e.Status)).Observe(e.EndTime.Sub(e.StartTime).Seconds())
	}
	m.LastFinishedTime.Set(float64(time.Now().Unix()))
}

func (m *Supervisor) OutputLine(stream model.Stream) {
	m.OutputLines.WithLabelValues(string(stream)).Inc()
}
