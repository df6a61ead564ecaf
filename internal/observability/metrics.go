package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/danmuck/corelink/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for core calls.
const (
	OutcomeOk           = "ok"
	OutcomeCommandError = "command_error"
	OutcomeUnknown      = "unknown_command"
	OutcomeMalformed    = "malformed"
	OutcomeTerminated   = "terminated"
	OutcomeIOError      = "io_error"
)

// Metrics holds the counters and histograms for one registry. A nil *Metrics
// records nothing.
type Metrics struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
	starts       *prometheus.CounterVec
	exits        *prometheus.CounterVec
	running      prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers a fresh metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corelink",
			Subsystem: "core",
			Name:      "calls_total",
			Help:      "Request/response cycles with the core.",
		}, []string{"code", "outcome"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corelink",
			Subsystem: "core",
			Name:      "call_duration_seconds",
			Help:      "Request/response cycle duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corelink",
			Subsystem: "core",
			Name:      "request_bytes_total",
			Help:      "Encoded request bytes sent to the core.",
		}, []string{"code"}),
		starts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corelink",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Core process start attempts.",
		}, []string{"result"}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corelink",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Core process exits.",
		}, []string{"how"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corelink",
			Subsystem: "process",
			Name:      "running",
			Help:      "Core processes currently running.",
		}),
	}
}

// DefaultMetrics registers on the default prometheus registerer once.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Outcome classifies a call error into a metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOk
	case errors.Is(err, protocol.ErrMalformedMessage):
		return OutcomeMalformed
	case errors.Is(err, protocol.ErrCoreTerminated):
		return OutcomeTerminated
	case errors.Is(err, protocol.ErrCommunicationFailure):
		return OutcomeIOError
	case errors.Is(err, protocol.ErrUnknownCommand):
		return OutcomeUnknown
	default:
		return OutcomeCommandError
	}
}

func (m *Metrics) RecordCall(code string, requestBytes int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(code, Outcome(err)).Inc()
	m.callDuration.WithLabelValues(code).Observe(duration.Seconds())
	if requestBytes > 0 {
		m.bytes.WithLabelValues(code).Add(float64(requestBytes))
	}
}

func (m *Metrics) RecordStart(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.starts.WithLabelValues("failed").Inc()
		return
	}
	m.starts.WithLabelValues("ok").Inc()
	m.running.Inc()
}

// RecordExit counts one exit; how is "clean", "error" or "killed".
func (m *Metrics) RecordExit(how string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(how).Inc()
	m.running.Dec()
}
