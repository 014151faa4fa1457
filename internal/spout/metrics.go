package spout

// Metric names published through the Metrics sink. Kept here, rather than
// in internal/metrics, so the core package has zero import-time dependency
// on the concrete tally wiring — internal/metrics.Scope satisfies this
// interface.
const (
	MetricEmitted                 = "spout.messages.emitted"
	MetricAcked                   = "spout.messages.acked"
	MetricFailed                  = "spout.messages.failed"
	MetricFiltered                = "spout.messages.filtered"
	MetricDeserializationSkipped  = "spout.messages.deserialization_skipped"
	MetricInFlight                = "spout.messages.in_flight"
	MetricFlushLatencyMs          = "spout.flush.latency_ms"
	MetricFlushFailures           = "spout.flush.failures"
	MetricSidelineStarted         = "spout.sideline.started"
	MetricSidelineStopped         = "spout.sideline.stopped"
	MetricSidelineResumed         = "spout.sideline.resumed"
	MetricCoordinatorRunning      = "spout.coordinator.running_consumers"
	MetricCoordinatorPending      = "spout.coordinator.pending_consumers"
	MetricOutputQueueDepth        = "spout.coordinator.output_queue_depth"
)

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc(delta int64)
}

// Gauge is a point-in-time value metric.
type Gauge interface {
	Update(value float64)
}

// Timer records durations.
type Timer interface {
	RecordMs(ms float64)
}

// Metrics is the minimal facade the core depends on; internal/metrics.Scope
// wraps a tally.Scope to satisfy it. Tests and hosts that opt out of
// metrics use NullMetrics.
type Metrics interface {
	Counter(name string) Counter
	Gauge(name string) Gauge
	Timer(name string) Timer
}

// NullMetrics discards every observation. Safe zero value.
type NullMetrics struct{}

func (NullMetrics) Counter(string) Counter { return nullCounter{} }
func (NullMetrics) Gauge(string) Gauge     { return nullGauge{} }
func (NullMetrics) Timer(string) Timer     { return nullTimer{} }

type nullCounter struct{}

func (nullCounter) Inc(int64) {}

type nullGauge struct{}

func (nullGauge) Update(float64) {}

type nullTimer struct{}

func (nullTimer) RecordMs(float64) {}
