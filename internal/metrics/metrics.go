// Package metrics adapts github.com/uber-go/tally to the spout.Metrics
// facade so the core package never imports tally directly, following the
// same separation the teacher (uber-go/kafka-client) draws between its
// internal/metrics constants and the tally.Scope it tags per-topic.
package metrics

import (
	"time"

	"github.com/uber-go/tally"

	"github.com/UtilityTools/dynamic-spout-go/internal/spout"
)

// Scope wraps a tally.Scope, satisfying spout.Metrics.
type Scope struct {
	scope tally.Scope
}

// NewScope tags scope with the component name "dynamic-spout" and wraps it.
func NewScope(scope tally.Scope) *Scope {
	if scope == nil {
		scope = tally.NoopScope
	}
	return &Scope{scope: scope.Tagged(map[string]string{"component": "dynamic-spout"})}
}

// Counter implements spout.Metrics.
func (s *Scope) Counter(name string) spout.Counter {
	return tallyCounter{s.scope.Counter(name)}
}

// Gauge implements spout.Metrics.
func (s *Scope) Gauge(name string) spout.Gauge {
	return tallyGauge{s.scope.Gauge(name)}
}

// Timer implements spout.Metrics.
func (s *Scope) Timer(name string) spout.Timer {
	return tallyTimer{s.scope.Timer(name)}
}

// ScopedToConsumer returns a Scope further tagged with the owning
// consumerId, mirroring the teacher's per-topic tagging in
// zilehuda-kafka-client's consumerImpl constructor.
func (s *Scope) ScopedToConsumer(consumerID string) *Scope {
	return &Scope{scope: s.scope.Tagged(map[string]string{"consumerId": consumerID})}
}

type tallyCounter struct{ c tally.Counter }

func (t tallyCounter) Inc(delta int64) { t.c.Inc(delta) }

type tallyGauge struct{ g tally.Gauge }

func (t tallyGauge) Update(value float64) { t.g.Update(value) }

type tallyTimer struct{ t tally.Timer }

func (t tallyTimer) RecordMs(ms float64) { t.t.Record(time.Duration(ms) * time.Millisecond) }
