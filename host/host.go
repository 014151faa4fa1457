// Package host implements the thin topology adapter named in spec.md
// section 6: Open/NextTuple/Ack/Fail/Close. Tuple declaration, task context
// and metric-registry plumbing are the host topology's own concern and are
// deliberately not reproduced here.
package host

import (
	"time"

	"go.uber.org/zap"

	"github.com/UtilityTools/dynamic-spout-go/internal/spout"
)

// Tuple is the minimal emitted shape a topology needs: the identifier it
// must return on Ack/Fail plus the deserialized payload values.
type Tuple struct {
	ID     spout.MessageID
	Values spout.Values
}

// Spout adapts a Coordinator to the host topology's pull-based interface.
type Spout struct {
	coordinator *spout.Coordinator
	outputQueue chan spout.Message
	logger      *zap.Logger

	nextTupleWait time.Duration
}

// NewSpout wraps coordinator. queueCapacity sizes the bounded
// multi-producer single-consumer output queue described in spec.md
// section 5.
func NewSpout(coordinator *spout.Coordinator, queueCapacity int, logger *zap.Logger) *Spout {
	if queueCapacity <= 0 {
		queueCapacity = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spout{
		coordinator:   coordinator,
		outputQueue:   make(chan spout.Message, queueCapacity),
		logger:        logger,
		nextTupleWait: 10 * time.Millisecond,
	}
}

// Open starts the Coordinator, blocking until every initially-pending
// Virtual Consumer has opened.
func (s *Spout) Open() {
	s.logger.Info("spout opening")
	s.coordinator.Open(s.outputQueue)
	s.logger.Info("spout opened")
}

// NextTuple dequeues one message from the output queue with a short,
// non-blocking-in-spirit wait, returning (nil, false) if none is ready.
func (s *Spout) NextTuple() (*Tuple, bool) {
	select {
	case msg := <-s.outputQueue:
		return &Tuple{ID: msg.ID, Values: msg.Values}, true
	case <-time.After(s.nextTupleWait):
		return nil, false
	}
}

// Ack forwards an acknowledgment to the Coordinator. id must be a
// spout.MessageID previously returned by NextTuple; any other value is
// ignored here, matching the host boundary's tolerance for foreign values
// bouncing back unexpectedly (the Virtual Consumer itself still enforces
// ErrInvalidIdentifier on the authoritative path).
func (s *Spout) Ack(id interface{}) {
	mid, ok := id.(spout.MessageID)
	if !ok {
		s.logger.Warn("ack with non-identifier value ignored")
		return
	}
	s.coordinator.Ack(mid)
}

// Fail forwards a failure to the Coordinator.
func (s *Spout) Fail(id interface{}) {
	mid, ok := id.(spout.MessageID)
	if !ok {
		s.logger.Warn("fail with non-identifier value ignored")
		return
	}
	s.coordinator.Fail(mid)
}

// Close shuts the Coordinator down.
func (s *Spout) Close() {
	s.logger.Info("spout closing")
	s.coordinator.Close()
	s.logger.Info("spout closed")
}
