package spout

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LifecycleState is a Virtual Consumer's position in its CREATED -> OPEN ->
// STOP_REQUESTED -> CLOSED progression.
type LifecycleState int32

const (
	StateCreated LifecycleState = iota
	StateOpen
	StateStopRequested
	StateClosed
)

func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateOpen:
		return "OPEN"
	case StateStopRequested:
		return "STOP_REQUESTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// inFlightEntry records when a MessageID was handed to the host, for
// diagnostics; there is no timeout-based redelivery in the core.
type inFlightEntry struct {
	enqueuedAt time.Time
}

// VirtualConsumerConfig parameterizes a single Virtual Consumer instance.
type VirtualConsumerConfig struct {
	ConsumerID   string
	Broker       BrokerConsumer
	Deserializer Deserializer

	// EndingOffsets, if non-nil, declares an exclusive per-partition upper
	// bound. When nil, no partition is ever auto-unsubscribed and the
	// ending-bound check is always false.
	EndingOffsets *OffsetMap
}

// VirtualConsumer is a bounded, filtered, at-least-once consumer instance,
// per spec.md section 4.E. It owns one BrokerConsumer and one FilterChain;
// it holds no reference back to whatever supervises it (see spec.md section
// 9 on cyclic-ownership avoidance) — all control arrives through direct
// method calls (Ack/Fail/FlushState/RequestStop), never a callback.
type VirtualConsumer struct {
	id           string
	broker       BrokerConsumer
	deserializer Deserializer
	chain        *FilterChain
	persistence  PersistenceManager
	logger       *zap.Logger
	metrics      Metrics

	endingOffsets     *OffsetMap
	unsubscribedParts map[TopicPartition]bool

	mu        sync.Mutex
	state     LifecycleState
	inFlight  map[MessageID]inFlightEntry
}

// NewVirtualConsumer constructs a Virtual Consumer in the CREATED state.
// persistence may be nil; FlushState is then a no-op.
func NewVirtualConsumer(cfg VirtualConsumerConfig, chain *FilterChain, persistence PersistenceManager, logger *zap.Logger, metrics Metrics) *VirtualConsumer {
	if chain == nil {
		chain = NewFilterChain()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NullMetrics{}
	}
	vc := &VirtualConsumer{
		id:           cfg.ConsumerID,
		broker:       cfg.Broker,
		deserializer: cfg.Deserializer,
		chain:        chain,
		persistence:  persistence,
		logger:       logger.With(zap.String("consumerId", cfg.ConsumerID)),
		metrics:      metrics,
		state:        StateCreated,
		inFlight:     make(map[MessageID]inFlightEntry),
	}
	if cfg.EndingOffsets != nil {
		eo := *cfg.EndingOffsets
		vc.endingOffsets = &eo
	}
	vc.unsubscribedParts = make(map[TopicPartition]bool)
	return vc
}

// ID returns the logical consumer id this instance owns.
func (vc *VirtualConsumer) ID() string {
	return vc.id
}

// FilterChain exposes the chain so external collaborators (the Sideline
// Handler) can install/remove steps through its own atomic methods.
func (vc *VirtualConsumer) FilterChain() *FilterChain {
	return vc.chain
}

// Open transitions CREATED -> OPEN, calling Connect on the BrokerConsumer
// exactly once. A second call fails with ErrAlreadyOpen.
func (vc *VirtualConsumer) Open() error {
	vc.mu.Lock()
	if vc.state != StateCreated {
		vc.mu.Unlock()
		return errors.Wrapf(ErrAlreadyOpen, "virtual consumer %s", vc.id)
	}
	vc.state = StateOpen
	vc.mu.Unlock()

	if err := vc.broker.Connect(); err != nil {
		return errors.Wrapf(NewBrokerError(err), "connect consumer %s", vc.id)
	}
	vc.logger.Info("virtual consumer opened")
	return nil
}

func (vc *VirtualConsumer) currentState() LifecycleState {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.state
}

// NextMessage implements the algorithm in spec.md section 4.E. It produces
// zero or one message per call and never blocks waiting for the broker.
// Once stop has been requested it returns (nil, nil) without polling.
func (vc *VirtualConsumer) NextMessage() (*Message, error) {
	switch vc.currentState() {
	case StateOpen:
	case StateStopRequested:
		return nil, nil
	default:
		return nil, errors.Wrapf(ErrNotOpen, "nextMessage on consumer %s", vc.id)
	}

	rec, err := vc.broker.NextRecord()
	if err != nil {
		return nil, errors.Wrapf(NewBrokerError(err), "nextRecord on consumer %s", vc.id)
	}
	if rec == nil {
		return nil, nil
	}

	values, ok := vc.deserializer.Deserialize(rec.Topic, rec.Partition, rec.Offset, rec.Key, rec.Value)
	if !ok {
		vc.metrics.Counter(MetricDeserializationSkipped).Inc(1)
		vc.logger.Debug("deserializer skipped poison record",
			zap.String("topic", rec.Topic), zap.Int32("partition", rec.Partition), zap.Int64("offset", rec.Offset))
		return nil, nil
	}

	id := MessageID{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset, ConsumerID: vc.id}
	tp := id.TopicPartition()

	exceeds, err := vc.doesMessageExceedEndingOffset(tp, rec.Offset)
	if err != nil {
		return nil, err
	}
	if exceeds {
		if _, unsubErr := vc.broker.UnsubscribeTopicPartition(tp); unsubErr != nil {
			return nil, errors.Wrapf(NewBrokerError(unsubErr), "unsubscribe %s on consumer %s", tp, vc.id)
		}
		vc.markUnsubscribed(tp)
		vc.logger.Info("partition reached ending offset, unsubscribed", zap.Stringer("partition", tp))
		return nil, nil
	}

	if vc.chain.Evaluate(Record{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset, Key: rec.Key, Value: rec.Value}) {
		vc.metrics.Counter(MetricFiltered).Inc(1)
		return nil, nil
	}

	vc.mu.Lock()
	vc.inFlight[id] = inFlightEntry{enqueuedAt: time.Now()}
	inFlightSize := len(vc.inFlight)
	vc.mu.Unlock()
	vc.metrics.Gauge(MetricInFlight).Update(float64(inFlightSize))
	vc.metrics.Counter(MetricEmitted).Inc(1)

	return &Message{ID: id, Values: values}, nil
}

// doesMessageExceedEndingOffset implements the half-open ending-bound
// check: false when no endingOffsets is configured, true when offset is
// greater-or-equal to the declared bound, false when strictly less, and
// ErrEndingOffsetPartitionMissing when endingOffsets is configured but does
// not declare tp.
func (vc *VirtualConsumer) doesMessageExceedEndingOffset(tp TopicPartition, offset int64) (bool, error) {
	if vc.endingOffsets == nil {
		return false, nil
	}
	bound, ok := vc.endingOffsets.Get(tp)
	if !ok {
		return false, errors.Wrapf(ErrEndingOffsetPartitionMissing, "partition %s on consumer %s", tp, vc.id)
	}
	return offset >= bound, nil
}

func (vc *VirtualConsumer) markUnsubscribed(tp TopicPartition) {
	vc.mu.Lock()
	vc.unsubscribedParts[tp] = true
	remaining := 0
	if vc.endingOffsets != nil {
		for boundedTP := range vc.endingOffsets.Entries() {
			if !vc.unsubscribedParts[boundedTP] {
				remaining++
			}
		}
	}
	finished := vc.endingOffsets != nil && remaining == 0
	if finished && vc.state == StateOpen {
		vc.state = StateStopRequested
	}
	vc.mu.Unlock()
}

// Ack acknowledges id: nil is silently ignored, a non-MessageID value fails
// with ErrInvalidIdentifier, and a valid id issues exactly one CommitOffset
// call and removes it from in-flight tracking.
func (vc *VirtualConsumer) Ack(id interface{}) error {
	if id == nil {
		return nil
	}
	mid, err := AsMessageID(id)
	if err != nil {
		return errors.Wrapf(err, "ack on consumer %s", vc.id)
	}

	vc.mu.Lock()
	delete(vc.inFlight, mid)
	inFlightSize := len(vc.inFlight)
	vc.mu.Unlock()
	vc.metrics.Gauge(MetricInFlight).Update(float64(inFlightSize))

	if err := vc.broker.CommitOffset(mid.TopicPartition(), mid.Offset); err != nil {
		return errors.Wrapf(NewBrokerError(err), "commitOffset on consumer %s", vc.id)
	}
	vc.metrics.Counter(MetricAcked).Inc(1)
	return nil
}

// Fail records a failed delivery. Current policy: remove the id from
// in-flight so a subsequent re-poll can re-add it; the actual seek-back to
// make the record available again is the BrokerConsumer's concern (see
// spec.md section 9's open question on fail() semantics).
func (vc *VirtualConsumer) Fail(id interface{}) error {
	if id == nil {
		return nil
	}
	mid, err := AsMessageID(id)
	if err != nil {
		return errors.Wrapf(err, "fail on consumer %s", vc.id)
	}

	vc.mu.Lock()
	delete(vc.inFlight, mid)
	inFlightSize := len(vc.inFlight)
	vc.mu.Unlock()
	vc.metrics.Gauge(MetricInFlight).Update(float64(inFlightSize))
	vc.metrics.Counter(MetricFailed).Inc(1)
	vc.logger.Warn("message failed, awaiting redelivery on next poll", zap.Stringer("id", idStringer{mid}))
	return nil
}

type idStringer struct{ id MessageID }

func (s idStringer) String() string { return s.id.String() }

// FlushState emits the current committed OffsetMap to the persistence
// collaborator under this consumer's id. A nil persistence manager is a
// no-op.
func (vc *VirtualConsumer) FlushState() error {
	if vc.persistence == nil {
		return nil
	}
	state, err := vc.broker.CurrentState()
	if err != nil {
		return errors.Wrapf(NewBrokerError(err), "currentState on consumer %s", vc.id)
	}
	if err := vc.persistence.PersistConsumerState(vc.id, state); err != nil {
		return errors.Wrapf(err, "flushState on consumer %s", vc.id)
	}
	return nil
}

// IsFinished reports whether the consumer has reached STOP_REQUESTED or a
// later state: set once every partition of a declared ending bound has been
// unsubscribed, or by RequestStop or Close.
func (vc *VirtualConsumer) IsFinished() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.state >= StateStopRequested
}

// IsStopRequested reports whether the consumer has been asked to stop,
// either externally or by bound completion.
func (vc *VirtualConsumer) IsStopRequested() bool {
	return vc.IsFinished()
}

// RequestStop transitions toward STOP_REQUESTED. Idempotent.
func (vc *VirtualConsumer) RequestStop() {
	vc.mu.Lock()
	if vc.state == StateOpen {
		vc.state = StateStopRequested
	}
	vc.mu.Unlock()
}

// Close transitions to CLOSED and releases the BrokerConsumer. Idempotent.
func (vc *VirtualConsumer) Close() error {
	vc.mu.Lock()
	if vc.state == StateClosed {
		vc.mu.Unlock()
		return nil
	}
	vc.state = StateClosed
	vc.mu.Unlock()

	vc.logger.Info("virtual consumer closing")
	if err := vc.broker.Close(); err != nil {
		return errors.Wrapf(NewBrokerError(err), "close consumer %s", vc.id)
	}
	return nil
}
