package spout

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// VirtualConsumerFactory builds the bounded Virtual Consumer a STOP trigger
// hands to the Coordinator. It is supplied by the host wiring layer because
// only that layer knows how to construct a fresh BrokerConsumer (same
// brokers, a new consumer group derived from consumerID) for the draining
// sideline instance.
type VirtualConsumerFactory func(consumerID string, startingOffsets, endingOffsets OffsetMap, chain *FilterChain) *VirtualConsumer

// SidelineHandler translates START/RESUME/STOP sideline triggers into
// Virtual Consumer lifecycle events on the Coordinator, per spec.md
// section 4.H.
type SidelineHandler struct {
	firehose    *VirtualConsumer
	coordinator *Coordinator
	persistence PersistenceManager
	newConsumer VirtualConsumerFactory
	logger      *zap.Logger
	metrics     Metrics
}

// NewSidelineHandler wires a handler around the firehose consumer it
// installs/removes filter steps on and the Coordinator it hands new bounded
// consumers to.
func NewSidelineHandler(firehose *VirtualConsumer, coordinator *Coordinator, persistence PersistenceManager, newConsumer VirtualConsumerFactory, logger *zap.Logger, metrics Metrics) *SidelineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NullMetrics{}
	}
	return &SidelineHandler{
		firehose:    firehose,
		coordinator: coordinator,
		persistence: persistence,
		newConsumer: newConsumer,
		logger:      logger,
		metrics:     metrics,
	}
}

// Start handles a START trigger: installs pred into the firehose's filter
// chain under id, snapshots the firehose's current offset map as
// startingOffsets, and persists the request.
func (h *SidelineHandler) Start(requestID string, id SidelineID, pred FilterPredicate, filterSteps []byte) error {
	startingOffsets, err := h.firehose.broker.CurrentState()
	if err != nil {
		return errors.Wrapf(NewBrokerError(err), "snapshot starting offsets for sideline %s", id)
	}

	h.firehose.FilterChain().InstallStep(id, pred)

	req := SidelineRequest{
		Type:             SidelineStart,
		RequestID:        requestID,
		SidelineID:       id,
		FilterChainSteps: filterSteps,
		StartingOffsets:  &startingOffsets,
	}
	if err := h.persistence.PersistSidelineRequestState(req); err != nil {
		return errors.Wrapf(err, "persist sideline start %s", requestID)
	}
	h.metrics.Counter(MetricSidelineStarted).Inc(1)
	h.logger.Info("sideline started", zap.String("requestId", requestID), zap.String("sidelineId", string(id)))
	return nil
}

// Resume re-installs filter steps for every persisted request still in the
// STARTED state, for use on process restart. persistence must implement
// SidelineRequestLister; predicateFor rebuilds the runtime predicate for a
// given sideline id from its persisted opaque filter-step blob (the filter
// step authoring collaborator's concern, out of scope here).
func (h *SidelineHandler) Resume(predicateFor func(id SidelineID, steps []byte) FilterPredicate) error {
	lister, ok := h.persistence.(SidelineRequestLister)
	if !ok {
		return errors.New("persistence manager does not support listing sideline requests for resume")
	}
	ids, err := lister.ListSidelineRequestIDs()
	if err != nil {
		return errors.Wrap(err, "list sideline requests for resume")
	}
	for _, requestID := range ids {
		req, err := h.persistence.RetrieveSidelineRequest(requestID)
		if err != nil {
			return errors.Wrapf(err, "retrieve sideline request %s", requestID)
		}
		if req == nil || req.Type != SidelineStart {
			continue
		}
		pred := predicateFor(req.SidelineID, req.FilterChainSteps)
		h.firehose.FilterChain().InstallStep(req.SidelineID, pred)
		h.metrics.Counter(MetricSidelineResumed).Inc(1)
		h.logger.Info("sideline resumed", zap.String("requestId", requestID), zap.String("sidelineId", string(req.SidelineID)))
	}
	return nil
}

// Stop handles a STOP trigger: snapshots the firehose's current offset map
// as endingOffsets, persists the updated request, removes the filter step
// from the firehose, and hands the Coordinator a new bounded Virtual
// Consumer scoped to (startingOffsets, endingOffsets) that consumes exactly
// the records the stopped step used to divert.
func (h *SidelineHandler) Stop(requestID string, id SidelineID, consumerID string) error {
	existing, err := h.persistence.RetrieveSidelineRequest(requestID)
	if err != nil {
		return errors.Wrapf(err, "retrieve sideline request %s", requestID)
	}
	if existing == nil {
		return errors.Errorf("no persisted sideline request %s to stop", requestID)
	}

	endingOffsets, err := h.firehose.broker.CurrentState()
	if err != nil {
		return errors.Wrapf(NewBrokerError(err), "snapshot ending offsets for sideline %s", id)
	}

	negatedChain, ok := h.firehose.FilterChain().Negate(id)
	if !ok {
		return errors.Errorf("no filter step %s installed on firehose", id)
	}
	h.firehose.FilterChain().RemoveStep(id)

	updated := *existing
	updated.Type = SidelineStop
	updated.EndingOffsets = &endingOffsets
	if err := h.persistence.PersistSidelineRequestState(updated); err != nil {
		return errors.Wrapf(err, "persist sideline stop %s", requestID)
	}

	if updated.StartingOffsets == nil {
		return errors.Errorf("sideline request %s has no recorded starting offsets", requestID)
	}
	drainer := h.newConsumer(consumerID, *updated.StartingOffsets, endingOffsets, negatedChain)
	h.coordinator.AddSidelineSpout(drainer)

	h.metrics.Counter(MetricSidelineStopped).Inc(1)
	h.logger.Info("sideline stopped, draining consumer enqueued",
		zap.String("requestId", requestID), zap.String("sidelineId", string(id)), zap.String("drainerConsumerId", consumerID))
	return nil
}
