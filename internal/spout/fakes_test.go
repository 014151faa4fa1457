package spout

import "sync"

// fakeBroker is a hand-written BrokerConsumer stub, in the style the
// teacher and aryanugroho-marshal use for collaborator tests: no mocking
// framework, just a small struct recording calls.
type fakeBroker struct {
	mu sync.Mutex

	records []*Record
	idx     int

	connectCalls  int
	commits       []commitCall
	unsubscribed  map[TopicPartition]bool
	unsubscribeCalls map[TopicPartition]int
	closeCalls    int
	nextRecordErr error
}

type commitCall struct {
	tp     TopicPartition
	offset int64
}

func newFakeBroker(records ...*Record) *fakeBroker {
	return &fakeBroker{
		records:          records,
		unsubscribed:     make(map[TopicPartition]bool),
		unsubscribeCalls: make(map[TopicPartition]int),
	}
}

func (f *fakeBroker) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return nil
}

func (f *fakeBroker) NextRecord() (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextRecordErr != nil {
		return nil, f.nextRecordErr
	}
	if f.idx >= len(f.records) {
		return nil, nil
	}
	rec := f.records[f.idx]
	tp := TopicPartition{Topic: rec.Topic, Partition: rec.Partition}
	if f.unsubscribed[tp] {
		return nil, nil
	}
	f.idx++
	return rec, nil
}

func (f *fakeBroker) CommitOffset(tp TopicPartition, offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, commitCall{tp: tp, offset: offset})
	return nil
}

func (f *fakeBroker) UnsubscribeTopicPartition(tp TopicPartition) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribeCalls[tp]++
	already := f.unsubscribed[tp]
	f.unsubscribed[tp] = true
	return !already, nil
}

func (f *fakeBroker) CurrentState() (OffsetMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := NewOffsetMapBuilder()
	for _, c := range f.commits {
		b.WithPartition(c.tp, c.offset)
	}
	return b.Build(), nil
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeBroker) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func (f *fakeBroker) unsubscribeCount(tp TopicPartition) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribeCalls[tp]
}

var nullDeserializer = DeserializerFunc(func(topic string, partition int32, offset int64, key, value []byte) (Values, bool) {
	return nil, false
})

var utf8Deserializer = DeserializerFunc(func(topic string, partition int32, offset int64, key, value []byte) (Values, bool) {
	return Values{string(key), string(value)}, true
})

// fakePersistence is a minimal in-memory PersistenceManager stub.
type fakePersistence struct {
	mu       sync.Mutex
	opened   bool
	consumer map[string]OffsetMap
	requests map[string]SidelineRequest
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		consumer: make(map[string]OffsetMap),
		requests: make(map[string]SidelineRequest),
	}
}

func (p *fakePersistence) Open(Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = true
	return nil
}

func (p *fakePersistence) requireOpen() error {
	if !p.opened {
		return ErrPersistenceNotOpen
	}
	return nil
}

func (p *fakePersistence) PersistConsumerState(consumerID string, state OffsetMap) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireOpen(); err != nil {
		return err
	}
	p.consumer[consumerID] = state
	return nil
}

func (p *fakePersistence) RetrieveConsumerState(consumerID string) (*OffsetMap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireOpen(); err != nil {
		return nil, err
	}
	state, ok := p.consumer[consumerID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (p *fakePersistence) ClearConsumerState(consumerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireOpen(); err != nil {
		return err
	}
	delete(p.consumer, consumerID)
	return nil
}

func (p *fakePersistence) PersistSidelineRequestState(req SidelineRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireOpen(); err != nil {
		return err
	}
	p.requests[req.RequestID] = req
	return nil
}

func (p *fakePersistence) RetrieveSidelineRequest(requestID string) (*SidelineRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireOpen(); err != nil {
		return nil, err
	}
	req, ok := p.requests[requestID]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (p *fakePersistence) ClearSidelineRequest(requestID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireOpen(); err != nil {
		return err
	}
	delete(p.requests, requestID)
	return nil
}

func (p *fakePersistence) ListSidelineRequestIDs() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.requests))
	for id := range p.requests {
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *fakePersistence) Close() error {
	return nil
}
