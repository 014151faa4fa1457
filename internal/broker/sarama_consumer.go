// Package broker provides the concrete spout.BrokerConsumer backing the
// core: a thin wrapper over bsm/sarama-cluster's consumer-group client,
// adapted from the teacher's (uber-go/kafka-client) per-partition pump and
// partition-map bookkeeping.
package broker

import (
	"sync"

	cluster "github.com/bsm/sarama-cluster"
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/UtilityTools/dynamic-spout-go/internal/spout"
	"github.com/UtilityTools/dynamic-spout-go/internal/util"
)

// partitionHandle tracks one claimed partition's cluster.PartitionConsumer
// and the pump goroutine forwarding its messages into the shared channel.
type partitionHandle struct {
	pc        cluster.PartitionConsumer
	closingCh chan struct{}
	closedCh  chan struct{}
}

// partitionMap is a wrapper around the claimed-partition set, mirroring the
// teacher's partitionMap but keyed by spout.TopicPartition since a single
// SaramaBrokerConsumer may span more than the teacher's one topic.
type partitionMap struct {
	mu         sync.Mutex
	partitions map[spout.TopicPartition]*partitionHandle
}

func newPartitionMap() *partitionMap {
	return &partitionMap{partitions: make(map[spout.TopicPartition]*partitionHandle)}
}

func (m *partitionMap) Get(tp spout.TopicPartition) (*partitionHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.partitions[tp]
	return h, ok
}

func (m *partitionMap) Put(tp spout.TopicPartition, h *partitionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[tp] = h
}

func (m *partitionMap) Delete(tp spout.TopicPartition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions, tp)
}

func (m *partitionMap) Snapshot() []*partitionHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*partitionHandle, 0, len(m.partitions))
	for _, h := range m.partitions {
		out = append(out, h)
	}
	return out
}

// SaramaBrokerConsumer implements spout.BrokerConsumer over a
// bsm/sarama-cluster consumer group.
type SaramaBrokerConsumer struct {
	brokers   []string
	groupID   string
	topics    []string
	saramaCfg *sarama.Config
	logger    *zap.Logger

	lifecycle *util.RunLifecycle

	group      *cluster.Consumer
	partitions *partitionMap

	msgCh chan *sarama.ConsumerMessage
	stopC chan struct{}

	committedMu sync.Mutex
	committed   map[spout.TopicPartition]int64
}

// NewSaramaBrokerConsumer constructs a consumer for groupID over topics.
// bufferSize sizes the internal channel fanned in from every claimed
// partition's pump goroutine.
func NewSaramaBrokerConsumer(brokers []string, groupID string, topics []string, saramaCfg *sarama.Config, bufferSize int, logger *zap.Logger) *SaramaBrokerConsumer {
	if saramaCfg == nil {
		saramaCfg = sarama.NewConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &SaramaBrokerConsumer{
		brokers:    brokers,
		groupID:    groupID,
		topics:     topics,
		saramaCfg:  saramaCfg,
		logger:     logger.With(zap.String("groupId", groupID)),
		lifecycle:  util.NewRunLifecycle("broker-consumer-"+groupID, logger),
		partitions: newPartitionMap(),
		msgCh:      make(chan *sarama.ConsumerMessage, bufferSize),
		stopC:      make(chan struct{}),
		committed:  make(map[spout.TopicPartition]int64),
	}
}

// Connect joins the consumer group and starts the event loop. Idempotent.
func (b *SaramaBrokerConsumer) Connect() error {
	return b.lifecycle.Start(func() error {
		cfg := cluster.NewConfig()
		cfg.Config = *b.saramaCfg
		cfg.Group.Return.Notifications = true
		cfg.Consumer.Return.Errors = true
		if cfg.Consumer.Offsets.Initial == 0 {
			cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
		}

		group, err := cluster.NewConsumer(b.brokers, b.groupID, b.topics, cfg)
		if err != nil {
			return errors.Wrap(err, "join consumer group")
		}
		b.group = group
		go b.eventLoop()
		return nil
	})
}

// eventLoop mirrors the teacher's consumerImpl.eventLoop: it fans newly
// assigned partitions out to pump goroutines, logs rebalance notifications,
// and logs consumer-group errors, all absorbed here as opaque broker
// faults per spec.md section 7.
func (b *SaramaBrokerConsumer) eventLoop() {
	for {
		select {
		case pc, ok := <-b.group.Partitions():
			if !ok {
				return
			}
			b.addPartition(pc)
		case n, ok := <-b.group.Notifications():
			if !ok {
				continue
			}
			b.logger.Info("consumer group rebalance",
				zap.Any("claimed", n.Claimed), zap.Any("released", n.Released), zap.Any("current", n.Current))
		case err, ok := <-b.group.Errors():
			if !ok {
				continue
			}
			b.logger.Warn("consumer group error, will retry", zap.Error(err))
		case <-b.stopC:
			return
		}
	}
}

// addPartition registers a newly claimed partition and starts its pump
// goroutine, adapted from the teacher's consumerImpl.addPartition.
func (b *SaramaBrokerConsumer) addPartition(pc cluster.PartitionConsumer) {
	tp := spout.TopicPartition{Topic: pc.Topic(), Partition: pc.Partition()}
	if old, ok := b.partitions.Get(tp); ok {
		close(old.closingCh)
		<-old.closedCh
	}
	h := &partitionHandle{pc: pc, closingCh: make(chan struct{}), closedCh: make(chan struct{})}
	b.partitions.Put(tp, h)
	b.logger.Info("partition claimed", zap.String("topic", tp.Topic), zap.Int32("partition", tp.Partition))
	go b.pump(h)
}

// pump forwards one partition's messages into the shared channel until the
// partition is released or the consumer is closed.
func (b *SaramaBrokerConsumer) pump(h *partitionHandle) {
	defer close(h.closedCh)
	for {
		select {
		case msg, ok := <-h.pc.Messages():
			if !ok {
				return
			}
			select {
			case b.msgCh <- msg:
			case <-h.closingCh:
				return
			}
		case err, ok := <-h.pc.Errors():
			if ok {
				b.logger.Warn("partition consumer error", zap.Error(err))
			}
		case <-h.closingCh:
			return
		}
	}
}

// NextRecord implements spout.BrokerConsumer. It never blocks: if nothing
// is buffered it returns (nil, nil) immediately.
func (b *SaramaBrokerConsumer) NextRecord() (*spout.Record, error) {
	select {
	case msg := <-b.msgCh:
		return &spout.Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
		}, nil
	default:
		return nil, nil
	}
}

// CommitOffset implements spout.BrokerConsumer by marking the offset on the
// owning partition consumer and triggering a group commit.
func (b *SaramaBrokerConsumer) CommitOffset(tp spout.TopicPartition, offset int64) error {
	h, ok := b.partitions.Get(tp)
	if !ok {
		return errors.Errorf("commitOffset: partition %s is not assigned", tp)
	}
	h.pc.MarkOffset(offset, "")
	b.group.CommitOffsets()

	b.committedMu.Lock()
	b.committed[tp] = offset
	b.committedMu.Unlock()
	return nil
}

// UnsubscribeTopicPartition implements spout.BrokerConsumer by closing the
// owning partition consumer and removing it from the assignment.
func (b *SaramaBrokerConsumer) UnsubscribeTopicPartition(tp spout.TopicPartition) (bool, error) {
	h, ok := b.partitions.Get(tp)
	if !ok {
		return false, nil
	}
	close(h.closingCh)
	<-h.closedCh
	if err := h.pc.Close(); err != nil {
		b.logger.Warn("partition consumer close reported error", zap.Error(err))
	}
	b.partitions.Delete(tp)
	return true, nil
}

// CurrentState implements spout.BrokerConsumer: a snapshot of the last
// offset committed via CommitOffset, for every partition that has had a
// commit through this consumer (including ones since unsubscribed);
// partitions never committed are absent.
func (b *SaramaBrokerConsumer) CurrentState() (spout.OffsetMap, error) {
	b.committedMu.Lock()
	defer b.committedMu.Unlock()
	builder := spout.NewOffsetMapBuilder()
	for tp, off := range b.committed {
		builder.WithPartition(tp, off)
	}
	return builder.Build(), nil
}

// Close implements spout.BrokerConsumer, draining every claimed partition
// and closing the underlying consumer group.
func (b *SaramaBrokerConsumer) Close() error {
	var closeErr error
	b.lifecycle.Stop(func() {
		close(b.stopC)
		for _, h := range b.partitions.Snapshot() {
			close(h.closingCh)
			<-h.closedCh
			_ = h.pc.Close()
		}
		if b.group != nil {
			closeErr = b.group.Close()
		}
	})
	return closeErr
}
