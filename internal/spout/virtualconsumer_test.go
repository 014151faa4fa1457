package spout

import (
	"testing"
)

func newOpenVC(t *testing.T, broker BrokerConsumer, deserializer Deserializer, consumerID string, endingOffsets *OffsetMap) *VirtualConsumer {
	t.Helper()
	vc := NewVirtualConsumer(VirtualConsumerConfig{
		ConsumerID:    consumerID,
		Broker:        broker,
		Deserializer:  deserializer,
		EndingOffsets: endingOffsets,
	}, NewFilterChain(), nil, nil, nil)
	if err := vc.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	return vc
}

// Scenario 1: consumer returns none.
func TestNextMessage_BrokerReturnsNone(t *testing.T) {
	broker := newFakeBroker()
	vc := newOpenVC(t, broker, utf8Deserializer, "c1", nil)

	msg, err := vc.NextMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message, got %+v", msg)
	}
	if broker.commitCount() != 0 {
		t.Fatalf("expected zero commits, got %d", broker.commitCount())
	}
}

// Scenario 2: deserializer returns none (poison record).
func TestNextMessage_DeserializerSkips(t *testing.T) {
	broker := newFakeBroker(&Record{Topic: "MyTopic", Partition: 3, Offset: 434323, Key: []byte("MyKey"), Value: []byte("MyValue")})
	vc := newOpenVC(t, broker, nullDeserializer, "c1", nil)

	msg, err := vc.NextMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message for poison record, got %+v", msg)
	}
}

// Scenario 3: filter chain drops the record.
func TestNextMessage_FilterDrops(t *testing.T) {
	broker := newFakeBroker(&Record{Topic: "MyTopic", Partition: 3, Offset: 434323, Key: []byte("MyKey"), Value: []byte("MyValue")})
	vc := newOpenVC(t, broker, utf8Deserializer, "c1", nil)
	vc.FilterChain().InstallStep("drop-all", func(Record) bool { return true })

	msg, err := vc.NextMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message when filtered, got %+v", msg)
	}
}

// Scenario 4: happy path.
func TestNextMessage_HappyPath(t *testing.T) {
	broker := newFakeBroker(&Record{Topic: "MyTopic", Partition: 3, Offset: 434323, Key: []byte("MyKey"), Value: []byte("MyValue")})
	vc := newOpenVC(t, broker, utf8Deserializer, "MyConsumerId", nil)

	msg, err := vc.NextMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	want := MessageID{Topic: "MyTopic", Partition: 3, Offset: 434323, ConsumerID: "MyConsumerId"}
	if msg.ID != want {
		t.Fatalf("expected id %+v, got %+v", want, msg.ID)
	}
	if len(msg.Values) != 2 || msg.Values[0] != "MyKey" || msg.Values[1] != "MyValue" {
		t.Fatalf("unexpected values: %+v", msg.Values)
	}
}

// Scenario 5: ending bound is half-open and triggers unsubscribe.
func TestNextMessage_EndingBound(t *testing.T) {
	tp := TopicPartition{Topic: "MyTopic", Partition: 4}
	broker := newFakeBroker(
		&Record{Topic: "MyTopic", Partition: 4, Offset: 4344, Key: []byte("k"), Value: []byte("v")},
		&Record{Topic: "MyTopic", Partition: 4, Offset: 4444, Key: []byte("k"), Value: []byte("v")},
		&Record{Topic: "MyTopic", Partition: 4, Offset: 4544, Key: []byte("k"), Value: []byte("v")},
	)
	ending := NewOffsetMapBuilder().WithPartition(tp, 4444).Build()
	vc := newOpenVC(t, broker, utf8Deserializer, "c1", &ending)

	msg1, err := vc.NextMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg1 == nil || msg1.ID.Offset != 4344 {
		t.Fatalf("expected first message at offset 4344, got %+v", msg1)
	}

	msg2, err := vc.NextMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg2 != nil {
		t.Fatalf("expected nil at the ending offset itself, got %+v", msg2)
	}

	msg3, err := vc.NextMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg3 != nil {
		t.Fatalf("expected nil after unsubscribe, got %+v", msg3)
	}

	if broker.unsubscribeCount(tp) < 1 {
		t.Fatal("expected unsubscribeTopicPartition to have been called")
	}
	if !vc.IsFinished() {
		t.Fatal("expected consumer to be finished once all bounded partitions unsubscribed")
	}
}

// Scenario 6: ack issues exactly one commitOffset.
func TestAck_CommitsExactlyOnce(t *testing.T) {
	broker := newFakeBroker()
	vc := newOpenVC(t, broker, utf8Deserializer, "RandomConsumer", nil)

	id := MessageID{Topic: "MyTopic", Partition: 33, Offset: 313376, ConsumerID: "RandomConsumer"}
	if err := vc.Ack(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if broker.commitCount() != 1 {
		t.Fatalf("expected exactly one commit, got %d", broker.commitCount())
	}
	if broker.commits[0].tp != id.TopicPartition() || broker.commits[0].offset != id.Offset {
		t.Fatalf("unexpected commit: %+v", broker.commits[0])
	}
}

func TestAck_NilIsNoOp(t *testing.T) {
	broker := newFakeBroker()
	vc := newOpenVC(t, broker, utf8Deserializer, "c1", nil)

	if err := vc.Ack(nil); err != nil {
		t.Fatalf("unexpected error for nil ack: %v", err)
	}
	if broker.commitCount() != 0 {
		t.Fatal("expected no commit for nil ack")
	}
}

func TestAck_NonIdentifierFailsWithInvalidArgument(t *testing.T) {
	broker := newFakeBroker()
	vc := newOpenVC(t, broker, utf8Deserializer, "c1", nil)

	err := vc.Ack("not-an-identifier")
	if err == nil {
		t.Fatal("expected error for non-identifier ack")
	}
	if broker.commitCount() != 0 {
		t.Fatal("expected no commit for invalid ack")
	}
}

func TestOpen_TwiceFailsWithIllegalState(t *testing.T) {
	broker := newFakeBroker()
	vc := NewVirtualConsumer(VirtualConsumerConfig{ConsumerID: "c1", Broker: broker, Deserializer: utf8Deserializer}, nil, nil, nil, nil)

	if err := vc.Open(); err != nil {
		t.Fatalf("unexpected error on first open: %v", err)
	}
	if err := vc.Open(); err == nil {
		t.Fatal("expected error on second open")
	}
	if broker.connectCalls != 1 {
		t.Fatalf("expected connect to be called exactly once, got %d", broker.connectCalls)
	}
}

func TestNextMessage_BeforeOpenFailsWithIllegalState(t *testing.T) {
	broker := newFakeBroker()
	vc := NewVirtualConsumer(VirtualConsumerConfig{ConsumerID: "c1", Broker: broker, Deserializer: utf8Deserializer}, nil, nil, nil, nil)

	if _, err := vc.NextMessage(); err == nil {
		t.Fatal("expected error calling nextMessage before open")
	}
}

func TestDoesMessageExceedEndingOffset(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	other := TopicPartition{Topic: "t", Partition: 1}

	t.Run("no ending offsets configured", func(t *testing.T) {
		vc := NewVirtualConsumer(VirtualConsumerConfig{ConsumerID: "c1", Broker: newFakeBroker(), Deserializer: utf8Deserializer}, nil, nil, nil, nil)
		exceeds, err := vc.doesMessageExceedEndingOffset(tp, 100)
		if err != nil || exceeds {
			t.Fatalf("expected false/no-error, got %v/%v", exceeds, err)
		}
	})

	t.Run("below bound", func(t *testing.T) {
		ending := NewOffsetMapBuilder().WithPartition(tp, 100).Build()
		vc := NewVirtualConsumer(VirtualConsumerConfig{ConsumerID: "c1", Broker: newFakeBroker(), Deserializer: utf8Deserializer, EndingOffsets: &ending}, nil, nil, nil, nil)
		exceeds, err := vc.doesMessageExceedEndingOffset(tp, 99)
		if err != nil || exceeds {
			t.Fatalf("expected false/no-error, got %v/%v", exceeds, err)
		}
	})

	t.Run("at or above bound", func(t *testing.T) {
		ending := NewOffsetMapBuilder().WithPartition(tp, 100).Build()
		vc := NewVirtualConsumer(VirtualConsumerConfig{ConsumerID: "c1", Broker: newFakeBroker(), Deserializer: utf8Deserializer, EndingOffsets: &ending}, nil, nil, nil, nil)
		exceeds, err := vc.doesMessageExceedEndingOffset(tp, 100)
		if err != nil || !exceeds {
			t.Fatalf("expected true/no-error, got %v/%v", exceeds, err)
		}
	})

	t.Run("partition not declared in ending offsets", func(t *testing.T) {
		ending := NewOffsetMapBuilder().WithPartition(tp, 100).Build()
		vc := NewVirtualConsumer(VirtualConsumerConfig{ConsumerID: "c1", Broker: newFakeBroker(), Deserializer: utf8Deserializer, EndingOffsets: &ending}, nil, nil, nil, nil)
		if _, err := vc.doesMessageExceedEndingOffset(other, 1); err == nil {
			t.Fatal("expected illegal state error for partition missing from ending offsets")
		}
	})
}

// TestNextMessage_UndeclaredPartitionIsIllegalState covers spec.md's
// invariant that once an endingOffsets map is configured, every partition
// the stream produces records for must be declared in it: a record for an
// undeclared partition is an IllegalState, not a silently-in-bounds record.
func TestNextMessage_UndeclaredPartitionIsIllegalState(t *testing.T) {
	declared := TopicPartition{Topic: "MyTopic", Partition: 0}
	undeclared := TopicPartition{Topic: "MyTopic", Partition: 1}
	broker := newFakeBroker(&Record{Topic: undeclared.Topic, Partition: undeclared.Partition, Offset: 1, Key: []byte("k"), Value: []byte("v")})
	ending := NewOffsetMapBuilder().WithPartition(declared, 100).Build()
	vc := newOpenVC(t, broker, utf8Deserializer, "c1", &ending)

	msg, err := vc.NextMessage()
	if err == nil {
		t.Fatal("expected illegal state error for a record on an undeclared partition")
	}
	if msg != nil {
		t.Fatalf("expected no message alongside the error, got %+v", msg)
	}
}

func TestFlushState_PersistsCurrentState(t *testing.T) {
	broker := newFakeBroker()
	persistence := newFakePersistence()
	persistence.Open(Config{})

	vc := NewVirtualConsumer(VirtualConsumerConfig{ConsumerID: "c1", Broker: broker, Deserializer: utf8Deserializer}, nil, persistence, nil, nil)
	if err := vc.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	id := MessageID{Topic: "t", Partition: 0, Offset: 5, ConsumerID: "c1"}
	if err := vc.Ack(id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := vc.FlushState(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	stored, err := persistence.RetrieveConsumerState("c1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored state, err=%v", err)
	}
	if off, ok := stored.Get(id.TopicPartition()); !ok || off != 5 {
		t.Fatalf("expected persisted offset 5, got %d (ok=%v)", off, ok)
	}
}

func TestClose_Idempotent(t *testing.T) {
	broker := newFakeBroker()
	vc := newOpenVC(t, broker, utf8Deserializer, "c1", nil)

	if err := vc.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := vc.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if broker.closeCalls != 1 {
		t.Fatalf("expected broker Close called exactly once, got %d", broker.closeCalls)
	}
}
