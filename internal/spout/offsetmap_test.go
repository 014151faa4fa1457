package spout

import "testing"

func TestOffsetMapBuilderImmutableAfterBuild(t *testing.T) {
	tp := TopicPartition{Topic: "MyTopic", Partition: 3}
	b := NewOffsetMapBuilder().WithPartition(tp, 100)
	m1 := b.Build()

	b.WithPartition(tp, 200)
	m2 := b.Build()

	if off, _ := m1.Get(tp); off != 100 {
		t.Fatalf("expected m1 to retain 100, got %d", off)
	}
	if off, _ := m2.Get(tp); off != 200 {
		t.Fatalf("expected m2 to reflect 200, got %d", off)
	}
}

func TestOffsetMapGetHasSize(t *testing.T) {
	tp := TopicPartition{Topic: "MyTopic", Partition: 4}
	m := NewOffsetMapBuilder().WithPartition(tp, 4444).Build()

	if !m.Has(tp) {
		t.Fatal("expected Has to be true")
	}
	if m.Size() != 1 {
		t.Fatalf("expected size 1, got %d", m.Size())
	}
	if _, ok := m.Get(TopicPartition{Topic: "Other", Partition: 0}); ok {
		t.Fatal("expected absent partition to report not-ok")
	}
}

func TestOffsetMapEqual(t *testing.T) {
	tp1 := TopicPartition{Topic: "A", Partition: 0}
	tp2 := TopicPartition{Topic: "B", Partition: 1}
	m1 := NewOffsetMapBuilder().WithPartition(tp1, 1).WithPartition(tp2, 2).Build()
	m2 := NewOffsetMapBuilder().WithPartition(tp2, 2).WithPartition(tp1, 1).Build()
	m3 := NewOffsetMapBuilder().WithPartition(tp1, 1).Build()

	if !m1.Equal(m2) {
		t.Fatal("expected insertion-order-independent equality")
	}
	if m1.Equal(m3) {
		t.Fatal("expected maps of different size to be unequal")
	}
}

func TestOffsetMapJSONRoundTrip(t *testing.T) {
	tp := TopicPartition{Topic: "my-topic-with-dash", Partition: 7}
	m := NewOffsetMapBuilder().WithPartition(tp, 9999).Build()

	wire := m.JSON()
	if len(wire) != 1 {
		t.Fatalf("expected one wire entry, got %d", len(wire))
	}

	restored, err := OffsetMapFromJSON(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !restored.Equal(m) {
		t.Fatalf("expected round-tripped map to equal original")
	}
}

func TestParseTopicPartitionKeyMalformed(t *testing.T) {
	if _, err := ParseTopicPartitionKey("no-partition-here-x"); err == nil {
		t.Fatal("expected error for non-numeric partition suffix")
	}
	if _, err := ParseTopicPartitionKey("missingdash"); err == nil {
		t.Fatal("expected error for key with no dash")
	}
}
