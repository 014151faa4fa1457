package spout

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPartition identifies a single partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// OffsetMap is an immutable snapshot of (topic, partition) -> offset. Once
// built via OffsetMapBuilder it cannot be mutated; every mutating-looking
// operation on the builder returns the same builder for chaining.
type OffsetMap struct {
	offsets map[TopicPartition]int64
}

// OffsetMapBuilder accumulates (topicPartition, offset) pairs before Build
// freezes them into an OffsetMap.
type OffsetMapBuilder struct {
	offsets map[TopicPartition]int64
}

// NewOffsetMapBuilder returns an empty builder.
func NewOffsetMapBuilder() *OffsetMapBuilder {
	return &OffsetMapBuilder{offsets: make(map[TopicPartition]int64)}
}

// WithPartition records the offset for tp, replacing any previous value.
func (b *OffsetMapBuilder) WithPartition(tp TopicPartition, offset int64) *OffsetMapBuilder {
	b.offsets[tp] = offset
	return b
}

// Build freezes the accumulated entries into an OffsetMap. The builder
// remains usable afterward but further mutation does not affect the map
// already built.
func (b *OffsetMapBuilder) Build() OffsetMap {
	frozen := make(map[TopicPartition]int64, len(b.offsets))
	for tp, off := range b.offsets {
		frozen[tp] = off
	}
	return OffsetMap{offsets: frozen}
}

// Get returns the offset for tp and whether it was present.
func (m OffsetMap) Get(tp TopicPartition) (int64, bool) {
	off, ok := m.offsets[tp]
	return off, ok
}

// Has reports whether tp has a recorded offset.
func (m OffsetMap) Has(tp TopicPartition) bool {
	_, ok := m.offsets[tp]
	return ok
}

// Size returns the number of partitions tracked.
func (m OffsetMap) Size() int {
	return len(m.offsets)
}

// Entries returns a snapshot copy of the underlying map, safe for the caller
// to range over or mutate without affecting this OffsetMap.
func (m OffsetMap) Entries() map[TopicPartition]int64 {
	out := make(map[TopicPartition]int64, len(m.offsets))
	for tp, off := range m.offsets {
		out[tp] = off
	}
	return out
}

// Equal reports whether two OffsetMaps contain exactly the same entries.
func (m OffsetMap) Equal(other OffsetMap) bool {
	if len(m.offsets) != len(other.offsets) {
		return false
	}
	for tp, off := range m.offsets {
		otherOff, ok := other.offsets[tp]
		if !ok || otherOff != off {
			return false
		}
	}
	return true
}

// JSON renders the wire form consumed by the persistence layer: an object
// keyed by "{topic}-{partition}" mapping to the raw offset.
func (m OffsetMap) JSON() map[string]int64 {
	out := make(map[string]int64, len(m.offsets))
	for tp, off := range m.offsets {
		out[tp.String()] = off
	}
	return out
}

// ParseTopicPartitionKey parses the "{topic}-{partition}" wire key back into
// a TopicPartition. The partition is taken from the last "-"-delimited
// segment so topic names containing hyphens round-trip correctly.
func ParseTopicPartitionKey(key string) (TopicPartition, error) {
	idx := strings.LastIndex(key, "-")
	if idx < 0 || idx == len(key)-1 {
		return TopicPartition{}, fmt.Errorf("malformed topic-partition key %q", key)
	}
	partition, err := strconv.ParseInt(key[idx+1:], 10, 32)
	if err != nil {
		return TopicPartition{}, fmt.Errorf("malformed topic-partition key %q: %w", key, err)
	}
	return TopicPartition{Topic: key[:idx], Partition: int32(partition)}, nil
}

// OffsetMapFromJSON rebuilds an OffsetMap from its wire form.
func OffsetMapFromJSON(raw map[string]int64) (OffsetMap, error) {
	b := NewOffsetMapBuilder()
	for key, off := range raw {
		tp, err := ParseTopicPartitionKey(key)
		if err != nil {
			return OffsetMap{}, err
		}
		b.WithPartition(tp, off)
	}
	return b.Build(), nil
}
