package spout

import "fmt"

// MessageID is the external handle the host topology holds onto for a
// message it has not yet acked or failed. It is a pure value type:
// structural equality and hashing (as a map key) cover all four fields.
type MessageID struct {
	Topic      string
	Partition  int32
	Offset     int64
	ConsumerID string
}

// TopicPartition returns the (topic, partition) pair this identifier
// belongs to, for use against an OffsetMap or BrokerConsumer.
func (id MessageID) TopicPartition() TopicPartition {
	return TopicPartition{Topic: id.Topic, Partition: id.Partition}
}

func (id MessageID) String() string {
	return fmt.Sprintf("%s-%d:%d@%s", id.Topic, id.Partition, id.Offset, id.ConsumerID)
}

// AsMessageID asserts that v is a MessageID, returning the bare
// ErrInvalidIdentifier sentinel if not; callers add their own context. A nil
// v fails here too — callers that must special-case "ack(nil) is a no-op"
// check for nil before calling this.
func AsMessageID(v interface{}) (MessageID, error) {
	id, ok := v.(MessageID)
	if !ok {
		return MessageID{}, ErrInvalidIdentifier
	}
	return id, nil
}
