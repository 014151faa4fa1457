package spout

// BrokerConsumer is the contract the core depends on, per spec.md section
// 4.D. A concrete implementation (internal/broker.SaramaBrokerConsumer)
// wraps the underlying commit-log client; the core never imports that
// client directly. Every method is single-owner: exactly one Virtual
// Consumer worker ever touches a given BrokerConsumer instance.
//
// Broker-side failures are opaque: implementations must retry transient
// faults internally and only return an error when the fault is not
// recoverable by retrying. A nil record with no error from NextRecord is not
// an error, just an empty poll.
type BrokerConsumer interface {
	// Connect performs whatever dial/join work is needed before polling can
	// begin. The contract allows Connect to be idempotent, but the Virtual
	// Consumer calls it exactly once.
	Connect() error

	// NextRecord returns the next available record for the subscribed
	// partitions, or (nil, nil) if none is currently buffered. It must not
	// block waiting for one to arrive.
	NextRecord() (*Record, error)

	// CommitOffset marks offset as the next unconsumed position for tp in
	// the durable group state.
	CommitOffset(tp TopicPartition, offset int64) error

	// UnsubscribeTopicPartition removes tp from the active assignment,
	// reporting whether the assignment actually changed.
	UnsubscribeTopicPartition(tp TopicPartition) (bool, error)

	// CurrentState snapshots committed positions across assigned
	// partitions.
	CurrentState() (OffsetMap, error)

	// Close releases any resources held by the consumer.
	Close() error
}
