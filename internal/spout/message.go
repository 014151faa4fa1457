package spout

// Values is the deserialized payload of a record, produced by a
// Deserializer collaborator. Its shape is opaque to the core; by
// convention it holds the decoded key and value plus whatever else the
// Deserializer chooses to expose.
type Values []interface{}

// Message pairs the external identifier handed to the host topology with
// the deserialized payload it should emit as a tuple.
type Message struct {
	ID     MessageID
	Values Values
}

// Deserializer turns a raw record's key/value bytes into Values. Returning
// (nil, false) marks the record as poison: the Virtual Consumer treats it
// as a DeserializationSkip and drops it without emitting a Message.
type Deserializer interface {
	Deserialize(topic string, partition int32, offset int64, key, value []byte) (Values, bool)
}

// DeserializerFunc adapts a plain function to the Deserializer interface.
type DeserializerFunc func(topic string, partition int32, offset int64, key, value []byte) (Values, bool)

// Deserialize implements Deserializer.
func (f DeserializerFunc) Deserialize(topic string, partition int32, offset int64, key, value []byte) (Values, bool) {
	return f(topic, partition, offset, key, value)
}
