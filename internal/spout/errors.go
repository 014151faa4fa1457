package spout

import "github.com/pkg/errors"

// Sentinel error kinds, per spec.md section 7. Wrap these with
// errors.Wrap/errors.Wrapf at collaborator boundaries so errors.Cause still
// resolves to the sentinel.
var (
	// ErrAlreadyOpen is returned by Open when called a second time on a
	// Virtual Consumer.
	ErrAlreadyOpen = errors.New("illegal state: already open")

	// ErrNotOpen is returned when an operation requiring OPEN state is
	// invoked before open() or after close().
	ErrNotOpen = errors.New("illegal state: not open")

	// ErrPersistenceNotOpen is returned by the persistence manager when a
	// persist/retrieve/clear call arrives before Open(config).
	ErrPersistenceNotOpen = errors.New("illegal state: persistence manager not open")

	// ErrPersistenceRootRequired is returned by Open when
	// persistence.zk.root is absent from configuration.
	ErrPersistenceRootRequired = errors.New("illegal state: persistence.zk.root is required")

	// ErrEndingOffsetPartitionMissing is returned by nextMessage when an
	// endingOffsets map is configured but does not declare a bound for a
	// partition the stream is producing records for.
	ErrEndingOffsetPartitionMissing = errors.New("illegal state: no ending offset declared for partition")

	// ErrInvalidIdentifier is returned by Ack/Fail when passed a value that
	// is not a MessageID (and is not nil).
	ErrInvalidIdentifier = errors.New("invalid argument: not a message identifier")
)

// BrokerError wraps an opaque, possibly-transient fault surfaced by a
// BrokerConsumer. The core never interprets the cause; it is the
// BrokerConsumer's responsibility to have already retried anything
// transient before returning this.
type BrokerError struct {
	cause error
}

// NewBrokerError wraps cause as a BrokerError.
func NewBrokerError(cause error) *BrokerError {
	return &BrokerError{cause: cause}
}

func (e *BrokerError) Error() string {
	return "broker error: " + e.cause.Error()
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *BrokerError) Unwrap() error {
	return e.cause
}

// PersistenceError wraps a failed persist/retrieve/clear call.
type PersistenceError struct {
	cause error
}

// NewPersistenceError wraps cause as a PersistenceError.
func NewPersistenceError(cause error) *PersistenceError {
	return &PersistenceError{cause: cause}
}

func (e *PersistenceError) Error() string {
	return "persistence error: " + e.cause.Error()
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *PersistenceError) Unwrap() error {
	return e.cause
}
