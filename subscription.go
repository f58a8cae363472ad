package kafkaevents

import (
	"errors"
	"sync"
	"time"
)

// ErrSubscriptionClosedByClient is produced by sub.Err if client cancels the subscription using sub.Close()
var ErrSubscriptionClosedByClient = errors.New("subscription closed by client")

// EventData represents a message read from a message stream along with
// its position in that stream
type EventData struct {
	Message

	Sequence uint64
}

// Subscription represents a subscription to a stream of messages
type Subscription struct {
	// Err chan will produce any errors that might occur while reading messages
	// If Err produces io.EOF error, that indicates that we have caught up
	// with the stream and that there are no more messages to read after which
	// the subscription itself will continue polling for new messages
	// each time we empty the Err channel. This means that reading from Err (in
	// case of io.EOF) can be strategically used in order to achieve backpressure
	Err       chan error
	EventData chan EventData

	close     chan struct{}
	closeOnce *sync.Once
}

// NewSubscription constructs a closable subscription buffering up to size messages
func NewSubscription(size int) Subscription {
	return Subscription{
		Err:       make(chan error, 1),
		EventData: make(chan EventData, size),
		close:     make(chan struct{}),
		closeOnce: &sync.Once{},
	}
}

// Close closes the subscription
func (s Subscription) Close() {
	if s.close == nil {
		return
	}

	s.closeOnce.Do(func() { close(s.close) })
}

// Closed is closed once the client closes the subscription.
// It is nil (never signaled) for subscriptions not built with NewSubscription
func (s Subscription) Closed() <-chan struct{} {
	return s.close
}

// SubAllConfig (configure using SubAllOpt)
type SubAllConfig struct {
	Offset       uint64
	BatchSize    int
	PollInterval time.Duration
}

// DefaultSubAllConfig returns subscription defaults
func DefaultSubAllConfig() SubAllConfig {
	return SubAllConfig{
		Offset:       0,
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
	}
}

// SubAllOpt represents subscribe to all messages option
type SubAllOpt func(SubAllConfig) SubAllConfig

// WithOffset is a subscription / read all option that indicates an offset in
// the stream from which to start reading messages (exclusive)
func WithOffset(offset uint64) SubAllOpt {
	return func(cfg SubAllConfig) SubAllConfig {
		cfg.Offset = offset

		return cfg
	}
}

// WithBatchSize is a subscription/read all option that specifies the read
// batch size (limit) when reading messages
func WithBatchSize(size int) SubAllOpt {
	return func(cfg SubAllConfig) SubAllConfig {
		cfg.BatchSize = size

		return cfg
	}
}

// WithPollInterval is a subscription/read all option that specifies the polling
// interval of the underlying storage
func WithPollInterval(d time.Duration) SubAllOpt {
	return func(cfg SubAllConfig) SubAllConfig {
		cfg.PollInterval = d

		return cfg
	}
}
