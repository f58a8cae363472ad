package kafkaevents

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an event message exchanged over kafka
// A message is a plain event unless Aggregate is set, in which case it is
// a domain event positioned in an aggregate stream
type Message struct {
	ID        string
	Payload   any
	Meta      map[string]string
	Timestamp time.Time

	// Optional - set only for domain events
	Aggregate *Aggregate
}

// Aggregate holds the aggregate stream position of a domain event
type Aggregate struct {
	Type     string
	ID       string
	Sequence int64
}

// IsDomainEvent reports whether the message belongs to an aggregate stream
func (m Message) IsDomainEvent() bool { return m.Aggregate != nil }

// MessageOpt represents message construction option
type MessageOpt func(Message) Message

// WithID sets explicit message identity instead of a generated one
func WithID(id string) MessageOpt {
	return func(m Message) Message {
		m.ID = id

		return m
	}
}

// WithMeta sets message metadata
func WithMeta(meta map[string]string) MessageOpt {
	return func(m Message) Message {
		m.Meta = meta

		return m
	}
}

// WithTimestamp sets message timestamp (truncated to milliseconds)
func WithTimestamp(t time.Time) MessageOpt {
	return func(m Message) Message {
		m.Timestamp = t

		return m
	}
}

// NewMessage constructs a plain event message
func NewMessage(payload any, opts ...MessageOpt) Message {
	m := Message{
		Payload: payload,
	}

	for _, opt := range opts {
		m = opt(m)
	}

	return normalize(m)
}

// NewDomainMessage constructs a domain event message belonging to the
// aggregate stream identified by aggregateID
func NewDomainMessage(aggregateType, aggregateID string, seq int64, payload any, opts ...MessageOpt) Message {
	m := NewMessage(payload, opts...)

	m.Aggregate = &Aggregate{
		Type:     aggregateType,
		ID:       aggregateID,
		Sequence: seq,
	}

	return m
}

func normalize(m Message) Message {
	if m.ID == "" {
		m.ID = newID()
	}

	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	m.Timestamp = m.Timestamp.UTC().Truncate(time.Millisecond)

	meta := make(map[string]string, len(m.Meta))

	for k, v := range m.Meta {
		meta[k] = v
	}

	m.Meta = meta

	return m
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
