// Package kafkaevents bridges event messages to kafka records and back.
// Apart from the converter at its core, a publisher, a consumer loop and
// projections are provided. See the journal, relay and aggregate packages
// for storing and forwarding aggregate streams
package kafkaevents

import (
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrInvalidConfig indicates that a component was constructed with
// missing or invalid configuration
var ErrInvalidConfig = errors.New("invalid configuration")

// RecordConverter converts messages to kafka records and back
type RecordConverter interface {
	ToRecord(msg Message, topic string) (kafka.Message, error)
	FromRecord(rec kafka.Message) (Message, bool, error)
}

var _ RecordConverter = (*Converter)(nil)

// ConverterConfig represents converter configuration
type ConverterConfig struct {
	Serializer Serializer
}

func (cfg ConverterConfig) validate() error {
	if cfg.Serializer == nil {
		return fmt.Errorf("%w: serializer must be provided", ErrInvalidConfig)
	}

	return nil
}

// NewConverter constructs a converter
func NewConverter(cfg ConverterConfig) (*Converter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Converter{
		serializer: cfg.Serializer,
	}, nil
}

// Converter writes messages as kafka records and reads them back.
// It holds no state apart from the serializer and is safe for concurrent use
type Converter struct {
	serializer Serializer
}

// ToRecord converts message to a record addressed to topic
// Domain events are keyed by their aggregate id so that all events of one
// aggregate end up on the same partition, plain events have no key
func (c *Converter) ToRecord(msg Message, topic string) (kafka.Message, error) {
	var key []byte

	if msg.Aggregate != nil {
		key = []byte(msg.Aggregate.ID)
	}

	serialized, err := c.serializer.Serialize(msg.Payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serializing payload of message %s: %w", msg.ID, err)
	}

	var headers Headers

	headers.WriteString(HeaderMessageID, msg.ID)
	headers.WriteString(HeaderMessageType, serialized.Type.Name)
	headers.WriteLong(HeaderMessageTimestamp, msg.Timestamp.UnixMilli())

	if serialized.Type.Revision != nil {
		headers.WriteString(HeaderMessageRevision, *serialized.Type.Revision)
	}

	headers.WriteMeta(msg.Meta)

	if msg.Aggregate != nil {
		headers.WriteString(HeaderAggregateType, msg.Aggregate.Type)
		headers.WriteString(HeaderAggregateID, msg.Aggregate.ID)
		headers.WriteLong(HeaderAggregateSeq, msg.Aggregate.Sequence)
	}

	return kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   serialized.Data,
		Headers: headers,
	}, nil
}

// FromRecord reads a message from the record
// ok is false for records that were not produced according to the header
// convention (no headers, missing id or type, no value). Such records should
// be skipped. An error is only returned if the payload could not be
// deserialized
func (c *Converter) FromRecord(rec kafka.Message) (Message, bool, error) {
	headers := Headers(rec.Headers)
	if headers == nil {
		return Message{}, false, nil
	}

	id, ok := headers.ReadString(HeaderMessageID)
	if !ok {
		return Message{}, false, nil
	}

	typ, ok := headers.ReadString(HeaderMessageType)
	if !ok {
		return Message{}, false, nil
	}

	if rec.Value == nil {
		return Message{}, false, nil
	}

	st := SerializedType{
		Name: typ,
	}

	if rev, ok := headers.ReadString(HeaderMessageRevision); ok {
		st.Revision = &rev
	}

	var ts time.Time

	if ms, ok := headers.ReadLong(HeaderMessageTimestamp); ok {
		ts = time.UnixMilli(ms)
	} else if !rec.Time.IsZero() {
		ts = rec.Time
	} else {
		return Message{}, false, nil
	}

	payload, err := c.serializer.Deserialize(&SerializedPayload{
		Data: rec.Value,
		Type: st,
	})
	if err != nil {
		return Message{}, false, fmt.Errorf("reading message %s: %w", id, err)
	}

	msg := Message{
		ID:        id,
		Payload:   payload,
		Meta:      headers.ReadMeta(),
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		Aggregate: readAggregate(headers),
	}

	return msg, true, nil
}

// partial aggregate header sets are read as plain events
func readAggregate(headers Headers) *Aggregate {
	typ, ok := headers.ReadString(HeaderAggregateType)
	if !ok {
		return nil
	}

	id, ok := headers.ReadString(HeaderAggregateID)
	if !ok {
		return nil
	}

	seq, ok := headers.ReadLong(HeaderAggregateSeq)
	if !ok {
		return nil
	}

	return &Aggregate{
		Type:     typ,
		ID:       id,
		Sequence: seq,
	}
}
