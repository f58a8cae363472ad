// Package ambar bridges journal rows pushed by an Ambar data destination
// (https://docs.ambar.cloud) to projections such as kafka publishing
package ambar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aneshas/kafkaevents"
	"github.com/relvacode/iso8601"
)

var (
	// ErrNoRetry is the error returned when we don't want to retry
	// projecting events in case of an error.
	// This is also the default behavior when an error is returned but this
	// error can be used if we also want to wrap the error eg. for logging
	ErrNoRetry = errors.New("no retry")

	// ErrRetry is the error returned when the event should be redelivered
	ErrRetry = errors.New("retry")

	// ErrKeepItGoing is the error returned when we want to keep projecting
	// events in case of an error
	ErrKeepItGoing = errors.New("keep it going")
)

// SuccessResp is the success response
// https://docs.ambar.cloud/#Data%20Destinations
var SuccessResp = `{
  "result": {
    "success": {}
  }
}`

// RetryResp is the retry response
// https://docs.ambar.cloud/#Data%20Destinations
var RetryResp = `{
  "result": {
    "error": {
      "policy": "must_retry", 
      "class": "must retry it", 
      "description": "must retry it"
    }
  }
}`

// KeepGoingResp is the keep going response
// https://docs.ambar.cloud/#Data%20Destinations
var KeepGoingResp = `{
  "result": {
    "error": {
      "policy": "keep_going", 
      "class": "keep it going", 
      "description": "keep it going"
    }
  }
}`

// New constructs a new Ambar projection handler
func New(ser kafkaevents.Serializer) *Ambar {
	return &Ambar{ser: ser}
}

// Ambar is a projection handler for journal rows delivered by ambar
type Ambar struct {
	ser kafkaevents.Serializer
}

// Req is the ambar projection request
type Req struct {
	Payload Payload `json:"payload"`
}

// Payload is the ambar projection request payload (a journal row)
type Payload struct {
	// Event is the journal's text data column, i.e. the serialized payload
	Event         string  `json:"data"`
	Meta          *string `json:"meta"`
	ID            string  `json:"id"`
	Sequence      uint64  `json:"sequence"`
	Type          string  `json:"type"`
	Revision      *string `json:"revision"`
	AggregateType string  `json:"aggregate_type"`
	StreamID      string  `json:"stream_id"`
	StreamVersion int64   `json:"stream_version"`
	OccurredOn    string  `json:"occurred_on"`
}

// Project decodes the journal row into a domain event message and projects it
// to the provided projection.
// Malformed rows yield ErrRetry, rows of unregistered payload types are skipped
func (a *Ambar) Project(ctx context.Context, projection kafkaevents.Projection, data []byte) error {
	var event Req

	err := json.Unmarshal(data, &event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRetry, err)
	}

	p := event.Payload

	payload, err := a.ser.Deserialize(&kafkaevents.SerializedPayload{
		Data: []byte(p.Event),
		Type: kafkaevents.SerializedType{
			Name:     p.Type,
			Revision: p.Revision,
		},
	})
	if err != nil {
		if errors.Is(err, kafkaevents.ErrPayloadNotRegistered) {
			return nil
		}

		return fmt.Errorf("%w: %w", ErrRetry, err)
	}

	occurredOn, err := iso8601.ParseString(p.OccurredOn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRetry, err)
	}

	var meta map[string]string

	if p.Meta != nil {
		err = json.Unmarshal([]byte(*p.Meta), &meta)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRetry, err)
		}
	}

	return projection(ctx, kafkaevents.NewDomainMessage(
		p.AggregateType,
		p.StreamID,
		p.StreamVersion,
		payload,
		kafkaevents.WithID(p.ID),
		kafkaevents.WithMeta(meta),
		kafkaevents.WithTimestamp(occurredOn),
	))
}
