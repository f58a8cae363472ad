package aggregate

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/aneshas/kafkaevents"
	"github.com/aneshas/kafkaevents/journal"
)

// ErrAggregateNotFound is returned when aggregate stream does not exist
var ErrAggregateNotFound = errors.New("aggregate not found")

// NewStore constructs new event sourced aggregate store
func NewStore[T Rooter](j Journal) *Store[T] {
	return &Store[T]{
		journal: j,
	}
}

// Journal represents aggregate stream storage (see journal.Journal)
type Journal interface {
	AppendStream(ctx context.Context, aggregateType string, stream string, expectedVer int64, events []journal.EventToStore) error
	ReadStream(ctx context.Context, stream string) ([]kafkaevents.EventData, error)
}

// Store represents event sourced aggregate store
type Store[T Rooter] struct {
	journal Journal
}

// Save appends uncommitted aggregate events to the aggregate stream.
// The aggregate type is the name of the aggregate go type.
// Meta, causation and correlation ids are taken from the context
// (see CtxWithMeta, CtxWithCausationID and CtxWithCorrelationID)
func (s *Store[T]) Save(ctx context.Context, aggregate T) error {
	evts := aggregate.Events()
	if len(evts) == 0 {
		return nil
	}

	var events []journal.EventToStore

	for _, evt := range evts {
		events = append(events, journal.EventToStore{
			Payload:            evt.E,
			ID:                 evt.ID,
			OccurredOn:         evt.OccurredOn,
			CausationEventID:   causationIDFrom(ctx),
			CorrelationEventID: correlationIDFrom(ctx),
			Meta:               metaFrom(ctx),
		})
	}

	err := s.journal.AppendStream(
		ctx,
		TypeName(aggregate),
		aggregate.StringID(),
		aggregate.Version(),
		events,
	)
	if err != nil {
		return err
	}

	aggregate.committed()

	return nil
}

// ByID reads aggregate stream and rehydrates the aggregate
func (s *Store[T]) ByID(ctx context.Context, id string, root T) error {
	stored, err := s.journal.ReadStream(ctx, id)
	if errors.Is(err, journal.ErrStreamNotFound) {
		return fmt.Errorf("%w: %s", ErrAggregateNotFound, id)
	}

	if err != nil {
		return err
	}

	events := make([]any, len(stored))

	for i, evt := range stored {
		events[i] = evt.Payload
	}

	root.Rehydrate(root, events...)

	return nil
}

// TypeName returns aggregate type name as written to aggregate-type header
func TypeName(aggregate any) string {
	t := reflect.TypeOf(aggregate)

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Name()
}
