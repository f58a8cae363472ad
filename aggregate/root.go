package aggregate

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMissingAggregateEventHandler is returned when aggregate event handler is missing
	// On{EventName} method
	ErrMissingAggregateEventHandler = fmt.Errorf("missing aggregate event handler")

	// ErrAggregateRootNotAPointer is returned when supplied aggregate root is not a pointer
	ErrAggregateRootNotAPointer = fmt.Errorf("aggregate needs to be a pointer")

	// ErrAggregateRootNotRehydrated is returned when aggregate is not rehydrated (with Rehydrate method)
	ErrAggregateRootNotRehydrated = fmt.Errorf("aggregate needs to be rehydrated")
)

// Rooter represents an aggregate embedding Root
type Rooter interface {
	StringID() string
	Version() int64
	Events() []Event
	Rehydrate(aggregatePtr any, events ...any)

	committed()
}

// Root represents reusable DDD Event Sourcing friendly Aggregate
// base type which provides helpers for easy aggregate initialization and
// event handler execution
type Root[T fmt.Stringer] struct {
	id T

	version      int64
	domainEvents []Event

	ptr reflect.Value
}

// ID returns aggregate id
func (a *Root[T]) ID() T { return a.id }

// StringID returns string representation of the aggregate id, which is
// also the name of the aggregate stream
func (a *Root[T]) StringID() string { return a.id.String() }

// SetID sets aggregate id (usually from within the creation event handler)
func (a *Root[T]) SetID(id T) { a.id = id }

// Rehydrate is used to construct and rehydrate the aggregate from events
// Any uncommitted events are discarded
func (a *Root[T]) Rehydrate(aggregatePtr any, events ...any) {
	a.ptr = reflect.ValueOf(aggregatePtr)
	a.version = 0
	a.domainEvents = nil

	if a.ptr.Kind() != reflect.Ptr {
		panic(ErrAggregateRootNotAPointer)
	}

	for _, evt := range events {
		a.mutate(evt)

		a.version++
	}
}

// Version returns the stored version of the aggregate (number of
// events it was rehydrated from or saved with)
func (a *Root[T]) Version() int64 { return a.version }

// Events returns uncommitted domain events (produced by calling Apply)
func (a *Root[T]) Events() []Event {
	if a.domainEvents == nil {
		return []Event{}
	}

	return a.domainEvents
}

// Apply mutates aggregate (calls respective event handle) and
// appends event to internal slice, so that they can be retrieved with Events method
// In order for Apply to work the derived aggregate struct needs to implement
// an event handler method for all events it produces eg:
//
// If it produces event of type: SomethingImportantHappened
// Derived aggregate should have the following method implemented:
// func (a *SomeAggregate) OnSomethingImportantHappened(e SomethingImportantHappened)
func (a *Root[T]) Apply(events ...any) {
	if !a.ptr.IsValid() {
		panic(ErrAggregateRootNotRehydrated)
	}

	for _, evt := range events {
		a.mutate(evt)

		a.domainEvents = append(a.domainEvents, Event{
			ID:         uuid.Must(uuid.NewV7()).String(),
			E:          evt,
			OccurredOn: time.Now().UTC(),
		})
	}
}

func (a *Root[T]) committed() {
	a.version += int64(len(a.domainEvents))
	a.domainEvents = nil
}

func (a *Root[T]) mutate(evt any) {
	ev := reflect.TypeOf(evt)

	hName := fmt.Sprintf("On%s", ev.Name())

	h := a.ptr.MethodByName(hName)

	if !h.IsValid() {
		panic(ErrMissingAggregateEventHandler)
	}

	h.Call([]reflect.Value{
		reflect.ValueOf(evt),
	})
}
