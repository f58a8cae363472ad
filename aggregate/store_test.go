package aggregate_test

import (
	"context"
	"flag"
	"fmt"
	"testing"

	"github.com/aneshas/kafkaevents"
	"github.com/aneshas/kafkaevents/aggregate"
	"github.com/aneshas/kafkaevents/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var integration = flag.Bool("integration", false, "perform integration tests")

type eventStore struct {
	eventsToStore []journal.EventToStore
	aggregateType string
	id            string
	ctx           context.Context
	version       int64

	storedEvents []kafkaevents.EventData

	wantErr error
}

func (e *eventStore) AppendStream(ctx context.Context, aggregateType string, id string, version int64, events []journal.EventToStore) error {
	if e.wantErr != nil {
		return e.wantErr
	}

	e.eventsToStore = events
	e.aggregateType = aggregateType
	e.id = id
	e.version = version
	e.ctx = ctx

	return nil
}

func (e *eventStore) ReadStream(_ context.Context, _ string) ([]kafkaevents.EventData, error) {
	if e.wantErr != nil {
		return nil, e.wantErr
	}

	return e.storedEvents, nil
}

type fooEvent struct {
	Foo string
}

// ID represents an ID
type ID string

func (id ID) String() string {
	return string(id)
}

type foo struct {
	aggregate.Root[ID]

	Balance int
}

func (f *foo) doStuff() {
	f.Apply(
		fooEvent{
			Foo: "foo-1",
		},
		fooEvent{
			Foo: "foo-2",
		},
	)
}

func (f *foo) doMoreStuff() {
	f.Apply(
		fooEvent{
			Foo: f.StringID(),
		},
	)
}

// OnfooEvent handler
func (f *foo) OnfooEvent(evt fooEvent) {
	f.SetID(ID(evt.Foo))
	f.Balance++
}

func stored(id string, n int) []kafkaevents.EventData {
	var evts []kafkaevents.EventData

	for i := 1; i <= n; i++ {
		evts = append(evts, kafkaevents.EventData{
			Message: kafkaevents.NewDomainMessage("foo", id, int64(i), fooEvent{Foo: id}),
		})
	}

	return evts
}

func TestShouldSaveAggregateEvents(t *testing.T) {
	var es eventStore

	store := aggregate.NewStore[*foo](&es)

	meta := map[string]string{
		"foo": "bar",
	}

	ctx := aggregate.CtxWithMeta(context.Background(), meta)
	ctx = aggregate.CtxWithCausationID(ctx, "some-causation-event-id")
	ctx = aggregate.CtxWithCorrelationID(ctx, "some-correlation-event-id")

	var f foo

	f.Rehydrate(&f)
	f.doStuff()

	events := f.Events()

	err := store.Save(ctx, &f)

	require.NoError(t, err)

	assert.Equal(t, ctx, es.ctx)
	assert.Equal(t, int64(0), es.version)
	assert.Equal(t, "foo-2", es.id)
	assert.Equal(t, "foo", es.aggregateType)

	assert.Equal(t, []journal.EventToStore{
		{
			Payload:            fooEvent{Foo: "foo-1"},
			ID:                 events[0].ID,
			CausationEventID:   "some-causation-event-id",
			CorrelationEventID: "some-correlation-event-id",
			Meta:               meta,
			OccurredOn:         events[0].OccurredOn,
		},
		{
			Payload:            fooEvent{Foo: "foo-2"},
			ID:                 events[1].ID,
			CausationEventID:   "some-causation-event-id",
			CorrelationEventID: "some-correlation-event-id",
			Meta:               meta,
			OccurredOn:         events[1].OccurredOn,
		},
	}, es.eventsToStore)

	assert.Empty(t, f.Events(), "saved events should be committed")
	assert.Equal(t, int64(2), f.Version())
}

func TestShouldNotSaveAggregateWithoutEvents(t *testing.T) {
	var es eventStore

	var f foo

	f.Rehydrate(&f)

	require.NoError(t, aggregate.NewStore[*foo](&es).Save(context.Background(), &f))

	assert.Nil(t, es.eventsToStore)
}

func TestShouldKeepEventsIfSaveFails(t *testing.T) {
	es := eventStore{wantErr: journal.ErrConcurrencyCheckFailed}

	var f foo

	f.Rehydrate(&f)
	f.doStuff()

	err := aggregate.NewStore[*foo](&es).Save(context.Background(), &f)

	assert.ErrorIs(t, err, journal.ErrConcurrencyCheckFailed)
	assert.Len(t, f.Events(), 2)
	assert.Equal(t, int64(0), f.Version())
}

func TestShouldReturnAggregateNotFoundErrorIfNoEvents(t *testing.T) {
	var es eventStore

	es.wantErr = journal.ErrStreamNotFound

	var f foo

	store := aggregate.NewStore[*foo](&es)

	err := store.ByID(context.Background(), "", &f)

	assert.ErrorIs(t, err, aggregate.ErrAggregateNotFound)
}

func TestShouldRehydrateAggregate(t *testing.T) {
	var es eventStore

	var f foo

	store := aggregate.NewStore[*foo](&es)

	es.storedEvents = stored("foo-1", 2)

	err := store.ByID(context.Background(), "foo-1", &f)

	require.NoError(t, err)
	assert.Equal(t, ID("foo-1"), f.ID())
	assert.Equal(t, int64(2), f.Version())
	assert.Equal(t, 2, f.Balance)
	assert.Len(t, f.Events(), 0)
}

func TestShouldLoadAndPersistAggregate(t *testing.T) {
	var es eventStore

	store := aggregate.NewStore[*foo](&es)

	es.storedEvents = stored("foo-1", 1)

	exec := aggregate.NewExecutor(store)

	var f foo

	f.SetID("foo-1")

	err := exec(context.Background(), &f, func(ctx context.Context) error {
		f.doMoreStuff()

		return nil
	})

	require.NoError(t, err)

	assert.Equal(t, int64(1), es.version)
	assert.Equal(t, "foo-1", es.id)
	require.Len(t, es.eventsToStore, 1)
	assert.Equal(t, fooEvent{Foo: "foo-1"}, es.eventsToStore[0].Payload)
}

func TestShouldReportExecError(t *testing.T) {
	var es eventStore

	store := aggregate.NewStore[*foo](&es)

	es.storedEvents = stored("foo-1", 1)

	var f foo

	f.SetID("foo-1")

	wantErr := fmt.Errorf("error")

	err := aggregate.Exec(context.Background(), store, &f, func(ctx context.Context) error {
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Nil(t, es.eventsToStore)
}

func TestShouldReportAggregateNotFoundError(t *testing.T) {
	var es eventStore

	exec := aggregate.NewExecutor(aggregate.NewStore[*foo](&es))

	var f foo

	f.SetID("foo-1")

	es.wantErr = journal.ErrStreamNotFound

	err := exec(context.Background(), &f, func(ctx context.Context) error {
		f.doMoreStuff()

		return nil
	})

	assert.ErrorIs(t, err, aggregate.ErrAggregateNotFound)
}

func TestShouldStoreAggregateStreamAsDomainMessages(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j, err := journal.New(
		kafkaevents.NewJSONSerializer(fooEvent{}),
		journal.WithSQLiteDB("file:aggregate?mode=memory&cache=shared"),
	)
	require.NoError(t, err)

	defer j.Close()

	ctx := context.Background()
	store := aggregate.NewStore[*foo](j)

	var f foo

	f.Rehydrate(&f)
	f.doStuff()

	require.NoError(t, store.Save(ctx, &f))

	require.NoError(t, aggregate.NewExecutor(store)(ctx, &f, func(context.Context) error {
		f.doMoreStuff()

		return nil
	}))

	msgs, err := j.ReadStream(ctx, "foo-2")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, &kafkaevents.Aggregate{Type: "foo", ID: "foo-2", Sequence: 3}, msgs[2].Aggregate)
	assert.Equal(t, fooEvent{Foo: "foo-2"}, msgs[2].Payload)
}
