package journal_test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aneshas/kafkaevents"
	"github.com/aneshas/kafkaevents/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var integration = flag.Bool("integration", false, "perform integration tests")

type SomeEvent struct {
	UserID string
}

const someAggregate = "User"

func someEvents() []journal.EventToStore {
	return []journal.EventToStore{
		{Payload: SomeEvent{UserID: "user-1"}},
		{Payload: SomeEvent{UserID: "user-2"}},
		{Payload: SomeEvent{UserID: "user-3"}},
	}
}

func TestShouldRequireSerializerAndStorage(t *testing.T) {
	_, err := journal.New(nil, journal.WithSQLiteDB("file::memory:"))
	assert.ErrorIs(t, err, kafkaevents.ErrInvalidConfig)

	_, err = journal.New(kafkaevents.NewJSONSerializer(SomeEvent{}))
	assert.ErrorIs(t, err, kafkaevents.ErrInvalidConfig)
}

func TestNewReturnsNoJournalIfMigrationFails(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	path := filepath.Join(t.TempDir(), "journal.db")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	j, err := journal.New(
		kafkaevents.NewJSONSerializer(SomeEvent{}),
		journal.WithSQLiteDB("file:"+path+"?mode=ro"),
	)

	assert.Error(t, err)
	assert.Nil(t, j)
}

func TestShouldReadAppendedEvents(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx := context.Background()
	stream := "some-stream"
	occurred := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	evts := someEvents()
	evts[0].ID = "some-id"
	evts[0].OccurredOn = occurred
	evts[0].Meta = map[string]string{"ip": "127.0.0.1"}
	evts[0].CausationEventID = "cause"
	evts[0].CorrelationEventID = "corr"

	err := j.AppendStream(ctx, someAggregate, stream, journal.InitialStreamVersion, evts)
	require.NoError(t, err)

	got, err := j.ReadStream(ctx, stream)
	require.NoError(t, err)
	require.Len(t, got, 3)

	first := got[0]

	assert.Equal(t, "some-id", first.ID)
	assert.Equal(t, SomeEvent{UserID: "user-1"}, first.Payload)
	assert.Equal(t, occurred.Truncate(time.Millisecond), first.Timestamp)
	assert.Equal(t, map[string]string{
		"ip":                      "127.0.0.1",
		journal.MetaCausationID:   "cause",
		journal.MetaCorrelationID: "corr",
	}, first.Meta)

	for i, evt := range got {
		require.True(t, evt.IsDomainEvent())
		assert.Equal(t, &kafkaevents.Aggregate{
			Type:     someAggregate,
			ID:       stream,
			Sequence: int64(i + 1),
		}, evt.Aggregate)
		assert.Equal(t, evts[i].Payload, evt.Payload)
		assert.NotEmpty(t, evt.ID)
		assert.NotNil(t, evt.Meta)
	}
}

func TestShouldAppendToExistingStream(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx := context.Background()
	stream := "some-stream"

	evts := someEvents()

	require.NoError(t, j.AppendStream(ctx, someAggregate, stream, journal.InitialStreamVersion, evts[:1]))
	require.NoError(t, j.AppendStream(ctx, someAggregate, stream, 1, evts[1:]))

	got, err := j.ReadStream(ctx, stream)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[2].Aggregate.Sequence)
}

func TestOptimisticConcurrencyCheckIsPerformed(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx := context.Background()
	stream := "some-stream"

	require.NoError(t, j.AppendStream(ctx, someAggregate, stream, journal.InitialStreamVersion, someEvents()))

	err := j.AppendStream(ctx, someAggregate, stream, 1, someEvents()[:1])

	assert.ErrorIs(t, err, journal.ErrConcurrencyCheckFailed)
}

func TestAppendStreamValidatesInput(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx := context.Background()

	cases := []struct {
		name    string
		aggType string
		stream  string
		ver     int64
		evts    []journal.EventToStore
	}{
		{name: "no stream", aggType: someAggregate, evts: someEvents()},
		{name: "no aggregate type", stream: "s", evts: someEvents()},
		{name: "negative version", aggType: someAggregate, stream: "s", ver: -1, evts: someEvents()},
		{name: "no events", aggType: someAggregate, stream: "s"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, j.AppendStream(ctx, tc.aggType, tc.stream, tc.ver, tc.evts))
		})
	}
}

func TestReadStreamWrapsNotFoundError(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	_, err := j.ReadStream(context.Background(), "foo-stream")

	assert.ErrorIs(t, err, journal.ErrStreamNotFound)
}

func TestReadAllShouldReadAllEvents(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx := context.Background()

	require.NoError(t, j.AppendStream(ctx, someAggregate, "stream-1", journal.InitialStreamVersion, someEvents()))
	require.NoError(t, j.AppendStream(ctx, someAggregate, "stream-2", journal.InitialStreamVersion, someEvents()))

	got, err := j.ReadAll(ctx, kafkaevents.WithBatchSize(2), kafkaevents.WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	require.Len(t, got, 6)

	for i, evt := range got {
		assert.Equal(t, uint64(i+1), evt.Sequence)
	}

	got, err = j.ReadAll(ctx, kafkaevents.WithOffset(4))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "stream-2", got[0].Aggregate.ID)
}

func TestSubscribeAllWithOffsetCatchesUpToNewEvents(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, j.AppendStream(ctx, someAggregate, "stream-1", journal.InitialStreamVersion, someEvents()))

	sub, err := j.SubscribeAll(ctx, kafkaevents.WithOffset(1), kafkaevents.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	defer sub.Close()

	got := readAllSub(t, sub, 2)
	assert.Equal(t, uint64(2), got[0].Sequence)

	require.NoError(t, j.AppendStream(ctx, someAggregate, "stream-2", journal.InitialStreamVersion, someEvents()[:1]))

	got = readAllSub(t, sub, 1)
	assert.Equal(t, uint64(4), got[0].Sequence)
	assert.Equal(t, "stream-2", got[0].Aggregate.ID)
}

func TestSubscribeAllCancelsSubscriptionOnContextCancel(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx, cancel := context.WithCancel(context.Background())

	sub, err := j.SubscribeAll(ctx)
	require.NoError(t, err)

	cancel()

	assert.ErrorIs(t, drain(sub), context.Canceled)
}

func TestSubscribeAllCancelsSubscriptionWithClose(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	sub, err := j.SubscribeAll(context.Background())
	require.NoError(t, err)

	sub.Close()

	assert.ErrorIs(t, drain(sub), kafkaevents.ErrSubscriptionClosedByClient)
}

func TestSubscribeAllStopsPollingOnceClosedMidBatch(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		stream := fmt.Sprintf("stream-%d", i)

		require.NoError(t, j.AppendStream(ctx, someAggregate, stream, journal.InitialStreamVersion, someEvents()))
	}

	before := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		sub, err := j.SubscribeAll(ctx, kafkaevents.WithBatchSize(5), kafkaevents.WithPollInterval(5*time.Millisecond))
		require.NoError(t, err)

		readAllSub(t, sub, 1)

		// let the subscription fill its buffer and block on the next batch
		time.Sleep(50 * time.Millisecond)

		sub.Close()
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond, "closed subscriptions should stop polling")
}

func TestSubscribeAllReportsContextCancelWithPendingEOF(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx, cancel := context.WithCancel(context.Background())

	sub, err := j.SubscribeAll(ctx, kafkaevents.WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	// caught up and nobody reads the pending io.EOF
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-sub.Err:
		if errors.Is(err, io.EOF) {
			err = <-sub.Err
		}

		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not terminate")
	}
}

func TestSubscribeAllRejectsInvalidBatchSize(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	_, err := j.SubscribeAll(context.Background(), kafkaevents.WithBatchSize(0))

	assert.Error(t, err)
}

func TestCheckpointDefaultsToZeroAndCanBeSaved(t *testing.T) {
	if !*integration {
		t.Skip("skipping integration tests")
	}

	j := newJournal(t)

	ctx := context.Background()

	seq, err := j.Checkpoint(ctx, "relay")
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, j.SaveCheckpoint(ctx, "relay", 3))
	require.NoError(t, j.SaveCheckpoint(ctx, "relay", 7))

	seq, err = j.Checkpoint(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), seq)

	assert.Error(t, j.SaveCheckpoint(ctx, "", 1))
}

func drain(sub kafkaevents.Subscription) error {
	for {
		select {
		case <-sub.EventData:
		case err := <-sub.Err:
			if errors.Is(err, io.EOF) {
				continue
			}

			return err
		case <-time.After(5 * time.Second):
			return fmt.Errorf("subscription did not terminate")
		}
	}
}

func readAllSub(t *testing.T, sub kafkaevents.Subscription, expect int) []kafkaevents.EventData {
	t.Helper()

	var got []kafkaevents.EventData

	for {
		select {
		case data := <-sub.EventData:
			got = append(got, data)

			if len(got) == expect {
				return got
			}

		case err := <-sub.Err:
			if errors.Is(err, io.EOF) {
				continue
			}

			t.Fatalf("subscription error: %v", err)

		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %d events, got %d", expect, len(got))
		}
	}
}

func newJournal(t *testing.T) *journal.Journal {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	j, err := journal.New(
		kafkaevents.NewJSONSerializer(SomeEvent{}),
		journal.WithSQLiteDB(dsn),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, j.Close())
	})

	return j
}
