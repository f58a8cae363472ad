// Package journal provides a light-weight append-only storage of aggregate
// streams backed by sqlite or postgres. Stored events are read back as
// domain event messages which makes the journal a natural source for
// relaying aggregate streams to kafka
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aneshas/kafkaevents"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrStreamNotFound indicates that the requested stream does not exist in the journal
	ErrStreamNotFound = errors.New("stream not found")

	// ErrConcurrencyCheckFailed indicates that stream entry related to a particular version already exists
	ErrConcurrencyCheckFailed = errors.New("optimistic concurrency check failed: stream version exists")
)

// Meta keys under which causation and correlation ids are stored
const (
	MetaCausationID   = "causation-id"
	MetaCorrelationID = "correlation-id"
)

// EventToStore represents an event that is to be stored in the journal
type EventToStore struct {
	Payload any

	// Optional
	ID                 string
	CausationEventID   string
	CorrelationEventID string
	Meta               map[string]string
	OccurredOn         time.Time
}

// New constructs new journal
// ser - a specific serializer implementation (see bundled kafkaevents.JSONSerializer)
// Payloads are stored as text (the data column), so the serializer has to
// produce textual output such as json. Ambar delivers the column as is
func New(ser kafkaevents.Serializer, opts ...Option) (*Journal, error) {
	if ser == nil {
		return nil, fmt.Errorf("%w: serializer implementation must be provided", kafkaevents.ErrInvalidConfig)
	}

	var cfg Cfg

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.PostgresDSN == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("%w: either postgres dsn or sqlite path must be provided", kafkaevents.ErrInvalidConfig)
	}

	var dial gorm.Dialector

	if cfg.PostgresDSN != "" {
		dial = postgres.Open(cfg.PostgresDSN)
	}

	if cfg.SQLitePath != "" {
		dial = sqlite.Open(cfg.SQLitePath)
	}

	db, err := gorm.Open(dial, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	j := Journal{
		db:  db,
		ser: ser,
	}

	if err := db.AutoMigrate(&gormEvent{}, &gormCheckpoint{}); err != nil {
		_ = j.Close()

		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	return &j, nil
}

// Cfg represents journal configuration
type Cfg struct {
	PostgresDSN string
	SQLitePath  string
}

// Option represents journal configuration option
type Option func(Cfg) Cfg

// WithPostgresDB is a journal option that can be used to configure
// the journal to use postgres as a backing storage (pgx driver)
func WithPostgresDB(dsn string) Option {
	return func(cfg Cfg) Cfg {
		cfg.PostgresDSN = dsn

		return cfg
	}
}

// WithSQLiteDB is a journal option that can be used to configure
// the journal to use sqlite as a backing storage
func WithSQLiteDB(path string) Option {
	return func(cfg Cfg) Cfg {
		cfg.SQLitePath = path

		return cfg
	}
}

// Journal represents a gorm backed journal implementation
type Journal struct {
	db  *gorm.DB
	ser kafkaevents.Serializer
}

var _ kafkaevents.EventStreamer = (*Journal)(nil)

// Close should be called as a part of cleanup process
// in order to close the underlying sql connection
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

type gormEvent struct {
	ID            string `gorm:"unique"`
	Sequence      uint64 `gorm:"autoIncrement;primaryKey"`
	Type          string
	Revision      *string
	Data          string
	Meta          *string
	AggregateType string
	StreamID      string `gorm:"index:idx_optimistic_check,unique;index"`
	StreamVersion int64  `gorm:"index:idx_optimistic_check,unique"`
	OccurredOn    time.Time
}

// TableName returns gorm table name
func (ge *gormEvent) TableName() string { return "journal" }

type gormCheckpoint struct {
	Name      string `gorm:"primaryKey"`
	Sequence  uint64
	UpdatedAt time.Time
}

// TableName returns gorm table name
func (gc *gormCheckpoint) TableName() string { return "journal_checkpoint" }

const (
	// InitialStreamVersion can be used as an initial expectedVer for
	// new streams (as an argument to AppendStream)
	InitialStreamVersion int64 = 0
)

// AppendStream will serialize provided events and try to append them to
// an indicated aggregate stream. If the stream does not exist it will be created.
// If the stream already exists an optimistic concurrency check will be performed
// using a compound key (stream-expectedVer).
// expectedVer should be InitialStreamVersion for new streams and the latest
// stream version for existing streams, otherwise a concurrency error
// will be raised. The stream version of each stored event becomes the
// sequence number of the corresponding domain event message
func (j *Journal) AppendStream(
	ctx context.Context,
	aggregateType string,
	stream string,
	expectedVer int64,
	events []EventToStore) error {

	if len(stream) == 0 {
		return fmt.Errorf("stream name must be provided")
	}

	if len(aggregateType) == 0 {
		return fmt.Errorf("aggregate type must be provided")
	}

	if expectedVer < InitialStreamVersion {
		return fmt.Errorf("expected version cannot be less than 0")
	}

	if len(events) == 0 {
		return fmt.Errorf("at least one event must be provided")
	}

	eventsToSave := make([]gormEvent, len(events))

	for i, evt := range events {
		serialized, err := j.ser.Serialize(evt.Payload)
		if err != nil {
			return err
		}

		expectedVer++

		event := gormEvent{
			ID:            evt.ID,
			Type:          serialized.Type.Name,
			Revision:      serialized.Type.Revision,
			Data:          string(serialized.Data),
			AggregateType: aggregateType,
			StreamID:      stream,
			StreamVersion: expectedVer,
			OccurredOn:    evt.OccurredOn,
		}

		meta := metaOf(evt)

		if len(meta) > 0 {
			m, err := json.Marshal(meta)
			if err != nil {
				return err
			}

			ms := string(m)

			event.Meta = &ms
		}

		if event.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}

			event.ID = id.String()
		}

		if event.OccurredOn.IsZero() {
			event.OccurredOn = time.Now()
		}

		event.OccurredOn = event.OccurredOn.UTC().Truncate(time.Millisecond)

		eventsToSave[i] = event
	}

	err := j.db.WithContext(ctx).Create(&eventsToSave).Error

	var sqliteErr sqlite3.Error

	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return ErrConcurrencyCheckFailed
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConcurrencyCheckFailed
	}

	return err
}

func metaOf(evt EventToStore) map[string]string {
	meta := make(map[string]string, len(evt.Meta)+2)

	for k, v := range evt.Meta {
		meta[k] = v
	}

	if evt.CausationEventID != "" {
		meta[MetaCausationID] = evt.CausationEventID
	}

	if evt.CorrelationEventID != "" {
		meta[MetaCorrelationID] = evt.CorrelationEventID
	}

	return meta
}

// ReadAll will read all events from the journal by internally creating a
// a subscription and depleting it until io.EOF is encountered
// WARNING: Use with caution as this method will read the entire journal
// in a blocking fashion (probably best used in combination with offset option)
func (j *Journal) ReadAll(ctx context.Context, opts ...kafkaevents.SubAllOpt) ([]kafkaevents.EventData, error) {
	sub, err := j.SubscribeAll(ctx, opts...)
	if err != nil {
		return nil, err
	}

	defer sub.Close()

	var events []kafkaevents.EventData

	for {
		select {
		case data := <-sub.EventData:
			events = append(events, data)

		case err := <-sub.Err:
			if errors.Is(err, io.EOF) {
				return events, nil
			}

			return nil, err
		}
	}
}

// SubscribeAll will create a subscription which can be used to stream all events in an
// orderly fashion. This mechanism is used by the relay and projections
func (j *Journal) SubscribeAll(ctx context.Context, opts ...kafkaevents.SubAllOpt) (kafkaevents.Subscription, error) {
	cfg := kafkaevents.DefaultSubAllConfig()

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.BatchSize < 1 {
		return kafkaevents.Subscription{}, fmt.Errorf("batch size should be at least 1")
	}

	sub := kafkaevents.NewSubscription(cfg.BatchSize)

	go func() {
		var done error

		for {
			select {
			case <-sub.Closed():
				terminate(sub, kafkaevents.ErrSubscriptionClosedByClient)

				return
			case <-ctx.Done():
				terminate(sub, ctx.Err())

				return
			case <-time.After(cfg.PollInterval):
				// Make sure client reads all buffered events
				if done != nil {
					if len(sub.EventData) != 0 {
						break
					}

					terminate(sub, done)

					return
				}

				var evts []gormEvent

				if err := j.db.
					WithContext(ctx).
					Where("sequence > ?", cfg.Offset).
					Order("sequence asc").
					Limit(cfg.BatchSize).
					Find(&evts).Error; err != nil {
					done = err

					break
				}

				// a pending io.EOF already tells the client it caught up
				if len(evts) == 0 {
					select {
					case sub.Err <- io.EOF:
					default:
					}

					break
				}

				cfg.Offset = evts[len(evts)-1].Sequence

				decoded, err := j.decodeEvents(evts)
				if err != nil {
					done = err

					break
				}

				for _, evt := range decoded {
					if !offer(ctx, sub, evt) {
						break
					}
				}
			}
		}
	}()

	return sub, nil
}

// offer sends evt unless the subscription gets closed or ctx is done first
func offer(ctx context.Context, sub kafkaevents.Subscription, evt kafkaevents.EventData) bool {
	select {
	case sub.EventData <- evt:
		return true
	case <-sub.Closed():
		return false
	case <-ctx.Done():
		return false
	}
}

// terminate reports the final subscription error without blocking.
// The only value Err can hold at this point is a pending io.EOF, which
// is dropped in favor of err
func terminate(sub kafkaevents.Subscription, err error) {
	for {
		select {
		case sub.Err <- err:
			return
		default:
		}

		select {
		case <-sub.Err:
		default:
		}
	}
}

// ReadStream will read all events associated with provided stream
// If there are no events stored for a given stream ErrStreamNotFound will be returned
func (j *Journal) ReadStream(ctx context.Context, stream string) ([]kafkaevents.EventData, error) {
	var events []gormEvent

	if len(stream) == 0 {
		return nil, fmt.Errorf("stream name must be provided")
	}

	if err := j.db.
		WithContext(ctx).
		Where("stream_id = ?", stream).
		Order("sequence asc").
		Find(&events).Error; err != nil {

		return nil, err
	}

	if len(events) == 0 {
		return nil, ErrStreamNotFound
	}

	return j.decodeEvents(events)
}

// Checkpoint returns the last sequence saved under name or 0
func (j *Journal) Checkpoint(ctx context.Context, name string) (uint64, error) {
	var cp gormCheckpoint

	err := j.db.WithContext(ctx).Where("name = ?", name).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	return cp.Sequence, nil
}

// SaveCheckpoint saves sequence under name
func (j *Journal) SaveCheckpoint(ctx context.Context, name string, seq uint64) error {
	if len(name) == 0 {
		return fmt.Errorf("checkpoint name must be provided")
	}

	return j.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"sequence", "updated_at"}),
		}).
		Create(&gormCheckpoint{
			Name:     name,
			Sequence: seq,
		}).Error
}

func (j *Journal) decodeEvents(events []gormEvent) ([]kafkaevents.EventData, error) {
	out := make([]kafkaevents.EventData, len(events))

	for i, evt := range events {
		payload, err := j.ser.Deserialize(&kafkaevents.SerializedPayload{
			Data: []byte(evt.Data),
			Type: kafkaevents.SerializedType{
				Name:     evt.Type,
				Revision: evt.Revision,
			},
		})
		if err != nil {
			return nil, err
		}

		var meta map[string]string

		if evt.Meta != nil {
			err = json.Unmarshal([]byte(*evt.Meta), &meta)
			if err != nil {
				return nil, err
			}
		}

		out[i] = kafkaevents.EventData{
			Message: kafkaevents.NewDomainMessage(
				evt.AggregateType,
				evt.StreamID,
				evt.StreamVersion,
				payload,
				kafkaevents.WithID(evt.ID),
				kafkaevents.WithMeta(meta),
				kafkaevents.WithTimestamp(evt.OccurredOn),
			),
			Sequence: evt.Sequence,
		}
	}

	return out, nil
}
