// Package relay publishes journal streams to kafka
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aneshas/kafkaevents"
	"github.com/cenkalti/backoff/v4"
)

// DefaultName is the checkpoint name used when none is configured
const DefaultName = "kafka-relay"

// Journal represents checkpointed message stream
type Journal interface {
	kafkaevents.EventStreamer

	Checkpoint(ctx context.Context, name string) (uint64, error)
	SaveCheckpoint(ctx context.Context, name string, seq uint64) error
}

// Publisher publishes messages
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafkaevents.Message) error
}

type confirmer interface {
	ConfirmationMode() kafkaevents.ConfirmationMode
}

// Config represents relay configuration
type Config struct {
	Journal   Journal
	Publisher Publisher

	// Optional
	Name          string
	BatchSize     int
	PollInterval  time.Duration
	RetryInterval time.Duration
	Logger        *slog.Logger
}

func (cfg Config) validate() error {
	if cfg.Journal == nil {
		return fmt.Errorf("%w: journal must be provided", kafkaevents.ErrInvalidConfig)
	}

	if cfg.Publisher == nil {
		return fmt.Errorf("%w: publisher must be provided", kafkaevents.ErrInvalidConfig)
	}

	if c, ok := cfg.Publisher.(confirmer); ok && c.ConfirmationMode() == kafkaevents.ConfirmationNone {
		return fmt.Errorf("%w: relay requires acknowledged publishing", kafkaevents.ErrInvalidConfig)
	}

	if cfg.BatchSize < 0 {
		return fmt.Errorf("%w: batch size cannot be negative", kafkaevents.ErrInvalidConfig)
	}

	if cfg.PollInterval < 0 || cfg.RetryInterval < 0 {
		return fmt.Errorf("%w: intervals cannot be negative", kafkaevents.ErrInvalidConfig)
	}

	return nil
}

// New constructs a relay
func New(cfg Config) (*Relay, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	def := kafkaevents.DefaultSubAllConfig()

	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}

	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Second
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Relay{
		cfg:    cfg,
		logger: cfg.Logger.With("relay", cfg.Name),
	}, nil
}

// Relay tails the journal from its last checkpoint and publishes every
// stored message in journal order. The checkpoint is saved after each
// successful publish. Publishers reporting ConfirmationNone are refused,
// since a fire and forget write succeeds before the brokers have the record.
// With acknowledged publishing every message is published at least once
type Relay struct {
	cfg    Config
	logger *slog.Logger
}

// Run relays messages until ctx is canceled. Failures restart the relay
// from the last saved checkpoint after an exponential backoff
func (r *Relay) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInterval
	b.MaxElapsedTime = 0

	for {
		err := r.run(ctx, b)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()

		r.logger.Error("relay failed", "err", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (r *Relay) run(ctx context.Context, b backoff.BackOff) error {
	offset, err := r.cfg.Journal.Checkpoint(ctx, r.cfg.Name)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}

	sub, err := r.cfg.Journal.SubscribeAll(
		ctx,
		kafkaevents.WithOffset(offset),
		kafkaevents.WithBatchSize(r.cfg.BatchSize),
		kafkaevents.WithPollInterval(r.cfg.PollInterval),
	)
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	defer sub.Close()

	r.logger.Info("relaying", "offset", offset)

	for {
		select {
		case data := <-sub.EventData:
			err := r.cfg.Publisher.Publish(ctx, data.Message)
			if err != nil {
				return fmt.Errorf("publishing message %s: %w", data.ID, err)
			}

			err = r.cfg.Journal.SaveCheckpoint(ctx, r.cfg.Name, data.Sequence)
			if err != nil {
				return fmt.Errorf("saving checkpoint %d: %w", data.Sequence, err)
			}

			b.Reset()

			r.logger.Debug("message relayed", "message_id", data.ID, "sequence", data.Sequence)

		case err := <-sub.Err:
			if errors.Is(err, io.EOF) {
				break
			}

			if errors.Is(err, kafkaevents.ErrSubscriptionClosedByClient) {
				return err
			}

			return fmt.Errorf("streaming: %w", err)

		case <-ctx.Done():
			return nil
		}
	}
}
