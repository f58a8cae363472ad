package kafkaevents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ReaderConfig represents kafka group reader configuration
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// Optional - kafka.FirstOffset or kafka.LastOffset, applies only
	// when the group has no committed offset yet
	StartOffset int64
	MaxWait     time.Duration
}

func (cfg ReaderConfig) validate() error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("%w: at least one broker must be provided", ErrInvalidConfig)
	}

	if cfg.Topic == "" {
		return fmt.Errorf("%w: topic must be provided", ErrInvalidConfig)
	}

	if cfg.GroupID == "" {
		return fmt.Errorf("%w: group id must be provided", ErrInvalidConfig)
	}

	if cfg.StartOffset != 0 && cfg.StartOffset != kafka.FirstOffset && cfg.StartOffset != kafka.LastOffset {
		return fmt.Errorf("%w: start offset must be first or last offset", ErrInvalidConfig)
	}

	return nil
}

// NewReader constructs a consumer group reader with explicit commits
func NewReader(cfg ReaderConfig) (*kafka.Reader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.StartOffset == 0 {
		cfg.StartOffset = kafka.FirstOffset
	}

	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     cfg.MaxWait,
		StartOffset: cfg.StartOffset,
	}), nil
}

// Fetcher fetches records and commits their offsets. *kafka.Reader implements it
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Deduplicator remembers message ids that were already projected
type Deduplicator interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// ConsumerConfig represents consumer configuration
type ConsumerConfig struct {
	Fetcher   Fetcher
	Converter RecordConverter

	// Optional
	Deduplicator  Deduplicator
	MaxRetries    int
	RetryInterval time.Duration
	OnError       func(rec kafka.Message, err error)
	Logger        *slog.Logger
	Tracer        trace.Tracer
}

func (cfg ConsumerConfig) validate() error {
	if cfg.Fetcher == nil {
		return fmt.Errorf("%w: fetcher must be provided", ErrInvalidConfig)
	}

	if cfg.Converter == nil {
		return fmt.Errorf("%w: message converter must be provided", ErrInvalidConfig)
	}

	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}

	if cfg.RetryInterval < 0 {
		return fmt.Errorf("%w: retry interval cannot be negative", ErrInvalidConfig)
	}

	return nil
}

// NewConsumer constructs a consumer
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	if cfg.OnError == nil {
		cfg.OnError = func(kafka.Message, error) {}
	}

	return &Consumer{
		fetcher:       cfg.Fetcher,
		converter:     cfg.Converter,
		dedup:         cfg.Deduplicator,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		onError:       cfg.OnError,
		logger:        cfg.Logger,
		tracer:        cfg.Tracer,
	}, nil
}

// Consumer reads records, converts them to messages and hands them
// to a projection, committing offsets as it goes
type Consumer struct {
	fetcher       Fetcher
	converter     RecordConverter
	dedup         Deduplicator
	maxRetries    int
	retryInterval time.Duration
	onError       func(kafka.Message, error)
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Run consumes records until ctx is canceled or the fetcher is closed.
// Records that do not follow the header convention and payloads of
// unregistered types are skipped. Projection errors are retried with
// exponential backoff up to max retries, after which the failure is
// reported and the record is committed
func (c *Consumer) Run(ctx context.Context, projection Projection) error {
	if projection == nil {
		return fmt.Errorf("%w: projection must be provided", ErrInvalidConfig)
	}

	for {
		rec, err := c.fetcher.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}

			c.logger.Error("kafka fetch failed", "err", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}

			continue
		}

		c.handle(ctx, rec, projection)

		if err := c.fetcher.CommitMessages(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			c.logger.Error("kafka commit failed", "err", err, "partition", rec.Partition, "offset", rec.Offset)
		}
	}
}

// Close closes the underlying fetcher
func (c *Consumer) Close() error {
	return c.fetcher.Close()
}

func (c *Consumer) handle(ctx context.Context, rec kafka.Message, projection Projection) {
	ctx, span := c.tracer.Start(
		ExtractTraceContext(ctx, rec),
		"kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", rec.Topic),
			attribute.Int("messaging.kafka.partition", rec.Partition),
			attribute.Int64("messaging.kafka.offset", rec.Offset),
		),
	)
	defer span.End()

	logger := c.logger.With("topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)

	msg, ok, err := c.converter.FromRecord(rec)
	if err != nil {
		if errors.Is(err, ErrPayloadNotRegistered) {
			logger.Debug("skipping message of unregistered type", "err", err)

			return
		}

		c.fail(span, logger, rec, err)

		return
	}

	if !ok {
		logger.Warn("skipping record not following header convention")

		return
	}

	logger = logger.With("message_id", msg.ID)

	if c.dedup != nil {
		seen, err := c.dedup.Seen(ctx, msg.ID)
		if err != nil {
			logger.Warn("deduplication check failed", "err", err)
		}

		if seen {
			logger.Info("duplicate message ignored")

			return
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0

	err = backoff.Retry(
		func() error {
			return projection(ctx, msg)
		},
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx),
	)
	if err != nil {
		c.fail(span, logger, rec, err)

		return
	}

	if c.dedup != nil {
		if err := c.dedup.Mark(ctx, msg.ID); err != nil {
			logger.Warn("marking message as seen failed", "err", err)
		}
	}
}

func (c *Consumer) fail(span trace.Span, logger *slog.Logger, rec kafka.Message, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "consume failed")

	logger.Error("failed processing record", "err", err)

	c.onError(rec, err)
}
