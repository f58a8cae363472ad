package kafkaevents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultAckTimeout bounds the wait for broker acknowledgement
const DefaultAckTimeout = time.Second

// PublisherConfig represents publisher configuration
type PublisherConfig struct {
	ProducerFactory ProducerFactory
	Converter       RecordConverter
	Topic           string

	// Optional
	AckTimeout time.Duration
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

func (cfg PublisherConfig) validate() error {
	if cfg.ProducerFactory == nil {
		return fmt.Errorf("%w: producer factory must be provided", ErrInvalidConfig)
	}

	if cfg.Converter == nil {
		return fmt.Errorf("%w: message converter must be provided", ErrInvalidConfig)
	}

	if cfg.Topic == "" {
		return fmt.Errorf("%w: topic must be provided", ErrInvalidConfig)
	}

	if cfg.AckTimeout < 0 {
		return fmt.Errorf("%w: ack timeout cannot be negative", ErrInvalidConfig)
	}

	return nil
}

// NewPublisher constructs a publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	return &Publisher{
		factory:    cfg.ProducerFactory,
		converter:  cfg.Converter,
		topic:      cfg.Topic,
		ackTimeout: cfg.AckTimeout,
		logger:     cfg.Logger.With("topic", cfg.Topic),
		tracer:     cfg.Tracer,
	}, nil
}

// Publisher publishes messages to a kafka topic
type Publisher struct {
	factory    ProducerFactory
	converter  RecordConverter
	topic      string
	ackTimeout time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Publish converts messages to records and writes them in order.
// Depending on the confirmation mode of the producer factory it waits
// (at most ack timeout) for the brokers to acknowledge the records
func (p *Publisher) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ctx, span := p.tracer.Start(
		ctx,
		"kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", p.topic),
			attribute.Int("messaging.batch.message_count", len(msgs)),
		),
	)
	defer span.End()

	err := p.publish(ctx, msgs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		p.logger.Error("kafka publish failed", "messages", len(msgs), "err", err)

		return err
	}

	p.logger.Debug("published messages", "messages", len(msgs))

	return nil
}

func (p *Publisher) publish(ctx context.Context, msgs []Message) error {
	records := make([]kafka.Message, len(msgs))

	for i, msg := range msgs {
		rec, err := p.converter.ToRecord(msg, p.topic)
		if err != nil {
			return err
		}

		InjectTraceHeaders(ctx, &rec)

		records[i] = rec
	}

	producer, err := p.factory.Producer()
	if err != nil {
		return fmt.Errorf("acquiring producer: %w", err)
	}

	if p.factory.ConfirmationMode() == ConfirmationWaitForAck {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.ackTimeout)
		defer cancel()
	}

	err = producer.WriteMessages(ctx, records...)
	if err != nil {
		return fmt.Errorf("writing %d records to %s: %w", len(records), p.topic, err)
	}

	return nil
}

// ConfirmationMode reports whether published records are acknowledged
func (p *Publisher) ConfirmationMode() ConfirmationMode {
	return p.factory.ConfirmationMode()
}

// Shutdown shuts down the underlying producer factory
func (p *Publisher) Shutdown() error {
	return p.factory.Shutdown()
}
