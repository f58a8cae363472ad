// Command tail consumes a kafka topic and logs every decoded event message
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/aneshas/kafkaevents"
	"github.com/aneshas/kafkaevents/internal/config"
	"github.com/aneshas/kafkaevents/internal/logging"
	"github.com/aneshas/kafkaevents/internal/telemetry"
	"github.com/aneshas/kafkaevents/redisdedup"
	"github.com/segmentio/kafka-go"
)

func main() {
	path := flag.String("config", "config.yaml", "path to config file")
	fromStart := flag.Bool("from-start", true, "start from the first offset if the group has none committed")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *path, *fromStart); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, path string, fromStart bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger, zapLogger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}

	defer func() { _ = zapLogger.Sync() }()

	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}

	defer func() { _ = shutdownTracing(context.Background()) }()

	offset := kafka.LastOffset
	if fromStart {
		offset = kafka.FirstOffset
	}

	reader, err := kafkaevents.NewReader(kafkaevents.ReaderConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		GroupID:     cfg.Kafka.GroupID,
		StartOffset: offset,
	})
	if err != nil {
		return err
	}

	converter, err := kafkaevents.NewConverter(kafkaevents.ConverterConfig{
		Serializer: kafkaevents.PassthroughSerializer{},
	})
	if err != nil {
		return err
	}

	consumerCfg := kafkaevents.ConsumerConfig{
		Fetcher:   reader,
		Converter: converter,
		Logger:    logger,
		OnError: func(rec kafka.Message, err error) {
			logger.Error("record skipped", "partition", rec.Partition, "offset", rec.Offset, "err", err)
		},
	}

	if cfg.Redis.Addr != "" {
		client, err := redisdedup.Connect(ctx, redisdedup.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}

		defer client.Close()

		consumerCfg.Deduplicator = redisdedup.New(client, redisdedup.WithTTL(cfg.Redis.TTL))
	}

	consumer, err := kafkaevents.NewConsumer(consumerCfg)
	if err != nil {
		return err
	}

	defer consumer.Close()

	logger.Info("tailing", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)

	return consumer.Run(ctx, func(_ context.Context, msg kafkaevents.Message) error {
		attrs := []any{
			"message_id", msg.ID,
			"timestamp", msg.Timestamp,
			"meta", msg.Meta,
		}

		if raw, ok := msg.Payload.(kafkaevents.RawPayload); ok {
			attrs = append(attrs, "type", raw.Type.Name, "data", string(raw.Data))

			if raw.Type.Revision != nil {
				attrs = append(attrs, "revision", *raw.Type.Revision)
			}
		}

		if msg.IsDomainEvent() {
			attrs = append(attrs,
				"aggregate_type", msg.Aggregate.Type,
				"aggregate_id", msg.Aggregate.ID,
				"aggregate_seq", msg.Aggregate.Sequence,
			)
		}

		logger.Info("event", attrs...)

		return nil
	})
}
