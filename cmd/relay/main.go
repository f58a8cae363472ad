// Command relay publishes journal streams to a kafka topic. It tails the
// journal from its checkpoint and, optionally, accepts journal rows pushed
// by an Ambar data destination
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aneshas/kafkaevents"
	"github.com/aneshas/kafkaevents/ambar"
	"github.com/aneshas/kafkaevents/ambar/echoambar"
	"github.com/aneshas/kafkaevents/internal/config"
	"github.com/aneshas/kafkaevents/internal/logging"
	"github.com/aneshas/kafkaevents/internal/telemetry"
	"github.com/aneshas/kafkaevents/journal"
	"github.com/aneshas/kafkaevents/relay"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	path := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *path); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

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

	var ser kafkaevents.PassthroughSerializer

	var opts []journal.Option

	if cfg.Journal.PostgresDSN != "" {
		opts = append(opts, journal.WithPostgresDB(cfg.Journal.PostgresDSN))
	}

	if cfg.Journal.SQLitePath != "" {
		opts = append(opts, journal.WithSQLiteDB(cfg.Journal.SQLitePath))
	}

	j, err := journal.New(ser, opts...)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}

	defer j.Close()

	mode, err := kafkaevents.ParseConfirmationMode(cfg.Kafka.Confirmation)
	if err != nil {
		return err
	}

	factory, err := kafkaevents.NewWriterFactory(kafkaevents.WriterConfig{
		Brokers:          cfg.Kafka.Brokers,
		ConfirmationMode: mode,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	converter, err := kafkaevents.NewConverter(kafkaevents.ConverterConfig{
		Serializer: ser,
	})
	if err != nil {
		return err
	}

	pub, err := kafkaevents.NewPublisher(kafkaevents.PublisherConfig{
		ProducerFactory: factory,
		Converter:       converter,
		Topic:           cfg.Kafka.Topic,
		AckTimeout:      cfg.Kafka.AckTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	defer func() { _ = pub.Shutdown() }()

	r, err := relay.New(relay.Config{
		Journal:      j,
		Publisher:    pub,
		Name:         cfg.Relay.Name,
		BatchSize:    cfg.Relay.BatchSize,
		PollInterval: cfg.Relay.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if cfg.Ambar.Enabled {
		e := ambarServer(cfg.Ambar, ambar.New(ser), pub)

		go func() {
			err := e.Start(cfg.Ambar.Addr)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ambar endpoint failed", "err", err)
				cancel()
			}
		}()

		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()

			_ = e.Shutdown(sctx)
		}()
	}

	logger.Info("relay started", "topic", cfg.Kafka.Topic, "confirmation", mode)

	return r.Run(ctx)
}

func ambarServer(cfg config.Ambar, a *ambar.Ambar, pub *kafkaevents.Publisher) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	if cfg.Username != "" {
		e.Use(middleware.BasicAuth(func(username, password string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1 &&
				subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) == 1, nil
		}))
	}

	e.POST("/ambar", echoambar.Wrap(a)(func(ctx context.Context, msg kafkaevents.Message) error {
		return pub.Publish(ctx, msg)
	}))

	return e
}
