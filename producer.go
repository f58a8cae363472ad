package kafkaevents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConfirmationMode represents the acknowledgement policy of producers
type ConfirmationMode int

const (
	// ConfirmationNone hands records to the producer without waiting for
	// the brokers to acknowledge them
	ConfirmationNone ConfirmationMode = iota

	// ConfirmationWaitForAck waits until all in-sync replicas acknowledged
	// every record
	ConfirmationWaitForAck
)

// String implements fmt.Stringer
func (m ConfirmationMode) String() string {
	switch m {
	case ConfirmationNone:
		return "none"
	case ConfirmationWaitForAck:
		return "wait-for-ack"
	default:
		return fmt.Sprintf("ConfirmationMode(%d)", int(m))
	}
}

// ParseConfirmationMode parses confirmation mode from its string representation
func ParseConfirmationMode(s string) (ConfirmationMode, error) {
	switch s {
	case ConfirmationNone.String():
		return ConfirmationNone, nil
	case ConfirmationWaitForAck.String():
		return ConfirmationWaitForAck, nil
	default:
		return 0, fmt.Errorf("%w: unknown confirmation mode %q", ErrInvalidConfig, s)
	}
}

// Producer writes records to kafka. *kafka.Writer implements it
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerFactory hands out producers complying to a confirmation mode
type ProducerFactory interface {
	Producer() (Producer, error)
	ConfirmationMode() ConfirmationMode
	Shutdown() error
}

var _ ProducerFactory = (*WriterFactory)(nil)

// WriterConfig represents kafka writer configuration
type WriterConfig struct {
	Brokers          []string
	ConfirmationMode ConfirmationMode

	// Optional
	MaxAttempts  int
	WriteTimeout time.Duration
	BatchTimeout time.Duration
	Compression  kafka.Compression
	Logger       *slog.Logger
}

func (cfg WriterConfig) validate() error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("%w: at least one broker must be provided", ErrInvalidConfig)
	}

	if cfg.ConfirmationMode != ConfirmationNone && cfg.ConfirmationMode != ConfirmationWaitForAck {
		return fmt.Errorf("%w: unknown confirmation mode %s", ErrInvalidConfig, cfg.ConfirmationMode)
	}

	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts cannot be negative", ErrInvalidConfig)
	}

	if cfg.WriteTimeout < 0 || cfg.BatchTimeout < 0 {
		return fmt.Errorf("%w: timeouts cannot be negative", ErrInvalidConfig)
	}

	return nil
}

// NewWriterFactory constructs a producer factory backed by a single kafka
// writer. Records are balanced by key hash so that keyed records of one
// aggregate always land on the same partition
func NewWriterFactory(cfg WriterConfig) (*WriterFactory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}

	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  cfg.Compression,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			cfg.Logger.Error(fmt.Sprintf(msg, args...))
		}),
	}

	switch cfg.ConfirmationMode {
	case ConfirmationNone:
		w.Async = true
		w.RequiredAcks = kafka.RequireOne
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil {
				cfg.Logger.Error("async kafka write failed", "records", len(msgs), "err", err)
			}
		}

	case ConfirmationWaitForAck:
		w.RequiredAcks = kafka.RequireAll
	}

	return &WriterFactory{
		writer: w,
		mode:   cfg.ConfirmationMode,
	}, nil
}

// WriterFactory is a ProducerFactory sharing one goroutine safe kafka
// writer between all callers
type WriterFactory struct {
	writer *kafka.Writer
	mode   ConfirmationMode

	once sync.Once
	err  error
}

// Producer returns the shared writer
func (f *WriterFactory) Producer() (Producer, error) {
	return f.writer, nil
}

// ConfirmationMode returns the configured confirmation mode
func (f *WriterFactory) ConfirmationMode() ConfirmationMode { return f.mode }

// Shutdown flushes pending records and closes the writer
func (f *WriterFactory) Shutdown() error {
	f.once.Do(func() {
		f.err = f.writer.Close()
	})

	return f.err
}
