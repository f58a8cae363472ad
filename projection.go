package kafkaevents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Projection represents a projection that should be able to handle
// projected messages
type Projection func(context.Context, Message) error

// EventStreamer represents a message stream that can be subscribed to
// The journal package offers Journal as EventStreamer implementation
type EventStreamer interface {
	SubscribeAll(context.Context, ...SubAllOpt) (Subscription, error)
}

// ProjectorOpt represents projector option
type ProjectorOpt func(*Projector)

// WithLogger configures projector logger
func WithLogger(l *slog.Logger) ProjectorOpt {
	return func(p *Projector) {
		p.logger = l
	}
}

// WithRetryInterval configures the initial delay before a failed
// projection is restarted. Consecutive failures back off exponentially
func WithRetryInterval(d time.Duration) ProjectorOpt {
	return func(p *Projector) {
		if d > 0 {
			p.retryInterval = d
		}
	}
}

// NewProjector constructs a Projector
func NewProjector(s EventStreamer, opts ...ProjectorOpt) *Projector {
	p := Projector{
		streamer:      s,
		logger:        slog.Default(),
		retryInterval: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p
}

// Projector is a projector which will subscribe to a message stream
// and project messages to each individual projection in an asynchronous
// manner. A failing projection or stream is restarted with a fresh
// subscription after an exponential backoff
type Projector struct {
	streamer      EventStreamer
	projections   []Projection
	logger        *slog.Logger
	retryInterval time.Duration
}

// Add effectively registers a projection with the projector
// Make sure to add all of your projections before calling Run
func (p *Projector) Add(projections ...Projection) {
	p.projections = append(p.projections, projections...)
}

// Run will start the projector
func (p *Projector) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, projection := range p.projections {
		wg.Add(1)

		go func(projection Projection) {
			defer wg.Done()

			b := backoff.NewExponentialBackOff()
			b.InitialInterval = p.retryInterval
			b.MaxElapsedTime = 0

			for {
				sub, err := p.streamer.SubscribeAll(ctx)
				if err != nil {
					p.logger.Error("projector subscription failed", "err", err)

					return
				}

				err = p.run(ctx, sub, projection, b)

				sub.Close()

				if err == nil || ctx.Err() != nil {
					return
				}

				wait := b.NextBackOff()

				p.logger.Error("projection restarting", "err", err, "retry_in", wait)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}(projection)
	}

	wg.Wait()

	return nil
}

func (p *Projector) run(ctx context.Context, sub Subscription, projection Projection, b backoff.BackOff) error {
	for {
		select {
		case data := <-sub.EventData:
			err := projection(ctx, data.Message)
			if err != nil {
				p.logger.Error("projection failed", "message_id", data.ID, "err", err)

				return err
			}

			b.Reset()

		case err := <-sub.Err:
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}

				if errors.Is(err, ErrSubscriptionClosedByClient) {
					return nil
				}

				return fmt.Errorf("streaming: %w", err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// FlushAfter wraps the projection passed in and it calls
// the projection itself as new messages come (as usual) in addition to calling
// the provided flush function periodically each time flush interval expires
func FlushAfter(
	p Projection,
	flush func() error,
	flushInt time.Duration) Projection {
	var (
		mu  sync.Mutex
		err error
	)

	setErr := func(e error) {
		mu.Lock()
		defer mu.Unlock()

		err = e
	}

	type work struct {
		ctx context.Context
		msg Message
	}

	works := make(chan work)

	go func() {
		for {
			select {
			case <-time.After(flushInt):
				setErr(flush())

			case w := <-works:
				setErr(p(w.ctx, w.msg))
			}
		}
	}()

	return func(ctx context.Context, msg Message) error {
		mu.Lock()
		e := err
		mu.Unlock()

		if e != nil {
			return e
		}

		works <- work{ctx: ctx, msg: msg}

		return nil
	}
}
