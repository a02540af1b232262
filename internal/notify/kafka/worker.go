package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout-api/internal/domain/notify"
)

// MessageReader is satisfied by *kafka.Reader configured with a group id.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// WorkerConfig tunes delivery retries.
type WorkerConfig struct {
	Topics      Topics
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles per attempt.
	Backoff time.Duration
}

// Worker consumes notification and email messages.
type Worker struct {
	cfg       WorkerConfig
	readers   []MessageReader
	dlq       MessageWriter
	store     notify.Store
	mailer    notify.Mailer
	processed metric.Int64Counter
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a Worker reading from every reader. Messages that fail
// MaxAttempts times are written to the dead letter topic through dlq.
func NewWorker(cfg WorkerConfig, readers []MessageReader, dlq MessageWriter, store notify.Store, mailer notify.Mailer, mp metric.MeterProvider) (*Worker, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	processed, err := mp.Meter("checkout/notify").Int64Counter("notify.messages",
		metric.WithDescription("Consumed notification messages, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "messages counter")
	}
	return &Worker{
		cfg:       cfg,
		readers:   readers,
		dlq:       dlq,
		store:     store,
		mailer:    mailer,
		processed: processed,
		sleep:     sleepContext,
	}, nil
}

// Run consumes until ctx is cancelled or a message can neither be delivered
// nor dead-lettered.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range w.readers {
		g.Go(func() error {
			return w.consume(ctx, r)
		})
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context, r MessageReader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := w.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "commit message")
		}
	}
}

func (w *Worker) process(ctx context.Context, msg kafka.Message) error {
	lg := zctx.From(ctx).With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	deliver, err := w.handler(msg)
	if err != nil {
		lg.Error("Undecodable message", zap.Error(err))
		return w.deadLetter(ctx, msg, err, "invalid")
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if lastErr = deliver(ctx); lastErr == nil {
			w.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "delivered")))
			return nil
		}
		lg.Warn("Delivery failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt == w.cfg.MaxAttempts {
			break
		}
		if err := w.sleep(ctx, w.cfg.Backoff<<(attempt-1)); err != nil {
			return err
		}
	}
	lg.Error("Giving up on message", zap.Error(lastErr))
	return w.deadLetter(ctx, msg, lastErr, "dead_lettered")
}

func (w *Worker) handler(msg kafka.Message) (func(ctx context.Context) error, error) {
	switch msg.Topic {
	case w.cfg.Topics.Notifications:
		n, err := decodeNotification(msg.Value)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return w.store.SaveNotification(ctx, n) }, nil
	case w.cfg.Topics.Emails:
		m, err := decodeEmail(msg.Value)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return w.mailer.Send(ctx, m) }, nil
	default:
		return nil, errors.Errorf("unexpected topic %q", msg.Topic)
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg kafka.Message, cause error, outcome string) error {
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: headerError, Value: []byte(cause.Error())},
		kafka.Header{Key: "source_topic", Value: []byte(msg.Topic)},
	)
	if err := w.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   w.cfg.Topics.DeadLetter,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}); err != nil {
		return errors.Wrap(err, "write dead letter")
	}
	w.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
