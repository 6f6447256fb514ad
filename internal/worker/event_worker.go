package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"datalake/config"
	"datalake/internal/mq"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler processes one blob event. Events are delivered at least once, so
// handlers must tolerate repeats of the same (name, etag). Wrap an error
// with backoff.Permanent to skip retries.
type Handler interface {
	Handle(ctx context.Context, event mq.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event mq.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event mq.Event) error {
	return f(ctx, event)
}

// LogHandler logs every event.
type LogHandler struct {
	Log *zap.Logger
}

func (h LogHandler) Handle(_ context.Context, event mq.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("workspace", event.Workspace),
		zap.String("name", event.Name),
	}
	if event.ETag != "" {
		fields = append(fields, zap.String("etag", event.ETag))
	}
	if event.Size != nil {
		fields = append(fields, zap.Int64("size", *event.Size))
	}
	h.Log.Info("blob event", fields...)
	return nil
}

type Options struct {
	Prefetch    int
	Concurrency int
	Rate        float64
	Burst       int
	RetryMax    int
	RetryDelays []time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Prefetch:    cfg.RabbitMQPrefetch,
		Concurrency: cfg.Worker.Concurrency,
		Rate:        cfg.Worker.Rate,
		Burst:       cfg.Worker.Burst,
		RetryMax:    cfg.Worker.RetryMax,
		RetryDelays: cfg.Worker.RetryDelays,
	}
}

type dlqMessage struct {
	Event    json.RawMessage `json:"event"`
	Attempt  int             `json:"attempt"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// publisher is the part of mq.Client the worker publishes through.
type publisher interface {
	PublishRetry(ctx context.Context, routingKey string, body []byte, attempt int, delay time.Duration) error
	PublishDLQ(ctx context.Context, body []byte) error
}

type eventWorker struct {
	client  publisher
	handler Handler
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger
}

func newLimiter(opts Options) *rate.Limiter {
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	if opts.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(opts.Rate), burst)
}

// RunEventWorker consumes blob events until ctx is done.
func RunEventWorker(ctx context.Context, client *mq.Client, handler Handler, opts Options, log *zap.Logger) error {
	if err := client.DeclareTopology(); err != nil {
		return err
	}

	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := client.Channel.Qos(prefetch, 0, false); err != nil {
		return mq.Error.Wrap(err)
	}

	deliveries, err := client.Channel.Consume(
		mq.QueueEvents,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return mq.Error.Wrap(err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	w := &eventWorker{
		client:  client,
		handler: handler,
		limiter: newLimiter(opts),
		opts:    opts,
		log:     log.Named("worker"),
	}
	w.log.Info("event worker started", zap.Int("prefetch", prefetch), zap.Int("concurrency", concurrency))

	for {
		select {
		case <-ctx.Done():
			// drain in-flight handlers
			for i := 0; i < concurrency; i++ {
				sem <- struct{}{}
			}
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return mq.Error.New("event worker: delivery channel closed")
			}
			sem <- struct{}{}
			go func(d amqp.Delivery) {
				defer func() { <-sem }()
				w.handle(ctx, d)
			}(delivery)
		}
	}
}

func (w *eventWorker) handle(ctx context.Context, delivery amqp.Delivery) {
	attempt := mq.Attempt(delivery.Headers)
	event, err := mq.DecodeEvent(delivery.Body)
	if err != nil {
		w.log.Warn("invalid event", zap.Error(err))
		if err := w.markFailed(ctx, delivery.Body, attempt, err); err != nil {
			_ = delivery.Nack(false, true)
			return
		}
		_ = delivery.Ack(false)
		return
	}

	if err := w.limiter.Wait(ctx); err != nil {
		_ = delivery.Nack(false, true)
		return
	}

	if err := w.handler.Handle(ctx, event); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = delivery.Nack(false, true)
			return
		}
		w.log.Warn("event handler failed",
			zap.String("workspace", event.Workspace),
			zap.String("name", event.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if shouldRetry(err) {
			err = w.scheduleRetry(ctx, delivery, attempt, err)
		} else {
			err = w.markFailed(ctx, delivery.Body, attempt, err)
		}
		if err != nil {
			w.log.Error("event requeue failed", zap.Error(err))
			_ = delivery.Nack(false, true)
			return
		}
	}

	_ = delivery.Ack(false)
}

func shouldRetry(err error) bool {
	var permanent *backoff.PermanentError
	return !errors.As(err, &permanent)
}

func (w *eventWorker) scheduleRetry(ctx context.Context, delivery amqp.Delivery, attempt int, procErr error) error {
	maxRetry := w.opts.RetryMax
	if maxRetry < 0 {
		maxRetry = 0
	}
	nextAttempt := attempt + 1
	if maxRetry == 0 || nextAttempt > maxRetry {
		return w.markFailed(ctx, delivery.Body, attempt, procErr)
	}
	delay := pickRetryDelay(nextAttempt, w.opts.RetryDelays)
	return w.client.PublishRetry(ctx, delivery.RoutingKey, delivery.Body, nextAttempt, delay)
}

func (w *eventWorker) markFailed(ctx context.Context, body []byte, attempt int, procErr error) error {
	event := json.RawMessage(body)
	if !json.Valid(body) {
		raw, _ := json.Marshal(string(body))
		event = raw
	}
	msg, err := json.Marshal(dlqMessage{
		Event:    event,
		Attempt:  attempt,
		Error:    procErr.Error(),
		FailedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return w.client.PublishDLQ(ctx, msg)
}

func pickRetryDelay(attempt int, delays []time.Duration) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[index]
}
