package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"datalake/internal/mq"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type ackRecorder struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

type retried struct {
	key     string
	attempt int
	delay   time.Duration
}

type fakePublisher struct {
	retries []retried
	dlq     [][]byte
	err     error
}

func (p *fakePublisher) PublishRetry(_ context.Context, key string, _ []byte, attempt int, delay time.Duration) error {
	if p.err != nil {
		return p.err
	}
	p.retries = append(p.retries, retried{key: key, attempt: attempt, delay: delay})
	return nil
}

func (p *fakePublisher) PublishDLQ(_ context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.dlq = append(p.dlq, body)
	return nil
}

var delays = []time.Duration{time.Second, time.Minute}

func newTestWorker(pub *fakePublisher, handler Handler) *eventWorker {
	return &eventWorker{
		client:  pub,
		handler: handler,
		limiter: newLimiter(Options{}),
		opts:    Options{RetryMax: 2, RetryDelays: delays},
		log:     zap.NewNop(),
	}
}

func delivery(ack amqp.Acknowledger, body string, attempt int) amqp.Delivery {
	d := amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		RoutingKey:   mq.RoutingKey("ws"),
		Body:         []byte(body),
	}
	if attempt > 0 {
		d.Headers = amqp.Table{mq.HeaderAttempt: int32(attempt)}
	}
	return d
}

const eventBody = `{"kind":"created","workspace":"ws","name":"a.png","etag":"h1"}`

func TestHandleAcksOnSuccess(t *testing.T) {
	var got []mq.Event
	pub := &fakePublisher{}
	w := newTestWorker(pub, HandlerFunc(func(_ context.Context, event mq.Event) error {
		got = append(got, event)
		return nil
	}))
	ack := &ackRecorder{}

	w.handle(context.Background(), delivery(ack, eventBody, 0))

	assert.Equal(t, 1, ack.acks)
	require.Len(t, got, 1)
	assert.Equal(t, "a.png", got[0].Name)
	assert.Empty(t, pub.retries)
	assert.Empty(t, pub.dlq)
}

func TestHandleSchedulesRetry(t *testing.T) {
	pub := &fakePublisher{}
	w := newTestWorker(pub, HandlerFunc(func(context.Context, mq.Event) error {
		return errors.New("indexer unavailable")
	}))
	ack := &ackRecorder{}

	w.handle(context.Background(), delivery(ack, eventBody, 0))
	w.handle(context.Background(), delivery(ack, eventBody, 1))

	assert.Equal(t, 2, ack.acks)
	assert.Equal(t, []retried{
		{key: "blob.ws", attempt: 1, delay: time.Second},
		{key: "blob.ws", attempt: 2, delay: time.Minute},
	}, pub.retries)

	// budget spent
	w.handle(context.Background(), delivery(ack, eventBody, 2))
	assert.Len(t, pub.retries, 2)
	require.Len(t, pub.dlq, 1)
	var msg dlqMessage
	require.NoError(t, json.Unmarshal(pub.dlq[0], &msg))
	assert.Equal(t, 2, msg.Attempt)
	assert.Equal(t, "indexer unavailable", msg.Error)
	assert.JSONEq(t, eventBody, string(msg.Event))
}

func TestHandlePermanentGoesToDLQ(t *testing.T) {
	pub := &fakePublisher{}
	w := newTestWorker(pub, HandlerFunc(func(context.Context, mq.Event) error {
		return backoff.Permanent(errors.New("unsupported"))
	}))
	ack := &ackRecorder{}

	w.handle(context.Background(), delivery(ack, eventBody, 0))

	assert.Equal(t, 1, ack.acks)
	assert.Empty(t, pub.retries)
	assert.Len(t, pub.dlq, 1)
}

func TestHandleInvalidMessage(t *testing.T) {
	pub := &fakePublisher{}
	called := false
	w := newTestWorker(pub, HandlerFunc(func(context.Context, mq.Event) error {
		called = true
		return nil
	}))
	ack := &ackRecorder{}

	w.handle(context.Background(), delivery(ack, "not json", 0))

	assert.False(t, called)
	assert.Equal(t, 1, ack.acks)
	require.Len(t, pub.dlq, 1)
	var msg dlqMessage
	require.NoError(t, json.Unmarshal(pub.dlq[0], &msg))
	assert.JSONEq(t, `"not json"`, string(msg.Event))
}

func TestHandleRequeuesWhenPublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	w := newTestWorker(pub, HandlerFunc(func(context.Context, mq.Event) error {
		return errors.New("boom")
	}))
	ack := &ackRecorder{}

	w.handle(context.Background(), delivery(ack, eventBody, 0))

	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
}

func TestHandleRequeuesOnCancel(t *testing.T) {
	pub := &fakePublisher{}
	w := newTestWorker(pub, HandlerFunc(func(ctx context.Context, _ mq.Event) error {
		return ctx.Err()
	}))
	ack := &ackRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.handle(ctx, delivery(ack, eventBody, 0))

	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeue)
	assert.Empty(t, pub.retries)
}

func TestPickRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), pickRetryDelay(1, nil))
	assert.Equal(t, time.Second, pickRetryDelay(0, delays))
	assert.Equal(t, time.Second, pickRetryDelay(1, delays))
	assert.Equal(t, time.Minute, pickRetryDelay(2, delays))
	assert.Equal(t, time.Minute, pickRetryDelay(9, delays))
}

func TestLogHandler(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	size := int64(42)
	err := LogHandler{Log: zap.New(core)}.Handle(context.Background(), mq.Event{
		Kind: mq.EventUpdated, Workspace: "ws", Name: "a", ETag: "h", Size: &size,
	})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "blob event", entry.Message)
	assert.Equal(t, int64(42), entry.ContextMap()["size"])
}
