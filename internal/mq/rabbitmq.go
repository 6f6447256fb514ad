package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zeebo/errs"
)

// Error is the error class for event queue failures.
var Error = errs.Class("mq")

const (
	ExchangeEvents = "datalake.events"
	ExchangeRetry  = "datalake.events.retry"
	ExchangeDLQ    = "datalake.events.dlq"

	QueueEvents = "datalake.events.queue"
	QueueRetry  = "datalake.events.retry.queue"
	QueueDLQ    = "datalake.events.dlq.queue"

	BindingEvents = "blob.#"
	RoutingDLQ    = "dlq"

	// HeaderAttempt counts deliveries of a retried event.
	HeaderAttempt = "x-attempt"
)

// RoutingKey routes a workspace's events. One publisher channel keeps them
// in order.
func RoutingKey(workspace string) string {
	return "blob." + workspace
}

type Client struct {
	Conn      *amqp.Connection //tcp
	Channel   *amqp.Channel    // AMQP
	publishMu sync.Mutex
}

func Dial(url string) (*Client, error) {
	return DialTimeout(url, 30*time.Second)
}

// DialTimeout is Dial with a bound on the TCP connect and AMQP handshake.
func DialTimeout(url string, timeout time.Duration) (*Client, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Locale: "en_US",
		Dial:   amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, Error.Wrap(err)
	}
	return &Client{Conn: conn, Channel: ch}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// Attempt reads HeaderAttempt from delivery headers. First deliveries
// carry none and count as attempt 0.
func Attempt(headers amqp.Table) int {
	switch v := headers[HeaderAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (c *Client) closed() bool {
	return c.Conn.IsClosed() || c.Channel.IsClosed()
}

// DeclareTopology declares the events exchange and queue, a delayed retry
// queue that dead-letters back into the events exchange and a DLQ.
func (c *Client) DeclareTopology() error {
	for _, ex := range []struct{ name, kind string }{
		{ExchangeEvents, "topic"},
		{ExchangeRetry, "topic"},
		{ExchangeDLQ, "direct"},
	} {
		if err := c.Channel.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return Error.Wrap(err)
		}
	}
	if _, err := c.Channel.QueueDeclare(QueueEvents, true, false, false, false, nil); err != nil {
		return Error.Wrap(err)
	}
	// expired retries keep their routing key and land back on the events queue
	if _, err := c.Channel.QueueDeclare(QueueRetry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": ExchangeEvents,
	}); err != nil {
		return Error.Wrap(err)
	}
	if _, err := c.Channel.QueueDeclare(QueueDLQ, true, false, false, false, nil); err != nil {
		return Error.Wrap(err)
	}
	for _, b := range []struct{ queue, key, exchange string }{
		{QueueEvents, BindingEvents, ExchangeEvents},
		{QueueRetry, BindingEvents, ExchangeRetry},
		{QueueDLQ, RoutingDLQ, ExchangeDLQ},
	} {
		if err := c.Channel.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (c *Client) PublishEvent(ctx context.Context, routingKey string, body []byte) error {
	return c.publish(ctx, ExchangeEvents, routingKey, body, "", nil)
}

// PublishRetry parks body on the retry queue for delay, after which it is
// redelivered with attempt recorded in HeaderAttempt.
func (c *Client) PublishRetry(ctx context.Context, routingKey string, body []byte, attempt int, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	expiration := fmt.Sprintf("%d", delay.Milliseconds())
	return c.publish(ctx, ExchangeRetry, routingKey, body, expiration, amqp.Table{HeaderAttempt: int32(attempt)})
}

func (c *Client) PublishDLQ(ctx context.Context, body []byte) error {
	return c.publish(ctx, ExchangeDLQ, RoutingDLQ, body, "", nil)
}

func (c *Client) publish(ctx context.Context, exchange, key string, body []byte, expiration string, headers amqp.Table) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
	}
	if expiration != "" {
		msg.Expiration = expiration
	}
	return Error.Wrap(c.Channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false,
		false,
		msg,
	))
}

const (
	producerDialTimeout = 3 * time.Second
	producerRedialDelay = 5 * time.Second
)

// ErrUnavailable is returned by RabbitProducer while it waits out the
// redial delay after a failed connect.
var ErrUnavailable = Error.New("broker unavailable")

// RabbitProducer publishes events over a lazily (re)connected client.
type RabbitProducer struct {
	url    string
	mu     sync.Mutex
	client *Client

	dial       func(url string) (*Client, error)
	now        func() time.Time
	redialAt   time.Time
	redialWait time.Duration
}

// NewRabbitProducer creates a producer for the broker at url. The
// connection is opened on first publish; after a failed connect publishes
// fail fast until the redial delay passes.
func NewRabbitProducer(url string) *RabbitProducer {
	return &RabbitProducer{
		url: url,
		dial: func(url string) (*Client, error) {
			client, err := DialTimeout(url, producerDialTimeout)
			if err != nil {
				return nil, err
			}
			if err := client.DeclareTopology(); err != nil {
				client.Close()
				return nil, err
			}
			return client, nil
		},
		now:        time.Now,
		redialWait: producerRedialDelay,
	}
}

func (p *RabbitProducer) get() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		if !p.client.closed() {
			return p.client, nil
		}
		p.client.Close()
		p.client = nil
	}
	if p.now().Before(p.redialAt) {
		return nil, ErrUnavailable
	}
	client, err := p.dial(p.url)
	if err != nil {
		p.redialAt = p.now().Add(p.redialWait)
		return nil, err
	}
	p.client = client
	return client, nil
}

// Publish sends event to the workspace's routing key.
func (p *RabbitProducer) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return Error.Wrap(err)
	}
	client, err := p.get()
	if err != nil {
		return err
	}
	return client.PublishEvent(ctx, RoutingKey(event.Workspace), body)
}

// Close releases the broker connection.
func (p *RabbitProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client.Close()
	p.client = nil
}
