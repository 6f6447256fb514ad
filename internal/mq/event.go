package mq

import (
	"context"
	"encoding/json"
)

// EventKind is the lifecycle change an event reports.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event is published once per blob lifecycle change. Delivery is at least
// once and ordered per workspace; consumers dedupe by (name, etag).
type Event struct {
	Kind         EventKind `json:"kind"`
	Workspace    string    `json:"workspace"`
	Name         string    `json:"name"`
	Size         *int64    `json:"size,omitempty"`
	ContentType  string    `json:"contentType,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified int64     `json:"lastModified,omitempty"` // unix millis
}

// Producer publishes blob events.
type Producer interface {
	Publish(ctx context.Context, event Event) error
}

// NoopProducer drops events; used when no broker is configured.
type NoopProducer struct{}

func (NoopProducer) Publish(context.Context, Event) error {
	return nil
}

// DecodeEvent parses a message body.
func DecodeEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, Error.Wrap(err)
	}
	if event.Workspace == "" || event.Name == "" {
		return Event{}, Error.New("event without workspace or name")
	}
	return event, nil
}
