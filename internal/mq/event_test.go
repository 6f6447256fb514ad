package mq

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSON(t *testing.T) {
	size := int64(100)
	body, err := json.Marshal(Event{
		Kind:        EventCreated,
		Workspace:   "ws",
		Name:        "a.png",
		Size:        &size,
		ContentType: "image/png",
		ETag:        "h1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"created","workspace":"ws","name":"a.png","size":100,"contentType":"image/png","etag":"h1"}`, string(body))

	deleted, err := json.Marshal(Event{Kind: EventDeleted, Workspace: "ws", Name: "a.png"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"deleted","workspace":"ws","name":"a.png"}`, string(deleted))
}

func TestDecodeEvent(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"kind":"updated","workspace":"ws","name":"b","etag":"h2"}`))
	require.NoError(t, err)
	assert.Equal(t, EventUpdated, event.Kind)
	assert.Equal(t, "h2", event.ETag)
	assert.Nil(t, event.Size)

	_, err = DecodeEvent([]byte(`{"kind":"updated"}`))
	assert.Error(t, err)
	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestRoutingKeyAndNoop(t *testing.T) {
	assert.Equal(t, "blob.ws-1", RoutingKey("ws-1"))
	assert.NoError(t, NoopProducer{}.Publish(context.Background(), Event{}))
}

func TestAttempt(t *testing.T) {
	assert.Equal(t, 0, Attempt(nil))
	assert.Equal(t, 0, Attempt(amqp.Table{}))
	assert.Equal(t, 3, Attempt(amqp.Table{HeaderAttempt: int32(3)}))
	assert.Equal(t, 2, Attempt(amqp.Table{HeaderAttempt: int64(2)}))
	assert.Equal(t, 0, Attempt(amqp.Table{HeaderAttempt: "x"}))
}
