package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeProducesCanonicalPayload(t *testing.T) {
	codec := NewCodec(Settings{BaseAPIURL: "https://api.example/api/", Source: "shop"})
	codec.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	payload, attrs, err := codec.Encode("Order.updated", order{id: 42})
	require.NoError(t, err)

	assert.Equal(t,
		`{"event_name":"Order.updated","entity_type":"order","entity_id":42,"path":"https://api.example/api/orders/42"}`,
		string(payload),
	)
	assert.Equal(t, Attributes{
		"event_name":      StringAttribute("Order.updated"),
		"source":          StringAttribute("shop"),
		"time":            StringAttribute("2024-05-01T12:00:00Z"),
		"message_version": StringAttribute(MessageVersion),
	}, attrs)
}

func TestEncodeSnakeCasesAndPluralizesType(t *testing.T) {
	codec := NewCodec(Settings{BaseAPIURL: "https://api.example"})

	ev := codec.Build("TestObject.created", plainEntity{kind: "TestObject", id: "abc"})
	assert.Equal(t, "test_object", ev.EntityType)
	assert.Equal(t, "https://api.example/test_objects/abc", ev.Path)

	ev = codec.Build("Category.created", plainEntity{kind: "Category", id: 7})
	assert.Equal(t, "https://api.example/categories/7", ev.Path)
}

func TestEncodeDefaultsSource(t *testing.T) {
	_, attrs, err := NewCodec(Settings{}).Encode("Order.created", order{id: 1})
	require.NoError(t, err)
	assert.Equal(t, DefaultEventSource, attrs["source"].StringValue)
}

func TestEncodeRejectsNilEntity(t *testing.T) {
	_, _, err := NewCodec(Settings{}).Encode("Order.created", nil)
	assert.Error(t, err)
}

func TestDecodeRoundTripsPayload(t *testing.T) {
	codec := NewCodec(Settings{BaseAPIURL: "https://api.example/api"})
	payload, _, err := codec.Encode("Order.destroyed", order{id: 42})
	require.NoError(t, err)

	ev, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "Order.destroyed", ev.EventName)
	assert.Equal(t, "order", ev.EntityType)
	assert.Equal(t, json.Number("42"), ev.EntityID)
	assert.Equal(t, "https://api.example/api/orders/42", ev.Path)
}

func TestDecodeRequiresEventName(t *testing.T) {
	_, err := Decode([]byte(`{"entity_type":"order"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeNotificationUnwrapsEnvelope(t *testing.T) {
	inner := `{"event_name":"Order.created","entity_type":"order","entity_id":5,"path":"/orders/5"}`
	envelope, err := json.Marshal(map[string]string{
		"Type":     "Notification",
		"TopicArn": "arn:aws:sns:us-east-1:000000000000:orders",
		"Message":  inner,
	})
	require.NoError(t, err)

	ev, err := DecodeNotification(string(envelope))
	require.NoError(t, err)
	assert.Equal(t, "Order.created", ev.EventName)

	ev, err = DecodeNotification(inner)
	require.NoError(t, err)
	assert.Equal(t, "/orders/5", ev.Path)
}

func TestNamingHelpers(t *testing.T) {
	e := plainEntity{kind: "LineItem", id: 9}
	assert.Equal(t, "line_item", TypeName(e))
	assert.Equal(t, "line_item.9", GroupID(e))
	assert.Equal(t, "LineItem.updated", EventName(e, TransitionUpdated))
}
