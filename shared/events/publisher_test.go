package events

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clever-events/shared/logx"
)

func enabledSettings() Settings {
	return Settings{
		PublishEnabled: true,
		DefaultTopic:   "arn:aws:sns:us-east-1:000000000000:events",
		BaseAPIURL:     "https://api.example/api",
	}
}

func TestPublishEventSendsOnePublish(t *testing.T) {
	topic := &fakeTopic{}
	p := NewPublisher(enabledSettings(), topic, logx.Nop())

	id, err := p.PublishEvent(context.Background(), "Order.updated", order{id: 42}, "tok", "")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.Len(t, topic.calls, 1)
	call := topic.calls[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:events", call.Topic)
	assert.Equal(t, "Order.updated", call.Subject)
	assert.Equal(t, "Order.updated", call.Attributes["event_name"].StringValue)
	assert.JSONEq(t,
		`{"event_name":"Order.updated","entity_type":"order","entity_id":42,"path":"https://api.example/api/orders/42"}`,
		string(call.Payload),
	)
	assert.Equal(t, "order.42", call.PartitionKey)
	assert.Empty(t, call.MessageGroupID)
	assert.Empty(t, call.MessageDeduplicationID)
}

func TestPublishEventOverrideWinsOverDefault(t *testing.T) {
	topic := &fakeTopic{}
	p := NewPublisher(enabledSettings(), topic, logx.Nop())

	_, err := p.PublishEvent(context.Background(), "Order.created", order{id: 1}, "tok", "  special-topic ")
	require.NoError(t, err)
	require.Len(t, topic.calls, 1)
	assert.Equal(t, "special-topic", topic.calls[0].Topic)
}

func TestPublishEventDisabledSkipsTransport(t *testing.T) {
	var buf bytes.Buffer
	topic := &fakeTopic{}
	settings := enabledSettings()
	settings.PublishEnabled = false
	p := NewPublisher(settings, topic, logx.NewWithWriter(&buf, "test", "test", "", "info"))

	id, err := p.PublishEvent(context.Background(), "Order.created", order{id: 1}, "tok", "")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, topic.calls)
	assert.Contains(t, buf.String(), "Event publishing disabled, check env")
}

func TestPublishEventWithoutTopicIsConfigurationError(t *testing.T) {
	topic := &fakeTopic{}
	settings := enabledSettings()
	settings.DefaultTopic = " "
	p := NewPublisher(settings, topic, logx.Nop())

	_, err := p.PublishEvent(context.Background(), "Order.created", order{id: 1}, "tok", "")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "Invalid topic config")
	assert.Empty(t, topic.calls)
}

func TestPublishEventTransportFailureIsPublishError(t *testing.T) {
	topic := &fakeTopic{err: errBoom}
	p := NewPublisher(enabledSettings(), topic, logx.Nop())

	_, err := p.PublishEvent(context.Background(), "Order.created", order{id: 1}, "tok", "")
	assert.ErrorIs(t, err, ErrPublish)
	assert.NotErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "boom")
}

func TestPublishEventFIFOSetsGroupAndDedup(t *testing.T) {
	cases := []struct {
		name     string
		fifoFlag bool
		topic    string
	}{
		{name: "flag", fifoFlag: true, topic: "events"},
		{name: "suffix", topic: "events.fifo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			topic := &fakeTopic{}
			settings := enabledSettings()
			settings.FIFOTopic = tc.fifoFlag
			settings.DefaultTopic = tc.topic
			p := NewPublisher(settings, topic, logx.Nop())

			_, err := p.PublishEvent(context.Background(), "Order.updated", order{id: 42}, "dedup-1", "")
			require.NoError(t, err)
			require.Len(t, topic.calls, 1)
			assert.Equal(t, "order.42", topic.calls[0].MessageGroupID)
			assert.Equal(t, "dedup-1", topic.calls[0].MessageDeduplicationID)
		})
	}
}
