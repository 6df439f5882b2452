package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"clever-events/shared/logx"
	"clever-events/shared/metricsx"
)

// EventPublisher is the gate in front of a topic transport.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventName string, entity Entity, dedupToken string, topicOverride string) (string, error)
}

type Publisher struct {
	settings  Settings
	codec     Codec
	transport TopicPublisher
	logger    logx.Logger
}

func NewPublisher(settings Settings, transport TopicPublisher, logger logx.Logger) *Publisher {
	settings = settings.withDefaults()
	return &Publisher{
		settings:  settings,
		codec:     NewCodec(settings),
		transport: transport,
		logger:    logger,
	}
}

// PublishEvent performs exactly one transport publish and returns its
// message id. When publishing is disabled it logs and returns "" without error.
func (p *Publisher) PublishEvent(ctx context.Context, eventName string, entity Entity, dedupToken string, topicOverride string) (string, error) {
	if !p.settings.PublishEnabled {
		p.logger.Warn(ctx, "event_publish_disabled", "Event publishing disabled, check env",
			slog.String("event_name", eventName),
		)
		metricsx.IncPublishSkipped("disabled")
		return "", nil
	}

	topic := p.resolveTopic(topicOverride)
	if topic == "" {
		return "", fmt.Errorf("%w: Invalid topic config", ErrConfiguration)
	}
	if p.transport == nil {
		return "", fmt.Errorf("%w: topic publisher not configured", ErrConfiguration)
	}
	if entity == nil {
		return "", fmt.Errorf("%w: entity is nil", ErrPublish)
	}

	ctx, span := otel.Tracer("events").Start(ctx, "events.publish")
	span.SetAttributes(
		attribute.String("messaging.destination", topic),
		attribute.String("event.name", eventName),
	)
	defer span.End()

	payload, attrs, err := p.codec.Encode(eventName, entity)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %s", ErrPublish, err.Error())
	}

	in := PublishInput{
		Topic:        topic,
		Payload:      payload,
		Subject:      eventName,
		Attributes:   attrs,
		PartitionKey: GroupID(entity),
	}
	if p.settings.isFIFO(topic) {
		in.MessageGroupID = GroupID(entity)
		in.MessageDeduplicationID = dedupToken
	}

	messageID, err := p.transport.Publish(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metricsx.IncEventPublished(topic, "failure")
		p.logger.Error(ctx, "event_publish_failed", "Event publishing failed: "+err.Error(),
			slog.String("event_name", eventName),
			slog.String("topic", topic),
		)
		return "", fmt.Errorf("%w: %s", ErrPublish, err.Error())
	}

	metricsx.IncEventPublished(topic, "success")
	p.logger.Info(ctx, "event_published", "event published",
		slog.String("event_name", eventName),
		slog.String("topic", topic),
		slog.String("message_id", messageID),
	)
	return messageID, nil
}

func (p *Publisher) resolveTopic(override string) string {
	if topic := strings.TrimSpace(override); topic != "" {
		return topic
	}
	return strings.TrimSpace(p.settings.DefaultTopic)
}
