package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"clever-events/shared/metricsx"
)

const (
	AttrOriginalQueue = "original_queue"
	AttrFailureReason = "failure_reason"
	AttrRetryCount    = "retry_count"
	AttrFailedAt      = "failed_at"
)

// DeadLetterAttributes merges the message's own attributes with the failure
// enrichment. The enrichment keys win on collision.
func DeadLetterAttributes(msg RawMessage, queue string, retryCount int, cause error, failedAt time.Time) Attributes {
	out := make(Attributes, len(msg.Attributes)+4)
	for k, v := range msg.Attributes {
		out[k] = v
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	out[AttrOriginalQueue] = StringAttribute(queue)
	out[AttrFailureReason] = StringAttribute(reason)
	out[AttrRetryCount] = NumberAttribute(strconv.Itoa(retryCount))
	out[AttrFailedAt] = StringAttribute(failedAt.UTC().Format(time.RFC3339))
	return out
}

func (p *Processor) moveToDeadLetter(ctx context.Context, msg RawMessage, queue string, retryCount int, cause error) error {
	ctx, span := otel.Tracer("events").Start(ctx, "queue.dead_letter")
	span.SetAttributes(
		attribute.String("messaging.source", queue),
		attribute.String("messaging.destination", p.deadLetterQueue),
		attribute.String("messaging.message_id", msg.ID),
	)
	defer span.End()

	if p.client == nil {
		err := fmt.Errorf("%w: dead-letter client not configured", ErrTransport)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	attrs := DeadLetterAttributes(msg, queue, retryCount, cause, p.now())
	if _, err := p.client.Send(ctx, p.deadLetterQueue, msg.Body, attrs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return asTransport(err)
	}

	metricsx.IncDeadLettered(queue)
	p.logger.Info(ctx, "dead_letter_sent", "Moved failed message to DLQ: "+msg.ID,
		slog.String("original_queue", queue),
		slog.String("dead_letter_queue", p.deadLetterQueue),
		slog.Int("retry_count", retryCount),
	)
	return nil
}
