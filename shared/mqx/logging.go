package mqx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"clever-events/shared/events"
	"clever-events/shared/logx"
)

// LoggingPublisher writes publishes to the log instead of a broker. It is
// the transport for local runs.
type LoggingPublisher struct {
	logger logx.Logger
}

func NewLoggingPublisher(logger logx.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, in events.PublishInput) (string, error) {
	id := uuid.NewString()
	p.logger.Info(ctx, "event_logged", "published event",
		slog.String("topic", in.Topic),
		slog.String("message_id", id),
		slog.String("subject", in.Subject),
		slog.String("group_id", in.MessageGroupID),
		slog.String("payload", string(in.Payload)),
	)
	return id, nil
}
