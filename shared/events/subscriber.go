package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"clever-events/shared/logx"
)

// Subscriber receives from the configured default queue with the
// configured batch size.
type Subscriber struct {
	client   QueueClient
	settings Settings
	logger   logx.Logger
}

func NewSubscriber(client QueueClient, settings Settings, logger logx.Logger) *Subscriber {
	return &Subscriber{client: client, settings: settings.withDefaults(), logger: logger}
}

func (s *Subscriber) Receive(ctx context.Context) ([]RawMessage, error) {
	queue := strings.TrimSpace(s.settings.DefaultQueue)
	if queue == "" {
		return nil, fmt.Errorf("%w: Invalid queue config", ErrConfiguration)
	}
	if s.client == nil {
		return nil, fmt.Errorf("%w: queue client not configured", ErrConfiguration)
	}
	messages, err := s.client.Receive(ctx, queue, s.settings.BatchSize, s.settings.WaitSeconds)
	if err != nil {
		s.logger.Error(ctx, "subscribe_failed", "Failed to subscribe to events: "+err.Error(),
			slog.String("queue", queue),
		)
		return nil, asTransport(err)
	}
	return messages, nil
}

// Drain runs one cycle against the default queue.
func (s *Subscriber) Drain(ctx context.Context, drainer *Drainer, processor MessageProcessor) (CycleReport, error) {
	return drainer.Cycle(ctx, s.settings.DefaultQueue, s.settings.BatchSize, s.settings.WaitSeconds, processor)
}
