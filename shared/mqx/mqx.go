package mqx

import (
	"context"
	"log/slog"

	"clever-events/shared/awsx"
	"clever-events/shared/config"
	"clever-events/shared/events"
	"clever-events/shared/logx"
)

// NewTopicPublisher builds the transport selected by EVENTS_ADAPTER. The
// returned close func is never nil.
func NewTopicPublisher(ctx context.Context, cfg config.Config, logger logx.Logger) (events.TopicPublisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.EventsAdapter {
	case config.EventsAdapterKafka:
		p, err := NewKafkaPublisher(cfg)
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	case config.EventsAdapterLog:
		return NewLoggingPublisher(logger), noop, nil
	default:
		awsCfg, err := awsx.Load(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		logger.Debug(ctx, "events_adapter", "using sns topic publisher", slog.String("region", awsCfg.Region))
		return NewSNSPublisher(awsCfg), noop, nil
	}
}
