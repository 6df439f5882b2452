package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"clever-events/shared/config"
	"clever-events/shared/events"
	"clever-events/shared/logx"
	"clever-events/shared/mqx"
	"clever-events/shared/observability"
)

// entity is a stand-in for an application record identified on the command line.
type entity struct {
	kind  string
	id    any
	topic string
}

func (e entity) EntityType() string   { return e.kind }
func (e entity) EntityID() any        { return e.id }
func (e entity) PublishTopic() string { return e.topic }

func main() {
	entityType := flag.String("type", "", "entity type as the application names it, e.g. Order")
	entityID := flag.String("id", "", "entity id")
	action := flag.String("action", string(events.TransitionUpdated), "created, updated or destroyed")
	topic := flag.String("topic", "", "topic override (defaults to SNS_TOPIC_ARN)")
	flag.Parse()

	cfg, problems := config.Default("event-publish", 8085)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	transition, ok := events.ParseTransition(*action)
	if !ok {
		problems = append(problems, config.Problem{Field: "action", Message: "action must be created, updated or destroyed"})
	}
	if strings.TrimSpace(*entityType) == "" || strings.TrimSpace(*entityID) == "" {
		problems = append(problems, config.Problem{Field: "type/id", Message: "-type and -id are required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if shutdown, err := observability.InitTracer(ctx, observability.TracerConfigFrom(cfg)); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	transport, closeTransport, err := mqx.NewTopicPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "publisher_init_failed", err.Error(), slog.String("events_adapter", cfg.EventsAdapter))
		os.Exit(1)
	}
	defer func() { _ = closeTransport() }()

	registry, err := events.NewRegistry()
	if err != nil {
		logger.Error(ctx, "registry_invalid", err.Error())
		os.Exit(1)
	}
	publishable := events.NewPublishable(registry, events.NewPublisher(cfg.EventSettings(), transport, logger), logger)

	messageID, err := publishable.PublishTransition(ctx, entity{
		kind:  strings.TrimSpace(*entityType),
		id:    parseID(*entityID),
		topic: strings.TrimSpace(*topic),
	}, transition)
	if err != nil {
		logger.Error(ctx, "publish_failed", err.Error())
		os.Exit(1)
	}
	fmt.Println(messageID)
}

// parseID keeps numeric ids numeric in the payload.
func parseID(raw string) any {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}
