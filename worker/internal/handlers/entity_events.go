package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"clever-events/shared/events"
	"clever-events/shared/logx"
)

// EventFunc reacts to one decoded entity event.
type EventFunc func(ctx context.Context, ev events.Event, msg events.RawMessage) error

// Deduper remembers message ids across deliveries.
type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// EntityEvents decodes entity lifecycle notifications (bare or wrapped in
// an SNS envelope) and dispatches them by event name. Routes match the
// exact name, "<EntityType>.*", or "*", in that order. Events without a
// route are acknowledged.
type EntityEvents struct {
	routes  map[string]EventFunc
	dedup   Deduper
	dedupTT time.Duration
	logger  logx.Logger
}

func NewEntityEvents(logger logx.Logger) *EntityEvents {
	return &EntityEvents{routes: map[string]EventFunc{}, logger: logger}
}

// On registers fn for pattern. A later registration replaces an earlier one.
func (h *EntityEvents) On(pattern string, fn EventFunc) *EntityEvents {
	h.routes[strings.TrimSpace(pattern)] = fn
	return h
}

// WithDedup skips messages whose id was already handled within ttl.
func (h *EntityEvents) WithDedup(d Deduper, ttl time.Duration) *EntityEvents {
	h.dedup = d
	h.dedupTT = ttl
	return h
}

func (h *EntityEvents) Patterns() []string {
	out := make([]string, 0, len(h.routes))
	for p := range h.routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (h *EntityEvents) Handle(ctx context.Context, msg events.RawMessage) error {
	ev, err := events.DecodeNotification(msg.Body)
	if err != nil {
		return fmt.Errorf("decode event %s: %w", msg.ID, err)
	}

	fn, ok := h.route(ev.EventName)
	if !ok {
		h.logger.Debug(ctx, "event_ignored", "no handler for "+ev.EventName,
			slog.String("message_id", msg.ID),
		)
		return nil
	}

	if h.dedup != nil && msg.ID != "" {
		first, err := h.dedup.MarkOnce(ctx, msg.ID, h.dedupTT)
		if err != nil {
			h.logger.Warn(ctx, "dedup_unavailable", "dedup check failed: "+err.Error(),
				slog.String("message_id", msg.ID),
			)
		} else if !first {
			h.logger.Info(ctx, "event_duplicate", "skipping already handled message "+msg.ID,
				slog.String("event_name", ev.EventName),
			)
			return nil
		}
	}

	if err := fn(ctx, ev, msg); err != nil {
		if h.dedup != nil && msg.ID != "" {
			_ = h.dedup.Forget(ctx, msg.ID)
		}
		return err
	}
	return nil
}

func (h *EntityEvents) route(eventName string) (EventFunc, bool) {
	if fn, ok := h.routes[eventName]; ok {
		return fn, true
	}
	if i := strings.LastIndex(eventName, "."); i > 0 {
		if fn, ok := h.routes[eventName[:i]+".*"]; ok {
			return fn, true
		}
	}
	fn, ok := h.routes["*"]
	return fn, ok
}

// LogEvent records the event and succeeds. It is the default route of the
// drainer binary.
func LogEvent(logger logx.Logger) EventFunc {
	return func(ctx context.Context, ev events.Event, msg events.RawMessage) error {
		logger.Info(ctx, "event_received", "Processing event: "+ev.EventName,
			slog.String("message_id", msg.ID),
			slog.String("entity_type", ev.EntityType),
			slog.String("entity_id", fmt.Sprint(ev.EntityID)),
			slog.String("path", ev.Path),
			slog.Int("retry_count", events.RetryCount(msg)),
		)
		return nil
	}
}
