package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"clever-events/shared/events"
	"clever-events/shared/lockx"
	"clever-events/shared/logx"
)

const TypeDrain = "queue.drain"

type DrainPayload struct {
	Queue       string `json:"queue"`
	MaxMessages int    `json:"max_messages,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

func NewDrainTask(p DrainPayload, opts ...asynq.Option) (*asynq.Task, error) {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDrain, b, opts...), nil
}

// Locker serialises drain cycles per queue across worker replicas.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lockx.Lock, bool, error)
	Release(ctx context.Context, lock *lockx.Lock) error
}

type Cycler interface {
	Cycle(ctx context.Context, queue string, maxMessages int, waitSeconds int, processor events.MessageProcessor) (events.CycleReport, error)
}

// DrainHandler runs one drain cycle per task.
type DrainHandler struct {
	cycler    Cycler
	processor events.MessageProcessor
	settings  events.Settings
	locker    Locker
	lockTTL   time.Duration
	logger    logx.Logger
}

func NewDrainHandler(cycler Cycler, processor events.MessageProcessor, settings events.Settings, logger logx.Logger) *DrainHandler {
	return &DrainHandler{cycler: cycler, processor: processor, settings: settings, logger: logger}
}

// WithLocker makes overlapping cycles on the same queue skip instead of run.
func (h *DrainHandler) WithLocker(l Locker, ttl time.Duration) *DrainHandler {
	h.locker = l
	h.lockTTL = ttl
	return h
}

func (h *DrainHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p DrainPayload
	if len(t.Payload()) > 0 {
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("%w: decode drain payload: %v", asynq.SkipRetry, err)
		}
	}
	p = h.withDefaults(p)

	ctx, span := otel.Tracer("asynq").Start(ctx, TypeDrain)
	span.SetAttributes(attribute.String("queue", p.Queue))
	defer span.End()

	if h.locker != nil {
		lock, ok, err := h.locker.Acquire(ctx, "drain:"+p.Queue, h.lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			h.logger.Debug(ctx, "drain_skipped", "drain already running", slog.String("queue", p.Queue))
			return nil
		}
		defer func() {
			if err := h.locker.Release(context.WithoutCancel(ctx), lock); err != nil {
				h.logger.Warn(ctx, "drain_unlock_failed", err.Error(), slog.String("queue", p.Queue))
			}
		}()
	}

	report, err := h.cycler.Cycle(ctx, p.Queue, p.MaxMessages, p.WaitSeconds, h.processor)
	h.logger.Info(ctx, "drain_cycle", "drain cycle finished",
		slog.String("queue", p.Queue),
		slog.Int("received", report.Received),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("deleted", report.Deleted),
		slog.Int("delete_failed", report.DeleteFailed),
	)
	if err == nil {
		return nil
	}
	h.logger.Error(ctx, "drain_cycle_failed", err.Error(), slog.String("queue", p.Queue))
	// Retrying cannot fix a bad setup or a missing handler.
	if errors.Is(err, events.ErrConfiguration) || errors.Is(err, events.ErrNotImplemented) {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}
	return err
}

func (h *DrainHandler) withDefaults(p DrainPayload) DrainPayload {
	if strings.TrimSpace(p.Queue) == "" {
		p.Queue = h.settings.DefaultQueue
	}
	if p.MaxMessages <= 0 {
		p.MaxMessages = h.settings.BatchSize
	}
	if p.MaxMessages <= 0 {
		p.MaxMessages = events.DefaultBatchSize
	}
	if p.WaitSeconds <= 0 {
		p.WaitSeconds = h.settings.WaitSeconds
	}
	return p
}
