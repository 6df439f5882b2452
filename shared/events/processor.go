package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"clever-events/shared/logx"
	"clever-events/shared/metricsx"
)

type State string

const (
	StateReceived     State = "received"
	StateProcessing   State = "processing"
	StateSucceeded    State = "succeeded"
	StateRetryPending State = "retry_pending"
	StateDeadLettered State = "dead_lettered"
	StateFailed       State = "failed"
)

var stateTransitions = map[State]map[State]bool{
	StateReceived: {
		StateProcessing: true,
	},
	StateProcessing: {
		StateSucceeded:    true,
		StateRetryPending: true,
		StateDeadLettered: true,
		StateFailed:       true,
	},
}

func CanTransition(from State, to State) bool {
	return stateTransitions[from][to]
}

// Deletable reports whether a message in this state may be removed from
// its source queue.
func (s State) Deletable() bool {
	return s == StateSucceeded || s == StateDeadLettered
}

// Handler processes one kind of message. Returning nil means success.
type Handler interface {
	Handle(ctx context.Context, msg RawMessage) error
}

type HandlerFunc func(ctx context.Context, msg RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, msg RawMessage) error {
	return f(ctx, msg)
}

// UnimplementedHandler can be embedded by concrete handlers. Reaching its
// Handle is a programming error.
type UnimplementedHandler struct {
	Kind string
}

func (u UnimplementedHandler) Handle(context.Context, RawMessage) error {
	kind := strings.TrimSpace(u.Kind)
	if kind == "" {
		kind = "handler"
	}
	return fmt.Errorf("%w: %s must implement Handle", ErrNotImplemented, kind)
}

// Result is the trace of one message through the processor.
type Result struct {
	MessageID  string
	RetryCount int
	State      State
	History    []State
}

func (r *Result) advance(to State) {
	if !CanTransition(r.State, to) {
		return
	}
	r.State = to
	r.History = append(r.History, to)
}

type Processor struct {
	handler         Handler
	client          QueueClient
	deadLetterQueue string
	maxRetries      int
	logger          logx.Logger
	now             func() time.Time
}

// NewProcessor wraps handler with retry inspection and dead-letter routing.
// client is only used to send dead-letter records.
func NewProcessor(handler Handler, client QueueClient, settings Settings, logger logx.Logger) *Processor {
	settings = settings.withDefaults()
	return &Processor{
		handler:         handler,
		client:          client,
		deadLetterQueue: strings.TrimSpace(settings.DeadLetterQueue),
		maxRetries:      settings.MaxRetries,
		logger:          logger,
		now:             time.Now,
	}
}

func (p *Processor) Process(ctx context.Context, msg RawMessage, queue string) error {
	_, err := p.Run(ctx, msg, queue)
	return err
}

// Run drives msg through the state machine. A nil error means the message
// is safe to delete from queue.
func (p *Processor) Run(ctx context.Context, msg RawMessage, queue string) (Result, error) {
	res := Result{
		MessageID:  msg.ID,
		RetryCount: RetryCount(msg),
		State:      StateReceived,
		History:    []State{StateReceived},
	}
	res.advance(StateProcessing)

	if p.handler == nil {
		res.advance(StateFailed)
		return res, fmt.Errorf("%w: processor has no handler", ErrNotImplemented)
	}

	err := p.handler.Handle(ctx, msg)
	if err == nil {
		res.advance(StateSucceeded)
		metricsx.IncMessageProcessed(queue, string(res.State))
		return res, nil
	}
	if errors.Is(err, ErrNotImplemented) {
		res.advance(StateFailed)
		return res, err
	}

	p.logger.Error(ctx, "message_process_failed", "Failed to process message: "+err.Error(),
		slog.String("message_id", msg.ID),
		slog.Int("retry_count", res.RetryCount),
	)

	if res.RetryCount < p.maxRetries {
		p.logger.Info(ctx, "message_retry_pending",
			fmt.Sprintf("Message will be retried by the transport (current retry count: %d)", res.RetryCount),
			slog.String("message_id", msg.ID),
		)
		res.advance(StateRetryPending)
		metricsx.IncMessageProcessed(queue, string(res.State))
		return res, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	if p.deadLetterQueue == "" {
		p.logger.Warn(ctx, "retries_exceeded",
			fmt.Sprintf("Message %s exceeded max retries but DLQ not configured", msg.ID),
			slog.Int("retry_count", res.RetryCount),
			slog.Int("max_retries", p.maxRetries),
		)
		res.advance(StateRetryPending)
		metricsx.IncMessageProcessed(queue, string(res.State))
		return res, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	if dlqErr := p.moveToDeadLetter(ctx, msg, queue, res.RetryCount, err); dlqErr != nil {
		p.logger.Error(ctx, "dead_letter_failed", "Failed to move message to DLQ: "+dlqErr.Error(),
			slog.String("message_id", msg.ID),
			slog.String("dead_letter_queue", p.deadLetterQueue),
		)
		res.advance(StateFailed)
		metricsx.IncMessageProcessed(queue, string(res.State))
		return res, dlqErr
	}

	res.advance(StateDeadLettered)
	metricsx.IncMessageProcessed(queue, string(res.State))
	return res, nil
}

// RetryCount reads the transport's receive count. Missing or malformed
// values count as zero.
func RetryCount(msg RawMessage) int {
	n, err := strconv.Atoi(strings.TrimSpace(msg.SystemAttributes[AttrApproximateReceiveCount]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
