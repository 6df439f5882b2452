package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"clever-events/shared/logx"
	"clever-events/shared/metricsx"
)

// MessageProcessor handles one received message. A nil error marks the
// message as deletable.
type MessageProcessor interface {
	Process(ctx context.Context, msg RawMessage, queue string) error
}

type DrainerOption func(*Drainer)

// WithConcurrency bounds how many messages of one batch are processed at
// once. Values below 1 mean sequential processing.
func WithConcurrency(n int) DrainerOption {
	return func(d *Drainer) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

type Drainer struct {
	client      QueueClient
	logger      logx.Logger
	concurrency int
}

func NewDrainer(client QueueClient, logger logx.Logger, opts ...DrainerOption) *Drainer {
	d := &Drainer{client: client, logger: logger, concurrency: 1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type CycleReport struct {
	Received     int
	Succeeded    int
	Failed       int
	Deleted      int
	DeleteFailed int
}

// Cycle receives one batch, processes every message, and deletes only the
// ones that processed without error. Per-message failures are logged and
// left for redelivery; only configuration and transport failures, and a
// handler that was never implemented, are returned.
func (d *Drainer) Cycle(ctx context.Context, queue string, maxMessages int, waitSeconds int, processor MessageProcessor) (CycleReport, error) {
	var report CycleReport

	queue = strings.TrimSpace(queue)
	if queue == "" {
		return report, fmt.Errorf("%w: Invalid queue config", ErrConfiguration)
	}
	if d.client == nil {
		return report, fmt.Errorf("%w: queue client not configured", ErrConfiguration)
	}
	if processor == nil {
		return report, fmt.Errorf("%w: message processor not configured", ErrConfiguration)
	}

	start := time.Now()
	defer func() { metricsx.ObserveDrainCycle(queue, time.Since(start)) }()

	ctx, span := otel.Tracer("events").Start(ctx, "queue.drain")
	span.SetAttributes(
		attribute.String("messaging.source", queue),
		attribute.Int("messaging.batch.max", maxMessages),
	)
	defer span.End()

	messages, err := d.client.Receive(ctx, queue, maxMessages, waitSeconds)
	if err != nil {
		err = asTransport(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error(ctx, "queue_receive_failed", "Failed to receive messages: "+err.Error(),
			slog.String("queue", queue),
		)
		return report, err
	}
	report.Received = len(messages)
	metricsx.AddMessagesReceived(queue, len(messages))
	if len(messages) == 0 {
		d.logger.Debug(ctx, "queue_empty", "no messages received", slog.String("queue", queue))
		return report, nil
	}
	d.logger.Info(ctx, "queue_received", fmt.Sprintf("Received %d messages", len(messages)),
		slog.String("queue", queue),
	)

	outcomes := d.processAll(ctx, queue, messages, processor)

	succeeded := make([]RawMessage, 0, len(messages))
	var fatal error
	for i, msg := range messages {
		if outcomes[i] == nil {
			succeeded = append(succeeded, msg)
			continue
		}
		report.Failed++
		if fatal == nil && errors.Is(outcomes[i], ErrNotImplemented) {
			fatal = outcomes[i]
		}
	}
	report.Succeeded = len(succeeded)

	deleted, deleteFailed, err := d.deleteProcessed(ctx, queue, succeeded)
	report.Deleted = deleted
	report.DeleteFailed = deleteFailed
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	if fatal != nil {
		span.SetStatus(codes.Error, fatal.Error())
		return report, fatal
	}
	return report, nil
}

// processAll resolves every message before returning. Worker goroutines
// never return errors so one failure cannot cancel the others.
func (d *Drainer) processAll(ctx context.Context, queue string, messages []RawMessage, processor MessageProcessor) []error {
	outcomes := make([]error, len(messages))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range messages {
		i := i
		g.Go(func() error {
			outcomes[i] = d.processOne(ctx, queue, messages[i], processor)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (d *Drainer) processOne(ctx context.Context, queue string, msg RawMessage, processor MessageProcessor) (err error) {
	ctx, span := otel.Tracer("events").Start(ctx, "queue.process")
	span.SetAttributes(
		attribute.String("messaging.source", queue),
		attribute.String("messaging.message_id", msg.ID),
	)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrProcessing, rec)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error(ctx, "message_failed", "Failed to process message: "+err.Error(),
				slog.String("queue", queue),
				slog.String("message_id", msg.ID),
			)
		}
	}()
	return processor.Process(ctx, msg, queue)
}

// deleteProcessed deletes in chunks of MaxDeleteBatch. Entry ids are the
// chunk-local index. Per-entry failures are logged; a failed call aborts.
func (d *Drainer) deleteProcessed(ctx context.Context, queue string, messages []RawMessage) (int, int, error) {
	if len(messages) == 0 {
		return 0, 0, nil
	}
	ctx, span := otel.Tracer("events").Start(ctx, "queue.delete_batch")
	span.SetAttributes(attribute.String("messaging.source", queue))
	defer span.End()

	deleted, failed := 0, 0
	for _, chunk := range ChunkDeleteEntries(messages) {
		failures, err := d.client.DeleteBatch(ctx, queue, chunk)
		if err != nil {
			err = asTransport(err)
			d.logger.Error(ctx, "queue_delete_batch_failed", "Failed to delete messages: "+err.Error(),
				slog.String("queue", queue),
				slog.Int("entries", len(chunk)),
			)
			return deleted, failed, err
		}
		for _, f := range failures {
			metricsx.IncDeleteFailure(queue, f.Code)
			d.logger.Error(ctx, "message_delete_failed",
				fmt.Sprintf("Failed to delete message %s: %s - %s", f.ID, f.Code, f.Message),
				slog.String("queue", queue),
			)
		}
		ok := len(chunk) - len(failures)
		if ok < 0 {
			ok = 0
		}
		deleted += ok
		failed += len(failures)
		metricsx.AddMessagesDeleted(queue, ok)
		if ok > 0 {
			d.logger.Info(ctx, "queue_deleted", fmt.Sprintf("Deleted %d messages", ok),
				slog.String("queue", queue),
			)
		}
	}
	return deleted, failed, nil
}

// ChunkDeleteEntries splits messages into delete batches preserving order.
func ChunkDeleteEntries(messages []RawMessage) [][]DeleteEntry {
	chunks := make([][]DeleteEntry, 0, (len(messages)+MaxDeleteBatch-1)/MaxDeleteBatch)
	for start := 0; start < len(messages); start += MaxDeleteBatch {
		end := start + MaxDeleteBatch
		if end > len(messages) {
			end = len(messages)
		}
		chunk := make([]DeleteEntry, 0, end-start)
		for j, msg := range messages[start:end] {
			chunk = append(chunk, DeleteEntry{ID: strconv.Itoa(j), ReceiptHandle: msg.ReceiptHandle})
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// asTransport converts any error into the transport kind by message only.
func asTransport(err error) error {
	if err == nil || errors.Is(err, ErrTransport) || errors.Is(err, ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrTransport, err.Error())
}
