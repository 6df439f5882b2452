package queuex

import (
	"context"
	"errors"
	"fmt"

	"clever-events/shared/awsx"
	"clever-events/shared/cachex"
	"clever-events/shared/config"
	"clever-events/shared/dbx"
	"clever-events/shared/events"
)

// CodeReceiptHandleIsInvalid is the per-entry delete failure code used when
// a receipt no longer matches the current delivery.
const CodeReceiptHandleIsInvalid = "ReceiptHandleIsInvalid"

// Queue is a QueueClient that can also delete a single message.
type Queue interface {
	events.QueueClient
	Delete(ctx context.Context, queue string, receiptHandle string) (bool, error)
}

// Backend bundles a queue with its readiness probe and cleanup.
type Backend struct {
	Queue Queue
	Ready func(ctx context.Context) error
	Close func() error
}

// Open builds the backend selected by QUEUE_ADAPTER.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	noop := func() error { return nil }
	switch cfg.QueueAdapter {
	case config.QueueAdapterRedis:
		cache, err := cachex.New(cfg)
		if err != nil {
			return Backend{}, err
		}
		q := NewRedisQueue(cache.Client(), cfg.VisibilityTimeout())
		return Backend{Queue: q, Ready: q.Ping, Close: cache.Close}, nil
	case config.QueueAdapterPostgres:
		pool, err := dbx.NewPool(ctx, cfg)
		if err != nil {
			return Backend{}, err
		}
		q := NewPostgresQueue(pool, cfg.VisibilityTimeout())
		if err := q.EnsureSchema(ctx); err != nil {
			pool.Close()
			return Backend{}, fmt.Errorf("ensure queue schema: %w", err)
		}
		return Backend{Queue: q, Ready: q.Ping, Close: func() error { pool.Close(); return nil }}, nil
	case config.QueueAdapterSQS, "":
		awsCfg, err := awsx.Load(ctx, cfg)
		if err != nil {
			return Backend{}, err
		}
		q := NewSQSQueue(awsCfg)
		ready := func(ctx context.Context) error {
			if cfg.QueueURL == "" {
				return errors.New("SQS_QUEUE_URL is not set")
			}
			return q.Ping(ctx, cfg.QueueURL)
		}
		return Backend{Queue: q, Ready: ready, Close: noop}, nil
	default:
		return Backend{}, fmt.Errorf("%w: unknown queue adapter %q", events.ErrConfiguration, cfg.QueueAdapter)
	}
}
