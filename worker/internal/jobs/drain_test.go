package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clever-events/shared/events"
	"clever-events/shared/lockx"
	"clever-events/shared/logx"
)

type cycleCall struct {
	queue       string
	maxMessages int
	waitSeconds int
}

type fakeCycler struct {
	calls []cycleCall
	err   error
}

func (f *fakeCycler) Cycle(_ context.Context, queue string, maxMessages int, waitSeconds int, _ events.MessageProcessor) (events.CycleReport, error) {
	f.calls = append(f.calls, cycleCall{queue, maxMessages, waitSeconds})
	return events.CycleReport{Received: 1, Succeeded: 1, Deleted: 1}, f.err
}

var noopProcessor = events.NewProcessor(events.HandlerFunc(func(context.Context, events.RawMessage) error { return nil }), nil, events.Settings{}, logx.Nop())

func settings() events.Settings {
	return events.Settings{DefaultQueue: "https://sqs/orders", BatchSize: 10, WaitSeconds: 20}
}

func TestDrainTaskRoundTrip(t *testing.T) {
	task, err := NewDrainTask(DrainPayload{Queue: "q1", MaxMessages: 5})
	require.NoError(t, err)
	assert.Equal(t, TypeDrain, task.Type())

	c := &fakeCycler{}
	h := NewDrainHandler(c, noopProcessor, settings(), logx.Nop())
	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.Equal(t, []cycleCall{{queue: "q1", maxMessages: 5, waitSeconds: 20}}, c.calls)
}

func TestDrainTaskDefaultsFromSettings(t *testing.T) {
	c := &fakeCycler{}
	h := NewDrainHandler(c, noopProcessor, settings(), logx.Nop())

	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(TypeDrain, nil)))
	assert.Equal(t, []cycleCall{{queue: "https://sqs/orders", maxMessages: 10, waitSeconds: 20}}, c.calls)
}

func TestDrainTaskErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{name: "transport", err: fmt.Errorf("%w: timeout", events.ErrTransport)},
		{name: "configuration", err: fmt.Errorf("%w: Invalid queue config", events.ErrConfiguration), skipRetry: true},
		{name: "not implemented", err: fmt.Errorf("%w: handler", events.ErrNotImplemented), skipRetry: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewDrainHandler(&fakeCycler{err: tc.err}, noopProcessor, settings(), logx.Nop())
			err := h.ProcessTask(context.Background(), asynq.NewTask(TypeDrain, nil))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestDrainTaskBadPayloadSkipsRetry(t *testing.T) {
	h := NewDrainHandler(&fakeCycler{}, noopProcessor, settings(), logx.Nop())
	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeDrain, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDrainTaskSkipsWhileLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	locker := lockx.NewLocker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	held, ok, err := locker.Acquire(ctx, "drain:https://sqs/orders", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	c := &fakeCycler{}
	h := NewDrainHandler(c, noopProcessor, settings(), logx.Nop()).WithLocker(locker, time.Minute)
	require.NoError(t, h.ProcessTask(ctx, asynq.NewTask(TypeDrain, nil)))
	assert.Empty(t, c.calls)

	require.NoError(t, locker.Release(ctx, held))
	require.NoError(t, h.ProcessTask(ctx, asynq.NewTask(TypeDrain, nil)))
	assert.Len(t, c.calls, 1)
	assert.False(t, mr.Exists("clever-events:lock:drain:https://sqs/orders"))
}
