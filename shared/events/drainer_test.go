package events

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clever-events/shared/logx"
)

func succeed(context.Context, RawMessage, string) error { return nil }

func TestCycleDeletesInChunksOfTen(t *testing.T) {
	q := &fakeQueue{messages: messages(25)}
	d := NewDrainer(q, logx.Nop())

	report, err := d.Cycle(context.Background(), "orders", 25, 0, processorFunc(succeed))
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Received: 25, Succeeded: 25, Deleted: 25}, report)

	require.Len(t, q.batches, 3)
	assert.Len(t, q.batches[0], 10)
	assert.Len(t, q.batches[1], 10)
	assert.Len(t, q.batches[2], 5)
	for _, batch := range q.batches {
		for i, entry := range batch {
			assert.Equal(t, strconv.Itoa(i), entry.ID)
		}
	}
	assert.Equal(t, "r0", q.batches[0][0].ReceiptHandle)
	assert.Equal(t, "r10", q.batches[1][0].ReceiptHandle)
	assert.Equal(t, "r24", q.batches[2][4].ReceiptHandle)
}

func TestCycleDeletesOnlySuccesses(t *testing.T) {
	q := &fakeQueue{messages: messages(4)}
	d := NewDrainer(q, logx.Nop(), WithConcurrency(4))

	proc := processorFunc(func(_ context.Context, msg RawMessage, _ string) error {
		if msg.ID == "m1" || msg.ID == "m3" {
			return fmt.Errorf("%w: bad", ErrProcessing)
		}
		return nil
	})
	report, err := d.Cycle(context.Background(), "orders", 10, 0, proc)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, []string{"r0", "r2"}, q.deletedReceipts())
}

func TestCycleAllFailNoDelete(t *testing.T) {
	q := &fakeQueue{messages: messages(3)}
	d := NewDrainer(q, logx.Nop())

	report, err := d.Cycle(context.Background(), "orders", 10, 0, processorFunc(func(context.Context, RawMessage, string) error {
		return errBoom
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Failed)
	assert.Empty(t, q.batches)
}

func TestCycleEmptyReceive(t *testing.T) {
	q := &fakeQueue{}
	report, err := NewDrainer(q, logx.Nop()).Cycle(context.Background(), "orders", 10, 20, processorFunc(succeed))
	require.NoError(t, err)
	assert.Equal(t, CycleReport{}, report)
	assert.Equal(t, 10, q.lastMax)
	assert.Equal(t, 20, q.lastWait)
}

func TestCycleLogsPartialDeleteFailure(t *testing.T) {
	var buf bytes.Buffer
	q := &fakeQueue{
		messages: messages(3),
		failReceipt: map[string]DeleteFailure{
			"r1": {Code: "ReceiptHandleIsInvalid", Message: "expired"},
		},
	}
	d := NewDrainer(q, logx.NewWithWriter(&buf, "test", "test", "", "info"))

	report, err := d.Cycle(context.Background(), "orders", 10, 0, processorFunc(succeed))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted)
	assert.Equal(t, 1, report.DeleteFailed)
	assert.Contains(t, buf.String(), "Failed to delete message 1: ReceiptHandleIsInvalid - expired")
}

func TestCycleConfigurationAndTransportErrors(t *testing.T) {
	d := NewDrainer(&fakeQueue{}, logx.Nop())
	_, err := d.Cycle(context.Background(), "  ", 10, 0, processorFunc(succeed))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "Invalid queue config")

	d = NewDrainer(&fakeQueue{receiveErr: errBoom}, logx.Nop())
	_, err = d.Cycle(context.Background(), "orders", 10, 0, processorFunc(succeed))
	assert.ErrorIs(t, err, ErrTransport)

	q := &fakeQueue{messages: messages(12), deleteErr: errBoom}
	report, err := NewDrainer(q, logx.Nop()).Cycle(context.Background(), "orders", 12, 0, processorFunc(succeed))
	assert.ErrorIs(t, err, ErrTransport)
	assert.Len(t, q.batches, 1)
	assert.Zero(t, report.Deleted)
}

func TestCycleRecoversPanics(t *testing.T) {
	q := &fakeQueue{messages: messages(2)}
	report, err := NewDrainer(q, logx.Nop()).Cycle(context.Background(), "orders", 10, 0, processorFunc(func(_ context.Context, msg RawMessage, _ string) error {
		if msg.ID == "m0" {
			panic("kaboom")
		}
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"r1"}, q.deletedReceipts())
}

func TestCycleNotImplementedIsFatalAfterDeletes(t *testing.T) {
	q := &fakeQueue{messages: messages(3)}
	var calls atomic.Int32
	proc := processorFunc(func(_ context.Context, msg RawMessage, _ string) error {
		calls.Add(1)
		if msg.ID == "m1" {
			return UnimplementedHandler{}.Handle(context.Background(), msg)
		}
		return nil
	})

	report, err := NewDrainer(q, logx.Nop()).Cycle(context.Background(), "orders", 10, 0, proc)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 2, report.Deleted)
	assert.Equal(t, []string{"r0", "r2"}, q.deletedReceipts())
}

func TestCycleWithProcessorDeadLettersAndDeletes(t *testing.T) {
	msgs := messages(2)
	msgs[0].SystemAttributes = map[string]string{AttrApproximateReceiveCount: "3"}
	msgs[1].SystemAttributes = map[string]string{AttrApproximateReceiveCount: "1"}
	q := &fakeQueue{messages: msgs}

	proc := NewProcessor(failing(errBoom), q, Settings{DeadLetterQueue: "orders-dlq"}, logx.Nop())
	report, err := NewDrainer(q, logx.Nop()).Cycle(context.Background(), "orders", 10, 0, proc)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"r0"}, q.deletedReceipts())
	require.Len(t, q.sends, 1)
	assert.True(t, strings.HasPrefix(q.sends[0].body, `{"n":0`))
}

func TestChunkDeleteEntries(t *testing.T) {
	assert.Empty(t, ChunkDeleteEntries(nil))
	chunks := ChunkDeleteEntries(messages(10))
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, ChunkDeleteEntries(messages(11)), 2)
}

func TestSubscriberReceiveUsesSettings(t *testing.T) {
	q := &fakeQueue{messages: messages(1)}
	s := NewSubscriber(q, Settings{DefaultQueue: "orders", WaitSeconds: 5}, logx.Nop())

	msgs, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, DefaultBatchSize, q.lastMax)
	assert.Equal(t, 5, q.lastWait)

	_, err = NewSubscriber(q, Settings{}, logx.Nop()).Receive(context.Background())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewSubscriber(&fakeQueue{receiveErr: errBoom}, Settings{DefaultQueue: "orders"}, logx.Nop()).Receive(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}
