package queuex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clever-events/shared/config"
	"clever-events/shared/events"
	"clever-events/shared/logx"
)

type processFunc func(ctx context.Context, msg events.RawMessage, queue string) error

func (f processFunc) Process(ctx context.Context, msg events.RawMessage, queue string) error {
	return f(ctx, msg, queue)
}

func testLogger() logx.Logger { return logx.Nop() }

func TestOpenRejectsUnknownAdapter(t *testing.T) {
	_, err := Open(context.Background(), config.Config{QueueAdapter: "pigeon"})
	assert.ErrorIs(t, err, events.ErrConfiguration)
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	_, err := Open(context.Background(), config.Config{QueueAdapter: config.QueueAdapterRedis})
	assert.Error(t, err)
}

func TestOpenSQS(t *testing.T) {
	b, err := Open(context.Background(), config.Config{QueueAdapter: config.QueueAdapterSQS, AWSRegion: "us-east-1"})
	require.NoError(t, err)
	assert.IsType(t, &SQSQueue{}, b.Queue)
	assert.Error(t, b.Ready(context.Background()))
	assert.NoError(t, b.Close())
}

func TestParsePostgresReceipt(t *testing.T) {
	_, _, ok := parsePostgresReceipt("nope")
	assert.False(t, ok)
	_, _, ok = parsePostgresReceipt("not-a-uuid:also-not")
	assert.False(t, ok)

	id, receipt, ok := parsePostgresReceipt("6f1c1a52-4b7e-4a0e-9d53-0b0e5a0c2f11:0d8f4f0e-2b8e-4f0c-9a3f-4e2d1c0b9a88")
	require.True(t, ok)
	assert.Equal(t, "6f1c1a52-4b7e-4a0e-9d53-0b0e5a0c2f11", id.String())
	assert.Equal(t, "0d8f4f0e-2b8e-4f0c-9a3f-4e2d1c0b9a88", receipt.String())
}

func TestPostgresDeleteBatchRejectsMalformedReceiptsWithoutQuery(t *testing.T) {
	q := NewPostgresQueue(nil, 0)
	failures, err := q.DeleteBatch(context.Background(), "orders", []events.DeleteEntry{
		{ID: "0", ReceiptHandle: "bad"},
		{ID: "1", ReceiptHandle: ""},
	})
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, CodeReceiptHandleIsInvalid, failures[1].Code)

	ok, err := q.Delete(context.Background(), "orders", "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}
