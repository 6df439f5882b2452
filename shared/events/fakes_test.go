package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type order struct {
	id    int
	skip  bool
	topic string
	kind  string
}

func (o order) EntityType() string {
	if o.kind != "" {
		return o.kind
	}
	return "Order"
}
func (o order) EntityID() any        { return o.id }
func (o order) SkipPublish() bool    { return o.skip }
func (o order) PublishTopic() string { return o.topic }

type plainEntity struct {
	kind string
	id   any
}

func (p plainEntity) EntityType() string { return p.kind }
func (p plainEntity) EntityID() any      { return p.id }

type fakeTopic struct {
	mu    sync.Mutex
	calls []PublishInput
	err   error
}

func (f *fakeTopic) Publish(_ context.Context, in PublishInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("msg-%d", len(f.calls)), nil
}

type publishCall struct {
	eventName     string
	entity        Entity
	dedupToken    string
	topicOverride string
}

type fakeEventPublisher struct {
	calls []publishCall
	err   error
}

func (f *fakeEventPublisher) PublishEvent(_ context.Context, eventName string, entity Entity, dedupToken string, topicOverride string) (string, error) {
	f.calls = append(f.calls, publishCall{eventName, entity, dedupToken, topicOverride})
	if f.err != nil {
		return "", f.err
	}
	return "mid-1", nil
}

type sendCall struct {
	queue string
	body  string
	attrs Attributes
}

type fakeQueue struct {
	mu          sync.Mutex
	messages    []RawMessage
	receiveErr  error
	deleteErr   error
	sendErr     error
	failReceipt map[string]DeleteFailure
	batches     [][]DeleteEntry
	sends       []sendCall
	lastMax     int
	lastWait    int
}

func (f *fakeQueue) Receive(_ context.Context, _ string, maxMessages int, waitSeconds int) ([]RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMax, f.lastWait = maxMessages, waitSeconds
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return f.messages, nil
}

func (f *fakeQueue) DeleteBatch(_ context.Context, _ string, entries []DeleteEntry) ([]DeleteFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, entries)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	var failures []DeleteFailure
	for _, e := range entries {
		if fail, ok := f.failReceipt[e.ReceiptHandle]; ok {
			fail.ID = e.ID
			failures = append(failures, fail)
		}
	}
	return failures, nil
}

func (f *fakeQueue) Send(_ context.Context, queue string, body string, attrs Attributes) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{queue, body, attrs})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "dlq-1", nil
}

func (f *fakeQueue) deletedReceipts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.batches {
		for _, e := range b {
			if _, failed := f.failReceipt[e.ReceiptHandle]; !failed {
				out = append(out, e.ReceiptHandle)
			}
		}
	}
	return out
}

// processorFunc adapts a function to MessageProcessor.
type processorFunc func(ctx context.Context, msg RawMessage, queue string) error

func (f processorFunc) Process(ctx context.Context, msg RawMessage, queue string) error {
	return f(ctx, msg, queue)
}

var errBoom = errors.New("boom")

func messages(n int) []RawMessage {
	out := make([]RawMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RawMessage{
			ID:            fmt.Sprintf("m%d", i),
			ReceiptHandle: fmt.Sprintf("r%d", i),
			Body:          fmt.Sprintf(`{"n":%d}`, i),
		})
	}
	return out
}
