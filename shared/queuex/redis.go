package queuex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"clever-events/shared/events"
)

const redisKeyPrefix = "clever-events:queue:"

// Expired in-flight messages go back to the head of the ready list and
// lose their receipt.
var requeueScript = redis.NewScript(`
local ids = redis.call("zrangebyscore", KEYS[2], "-inf", ARGV[2])
for i = #ids, 1, -1 do
	local id = ids[i]
	redis.call("zrem", KEYS[2], id)
	redis.call("hdel", ARGV[1] .. id, "receipt")
	redis.call("lpush", KEYS[1], id)
end
return #ids
`)

var receiveScript = redis.NewScript(`
local max = tonumber(ARGV[2])
local out = {}
for i = 1, max do
	local id = redis.call("lpop", KEYS[1])
	if not id then
		break
	end
	local key = ARGV[1] .. id
	if redis.call("exists", key) == 1 then
		local token = ARGV[3 + i]
		local count = redis.call("hincrby", key, "receive_count", 1)
		redis.call("hset", key, "receipt", token)
		redis.call("zadd", KEYS[2], ARGV[3], id)
		local f = redis.call("hmget", key, "body", "attributes", "sent_at")
		table.insert(out, {id, token, f[1] or "", f[2] or "", tostring(count), f[3] or ""})
	end
end
return out
`)

var deleteScript = redis.NewScript(`
local key = ARGV[1] .. ARGV[2]
if redis.call("hget", key, "receipt") ~= ARGV[3] then
	return 0
end
redis.call("zrem", KEYS[1], ARGV[2])
redis.call("del", key)
return 1
`)

// RedisQueue is a visibility-timeout queue on plain Redis structures: a
// ready list, an in-flight sorted set scored by visibility deadline, and
// one hash per message. Receipt handles are "<id>:<token>" and change on
// every delivery.
type RedisQueue struct {
	client     redis.UniversalClient
	visibility time.Duration
	poll       time.Duration
	now        func() time.Time
	newToken   func() string
}

func NewRedisQueue(client redis.UniversalClient, visibility time.Duration) *RedisQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:     client,
		visibility: visibility,
		poll:       200 * time.Millisecond,
		now:        time.Now,
		newToken:   uuid.NewString,
	}
}

func readyKey(queue string) string    { return redisKeyPrefix + queue + ":ready" }
func inflightKey(queue string) string { return redisKeyPrefix + queue + ":inflight" }
func messagePrefix(queue string) string {
	return redisKeyPrefix + queue + ":msg:"
}

func (q *RedisQueue) Send(ctx context.Context, queue string, body string, attrs events.Attributes) (string, error) {
	if q == nil || q.client == nil {
		return "", errors.New("redis client not initialized")
	}
	rawAttrs, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(attrs)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, messagePrefix(queue)+id, map[string]any{
		"body":          body,
		"attributes":    rawAttrs,
		"receive_count": 0,
		"sent_at":       strconv.FormatInt(q.now().UnixMilli(), 10),
	})
	pipe.RPush(ctx, readyKey(queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// Receive emulates long polling: with waitSeconds > 0 it polls until a
// message arrives, the wait elapses, or ctx is done.
func (q *RedisQueue) Receive(ctx context.Context, queue string, maxMessages int, waitSeconds int) ([]events.RawMessage, error) {
	if q == nil || q.client == nil {
		return nil, errors.New("redis client not initialized")
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)
	for {
		msgs, err := q.receiveOnce(ctx, queue, maxMessages)
		if err != nil || len(msgs) > 0 || waitSeconds <= 0 || !time.Now().Before(deadline) {
			return msgs, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

func (q *RedisQueue) receiveOnce(ctx context.Context, queue string, maxMessages int) ([]events.RawMessage, error) {
	now := q.now()
	keys := []string{readyKey(queue), inflightKey(queue)}
	if err := requeueScript.Run(ctx, q.client, keys, messagePrefix(queue), now.UnixMilli()).Err(); err != nil {
		return nil, err
	}

	args := make([]any, 0, 3+maxMessages)
	args = append(args, messagePrefix(queue), maxMessages, now.Add(q.visibility).UnixMilli())
	for i := 0; i < maxMessages; i++ {
		args = append(args, q.newToken())
	}
	res, err := receiveScript.Run(ctx, q.client, keys, args...).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	msgs := make([]events.RawMessage, 0, len(res))
	for _, row := range res {
		fields, ok := row.([]any)
		if !ok || len(fields) != 6 {
			return nil, fmt.Errorf("unexpected receive row %v", row)
		}
		s := make([]string, len(fields))
		for i, f := range fields {
			s[i], _ = f.(string)
		}
		msg := events.RawMessage{
			ID:            s[0],
			ReceiptHandle: s[0] + ":" + s[1],
			Body:          s[2],
			SystemAttributes: map[string]string{
				events.AttrApproximateReceiveCount: s[4],
				"SentTimestamp":                    s[5],
			},
		}
		if s[3] != "" && s[3] != "null" {
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(s[3], &msg.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes of %s: %w", msg.ID, err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *RedisQueue) DeleteBatch(ctx context.Context, queue string, entries []events.DeleteEntry) ([]events.DeleteFailure, error) {
	if q == nil || q.client == nil {
		return nil, errors.New("redis client not initialized")
	}
	var failures []events.DeleteFailure
	for _, e := range entries {
		ok, err := q.delete(ctx, queue, e.ReceiptHandle)
		if err != nil {
			failures = append(failures, events.DeleteFailure{ID: e.ID, Code: "InternalError", Message: err.Error()})
			continue
		}
		if !ok {
			failures = append(failures, events.DeleteFailure{ID: e.ID, Code: CodeReceiptHandleIsInvalid, Message: "receipt handle is invalid or expired"})
		}
	}
	return failures, nil
}

func (q *RedisQueue) Delete(ctx context.Context, queue string, receiptHandle string) (bool, error) {
	if q == nil || q.client == nil {
		return false, fmt.Errorf("%w: redis client not initialized", events.ErrTransport)
	}
	ok, err := q.delete(ctx, queue, receiptHandle)
	if err != nil {
		return false, fmt.Errorf("%w: %s", events.ErrTransport, err.Error())
	}
	return ok, nil
}

func (q *RedisQueue) delete(ctx context.Context, queue string, receiptHandle string) (bool, error) {
	id, token, ok := strings.Cut(receiptHandle, ":")
	if !ok || id == "" || token == "" {
		return false, nil
	}
	n, err := deleteScript.Run(ctx, q.client, []string{inflightKey(queue)}, messagePrefix(queue), id, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Depth reports ready and in-flight counts.
func (q *RedisQueue) Depth(ctx context.Context, queue string) (ready int64, inflight int64, err error) {
	pipe := q.client.Pipeline()
	r := pipe.LLen(ctx, readyKey(queue))
	f := pipe.ZCard(ctx, inflightKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return r.Val(), f.Val(), nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
