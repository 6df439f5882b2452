package queuex

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"

	"clever-events/shared/dbx"
	"clever-events/shared/events"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS queue_messages (
	id            uuid PRIMARY KEY,
	queue         text NOT NULL,
	body          text NOT NULL,
	attributes    jsonb NOT NULL DEFAULT '{}'::jsonb,
	receive_count integer NOT NULL DEFAULT 0,
	receipt       uuid,
	visible_at    timestamptz NOT NULL DEFAULT now(),
	sent_at       timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS queue_messages_visible_idx ON queue_messages (queue, visible_at);
`

// PostgresQueue stores messages in one table. Receiving claims rows with
// FOR UPDATE SKIP LOCKED, so concurrent drainers never share a delivery.
type PostgresQueue struct {
	db         dbx.DB
	visibility time.Duration
	poll       time.Duration
}

func NewPostgresQueue(db dbx.DB, visibility time.Duration) *PostgresQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &PostgresQueue{db: db, visibility: visibility, poll: 500 * time.Millisecond}
}

func (q *PostgresQueue) EnsureSchema(ctx context.Context) error {
	_, err := q.db.Exec(ctx, schemaSQL)
	return err
}

func (q *PostgresQueue) Send(ctx context.Context, queue string, body string, attrs events.Attributes) (string, error) {
	if attrs == nil {
		attrs = events.Attributes{}
	}
	rawAttrs, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(attrs)
	if err != nil {
		return "", err
	}
	id := uuid.New()
	_, err = q.db.Exec(ctx, `
		INSERT INTO queue_messages (id, queue, body, attributes)
		VALUES ($1, $2, $3, $4::jsonb)
	`, id, queue, body, rawAttrs)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (q *PostgresQueue) Receive(ctx context.Context, queue string, maxMessages int, waitSeconds int) ([]events.RawMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)
	for {
		msgs, err := q.claim(ctx, queue, maxMessages)
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

type claimedRow struct {
	msg    events.RawMessage
	sentAt time.Time
}

func (q *PostgresQueue) claim(ctx context.Context, queue string, limit int) ([]events.RawMessage, error) {
	rows, err := q.db.Query(ctx, `
		WITH candidates AS (
			SELECT id
			FROM queue_messages
			WHERE queue = $1 AND visible_at <= now()
			ORDER BY sent_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE queue_messages m
		SET receive_count = m.receive_count + 1,
			receipt = gen_random_uuid(),
			visible_at = now() + make_interval(secs => $3)
		FROM candidates c
		WHERE m.id = c.id
		RETURNING m.id::text, m.receipt::text, m.body, m.attributes, m.receive_count, m.sent_at
	`, queue, limit, q.visibility.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claimed := make([]claimedRow, 0, limit)
	for rows.Next() {
		var (
			id, receipt, body string
			rawAttrs          []byte
			count             int
			sentAt            time.Time
		)
		if err := rows.Scan(&id, &receipt, &body, &rawAttrs, &count, &sentAt); err != nil {
			return nil, err
		}
		msg := events.RawMessage{
			ID:            id,
			ReceiptHandle: id + ":" + receipt,
			Body:          body,
			SystemAttributes: map[string]string{
				events.AttrApproximateReceiveCount: strconv.Itoa(count),
				"SentTimestamp":                    strconv.FormatInt(sentAt.UnixMilli(), 10),
			},
		}
		if len(rawAttrs) > 0 {
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(rawAttrs, &msg.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes of %s: %w", id, err)
			}
		}
		claimed = append(claimed, claimedRow{msg: msg, sentAt: sentAt})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not preserve the candidate order.
	sort.SliceStable(claimed, func(i, j int) bool { return claimed[i].sentAt.Before(claimed[j].sentAt) })
	msgs := make([]events.RawMessage, 0, len(claimed))
	for _, c := range claimed {
		msgs = append(msgs, c.msg)
	}
	return msgs, nil
}

func (q *PostgresQueue) DeleteBatch(ctx context.Context, queue string, entries []events.DeleteEntry) ([]events.DeleteFailure, error) {
	var failures []events.DeleteFailure
	batch := &pgx.Batch{}
	queued := make([]events.DeleteEntry, 0, len(entries))
	for _, e := range entries {
		id, receipt, ok := parsePostgresReceipt(e.ReceiptHandle)
		if !ok {
			failures = append(failures, invalidReceipt(e.ID))
			continue
		}
		batch.Queue(`DELETE FROM queue_messages WHERE queue = $1 AND id = $2 AND receipt = $3`, queue, id, receipt)
		queued = append(queued, e)
	}
	if len(queued) == 0 {
		return failures, nil
	}

	results := q.db.SendBatch(ctx, batch)
	defer results.Close()
	for _, e := range queued {
		tag, err := results.Exec()
		if err != nil {
			failures = append(failures, events.DeleteFailure{ID: e.ID, Code: "InternalError", Message: err.Error()})
			continue
		}
		if tag.RowsAffected() == 0 {
			failures = append(failures, invalidReceipt(e.ID))
		}
	}
	return failures, nil
}

func (q *PostgresQueue) Delete(ctx context.Context, queue string, receiptHandle string) (bool, error) {
	id, receipt, ok := parsePostgresReceipt(receiptHandle)
	if !ok {
		return false, nil
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM queue_messages WHERE queue = $1 AND id = $2 AND receipt = $3`, queue, id, receipt)
	if err != nil {
		return false, fmt.Errorf("%w: %s", events.ErrTransport, err.Error())
	}
	return tag.RowsAffected() == 1, nil
}

func (q *PostgresQueue) Ping(ctx context.Context) error {
	return dbx.Ping(ctx, q.db)
}

func parsePostgresReceipt(handle string) (uuid.UUID, uuid.UUID, bool) {
	rawID, rawReceipt, ok := strings.Cut(handle, ":")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	receipt, err := uuid.Parse(rawReceipt)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return id, receipt, true
}

func invalidReceipt(id string) events.DeleteFailure {
	return events.DeleteFailure{ID: id, Code: CodeReceiptHandleIsInvalid, Message: "receipt handle is invalid or expired"}
}
