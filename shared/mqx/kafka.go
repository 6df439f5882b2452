package mqx

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"clever-events/shared/config"
	"clever-events/shared/events"
)

const (
	HeaderMessageID = "message_id"
	HeaderDedupID   = "deduplication_id"
	HeaderSubject   = "subject"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher treats the topic name as a Kafka topic. The partition key
// becomes the message key so one entity's events stay on one partition.
type KafkaPublisher struct {
	writer kafkaWriter
	newID  func() string
}

func NewKafkaPublisher(cfg config.Config) (*KafkaPublisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
		MaxAttempts:            max(cfg.KafkaRetryMax, 1),
		WriteTimeout:           time.Duration(cfg.KafkaWriteMS) * time.Millisecond,
		Transport: &kafka.Transport{
			ClientID: cfg.KafkaClientID,
		},
	}
	return &KafkaPublisher{writer: w, newID: uuid.NewString}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, in events.PublishInput) (string, error) {
	if p == nil || p.writer == nil {
		return "", errors.New("producer not initialized")
	}
	ctx, span := otel.Tracer("mqx").Start(ctx, "kafka.produce")
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", in.Topic),
	)
	defer span.End()

	id := p.newID()
	msg := kafka.Message{
		Topic:   in.Topic,
		Value:   in.Payload,
		Headers: kafkaHeaders(id, in),
	}
	if key := partitionKey(in); key != "" {
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return id, nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// kafkaHeaders emits attributes in key order so identical publishes produce
// identical records.
func kafkaHeaders(id string, in events.PublishInput) []kafka.Header {
	headers := make([]kafka.Header, 0, len(in.Attributes)+3)
	headers = append(headers, kafka.Header{Key: HeaderMessageID, Value: []byte(id)})
	if in.Subject != "" {
		headers = append(headers, kafka.Header{Key: HeaderSubject, Value: []byte(in.Subject)})
	}
	if in.MessageDeduplicationID != "" {
		headers = append(headers, kafka.Header{Key: HeaderDedupID, Value: []byte(in.MessageDeduplicationID)})
	}
	keys := make([]string, 0, len(in.Attributes))
	for k := range in.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(in.Attributes[k].StringValue)})
	}
	return headers
}

func partitionKey(in events.PublishInput) string {
	if in.PartitionKey != "" {
		return in.PartitionKey
	}
	return in.MessageGroupID
}
