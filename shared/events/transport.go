package events

import "context"

const (
	DataTypeString = "String"
	DataTypeNumber = "Number"

	// AttrApproximateReceiveCount is the transport-supplied system attribute
	// carrying how many times a message has been received.
	AttrApproximateReceiveCount = "ApproximateReceiveCount"

	// MaxDeleteBatch is the transport limit on entries per batch delete.
	MaxDeleteBatch = 10
)

// AttributeValue is a typed message attribute. Numbers travel as strings.
type AttributeValue struct {
	DataType    string `json:"data_type"`
	StringValue string `json:"string_value"`
}

func StringAttribute(v string) AttributeValue {
	return AttributeValue{DataType: DataTypeString, StringValue: v}
}

func NumberAttribute(v string) AttributeValue {
	return AttributeValue{DataType: DataTypeNumber, StringValue: v}
}

type Attributes map[string]AttributeValue

// PublishInput is one call to a topic transport. MessageGroupID and
// MessageDeduplicationID are only set for FIFO topics. PartitionKey is
// always the entity's group id; transports that shard by key use it.
type PublishInput struct {
	Topic                  string
	Payload                []byte
	Subject                string
	Attributes             Attributes
	PartitionKey           string
	MessageGroupID         string
	MessageDeduplicationID string
}

type TopicPublisher interface {
	Publish(ctx context.Context, in PublishInput) (string, error)
}

// RawMessage is a transport-delivered envelope. SystemAttributes carries
// transport metadata such as ApproximateReceiveCount; Attributes carries
// the sender's message attributes.
type RawMessage struct {
	ID               string
	ReceiptHandle    string
	Body             string
	SystemAttributes map[string]string
	Attributes       Attributes
}

type DeleteEntry struct {
	ID            string
	ReceiptHandle string
}

type DeleteFailure struct {
	ID      string
	Code    string
	Message string
}

type QueueClient interface {
	Receive(ctx context.Context, queue string, maxMessages int, waitSeconds int) ([]RawMessage, error)
	DeleteBatch(ctx context.Context, queue string, entries []DeleteEntry) ([]DeleteFailure, error)
	Send(ctx context.Context, queue string, body string, attrs Attributes) (string, error)
}
