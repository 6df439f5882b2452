package mqx

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"clever-events/shared/events"
)

const maxSubjectLen = 100

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes to SNS topics addressed by ARN.
type SNSPublisher struct {
	client snsAPI
}

func NewSNSPublisher(awsCfg aws.Config) *SNSPublisher {
	return &SNSPublisher{client: sns.NewFromConfig(awsCfg)}
}

func (p *SNSPublisher) Publish(ctx context.Context, in events.PublishInput) (string, error) {
	if p == nil || p.client == nil {
		return "", errors.New("sns publisher not initialized")
	}
	ctx, span := otel.Tracer("mqx").Start(ctx, "sns.publish")
	span.SetAttributes(
		attribute.String("messaging.system", "sns"),
		attribute.String("messaging.destination", in.Topic),
	)
	defer span.End()

	out, err := p.client.Publish(ctx, snsInput(in))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func snsInput(in events.PublishInput) *sns.PublishInput {
	params := &sns.PublishInput{
		TopicArn:          aws.String(in.Topic),
		Message:           aws.String(string(in.Payload)),
		MessageAttributes: snsAttributes(in.Attributes),
	}
	if subject := snsSubject(in.Subject); subject != "" {
		params.Subject = aws.String(subject)
	}
	if in.MessageGroupID != "" {
		params.MessageGroupId = aws.String(in.MessageGroupID)
	}
	if in.MessageDeduplicationID != "" {
		params.MessageDeduplicationId = aws.String(in.MessageDeduplicationID)
	}
	return params
}

// snsSubject cuts the subject to the SNS limit on a rune boundary.
func snsSubject(subject string) string {
	if len(subject) <= maxSubjectLen {
		return subject
	}
	cut := 0
	for i := range subject {
		if i > maxSubjectLen {
			break
		}
		cut = i
	}
	return subject[:cut]
}

func snsAttributes(attrs events.Attributes) map[string]types.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		dataType := v.DataType
		if dataType == "" {
			dataType = events.DataTypeString
		}
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String(dataType),
			StringValue: aws.String(v.StringValue),
		}
	}
	return out
}
