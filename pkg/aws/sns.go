package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSPublisher is a minimal interface for publishing messages to SNS.
// Attributes become SNS message attributes so subscription filter policies
// can route on them.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte, attributes map[string]string) error
}

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client SNSAPI
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{client: sns.NewFromConfig(cfg, func(o *sns.Options) {
		if ep := ServiceEndpoint("sns"); ep != "" {
			o.BaseEndpoint = sdkaws.String(ep)
		}
	})}
}

// NewSNSClientWithAPI wraps an existing SNS API implementation.
func NewSNSClientWithAPI(api SNSAPI) *SNSClient {
	return &SNSClient{client: api}
}

// Publish publishes a raw message to the given SNS topic ARN.
func (s *SNSClient) Publish(ctx context.Context, topicArn string, message []byte, attributes map[string]string) error {
	if topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}

	input := &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	}
	if len(attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attributes))
		for k, v := range attributes {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(v),
			}
		}
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}
