package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
)

// TableAPI is the subset of the DynamoDB client needed to provision tables.
type TableAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// NewClientFromConfig accepts an AWS SDK config and returns a DynamoDB client.
// AWS_DYNAMODB_ENDPOINT overrides the endpoint for this client only.
func NewClientFromConfig(cfg sdkaws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if ep := awspkg.ServiceEndpoint("dynamodb"); ep != "" {
			o.BaseEndpoint = sdkaws.String(ep)
		}
	})
}

// EnsureTable creates the table described by input unless it already exists,
// then waits until it is ACTIVE.
func EnsureTable(ctx context.Context, api TableAPI, input *dynamodb.CreateTableInput) (created bool, err error) {
	_, err = api.CreateTable(ctx, input)
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return false, fmt.Errorf("create table %s: %w", sdkaws.ToString(input.TableName), err)
		}
	} else {
		created = true
	}

	for i := 0; i < 30; i++ {
		out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName})
		if err != nil {
			return created, fmt.Errorf("describe table %s: %w", sdkaws.ToString(input.TableName), err)
		}
		if out.Table != nil && out.Table.TableStatus == types.TableStatusActive {
			return created, nil
		}
		select {
		case <-ctx.Done():
			return created, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return created, fmt.Errorf("table %s did not become active", sdkaws.ToString(input.TableName))
}
