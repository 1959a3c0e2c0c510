package aws

import (
	"context"
	"fmt"
	"os"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

const defaultRegion = "us-east-1"

// LoadAWSConfig loads AWS config from the environment. When AWS_ENDPOINT is set
// every client built from the returned config targets that URL (LocalStack).
// Static credentials are used when AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY are present.
func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secret, os.Getenv("AWS_SESSION_TOKEN")),
		))
	}

	if endpoint := os.Getenv("AWS_ENDPOINT"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

// ServiceEndpoint returns the per-service override AWS_<SERVICE>_ENDPOINT, if any.
// Used for clients that need a different URL than the shared AWS_ENDPOINT.
func ServiceEndpoint(service string) string {
	return os.Getenv("AWS_" + strings.ToUpper(service) + "_ENDPOINT")
}
