package awsx

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"clever-events/shared/config"
)

// LoadOptions turns the shared config into SDK load options. Static
// credentials are used only when both halves are present; otherwise the
// default credential chain applies.
func LoadOptions(cfg config.Config) []func(*awsconfig.LoadOptions) error {
	region := strings.TrimSpace(cfg.AWSRegion)
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return opts
}

// Load resolves the SDK config. AWS_ENDPOINT_URL, when set, overrides the
// endpoint of every client built from it (localstack).
func Load(ctx context.Context, cfg config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, LoadOptions(cfg)...)
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointURL); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}
	return awsCfg, nil
}
