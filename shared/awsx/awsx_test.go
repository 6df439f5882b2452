package awsx

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clever-events/shared/config"
)

func TestLoadAppliesRegionCredentialsAndEndpoint(t *testing.T) {
	awsCfg, err := Load(context.Background(), config.Config{
		AWSRegion:          "eu-central-1",
		AWSAccessKeyID:     "AKIDEXAMPLE",
		AWSSecretAccessKey: "secret",
		AWSEndpointURL:     "http://localhost:4566",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", awsCfg.Region)
	assert.Equal(t, "http://localhost:4566", aws.ToString(awsCfg.BaseEndpoint))

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
}

func TestLoadOptionsDefaultsRegion(t *testing.T) {
	assert.Len(t, LoadOptions(config.Config{}), 1)
	assert.Len(t, LoadOptions(config.Config{AWSAccessKeyID: "a"}), 1)
	assert.Len(t, LoadOptions(config.Config{AWSAccessKeyID: "a", AWSSecretAccessKey: "b"}), 2)
}
