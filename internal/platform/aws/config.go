// Package aws carries the engine's AWS integration: SDK configuration and an
// SNS client hardened with retry and circuit breaking for the transition
// event stream.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Config selects the AWS environment. Credentials come from the default
// chain: environment, shared config, then instance or task roles.
type Config struct {
	Region string
}

// LoadAWSConfig resolves SDK configuration for the given region.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
}
