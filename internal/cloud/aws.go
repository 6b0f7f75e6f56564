package cloud

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"ec2restore.io/ec2-restore-cli/internal/config"
)

// LoadAWSConfig resolves region and credentials for all service
// clients. Explicit key environment variables take precedence over the
// shared credential chain when configured.
func LoadAWSConfig(ctx context.Context, cfg *config.AWS) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyEnv != "" || cfg.SecretKeyEnv != "" {
		accessKey := os.Getenv(cfg.AccessKeyEnv)
		if accessKey == "" {
			return aws.Config{}, fmt.Errorf("access key environment variable %s is not set", cfg.AccessKeyEnv)
		}
		secretKey := os.Getenv(cfg.SecretKeyEnv)
		if secretKey == "" {
			return aws.Config{}, fmt.Errorf("secret key environment variable %s is not set", cfg.SecretKeyEnv)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return awscfg, nil
}
