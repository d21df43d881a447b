package publish

import (
	"errors"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/retry"
)

// Define static errors
var (
	ErrBucketRequired      = errors.New("bucket is required")
	ErrCredentialsRequired = errors.New("access key id and secret access key are required")
)

// Config holds S3 publishing configuration
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint of an S3-compatible service; empty means AWS
	Endpoint        string       `yaml:"endpoint"`
	Region          string       `yaml:"region" default:"us-east-1"`
	Bucket          string       `yaml:"bucket"`
	Prefix          string       `yaml:"prefix" default:"sfbulk"`
	AccessKeyID     string       `yaml:"accessKeyId"`
	SecretAccessKey string       `yaml:"secretAccessKey"`
	UsePathStyle    bool         `yaml:"usePathStyle" default:"true"`
	Retry           retry.Policy `yaml:"retry"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Bucket == "" {
		return &failure.Error{Kind: failure.KindValidation, Op: "publish.bucket", Err: ErrBucketRequired}
	}

	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return &failure.Error{Kind: failure.KindValidation, Op: "publish.accessKeyId", Err: ErrCredentialsRequired}
	}

	if err := c.Retry.Validate(); err != nil {
		return &failure.Error{Kind: failure.KindValidation, Op: "publish.retry", Err: err}
	}

	return nil
}
