package salesforce

import (
	"errors"
	"net/url"
	"regexp"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/retry"
)

// Static errors
var (
	ErrInvalidAPIVersion = errors.New("api version must look like 52.0")
	ErrInvalidProxy      = errors.New("proxy must be an http, https or socks5 URL")
	ErrInvalidRateLimit  = errors.New("rate limit must not be negative")
	ErrInvalidChunkSize  = errors.New("chunk size must be between 1 and 250000")
	ErrInvalidPoll       = errors.New("poll interval must be positive")
)

var apiVersionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// Config configures the remote client
type Config struct {
	APIVersion            string        `yaml:"apiVersion" default:"52.0"`
	Proxy                 string        `yaml:"proxy"`
	DialTimeout           time.Duration `yaml:"dialTimeout" default:"30s"`
	ResponseHeaderTimeout time.Duration `yaml:"responseHeaderTimeout" default:"5m"`
	RateLimit             float64       `yaml:"rateLimit" default:"10"`
	RateBurst             int           `yaml:"rateBurst" default:"5"`
	MaxReopens            int           `yaml:"maxReopens" default:"3"`
	Retry                 retry.Policy  `yaml:"retry"`
}

// Validate checks the client configuration
func (c *Config) Validate() error {
	if !apiVersionPattern.MatchString(c.APIVersion) {
		return invalid("salesforce.apiVersion", ErrInvalidAPIVersion)
	}

	if c.Proxy != "" {
		if _, err := ProxyURL(c.Proxy); err != nil {
			return invalid("salesforce.proxy", err)
		}
	}

	if c.RateLimit < 0 {
		return invalid("salesforce.rateLimit", ErrInvalidRateLimit)
	}

	if err := c.Retry.Validate(); err != nil {
		return invalid("salesforce.retry", err)
	}

	return nil
}

// BulkConfig configures job submission and polling
type BulkConfig struct {
	PollInterval     time.Duration  `yaml:"pollInterval" default:"10s"`
	MaxPolls         int            `yaml:"maxPolls" default:"8640"`
	Chunking         ChunkingConfig `yaml:"chunking"`
	DrainConcurrency int            `yaml:"drainConcurrency" default:"1"`
	FailOnBatchError bool           `yaml:"failOnBatchError"`
}

// ChunkingConfig enables server-side primary-key chunking
type ChunkingConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size" default:"100000"`
}

// Validate checks the bulk configuration
func (c *BulkConfig) Validate() error {
	if c.PollInterval <= 0 {
		return invalid("bulk.pollInterval", ErrInvalidPoll)
	}

	if c.Chunking.Enabled && (c.Chunking.Size < 1 || c.Chunking.Size > 250000) {
		return invalid("bulk.chunking.size", ErrInvalidChunkSize)
	}

	return nil
}

// ProxyURL parses a proxy URL
func ProxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrInvalidProxy
	}

	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, ErrInvalidProxy
	}

	if u.Host == "" {
		return nil, ErrInvalidProxy
	}

	return u, nil
}

func invalid(param string, err error) error {
	return &failure.Error{Kind: failure.KindValidation, Op: param, Err: err}
}
