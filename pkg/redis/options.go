package redis

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options parses the configured URL into client options
func (c *Config) Options() (*redis.Options, error) {
	opt, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return opt, nil
}

// NewClient creates a client for the configured URL
func NewClient(c *Config) (*redis.Client, error) {
	opt, err := c.Options()
	if err != nil {
		return nil, err
	}

	return redis.NewClient(opt), nil
}
