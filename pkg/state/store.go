package state

import (
	sfredis "github.com/ethpandaops/sfbulk/pkg/redis"
	"github.com/sirupsen/logrus"
)

// New opens the configured backend for key
func New(log logrus.FieldLogger, cfg *Config, key string) (Store, error) {
	if cfg.Backend != BackendRedis {
		return NewFileStore(log, cfg.Path, cfg.LockTTL), nil
	}

	client, err := sfredis.NewClient(&cfg.Redis)
	if err != nil {
		return nil, invalid("state.redis.url", err)
	}

	return NewRedisStore(
		log,
		client,
		cfg.Redis.PrefixKey("watermark:"+key),
		cfg.Redis.PrefixKey("lock:"+key),
		cfg.LockTTL,
	), nil
}
