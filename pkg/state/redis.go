package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps the watermark in Redis so runs on different hosts share
// it. The run lock is a SET NX key holding a random token.
type RedisStore struct {
	log     logrus.FieldLogger
	client  *redis.Client
	key     string
	lockKey string
	lockTTL time.Duration
}

// NewRedisStore creates a store for the given fully prefixed keys
func NewRedisStore(log logrus.FieldLogger, client *redis.Client, key, lockKey string, lockTTL time.Duration) *RedisStore {
	return &RedisStore{
		log:     log.WithField("component", "state"),
		client:  client,
		key:     key,
		lockKey: lockKey,
		lockTTL: lockTTL,
	}
}

// Read implements Store
func (s *RedisStore) Read(ctx context.Context) (*Watermark, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.log.WithField("key", s.key).Info("No state found, starting from the default watermark")
			return defaultWatermark(), nil
		}

		return nil, failure.Wrap(failure.KindTransient, "state.read", err)
	}

	var w Watermark
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, failure.Wrap(failure.KindPermanent, "state.read", fmt.Errorf("%s is not valid JSON: %w", s.key, err))
	}

	if w.LastRun == "" {
		w.LastRun = DefaultLastRun
	}

	return &w, nil
}

// Write implements Store
func (s *RedisStore) Write(ctx context.Context, w *Watermark) error {
	data, err := json.Marshal(w)
	if err != nil {
		return failure.Wrap(failure.KindInternal, "state.write", err)
	}

	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return failure.Wrap(failure.KindTransient, "state.write", err)
	}

	return nil
}

// Lock implements Store
func (s *RedisStore) Lock(ctx context.Context) (Lock, error) {
	token := uuid.New().String()

	ok, err := s.client.SetNX(ctx, s.lockKey, token, s.lockTTL).Result()
	if err != nil {
		return nil, failure.Wrap(failure.KindTransient, "state.lock", err)
	}

	if !ok {
		owner, _ := s.client.Get(ctx, s.lockKey).Result()

		return nil, failure.Wrap(failure.KindTransient, "state.lock", fmt.Errorf("%w: %s held by %s", ErrLocked, s.lockKey, owner))
	}

	s.log.WithFields(logrus.Fields{
		"key": s.lockKey,
		"ttl": s.lockTTL,
	}).Debug("Acquired run lock")

	return &redisLock{client: s.client, key: s.lockKey, token: token}, nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
