package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Tracker keeps the result of the most recent run
type Tracker interface {
	// Last returns the most recent result, or nil when nothing ran yet
	Last(ctx context.Context) (*extractor.Result, error)

	// Record replaces the most recent result
	Record(ctx context.Context, res *extractor.Result) error

	// Close releases resources held by the tracker
	Close() error
}

type memoryTracker struct {
	mu   sync.RWMutex
	last *extractor.Result
}

// NewMemoryTracker creates a tracker that forgets on restart
func NewMemoryTracker() Tracker {
	return &memoryTracker{}
}

func (m *memoryTracker) Last(_ context.Context) (*extractor.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.last, nil
}

func (m *memoryTracker) Record(_ context.Context, res *extractor.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = res

	return nil
}

func (m *memoryTracker) Close() error {
	return nil
}

type redisTracker struct {
	log   logrus.FieldLogger
	redis *redis.Client
	key   string
}

// NewRedisTracker creates a tracker shared by every instance using key.
// The tracker owns client.
func NewRedisTracker(log logrus.FieldLogger, client *redis.Client, key string) Tracker {
	return &redisTracker{
		log:   log.WithField("component", "run_tracker"),
		redis: client,
		key:   key,
	}
}

func (r *redisTracker) Last(ctx context.Context) (*extractor.Result, error) {
	val, err := r.redis.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.log.WithField("key", r.key).Debug("No run recorded yet")
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get last run %s: %w", r.key, err)
	}

	var res extractor.Result
	if err := json.Unmarshal(val, &res); err != nil {
		r.log.WithError(err).WithField("key", r.key).Error("Failed to parse recorded run")
		return nil, fmt.Errorf("failed to parse last run %s: %w", r.key, err)
	}

	return &res, nil
}

func (r *redisTracker) Record(ctx context.Context, res *extractor.Result) error {
	val, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", res.RunID, err)
	}

	if err := r.redis.Set(ctx, r.key, val, 0).Err(); err != nil {
		return fmt.Errorf("failed to record run %s: %w", res.RunID, err)
	}

	r.log.WithFields(logrus.Fields{
		"run_id": res.RunID,
		"key":    r.key,
	}).Debug("Recorded run")

	return nil
}

func (r *redisTracker) Close() error {
	if r.redis != nil {
		return r.redis.Close()
	}

	return nil
}

var (
	_ Tracker = (*memoryTracker)(nil)
	_ Tracker = (*redisTracker)(nil)
)
