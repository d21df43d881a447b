package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FileStore keeps the watermark in a JSON file
type FileStore struct {
	log     logrus.FieldLogger
	path    string
	lockTTL time.Duration
}

// NewFileStore creates a store backed by path
func NewFileStore(log logrus.FieldLogger, path string, lockTTL time.Duration) *FileStore {
	return &FileStore{
		log:     log.WithField("component", "state"),
		path:    path,
		lockTTL: lockTTL,
	}
}

// Read implements Store
func (s *FileStore) Read(_ context.Context) (*Watermark, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.WithField("path", s.path).Info("No state found, starting from the default watermark")
		return defaultWatermark(), nil
	}

	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, "state.read", err)
	}

	if strings.TrimSpace(string(data)) == "" {
		return defaultWatermark(), nil
	}

	var w Watermark
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, failure.Wrap(failure.KindPermanent, "state.read", fmt.Errorf("%s is not valid JSON: %w", s.path, err))
	}

	if w.LastRun == "" {
		w.LastRun = DefaultLastRun
	}

	return &w, nil
}

// Write implements Store. The file is replaced atomically.
func (s *FileStore) Write(_ context.Context, w *Watermark) error {
	data, err := json.Marshal(w)
	if err != nil {
		return failure.Wrap(failure.KindInternal, "state.write", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failure.Wrap(failure.KindInternal, "state.write", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return failure.Wrap(failure.KindInternal, "state.write", err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return failure.Wrap(failure.KindInternal, "state.write", err)
	}

	if err := tmp.Close(); err != nil {
		return failure.Wrap(failure.KindInternal, "state.write", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return failure.Wrap(failure.KindInternal, "state.write", err)
	}

	return nil
}

// Lock implements Store with a lock file next to the state file. A lock
// file older than the lock TTL is considered abandoned and taken over.
func (s *FileStore) Lock(_ context.Context) (Lock, error) {
	path := s.path + ".lock"
	token := uuid.New().String()

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := f.WriteString(token)
			cerr := f.Close()

			if err := errors.Join(werr, cerr); err != nil {
				_ = os.Remove(path)
				return nil, failure.Wrap(failure.KindInternal, "state.lock", err)
			}

			return &fileLock{path: path, token: token}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, failure.Wrap(failure.KindInternal, "state.lock", err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < s.lockTTL {
			break
		}

		s.log.WithField("path", path).Warn("Removing abandoned lock file")

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, failure.Wrap(failure.KindInternal, "state.lock", err)
		}
	}

	return nil, failure.Wrap(failure.KindTransient, "state.lock", fmt.Errorf("%w: %s", ErrLocked, path))
}

// Close implements Store
func (s *FileStore) Close() error {
	return nil
}

type fileLock struct {
	path  string
	token string
}

func (l *fileLock) Release(_ context.Context) error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	if string(data) != l.token {
		return nil
	}

	return os.Remove(l.path)
}
