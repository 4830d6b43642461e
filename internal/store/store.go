// Package store implements the self-healing key/value layer the progress engine persists through.
//
// Reads never fail: a missing, undecodable or invalid record is replaced by the caller's default,
// which is written back as the new baseline. Writes are best-effort and only logged on failure;
// Persist reports failures for the transitions that must not be acted on unless durable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	opRead   = "store.read"
	opLookup = "store.lookup"
	opWrite  = "store.write"
)

var noOpLogger = zap.NewNop()

// Validator is implemented by records that carry a minimal shape check.
type Validator interface {
	Validate() error
}

// Store wraps a Backend with JSON encoding and logging.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// New constructs a Store over backend. A nil logger discards output.
func New(backend Backend, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("store: backend is required")
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{backend: backend, logger: logger}, nil
}

// Read loads the record under key, falling back to (and persisting) defaultValue when the record
// is absent, corrupt or fails validation.
func Read[T any](ctx context.Context, s *Store, key string, defaultValue T) T {
	value, err := decode[T](ctx, s, key)
	switch {
	case err == nil:
		return value
	case errors.Is(err, ErrKeyNotFound):
		Write(ctx, s, key, defaultValue)
	case errors.Is(err, ErrCorruptState):
		s.logger.Warn("store record replaced with default",
			zap.String("operation", opRead),
			zap.String("key", key),
			zap.Error(err))
		Write(ctx, s, key, defaultValue)
	default:
		// Backend unavailable: serve the default without clobbering what may still be stored.
		s.logger.Error("store read failed",
			zap.String("operation", opRead),
			zap.String("key", key),
			zap.Error(err))
	}
	return defaultValue
}

// Lookup loads the record under key and reports whether a valid record exists.
// Unlike Read it never writes, for records that have no meaningful default.
func Lookup[T any](ctx context.Context, s *Store, key string) (T, bool) {
	value, err := decode[T](ctx, s, key)
	if err == nil {
		return value, true
	}
	if !errors.Is(err, ErrKeyNotFound) {
		s.logger.Warn("store lookup failed",
			zap.String("operation", opLookup),
			zap.String("key", key),
			zap.Error(err))
	}
	var zero T
	return zero, false
}

// Write encodes value and saves it under key. Failures are logged and swallowed.
func Write[T any](ctx context.Context, s *Store, key string, value T) {
	_ = Persist(ctx, s, key, value)
}

// Persist is Write for state transitions that gate a side effect: the failure is logged and also
// returned, so the caller can refuse to continue when the new state is not durable.
func Persist[T any](ctx context.Context, s *Store, key string, value T) error {
	reason, err := save(ctx, s, key, value)
	if err != nil {
		s.logger.Error("store write failed",
			zap.String("operation", opWrite),
			zap.String("key", key),
			zap.String("reason", reason),
			zap.Error(err))
	}
	return err
}

func save[T any](ctx context.Context, s *Store, key string, value T) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "empty_key", ErrEmptyKey
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return "encode_failed", fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := s.backend.Save(ctx, key, payload); err != nil {
		return "save_failed", fmt.Errorf("store: save %s: %w", key, err)
	}
	return "", nil
}

func decode[T any](ctx context.Context, s *Store, key string) (T, error) {
	var value T
	if strings.TrimSpace(key) == "" {
		return value, ErrEmptyKey
	}
	payload, err := s.backend.Load(ctx, key)
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := validate(&value); err != nil {
		return value, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return value, nil
}

func validate[T any](value *T) error {
	if checker, ok := any(*value).(Validator); ok {
		return checker.Validate()
	}
	if checker, ok := any(value).(Validator); ok {
		return checker.Validate()
	}
	return nil
}

// GamificationKey namespaces a user's experience record.
func GamificationKey(userID string) string {
	return "gamification:" + userID
}

// TimerKey namespaces a user's session timer.
func TimerKey(userID string) string {
	return "timer:" + userID
}

// TaskKey namespaces a homework record.
func TaskKey(taskID string) string {
	return "task:" + taskID
}

// OwnerTasksKey namespaces the list of task ids owned by a user.
func OwnerTasksKey(ownerID string) string {
	return "tasks:owner:" + ownerID
}
