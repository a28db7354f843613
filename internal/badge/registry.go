package badge

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/badgelink/internal/storage"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the deduplicated, insertion-ordered set of seen badge codes.
//
// It holds no cache: storage is the only copy, read on every access.
type Registry struct {
	store  storage.Store
	key    string
	mu     sync.Mutex // serialises read-modify-write cycles
	logger Logger
}

// NewRegistry creates a registry persisting under key in store.
func NewRegistry(store storage.Store, key string) *Registry {
	return &Registry{
		store:  store,
		key:    key,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Add appends code if it is not already present.
//
// It returns true after persisting a new code and false, with storage
// untouched, when the code is already known. Errors wrap ErrStorage or
// ErrEmptyCode; the registry is unchanged on error.
func (r *Registry) Add(ctx context.Context, code Code) (bool, error) {
	if code == "" {
		return false, ErrEmptyCode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	codes, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(codes, code) {
		return false, nil
	}

	codes = append(codes, code)
	if err := r.save(ctx, codes); err != nil {
		return false, err
	}

	r.logger.Debug("badge code added", "count", len(codes))
	return true, nil
}

// List returns all codes in the order they were first added.
//
// Storage that is absent, empty, unreadable or corrupt yields an empty
// list; the failure is logged, never returned.
func (r *Registry) List(ctx context.Context) []Code {
	codes, err := r.load(ctx)
	if err != nil {
		r.logger.Warn("badge code list unreadable, treating as empty", "key", r.key, "error", err)
		return []Code{}
	}
	return codes
}

// Contains reports whether code is in the registry.
func (r *Registry) Contains(ctx context.Context, code Code) bool {
	return slices.Contains(r.List(ctx), code)
}

// Count returns the number of codes in the registry.
func (r *Registry) Count(ctx context.Context) int {
	return len(r.List(ctx))
}

// Clear removes every code by deleting the persisted entry.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Remove(ctx, r.key); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	r.logger.Info("badge code list cleared")
	return nil
}

// load reads and parses the persisted list.
//
// Only a failing store is an error. A value that does not parse as a list
// of strings reads as empty, so the next Add replaces it.
func (r *Registry) load(ctx context.Context) ([]Code, error) {
	raw, ok, err := r.store.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !ok || raw == "" {
		return []Code{}, nil
	}

	var codes []Code
	if err := json.Unmarshal([]byte(raw), &codes); err != nil {
		r.logger.Warn("persisted badge code list is corrupt, treating as empty", "key", r.key, "error", err)
		return []Code{}, nil
	}
	if codes == nil {
		codes = []Code{}
	}
	return codes, nil
}

func (r *Registry) save(ctx context.Context, codes []Code) error {
	data, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrStorage, err)
	}
	if err := r.store.Set(ctx, r.key, string(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}
