// Package storage is the durable store for instruments, valuation results and
// job locks, backed by badgerhold.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrTimeout is returned when an operation exceeds the store's timeout.
	ErrTimeout = errors.New("storage operation timed out")
)

const defaultOpTimeout = 5 * time.Second

// Options configures the store.
type Options struct {
	Path      string
	InMemory  bool
	OpTimeout time.Duration
}

// Store wraps a badgerhold store. Every public operation is bounded by the
// configured operation timeout.
type Store struct {
	store *badgerhold.Store
	// writeMu serialises read-write transactions. Jobs of different kinds
	// write the same instrument keys, and badger would otherwise abort the
	// later commit with ErrConflict.
	writeMu   sync.Mutex
	opTimeout time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Open opens (or creates) the database described by opts.
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}

	options := badgerhold.DefaultOptions
	// gob drops zero-valued fields, which would turn a present 0 into nil.
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal
	options.Logger = nil

	if opts.InMemory {
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
	} else {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		options.Dir = opts.Path
		options.ValueDir = opts.Path
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug("store opened", "path", opts.Path, "in_memory", opts.InMemory)

	return &Store{
		store:     store,
		opTimeout: opts.OpTimeout,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// do runs fn under the operation timeout. Badger calls cannot be interrupted,
// so on timeout fn keeps running in the background and its outcome is lost to
// the caller.
func (s *Store) do(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// update runs fn in a read-write transaction, one writer at a time.
func (s *Store) update(fn func(tx *badger.Txn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.Badger().Update(fn)
}

func notFound(err error) bool {
	return errors.Is(err, badgerhold.ErrNotFound)
}
