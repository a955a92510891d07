package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"valuesweep/internal/model"
)

// ErrLockHeld is returned when another live owner holds a job lock.
var ErrLockHeld = errors.New("job lock held")

// AcquireLock takes the advisory lock for kind for ttl. A lock whose expiry
// has passed is taken over.
func (s *Store) AcquireLock(ctx context.Context, kind model.JobKind, ttl time.Duration) (model.JobLock, error) {
	now := s.now()
	lock := model.JobLock{
		Kind:       kind,
		Owner:      uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	err := s.do(ctx, "acquire lock", func() error {
		return s.update(func(tx *badger.Txn) error {
			var held model.JobLock
			err := s.store.TxGet(tx, string(kind), &held)
			switch {
			case err == nil && !held.Expired(now):
				return fmt.Errorf("%s lock owned by %s until %s: %w",
					kind, held.Owner, held.ExpiresAt.Format(time.RFC3339), ErrLockHeld)
			case err != nil && !notFound(err):
				return err
			}
			if err == nil {
				s.logger.Warn("taking over expired job lock",
					"kind", kind, "previous_owner", held.Owner, "expired_at", held.ExpiresAt)
			}
			return s.store.TxUpsert(tx, string(kind), &lock)
		})
	})
	if err != nil {
		return model.JobLock{}, err
	}
	return lock, nil
}

// ReleaseLock removes lock if it is still owned by lock.Owner.
func (s *Store) ReleaseLock(ctx context.Context, lock model.JobLock) error {
	return s.do(ctx, "release lock", func() error {
		return s.update(func(tx *badger.Txn) error {
			var held model.JobLock
			err := s.store.TxGet(tx, string(lock.Kind), &held)
			if notFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if held.Owner != lock.Owner {
				s.logger.Warn("job lock changed hands before release",
					"kind", lock.Kind, "owner", lock.Owner, "current_owner", held.Owner)
				return nil
			}
			return s.store.TxDelete(tx, string(lock.Kind), &model.JobLock{})
		})
	})
}
