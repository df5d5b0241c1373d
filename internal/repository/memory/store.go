// Package memory contains the in-process ledger store.
package memory

import (
	"context"
	"sort"

	"github.com/gofrs/uuid/v5"
	"github.com/sasha-s/go-deadlock"

	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/keylock"
	"github.com/and161185/piggybank/internal/model"
)

// Store keeps ledgers in memory. Committed ledgers are never mutated in place:
// Update works on a clone and swaps it in, so readers see either the state
// before or after a call and never a partial one.
type Store struct {
	mu      deadlock.RWMutex
	ledgers map[uuid.UUID]*model.UserLedger
	keys    keylock.Table
}

// New constructs an empty store.
func New() *Store {
	return &Store{ledgers: make(map[uuid.UUID]*model.UserLedger)}
}

// Get returns a copy of the committed ledger.
func (s *Store) Get(_ context.Context, userID uuid.UUID) (*model.UserLedger, error) {
	s.mu.RLock()
	l, ok := s.ledgers[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrUserNotFound
	}
	return l.Clone(), nil
}

// Update applies fn to a copy of the ledger and commits it on success.
func (s *Store) Update(ctx context.Context, userID uuid.UUID, create bool, fn func(*model.UserLedger) error) error {
	unlock := s.keys.Lock(userID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	cur, ok := s.ledgers[userID]
	s.mu.RUnlock()

	var work *model.UserLedger
	switch {
	case ok:
		work = cur.Clone()
	case create:
		work = &model.UserLedger{UserID: userID}
	default:
		return errs.ErrUserNotFound
	}

	if err := fn(work); err != nil {
		return err
	}

	s.mu.Lock()
	s.ledgers[userID] = work
	s.mu.Unlock()
	return nil
}

// ListUserIDs returns all users in a stable order.
func (s *Store) ListUserIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0, len(s.ledgers))
	for id := range s.ledgers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}
