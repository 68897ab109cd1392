package stats

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// Store guards every read-then-write sequence against the repository with one coarse lock.
type Store struct {
	mu   sync.Mutex
	repo Repository
}

// NewStore wraps the repository in a store.
func NewStore(repo Repository) (*Store, error) {
	if repo == nil {
		return nil, eris.New("stats repository is required")
	}

	return &Store{repo: repo}, nil
}

// Locked runs fn while holding the store lock. The repository must not escape fn.
func (s *Store) Locked(ctx context.Context, fn func(repo Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "acquiring store")
	}

	return fn(s.repo)
}
