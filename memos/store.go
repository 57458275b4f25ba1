// Package memos keeps the local copy of the on-chain memo ledger.
package memos

import (
	"context"
	"sync"
	"time"

	"github.com/vitwit/chai/contract"
	"github.com/vitwit/chai/logger"
	"github.com/vitwit/chai/metrics"
	"github.com/vitwit/chai/types"
)

// Binding yields the contract handle for the current signer, or nil.
type Binding interface {
	Current() contract.Contract
}

// Generations tags operations with the session generation they started under.
type Generations interface {
	Scope(ctx context.Context) (context.Context, context.CancelFunc, uint64)
	IsCurrent(gen uint64) bool
}

// Store caches the memo ledger. The cached list only ever changes by
// wholesale replacement with a fetched ledger, or by Reset.
type Store struct {
	binding Binding
	gens    Generations
	logger  logger.Logger
	metrics metrics.Recorder

	mu      sync.RWMutex
	memos   types.MemoList
	loaded  bool
	issued  uint64
	applied uint64
}

type Option func(*Store)

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = logger.Component(l, "memos")
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Store) {
		s.metrics = metrics.OrNoop(r)
	}
}

func NewStore(binding Binding, gens Generations, opts ...Option) *Store {
	s := &Store{
		binding: binding,
		gens:    gens,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh fetches the whole ledger and replaces the cache with it. On error
// the cache keeps its last good value. A result that arrives after the
// session generation moved on, or after a newer refresh was applied, is
// dropped and reported as STALE_RESULT.
func (s *Store) Refresh(ctx context.Context) error {
	start := time.Now()

	opCtx, done, gen := s.gens.Scope(ctx)
	defer done()

	c := s.binding.Current()
	if c == nil {
		return types.NewError(types.ErrContractUnbound, "contract not bound", nil)
	}

	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	list, err := c.ListMemos(opCtx)

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logger.With(map[string]any{"generation": gen})

	if !s.gens.IsCurrent(gen) || seq <= s.applied {
		metrics.Track(s.metrics, metrics.EventRefresh, start, metrics.OutcomeStale)
		log.Debug("Discarding stale memo list", map[string]any{"seq": seq})
		return types.NewError(types.ErrStaleResult, "memo list superseded", err)
	}

	if err != nil {
		metrics.Track(s.metrics, metrics.EventRefresh, start, metrics.OutcomeError)
		log.Warn("Failed to fetch memos", map[string]any{"error": err.Error()})
		return types.NewError(types.ErrFetch, "failed to fetch memos", err)
	}

	s.memos = list.Clone()
	s.loaded = true
	s.applied = seq

	metrics.Track(s.metrics, metrics.EventRefresh, start, metrics.OutcomeOK)
	log.Debug("Memo list refreshed", map[string]any{"count": len(list)})
	return nil
}

// Memos returns a copy of the cached ledger, oldest first.
func (s *Store) Memos() types.MemoList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memos.Clone()
}

// Loaded reports whether any fetch has succeeded since the last Reset.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Reset empties the cache.
func (s *Store) Reset() {
	s.mu.Lock()
	s.memos = nil
	s.loaded = false
	s.applied = s.issued
	s.mu.Unlock()
}
