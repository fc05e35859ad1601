package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"swaprouter/internal/model"
)

// GlobalKey is the breaker consulted before every pair.
const GlobalKey = "global"

// Breaker types recorded on trips.
const (
	TypePriceImpact  = "price_impact"
	TypeRevertStreak = "revert_streak"
)

// BreakerState is the open/closed flag of one breaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerEntry is a point-in-time view of one breaker.
type BreakerEntry struct {
	Key       string        `json:"key"`
	Type      string        `json:"type,omitempty"`
	State     string        `json:"state"`
	TrippedAt time.Time     `json:"tripped_at,omitempty"`
	Cooldown  time.Duration `json:"cooldown"`
	Condition string        `json:"condition,omitempty"`
	Trips     int           `json:"trips"`
}

type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	kind      string
	trippedAt time.Time
	cooldown  time.Duration
	condition string
	trips     int
}

// BreakerStore holds process-wide breaker state keyed by pair key plus the
// global key. Mutations are serialized per key.
type BreakerStore struct {
	cooldown    time.Duration
	revertLimit int
	now         func() time.Time
	logger      *zap.Logger

	mu      sync.Mutex
	entries map[string]*breaker

	revertMu sync.Mutex
	reverts  int
}

// NewBreakerStore creates an empty store. A revertLimit of zero disables
// the revert-streak trip of the global breaker.
func NewBreakerStore(cooldown time.Duration, revertLimit int, logger *zap.Logger) *BreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerStore{
		cooldown:    cooldown,
		revertLimit: revertLimit,
		now:         time.Now,
		logger:      logger,
		entries:     make(map[string]*breaker),
	}
}

func (s *BreakerStore) entry(key string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.entries[key]
	if !ok {
		b = &breaker{}
		s.entries[key] = b
	}
	return b
}

// Allow returns ErrBreakerOpen while the global or key breaker is open. An
// open breaker whose cooldown has elapsed is closed on the way.
func (s *BreakerStore) Allow(key string) error {
	if err := s.allowKey(GlobalKey); err != nil {
		return err
	}
	if key == GlobalKey {
		return nil
	}
	return s.allowKey(key)
}

func (s *BreakerStore) allowKey(key string) error {
	b := s.entry(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerClosed {
		return nil
	}
	now := s.now()
	reopenAt := b.trippedAt.Add(b.cooldown)
	if !now.Before(reopenAt) {
		b.state = BreakerClosed
		s.logger.Info("circuit breaker closed",
			zap.String("key", key),
			zap.String("type", b.kind),
			zap.Duration("open_for", now.Sub(b.trippedAt)),
		)
		return nil
	}
	return fmt.Errorf("%s %s for another %s: %w", b.kind, key, reopenAt.Sub(now).Round(time.Second), model.ErrBreakerOpen)
}

// Trip opens the breaker for key for the store's cooldown.
func (s *BreakerStore) Trip(key, kind, condition string) BreakerEntry {
	b := s.entry(key)
	b.mu.Lock()
	b.state = BreakerOpen
	b.kind = kind
	b.trippedAt = s.now()
	b.cooldown = s.cooldown
	b.condition = condition
	b.trips++
	view := b.view(key)
	b.mu.Unlock()

	s.logger.Warn("circuit breaker tripped",
		zap.String("key", key),
		zap.String("type", kind),
		zap.String("condition", condition),
		zap.Duration("cooldown", s.cooldown),
	)
	return view
}

// RecordRevert counts a consecutive on-chain revert and trips the global
// breaker when the streak reaches the limit.
func (s *BreakerStore) RecordRevert() (BreakerEntry, bool) {
	s.revertMu.Lock()
	s.reverts++
	streak := s.reverts
	tripped := s.revertLimit > 0 && streak >= s.revertLimit
	if tripped {
		s.reverts = 0
	}
	s.revertMu.Unlock()

	if !tripped {
		return BreakerEntry{}, false
	}
	return s.Trip(GlobalKey, TypeRevertStreak, fmt.Sprintf("%d consecutive reverts", streak)), true
}

// RecordSuccess ends a revert streak.
func (s *BreakerStore) RecordSuccess() {
	s.revertMu.Lock()
	s.reverts = 0
	s.revertMu.Unlock()
}

// Reset closes every breaker. It runs on configuration reload.
func (s *BreakerStore) Reset() {
	s.mu.Lock()
	s.entries = make(map[string]*breaker)
	s.mu.Unlock()

	s.revertMu.Lock()
	s.reverts = 0
	s.revertMu.Unlock()
	s.logger.Info("circuit breakers reset")
}

// Snapshot returns every known breaker ordered by key.
func (s *BreakerStore) Snapshot() []BreakerEntry {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	entries := make(map[string]*breaker, len(s.entries))
	for key, b := range s.entries {
		keys = append(keys, key)
		entries[key] = b
	}
	s.mu.Unlock()

	sort.Strings(keys)
	out := make([]BreakerEntry, 0, len(keys))
	for _, key := range keys {
		b := entries[key]
		b.mu.Lock()
		out = append(out, b.view(key))
		b.mu.Unlock()
	}
	return out
}

func (b *breaker) view(key string) BreakerEntry {
	return BreakerEntry{
		Key:       key,
		Type:      b.kind,
		State:     b.state.String(),
		TrippedAt: b.trippedAt,
		Cooldown:  b.cooldown,
		Condition: b.condition,
		Trips:     b.trips,
	}
}
