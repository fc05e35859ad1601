package aggregate

import (
	"time"

	"swaprouter/internal/dex"
	"swaprouter/internal/model"
)

// Exclusion records a pool left out of a cycle.
type Exclusion struct {
	PoolID   string `json:"pool_id"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// Snapshot is the state collected for one cycle. It is read-only once
// returned by Collect.
type Snapshot struct {
	Pools    map[string]model.Pool
	Adapters map[string]dex.Adapter
	// Quotes holds one zero-size probe quote per usable pool direction.
	Quotes   []model.Quote
	Excluded []Exclusion
	TakenAt  time.Time
}

func newSnapshot(takenAt time.Time) *Snapshot {
	return &Snapshot{
		Pools:    make(map[string]model.Pool),
		Adapters: make(map[string]dex.Adapter),
		TakenAt:  takenAt,
	}
}

// NewSnapshot builds a snapshot directly from adapters.
func NewSnapshot(adapters ...dex.Adapter) *Snapshot {
	snap := newSnapshot(time.Now().UTC())
	for _, adapter := range adapters {
		pool := adapter.Pool()
		snap.Pools[pool.ID] = pool
		snap.Adapters[pool.ID] = adapter
		for i, in := range pool.Tokens {
			for j, out := range pool.Tokens {
				if i == j {
					continue
				}
				quote, err := adapter.Quote(in.Address, out.Address, zeroAmount())
				if err != nil {
					continue
				}
				snap.Quotes = append(snap.Quotes, quote)
			}
		}
	}
	snap.sortQuotes()
	return snap
}
