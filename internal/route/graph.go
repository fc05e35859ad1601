package route

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"swaprouter/internal/aggregate"
)

// Edge is one quotable pool direction.
type Edge struct {
	PoolID   string
	TokenOut common.Address
}

// Graph has tokens as nodes and pool directions as edges.
type Graph struct {
	edges map[common.Address][]Edge
}

// NewGraph builds the graph from the snapshot's quotable directions. Edges
// are ordered by pool id then output token so search order is stable.
func NewGraph(snap *aggregate.Snapshot) *Graph {
	g := &Graph{edges: make(map[common.Address][]Edge)}
	if snap == nil {
		return g
	}
	for _, q := range snap.Quotes {
		if _, ok := snap.Adapters[q.PoolID]; !ok {
			continue
		}
		g.edges[q.TokenIn] = append(g.edges[q.TokenIn], Edge{PoolID: q.PoolID, TokenOut: q.TokenOut})
	}
	for token := range g.edges {
		edges := g.edges[token]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].PoolID != edges[j].PoolID {
				return edges[i].PoolID < edges[j].PoolID
			}
			return edges[i].TokenOut.Hex() < edges[j].TokenOut.Hex()
		})
	}
	return g
}

// From returns the edges leaving token.
func (g *Graph) From(token common.Address) []Edge {
	return g.edges[token]
}

// Tokens returns the number of tokens with outgoing edges.
func (g *Graph) Tokens() int {
	return len(g.edges)
}
