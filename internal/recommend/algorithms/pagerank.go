// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package algorithms

import (
	"context"
	"math"

	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
)

// PageRankConfig contains configuration for the bipartite graph ranker.
type PageRankConfig struct {
	// Damping is the probability of following an edge.
	// Default: 0.85.
	Damping float64

	// MaxIterations bounds the power iteration.
	// Default: 50.
	MaxIterations int

	// Epsilon is the per-node convergence threshold.
	// Default: 1e-6.
	Epsilon float64
}

// DefaultPageRankConfig returns default PageRank configuration.
func DefaultPageRankConfig() PageRankConfig {
	return PageRankConfig{
		Damping:       0.85,
		MaxIterations: 50,
		Epsilon:       1e-6,
	}
}

// Graph is the undirected bipartite user-item graph. Node n < NumUsers is
// user n; node NumUsers+i is item i.
type Graph struct {
	NumUsers int
	NumItems int

	// adjacency lists, indexed by node
	edges [][]int
}

// NewGraph builds the graph from a rating matrix. An edge joins user u and
// item i when the rating is strictly positive.
func NewGraph(m *ratings.Matrix) *Graph {
	users, items := m.Shape()
	g := &Graph{
		NumUsers: users,
		NumItems: items,
		edges:    make([][]int, users+items),
	}
	for u := 0; u < users; u++ {
		for i, r := range m.RowView(u) {
			if r > 0 {
				g.AddEdge(u, i)
			}
		}
	}
	return g
}

// AddEdge links user u and item i. Out-of-range ids are ignored.
func (g *Graph) AddEdge(u, i int) {
	if u < 0 || u >= g.NumUsers || i < 0 || i >= g.NumItems {
		return
	}
	item := g.NumUsers + i
	g.edges[u] = append(g.edges[u], item)
	g.edges[item] = append(g.edges[item], u)
}

// HasEdge reports whether user u and item i are linked.
func (g *Graph) HasEdge(u, i int) bool {
	if u < 0 || u >= g.NumUsers || i < 0 || i >= g.NumItems {
		return false
	}
	item := g.NumUsers + i
	for _, n := range g.edges[u] {
		if n == item {
			return true
		}
	}
	return false
}

// Nodes returns the total node count.
func (g *Graph) Nodes() int {
	return g.NumUsers + g.NumItems
}

// Degree returns the number of neighbours of node n.
func (g *Graph) Degree(n int) int {
	if n < 0 || n >= len(g.edges) {
		return 0
	}
	return len(g.edges[n])
}

// Ranking is the outcome of a PageRank run.
type Ranking struct {
	graph      *Graph
	scores     []float64
	iterations int
	converged  bool
}

// Scores returns the score of every node, users first.
func (r *Ranking) Scores() []float64 {
	out := make([]float64, len(r.scores))
	copy(out, r.scores)
	return out
}

// ItemScore returns the score of item i.
func (r *Ranking) ItemScore(i int) float64 {
	if i < 0 || i >= r.graph.NumItems {
		return 0
	}
	return r.scores[r.graph.NumUsers+i]
}

// Iterations returns how many iterations ran.
func (r *Ranking) Iterations() int { return r.iterations }

// Converged reports whether the run stopped before MaxIterations.
func (r *Ranking) Converged() bool { return r.converged }

// PageRank ranks items by their stationary score on the bipartite
// user-item graph.
//
// Each iteration gives every node (1-d)/N and then spreads d*pr(n)/deg(n)
// from every node with neighbours. Nodes without neighbours spread
// nothing, so their mass leaves the system.
type PageRank struct {
	BaseAlgorithm
	config PageRankConfig
}

// NewPageRank creates a PageRank ranker.
func NewPageRank(cfg PageRankConfig) *PageRank {
	def := DefaultPageRankConfig()
	if cfg.Damping <= 0 || cfg.Damping >= 1 {
		cfg.Damping = def.Damping
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}

	return &PageRank{
		BaseAlgorithm: NewBaseAlgorithm("pagerank"),
		config:        cfg,
	}
}

// Config returns the active configuration.
func (p *PageRank) Config() PageRankConfig {
	return p.config
}

// Run iterates until every node moves by less than Epsilon (checked from
// the second iteration on) or MaxIterations is reached. onIteration, if
// non-nil, sees the scores after each iteration.
func (p *PageRank) Run(ctx context.Context, g *Graph, onIteration func(iter int, scores []float64)) (*Ranking, error) {
	n := g.Nodes()
	rank := &Ranking{graph: g, scores: make([]float64, n)}
	if n == 0 {
		return rank, nil
	}

	d := p.config.Damping
	base := (1 - d) / float64(n)
	for i := range rank.scores {
		rank.scores[i] = 1 / float64(n)
	}
	next := make([]float64, n)

	for iter := 0; iter < p.config.MaxIterations; iter++ {
		if ContextCancelled(ctx) {
			return nil, ctx.Err()
		}

		for i := range next {
			next[i] = base
		}
		for node, nbrs := range g.edges {
			if len(nbrs) == 0 {
				continue
			}
			share := d * rank.scores[node] / float64(len(nbrs))
			for _, nb := range nbrs {
				next[nb] += share
			}
		}

		converged := iter > 0
		for i := range next {
			if math.Abs(next[i]-rank.scores[i]) >= p.config.Epsilon {
				converged = false
				break
			}
		}

		rank.scores, next = next, rank.scores
		rank.iterations = iter + 1

		if onIteration != nil {
			onIteration(rank.iterations, rank.scores)
		}
		if converged {
			rank.converged = true
			break
		}
	}

	p.markTrained()
	metrics.RecordPageRankRun(rank.iterations, rank.converged)
	return rank, nil
}

// Recommend returns at most limit candidate items for user, highest
// score first. Items the user is linked to are never returned. Equal
// scores keep item-id order.
func (p *PageRank) Recommend(rank *Ranking, user, limit int, allow CandidateFunc) []Prediction {
	g := rank.graph
	if user < 0 || user >= g.NumUsers {
		return nil
	}
	if allow == nil {
		allow = allowAll
	}

	preds := make([]Prediction, 0, g.NumItems)
	for i := 0; i < g.NumItems; i++ {
		if g.HasEdge(user, i) {
			continue
		}
		if !allow(i) {
			continue
		}
		preds = append(preds, Prediction{ItemID: i, Score: rank.ItemScore(i)})
	}

	sortByScore(preds)
	return truncate(preds, limit)
}
