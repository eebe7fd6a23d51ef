package strategy

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"vnet/internal/domain"
)

// MaximalCliques returns the maximal cliques of g's undirected view with at
// least two members. Members are sorted; cliques are ordered by size, largest
// first, then lexicographically.
func MaximalCliques(g *domain.LogicalGraph) [][]string {
	names := g.Nodes()
	ug := simple.NewUndirectedGraph()
	for i := range names {
		ug.AddNode(simple.Node(int64(i)))
	}
	for _, e := range g.Edges() {
		from, _ := g.Index(e.From)
		to, _ := g.Index(e.To)
		ug.SetEdge(simple.Edge{F: simple.Node(int64(from)), T: simple.Node(int64(to))})
	}

	var cliques [][]string
	for _, c := range topo.BronKerbosch(ug) {
		if len(c) < 2 {
			continue
		}
		members := make([]string, len(c))
		for i, n := range c {
			members[i] = names[n.ID()]
		}
		sort.Strings(members)
		cliques = append(cliques, members)
	}

	sort.Slice(cliques, func(i, j int) bool {
		a, b := cliques[i], cliques[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return cliques
}

// PruneSubsets keeps each clique unless it is contained in one accepted
// before it. Input must be ordered largest first, as MaximalCliques returns
// it; the result is an antichain under set inclusion.
func PruneSubsets(cliques [][]string) [][]string {
	var accepted [][]string
	var sets []map[string]bool
	for _, c := range cliques {
		redundant := false
		for _, s := range sets {
			if subsetOf(c, s) {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}
		set := make(map[string]bool, len(c))
		for _, m := range c {
			set[m] = true
		}
		accepted = append(accepted, c)
		sets = append(sets, set)
	}
	return accepted
}

func subsetOf(c []string, set map[string]bool) bool {
	for _, m := range c {
		if !set[m] {
			return false
		}
	}
	return true
}
