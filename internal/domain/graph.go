package domain

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Edge is a logical adjacency between two named nodes
type Edge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// LogicalGraph is the abstract connectivity a network is synthesized from
type LogicalGraph struct {
	Name     string
	Directed bool

	nodes []string
	index map[string]int
	edges []Edge
	seen  map[Edge]bool
}

// NewLogicalGraph creates an empty graph
func NewLogicalGraph(name string, directed bool) *LogicalGraph {
	return &LogicalGraph{
		Name:     name,
		Directed: directed,
		index:    make(map[string]int),
		seen:     make(map[Edge]bool),
	}
}

// AddNode adds a node, returning false if it already existed
func (g *LogicalGraph) AddNode(name string) bool {
	if _, ok := g.index[name]; ok {
		return false
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
	return true
}

// AddEdge adds an edge, creating missing endpoints. Duplicate edges are
// ignored; in an undirected graph a-b duplicates b-a.
func (g *LogicalGraph) AddEdge(from, to string) error {
	if from == to {
		return errors.Errorf("self loop on %q", from)
	}
	g.AddNode(from)
	g.AddNode(to)

	key := g.key(from, to)
	if g.seen[key] {
		return nil
	}
	g.seen[key] = true
	g.edges = append(g.edges, Edge{From: from, To: to})
	return nil
}

func (g *LogicalGraph) key(a, b string) Edge {
	if !g.Directed && b < a {
		a, b = b, a
	}
	return Edge{From: a, To: b}
}

// Nodes returns node names in insertion order
func (g *LogicalGraph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns edges in insertion order
func (g *LogicalGraph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Len returns the number of nodes
func (g *LogicalGraph) Len() int {
	return len(g.nodes)
}

// Index returns the insertion position of a node
func (g *LogicalGraph) Index(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// HasEdge reports whether from-to is an edge, honouring direction
func (g *LogicalGraph) HasEdge(from, to string) bool {
	return g.seen[g.key(from, to)]
}

// Neighbors returns the nodes reachable over one edge: successors in a
// directed graph, all adjacent nodes otherwise.
func (g *LogicalGraph) Neighbors(name string) []string {
	var out []string
	for _, e := range g.edges {
		switch {
		case e.From == name:
			out = append(out, e.To)
		case e.To == name && !g.Directed:
			out = append(out, e.From)
		}
	}
	return out
}

// Incident returns every node sharing an edge with name, ignoring direction
func (g *LogicalGraph) Incident(name string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range g.edges {
		var other string
		switch name {
		case e.From:
			other = e.To
		case e.To:
			other = e.From
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out
}

// Validate checks that every node name can be used as a container name
func (g *LogicalGraph) Validate() error {
	for _, n := range g.nodes {
		if !validName.MatchString(n) {
			return &ConfigError{Field: "graph.nodes", Reason: fmt.Sprintf("invalid node name %q", n)}
		}
	}
	return nil
}

// ValidName reports whether s is usable as a node name
func ValidName(s string) bool {
	return validName.MatchString(s)
}
