package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Topology is the physical network: nodes in creation order plus links
type Topology struct {
	Name  string
	Links []*Link

	nodes map[string]*Node
	order []string
}

// NewTopology creates an empty topology
func NewTopology(name string) *Topology {
	return &Topology{
		Name:  name,
		nodes: make(map[string]*Node),
	}
}

// AddNode adds a node. Names are unique across all roles; a clash is a
// ConfigError.
func (t *Topology) AddNode(n *Node) error {
	if _, ok := t.nodes[n.Name]; ok {
		return &ConfigError{Field: "nodes", Reason: fmt.Sprintf("duplicate node %q", n.Name)}
	}
	t.nodes[n.Name] = n
	t.order = append(t.order, n.Name)
	return nil
}

// AddLink appends a link between existing nodes
func (t *Topology) AddLink(l *Link) error {
	if _, ok := t.nodes[l.Node]; !ok {
		return errors.Errorf("link references unknown node %q", l.Node)
	}
	b, ok := t.nodes[l.Bridge]
	if !ok || b.Role != RoleBridge {
		return errors.Errorf("link references unknown bridge %q", l.Bridge)
	}
	t.Links = append(t.Links, l)
	return nil
}

// Node looks up a node by name
func (t *Topology) Node(name string) (*Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

// Nodes returns all nodes in creation order
func (t *Topology) Nodes() []*Node {
	out := make([]*Node, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.nodes[name])
	}
	return out
}

// NodesByRole returns nodes of one role in creation order
func (t *Topology) NodesByRole(role Role) []*Node {
	var out []*Node
	for _, name := range t.order {
		if n := t.nodes[name]; n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// LinksOf returns the links whose node end belongs to name
func (t *Topology) LinksOf(name string) []*Link {
	var out []*Link
	for _, l := range t.Links {
		if l.Node == name {
			out = append(out, l)
		}
	}
	return out
}

// Resources lists what must be removed to tear the topology down. Veth
// pairs between two bridges outlive both and are listed by their
// bridge-side name; every other pair dies with its container.
func (t *Topology) Resources() ResourceSet {
	var rs ResourceSet
	for _, n := range t.Nodes() {
		if n.Role == RoleBridge {
			rs.Bridges = append(rs.Bridges, n.Name)
		} else {
			rs.Containers = append(rs.Containers, n.Name)
		}
	}
	for _, l := range t.Links {
		if n := t.nodes[l.Node]; n.Role == RoleBridge {
			rs.Veths = append(rs.Veths, l.BridgeIface)
		}
	}
	return rs
}

// ResourceSet is the flat inventory of a network's bridges, containers and
// bridge-to-bridge veth pairs
type ResourceSet struct {
	Bridges    []string `yaml:"bridges"`
	Containers []string `yaml:"containers"`
	Veths      []string `yaml:"veths,omitempty"`
}
