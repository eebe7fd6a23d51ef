// Package routing derives static routes and firewall commands from a
// physical topology.
package routing

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"vnet/internal/domain"
)

// InternetNode stands for everything behind the internet gateway routers.
// The leading @ keeps it out of the node name space.
const InternetNode = "@internet"

// Graph is the unweighted physical graph of a topology: containers and
// bridges joined by their links, plus InternetNode next to every internet
// gateway.
type Graph struct {
	topo  *domain.Topology
	g     *simple.UndirectedGraph
	ids   map[string]int64
	names []string
}

// NewGraph builds the physical graph of topo
func NewGraph(topo *domain.Topology) *Graph {
	pg := &Graph{
		topo: topo,
		g:    simple.NewUndirectedGraph(),
		ids:  make(map[string]int64),
	}
	for _, n := range topo.Nodes() {
		pg.add(n.Name)
	}
	for _, l := range topo.Links {
		pg.connect(l.Node, l.Bridge)
	}
	for _, r := range topo.NodesByRole(domain.RoleRouter) {
		if r.InternetGateway {
			if _, ok := pg.ids[InternetNode]; !ok {
				pg.add(InternetNode)
			}
			pg.connect(r.Name, InternetNode)
		}
	}
	return pg
}

func (pg *Graph) add(name string) {
	id := int64(len(pg.names))
	pg.ids[name] = id
	pg.names = append(pg.names, name)
	pg.g.AddNode(simple.Node(id))
}

func (pg *Graph) connect(a, b string) {
	x, y := pg.ids[a], pg.ids[b]
	if x == y || pg.g.HasEdgeBetween(x, y) {
		return
	}
	pg.g.SetEdge(simple.Edge{F: simple.Node(x), T: simple.Node(y)})
}

// Path returns a shortest path from one node to another, both included,
// or nil when there is none
func (pg *Graph) Path(from, to string) []string {
	src, ok := pg.ids[from]
	if !ok {
		return nil
	}
	if _, ok := pg.ids[to]; !ok {
		return nil
	}
	return pg.pathFrom(path.DijkstraFrom(simple.Node(src), pg.g), to, false)
}

// pathFrom reads the path to name out of a shortest path tree. With reverse
// set the tree is rooted at the destination and the path is flipped so it
// starts at name.
func (pg *Graph) pathFrom(tree path.Shortest, name string, reverse bool) []string {
	nodes, _ := tree.To(pg.ids[name])
	if len(nodes) == 0 {
		return nil
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = pg.names[n.ID()]
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Routers returns the routers along p, in order
func (pg *Graph) Routers(p []string) []string {
	var out []string
	for _, name := range p {
		if pg.isRouter(name) {
			out = append(out, name)
		}
	}
	return out
}

func (pg *Graph) isRouter(name string) bool {
	n, ok := pg.topo.Node(name)
	return ok && n.Role == domain.RoleRouter
}

func (pg *Graph) node(name string) graph.Node {
	return simple.Node(pg.ids[name])
}
