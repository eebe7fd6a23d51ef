package codec

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"vnet/internal/domain"
)

var shapes = map[domain.Role]string{
	domain.RoleHost:   "box",
	domain.RoleRouter: "diamond",
	domain.RoleBridge: "ellipse",
}

// DOTCodec writes topologies as Graphviz graphs
type DOTCodec struct{}

// NewDOTCodec creates a new DOT codec
func NewDOTCodec() *DOTCodec {
	return &DOTCodec{}
}

// Format returns the codec format identifier
func (c *DOTCodec) Format() string {
	return "dot"
}

type dotNode struct {
	id   int64
	node *domain.Node
}

func (n dotNode) ID() int64     { return n.id }
func (n dotNode) DOTID() string { return quote(n.node.Name) }
func (n dotNode) Attributes() []encoding.Attribute {
	return []encoding.Attribute{
		{Key: "shape", Value: shapes[n.node.Role]},
		{Key: "role", Value: string(n.node.Role)},
	}
}

type dotEdge struct {
	from, to graph.Node
	labels   []string
}

func (e *dotEdge) From() graph.Node { return e.from }
func (e *dotEdge) To() graph.Node   { return e.to }
func (e *dotEdge) ReversedEdge() graph.Edge {
	return &dotEdge{from: e.to, to: e.from, labels: e.labels}
}
func (e *dotEdge) Attributes() []encoding.Attribute {
	if len(e.labels) == 0 {
		return nil
	}
	return []encoding.Attribute{{Key: "label", Value: quote(strings.Join(e.labels, `\n`))}}
}

// Export writes a topology. Parallel links between the same pair of nodes
// are merged into one edge carrying every label.
func (c *DOTCodec) Export(t *domain.Topology, w io.Writer) error {
	g := simple.NewUndirectedGraph()
	ids := make(map[string]graph.Node)
	for i, n := range t.Nodes() {
		dn := dotNode{id: int64(i), node: n}
		g.AddNode(dn)
		ids[n.Name] = dn
	}

	for _, l := range t.Links {
		from, to := ids[l.Node], ids[l.Bridge]
		label := linkLabel(l)
		if existing := g.EdgeBetween(from.ID(), to.ID()); existing != nil {
			de := existing.(*dotEdge)
			if label != "" {
				de.labels = append(de.labels, label)
			}
			continue
		}
		de := &dotEdge{from: from, to: to}
		if label != "" {
			de.labels = []string{label}
		}
		g.SetEdge(de)
	}

	var name string
	if t.Name != "" {
		name = quote(t.Name)
	}
	b, err := dot.Marshal(g, name, "", "\t")
	if err != nil {
		return errors.Wrap(err, "marshal DOT")
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return errors.Wrap(err, "write DOT")
	}
	return nil
}

func linkLabel(l *domain.Link) string {
	var parts []string
	if l.HasAddress() {
		parts = append(parts, l.Address.CIDR())
	}
	switch {
	case l.Trunk:
		parts = append(parts, "trunk")
	case l.VLAN > 0:
		parts = append(parts, "vlan "+strconv.Itoa(l.VLAN))
	}
	return strings.Join(parts, " ")
}

// quote makes s a DOT double-quoted ID
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
