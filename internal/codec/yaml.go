package codec

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"vnet/internal/domain"
)

// YAMLCodec reads logical graphs and writes topologies as YAML
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

type yamlGraph struct {
	Name     string     `yaml:"name"`
	Directed bool       `yaml:"directed,omitempty"`
	Nodes    []string   `yaml:"nodes,omitempty"`
	Edges    [][]string `yaml:"edges,omitempty"`
}

type yamlTopology struct {
	Name  string         `yaml:"name"`
	Nodes []*domain.Node `yaml:"nodes"`
	Links []yamlLink     `yaml:"links"`
}

type yamlLink struct {
	domain.Link `yaml:",inline"`
	Address     string `yaml:"address,omitempty"`
}

// Parse reads a logical graph
func (c *YAMLCodec) Parse(r io.Reader) (*domain.LogicalGraph, error) {
	var yg yamlGraph
	if err := yaml.NewDecoder(r).Decode(&yg); err != nil {
		return nil, errors.Wrap(err, "parse YAML graph")
	}
	return build(yg.Name, yg.Directed, yg.Nodes, yg.Edges)
}

// Export writes a topology
func (c *YAMLCodec) Export(t *domain.Topology, w io.Writer) error {
	yt := yamlTopology{
		Name:  t.Name,
		Nodes: t.Nodes(),
		Links: make([]yamlLink, 0, len(t.Links)),
	}
	for _, l := range t.Links {
		yl := yamlLink{Link: *l}
		if l.HasAddress() {
			yl.Address = l.Address.CIDR()
		}
		yt.Links = append(yt.Links, yl)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&yt); err != nil {
		return errors.Wrap(err, "encode YAML topology")
	}
	return nil
}

// EncodeGraph writes a logical graph in the format Parse reads
func (c *YAMLCodec) EncodeGraph(g *domain.LogicalGraph, w io.Writer) error {
	yg := yamlGraph{Name: g.Name, Directed: g.Directed, Nodes: g.Nodes()}
	for _, e := range g.Edges() {
		yg.Edges = append(yg.Edges, []string{e.From, e.To})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	return errors.Wrap(encoder.Encode(&yg), "encode YAML graph")
}
