package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"vnet/internal/domain"
)

// JSONCodec reads node-link JSON as written by networkx json_graph
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

type nodeLink struct {
	Directed bool `json:"directed"`
	Graph    struct {
		Name string `json:"name"`
	} `json:"graph"`
	Nodes []struct {
		ID any `json:"id"`
	} `json:"nodes"`
	Links []struct {
		Source any `json:"source"`
		Target any `json:"target"`
	} `json:"links"`
}

// Parse reads a logical graph. Numeric ids are used as decimal names.
func (c *JSONCodec) Parse(r io.Reader) (*domain.LogicalGraph, error) {
	var nl nodeLink
	if err := json.NewDecoder(r).Decode(&nl); err != nil {
		return nil, errors.Wrap(err, "parse node-link JSON")
	}

	nodes := make([]string, 0, len(nl.Nodes))
	for _, n := range nl.Nodes {
		nodes = append(nodes, idString(n.ID))
	}
	edges := make([][]string, 0, len(nl.Links))
	for _, l := range nl.Links {
		edges = append(edges, []string{idString(l.Source), idString(l.Target)})
	}
	return build(nl.Graph.Name, nl.Directed, nodes, edges)
}

func idString(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
