// Package codec reads logical graphs and writes physical topologies.
//
// Graph importers accept YAML, networkx node-link JSON and plain edge lists.
// Topology exporters write YAML and Graphviz DOT; rendering itself is left to
// external tools.
package codec

import (
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"vnet/internal/domain"
)

// Importer reads a logical graph
type Importer interface {
	Parse(r io.Reader) (*domain.LogicalGraph, error)
	Format() string
}

// Exporter writes a physical topology
type Exporter interface {
	Export(t *domain.Topology, w io.Writer) error
	Format() string
}

var (
	importers = map[string]Importer{}
	exporters = map[string]Exporter{}
	aliases   = map[string]string{
		".yaml":  "yaml",
		".yml":   "yaml",
		".json":  "json",
		".edges": "edgelist",
		".txt":   "edgelist",
		".dot":   "dot",
		".gv":    "dot",
	}
)

func init() {
	for _, c := range []Importer{NewYAMLCodec(), NewJSONCodec(), NewEdgeListCodec(false)} {
		importers[c.Format()] = c
	}
	for _, c := range []Exporter{NewYAMLCodec(), NewDOTCodec()} {
		exporters[c.Format()] = c
	}
}

// ImporterFor returns the importer registered for format
func ImporterFor(format string) (Importer, error) {
	if c, ok := importers[format]; ok {
		return c, nil
	}
	return nil, errors.Errorf("unknown graph format %q (have %s)", format, strings.Join(keys(importers), ", "))
}

// ExporterFor returns the exporter registered for format
func ExporterFor(format string) (Exporter, error) {
	if c, ok := exporters[format]; ok {
		return c, nil
	}
	return nil, errors.Errorf("unknown topology format %q (have %s)", format, strings.Join(keys(exporters), ", "))
}

// FormatFromPath guesses a format from a file extension
func FormatFromPath(path string) (string, bool) {
	f, ok := aliases[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// build assembles and validates a graph from decoded nodes and edges
func build(name string, directed bool, nodes []string, edges [][]string) (*domain.LogicalGraph, error) {
	g := domain.NewLogicalGraph(name, directed)
	for _, n := range nodes {
		g.AddNode(n)
	}
	for i, e := range edges {
		if len(e) != 2 {
			return nil, errors.Errorf("edge %d: want 2 endpoints, got %d", i, len(e))
		}
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, errors.Wrapf(err, "edge %d", i)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
