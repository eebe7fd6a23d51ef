package codec

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"vnet/internal/domain"
)

// EdgeListCodec reads one edge per line, endpoints separated by whitespace
// or a comma. Text after '#' is ignored; a line with a single name declares
// an isolated node.
type EdgeListCodec struct {
	directed bool
}

// NewEdgeListCodec creates an edge list codec
func NewEdgeListCodec(directed bool) *EdgeListCodec {
	return &EdgeListCodec{directed: directed}
}

// Format returns the codec format identifier
func (c *EdgeListCodec) Format() string {
	return "edgelist"
}

// Parse reads a logical graph
func (c *EdgeListCodec) Parse(r io.Reader) (*domain.LogicalGraph, error) {
	var nodes []string
	var edges [][]string

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		switch len(fields) {
		case 0:
		case 1:
			nodes = append(nodes, fields[0])
		default:
			// trailing fields are edge data, as networkx writes them
			edges = append(edges, fields[:2])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read edge list line %d", line)
	}
	return build("", c.directed, nodes, edges)
}
