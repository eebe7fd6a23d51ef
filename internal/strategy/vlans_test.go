package strategy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnet/internal/addr"
	"vnet/internal/domain"
)

func TestMaximalCliquesTriangle(t *testing.T) {
	g := graphOf(t, false, nil, [2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "A"})
	cliques := PruneSubsets(MaximalCliques(g))
	assert.Equal(t, [][]string{{"A", "B", "C"}}, cliques)
}

func TestMaximalCliquesOrdering(t *testing.T) {
	// square with one diagonal plus a pendant and an isolated node
	g := graphOf(t, false, []string{"z"},
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "d"}, [2]string{"d", "a"},
		[2]string{"a", "c"}, [2]string{"d", "e"})

	cliques := MaximalCliques(g)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"a", "c", "d"}, {"d", "e"}}, cliques)
}

func TestPruneSubsetsAntichain(t *testing.T) {
	in := [][]string{
		{"a", "b", "c", "d"},
		{"a", "b", "c"},
		{"b", "e"},
		{"c", "d"},
		{"b", "e"},
		{"e", "f"},
	}
	out := PruneSubsets(in)
	assert.Equal(t, [][]string{{"a", "b", "c", "d"}, {"b", "e"}, {"e", "f"}}, out)

	for i := range out {
		for j := range out {
			if i == j {
				continue
			}
			set := map[string]bool{}
			for _, m := range out[j] {
				set[m] = true
			}
			assert.False(t, subsetOf(out[i], set), "%v is a subset of %v", out[i], out[j])
		}
	}
}

func TestVLANsTriangle(t *testing.T) {
	g := graphOf(t, false, nil, [2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "A"})
	plan, err := VLANs{}.Synthesize(g, DefaultParams())
	require.NoError(t, err)

	var leaves, trunks []*domain.Link
	for _, l := range plan.Topology.Links {
		if l.Trunk {
			trunks = append(trunks, l)
		} else {
			leaves = append(leaves, l)
		}
	}
	require.Len(t, trunks, 1)
	assert.Equal(t, CoreBridge, trunks[0].Node)
	assert.Equal(t, "brdE0", trunks[0].Bridge)

	require.Len(t, leaves, 3)
	for _, l := range leaves {
		assert.Equal(t, FirstVLAN, l.VLAN)
		assert.Equal(t, 29, l.Address.Subnet.Prefix)
		assert.Equal(t, "10.0.0.0/29", l.Address.Subnet.String())
	}

	edge, ok := plan.Topology.Node("brdE0")
	require.True(t, ok)
	assert.True(t, edge.VLANAware)
	core, _ := plan.Topology.Node(CoreBridge)
	assert.False(t, core.VLANAware)
	assert.Empty(t, plan.Routes)
	assert.Empty(t, plan.Firewalls)
}

func TestVLANsCapacityAndMembership(t *testing.T) {
	// two cliques sharing c, plus an isolated node
	g := graphOf(t, false, []string{"iso"},
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "c"},
		[2]string{"c", "d"}, [2]string{"d", "e"}, [2]string{"c", "e"}, [2]string{"e", "f"}, [2]string{"c", "f"}, [2]string{"d", "f"})

	plan, err := VLANs{}.Synthesize(g, DefaultParams())
	require.NoError(t, err)

	cliques := PruneSubsets(MaximalCliques(g))
	require.Len(t, cliques, 2)

	for i, c := range cliques {
		k := 32 - addr.PrefixForHosts(len(c))
		assert.GreaterOrEqual(t, (1<<k)-2, len(c), "clique %d", i)
	}

	assert.Len(t, plan.Topology.LinksOf("c"), 2, "c is in both cliques")
	assert.Empty(t, plan.Topology.LinksOf("iso"))
	_, ok := plan.Topology.Node("iso")
	assert.True(t, ok, "isolated nodes still get a container")

	var subnets []addr.Subnet
	for _, l := range plan.Topology.LinksOf("c") {
		subnets = append(subnets, l.Address.Subnet)
	}
	assert.False(t, subnets[0].Overlaps(subnets[1]))
}

func TestVLANsEdgeBridgeSpill(t *testing.T) {
	var edges [][2]string
	var nodes []string
	for i := 0; i < 5; i++ {
		nodes = append(nodes, fmt.Sprintf("n%d", i))
	}
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			edges = append(edges, [2]string{nodes[i], nodes[j]})
		}
	}
	g := graphOf(t, false, nil, edges...)

	p := DefaultParams()
	p.MaxLeafPorts = 2
	plan, err := VLANs{}.Synthesize(g, p)
	require.NoError(t, err)

	bridges := map[string]int{}
	trunks := 0
	for _, l := range plan.Topology.Links {
		if l.Trunk {
			trunks++
			continue
		}
		bridges[l.Bridge]++
	}
	assert.Equal(t, map[string]int{"brdE0": 2, "brdE1": 2, "brdE2": 1}, bridges)
	assert.Equal(t, 3, trunks)

	rs, err := VLANs{}.Resources(g, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"brdC", "brdE0", "brdE1", "brdE2"}, rs.Bridges)
}
