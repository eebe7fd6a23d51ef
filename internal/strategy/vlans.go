package strategy

import (
	"strconv"

	"github.com/pkg/errors"

	"vnet/internal/addr"
	"vnet/internal/domain"
)

const (
	// CoreBridge joins every edge bridge through trunk links
	CoreBridge = "brdC"

	// MaxLeafPorts is the leaf port limit of a VLAN filtering bridge
	MaxLeafPorts = 1023

	// FirstVLAN is the id of the first clique; 1 is the bridge default
	FirstVLAN = 2
	LastVLAN  = 4094
)

// VLANs places every maximal clique of the graph in its own VLAN and
// subnet. Hosts hang off VLAN filtering edge bridges, one leaf port per
// clique membership, and edge bridges uplink to a plain core bridge.
// Nodes in no clique get a container and nothing else.
type VLANs struct{}

func (VLANs) Name() string { return "vlans" }

func (s VLANs) Synthesize(g *domain.LogicalGraph, p Params) (*domain.Plan, error) {
	plan, err := prepare(g)
	if err != nil {
		return nil, err
	}
	topo := plan.Topology

	cliques := PruneSubsets(MaximalCliques(g))
	if n := len(cliques); n > LastVLAN-FirstVLAN+1 {
		return nil, errors.Errorf("%d cliques do not fit in the VLAN id space", n)
	}

	maxPorts := p.MaxLeafPorts
	if maxPorts <= 0 {
		maxPorts = MaxLeafPorts
	}

	if err := topo.AddNode(domain.NewBridge(CoreBridge, false)); err != nil {
		return nil, err
	}
	for _, host := range g.Nodes() {
		if err := topo.AddNode(domain.NewHost(host, p.NodeImage)); err != nil {
			return nil, err
		}
	}

	edges := 0
	ports := maxPorts
	var edge string
	pool := addr.NewPool(p.VLANPool)

	for i, clique := range cliques {
		vlan := FirstVLAN + i
		subnet, err := pool.Carve(addr.PrefixForHosts(len(clique)))
		if err != nil {
			return nil, errors.Wrapf(err, "subnet for VLAN %d", vlan)
		}

		for _, host := range clique {
			if ports == maxPorts {
				edge = "brdE" + strconv.Itoa(edges)
				edges++
				ports = 0
				if err := topo.AddNode(domain.NewBridge(edge, true)); err != nil {
					return nil, err
				}
				if err := plan.Connect(&domain.Link{Node: CoreBridge, Bridge: edge, Trunk: true}, nil); err != nil {
					return nil, err
				}
			}
			if err := plan.Connect(&domain.Link{Node: host, Bridge: edge, VLAN: vlan}, &subnet); err != nil {
				return nil, err
			}
			ports++
		}
	}
	return plan, nil
}

func (s VLANs) Resources(g *domain.LogicalGraph, p Params) (domain.ResourceSet, error) {
	return resources(s, g, p)
}

func (s VLANs) Dump(g *domain.LogicalGraph, name string) (*domain.Topology, error) {
	return dump(s, g, name)
}
