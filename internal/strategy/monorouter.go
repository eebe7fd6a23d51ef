package strategy

import (
	"github.com/pkg/errors"

	"vnet/internal/addr"
	"vnet/internal/domain"
)

// CoreRouter is the single router of the mono-router strategy
const CoreRouter = "rCore"

// MonoRouter wires every logical node to one core router, each over a
// dedicated point-to-point subnet. All policy lives on the core.
type MonoRouter struct{}

func (MonoRouter) Name() string { return "mono-router" }

func (s MonoRouter) Synthesize(g *domain.LogicalGraph, p Params) (*domain.Plan, error) {
	plan, err := prepare(g)
	if err != nil {
		return nil, err
	}
	topo := plan.Topology

	if err := topo.AddNode(domain.NewRouter(CoreRouter, p.RouterImage)); err != nil {
		return nil, err
	}

	pool := addr.NewPool(p.EdgePool)
	for i, host := range g.Nodes() {
		bridge := bridgeName(i)
		subnet, err := pool.Carve(30)
		if err != nil {
			return nil, errors.Wrapf(err, "subnet for %s", host)
		}

		if err := topo.AddNode(domain.NewBridge(bridge, false)); err != nil {
			return nil, err
		}
		if err := topo.AddNode(domain.NewHost(host, p.NodeImage)); err != nil {
			return nil, err
		}
		if err := plan.Connect(&domain.Link{Node: host, Bridge: bridge}, &subnet); err != nil {
			return nil, err
		}
		core := &domain.Link{Node: CoreRouter, Bridge: bridge}
		if err := plan.Connect(core, &subnet); err != nil {
			return nil, err
		}
		plan.Routes = append(plan.Routes, hostRoute(host, core.Address))
	}

	fw := plan.Firewall(CoreRouter, domain.PolicyDrop)
	for _, e := range g.Edges() {
		fw.Accept = append(fw.Accept, domain.Rule{Source: e.From, Destination: e.To, Bidirectional: true})
	}

	if p.NeighbourMaps {
		if err := addNeighbourMaps(plan, g); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (s MonoRouter) Resources(g *domain.LogicalGraph, p Params) (domain.ResourceSet, error) {
	return resources(s, g, p)
}

func (s MonoRouter) Dump(g *domain.LogicalGraph, name string) (*domain.Topology, error) {
	return dump(s, g, name)
}
