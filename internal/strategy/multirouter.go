package strategy

import (
	"github.com/pkg/errors"

	"vnet/internal/addr"
	"vnet/internal/domain"
)

// BackboneBridge joins every router of the multi-router strategy
const BackboneBridge = "brdCore"

// MultiRouter gives each logical node a subnet with its own router, and
// meshes the routers with static routes over a shared backbone.
type MultiRouter struct{}

func (MultiRouter) Name() string { return "multi-router" }

// RouterFor names the router serving host
func (MultiRouter) RouterFor(host string) string {
	return "r-" + host
}

func (s MultiRouter) Synthesize(g *domain.LogicalGraph, p Params) (*domain.Plan, error) {
	if p.EdgePool.Overlaps(p.Backbone) {
		return nil, &domain.ConfigError{
			Field:  "backbone",
			Reason: p.Backbone.String() + " overlaps the edge pool " + p.EdgePool.String(),
		}
	}
	plan, err := prepare(g)
	if err != nil {
		return nil, err
	}
	topo := plan.Topology

	if err := topo.AddNode(domain.NewBridge(BackboneBridge, false)); err != nil {
		return nil, err
	}

	pool := addr.NewPool(p.EdgePool)
	edges := make([]addr.Subnet, g.Len())
	backbone := make([]addr.Address, g.Len())

	for i, host := range g.Nodes() {
		router := s.RouterFor(host)
		bridge := bridgeName(i)

		subnet, err := pool.Carve(30)
		if err != nil {
			return nil, errors.Wrapf(err, "edge subnet for %s", host)
		}
		edges[i] = subnet

		for _, n := range []*domain.Node{
			domain.NewBridge(bridge, false),
			domain.NewHost(host, p.NodeImage),
			domain.NewRouter(router, p.RouterImage),
		} {
			if err := topo.AddNode(n); err != nil {
				return nil, err
			}
		}

		// host first, so it holds .1 and its router .2
		if err := plan.Connect(&domain.Link{Node: host, Bridge: bridge}, &subnet); err != nil {
			return nil, err
		}
		edge := &domain.Link{Node: router, Bridge: bridge}
		if err := plan.Connect(edge, &subnet); err != nil {
			return nil, err
		}
		core := &domain.Link{Node: router, Bridge: BackboneBridge}
		if err := plan.Connect(core, &p.Backbone); err != nil {
			return nil, errors.Wrapf(err, "backbone address for %s", router)
		}
		backbone[i] = core.Address

		plan.Routes = append(plan.Routes, hostRoute(host, edge.Address))

		fw := plan.Firewall(router, domain.PolicyDrop)
		for _, peer := range g.Incident(host) {
			fw.Accept = append(fw.Accept, domain.Rule{Source: host, Destination: peer, Bidirectional: true})
		}
	}

	// full mesh: every router reaches every other edge subnet over the backbone
	for i, host := range g.Nodes() {
		for j := range g.Nodes() {
			if i == j {
				continue
			}
			plan.Routes = append(plan.Routes, domain.RouteEntry{
				Destination: edges[j].String(),
				Gateway:     backbone[j].String(),
				Namespace:   s.RouterFor(host),
			})
		}
	}

	if p.NeighbourMaps {
		if err := addNeighbourMaps(plan, g); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (s MultiRouter) Resources(g *domain.LogicalGraph, p Params) (domain.ResourceSet, error) {
	return resources(s, g, p)
}

func (s MultiRouter) Dump(g *domain.LogicalGraph, name string) (*domain.Topology, error) {
	return dump(s, g, name)
}
