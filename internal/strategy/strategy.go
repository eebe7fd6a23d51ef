// Package strategy maps a logical graph onto a physical topology.
//
// Three strategies are provided. multi-router gives every node its own
// subnet and router and meshes the routers over a shared backbone.
// mono-router hangs every node off one core router. vlans packs the maximal
// cliques of the graph into VLANs behind a tree of bridges, with no routers
// at all.
//
// Strategies are pure: they return a domain.Plan and never touch the host.
// provision.Session instantiates and removes what they plan.
package strategy

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"vnet/internal/addr"
	"vnet/internal/config"
	"vnet/internal/domain"
)

// Strategy turns a logical graph into a plan
type Strategy interface {
	// Name is the identifier the strategy is selected by
	Name() string

	// Synthesize derives the full plan for g
	Synthesize(g *domain.LogicalGraph, p Params) (*domain.Plan, error)

	// Resources lists what removing g's network deletes
	Resources(g *domain.LogicalGraph, p Params) (domain.ResourceSet, error)

	// Dump derives the physical topology only, for rendering
	Dump(g *domain.LogicalGraph, name string) (*domain.Topology, error)
}

// Params tune synthesis
type Params struct {
	NodeImage   string
	RouterImage string

	EdgePool addr.Subnet // per-node subnets of the router strategies
	Backbone addr.Subnet // shared router subnet of multi-router
	VLANPool addr.Subnet // clique subnets of vlans

	// MaxLeafPorts caps the leaf ports of a VLAN edge bridge
	MaxLeafPorts int

	// NeighbourMaps uploads each host's neighbour addresses as JSON
	NeighbourMaps bool
}

// DefaultParams returns the parameters used when none are given
func DefaultParams() Params {
	return Params{
		NodeImage:    config.DefaultNodeImage,
		RouterImage:  config.DefaultRouterImage,
		EdgePool:     addr.MustParseSubnet("10.0.0.0/8"),
		Backbone:     addr.MustParseSubnet("172.16.0.0/12"),
		VLANPool:     addr.MustParseSubnet("10.0.0.0/8"),
		MaxLeafPorts: MaxLeafPorts,
	}
}

var registry = map[string]Strategy{}

func register(s Strategy) {
	registry[s.Name()] = s
}

func init() {
	register(MultiRouter{})
	register(MonoRouter{})
	register(VLANs{})
}

// Lookup returns the strategy registered under name
func Lookup(name string) (Strategy, error) {
	s, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown algorithm %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return s, nil
}

// Names lists the registered strategies
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resources is the Resources implementation shared by every strategy
func resources(s Strategy, g *domain.LogicalGraph, p Params) (domain.ResourceSet, error) {
	plan, err := s.Synthesize(g, p)
	if err != nil {
		return domain.ResourceSet{}, err
	}
	return plan.Topology.Resources(), nil
}

// dump is the Dump implementation shared by every strategy
func dump(s Strategy, g *domain.LogicalGraph, name string) (*domain.Topology, error) {
	plan, err := s.Synthesize(g, DefaultParams())
	if err != nil {
		return nil, err
	}
	plan.Topology.Name = name
	return plan.Topology, nil
}

// prepare validates g and returns an empty plan for it
func prepare(g *domain.LogicalGraph) (*domain.Plan, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	name := g.Name
	if name == "" {
		name = "vnet"
	}
	return domain.NewPlan(name), nil
}

// hostRoute points a host's default route at gw
func hostRoute(host string, gw addr.Address) domain.RouteEntry {
	return domain.RouteEntry{Destination: domain.DefaultRoute, Gateway: gw.String(), Namespace: host}
}

func bridgeName(i int) string {
	return "brd" + strconv.Itoa(i)
}
