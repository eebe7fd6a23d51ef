// Package declared turns a declared network definition into a plan.
//
// Subnets become bridges named <subnet>_brd with their hosts attached,
// routers join the subnets they list, and routes are derived over the
// resulting physical graph. Firewall rule sets come from the definition and,
// when a logical graph is supplied, are widened so that every logical edge
// is accepted by each router on the shortest path between its endpoints.
package declared

import (
	"github.com/pkg/errors"

	"vnet/internal/addr"
	"vnet/internal/config"
	"vnet/internal/domain"
	"vnet/internal/routing"
)

// ExternalInterface is the gateway router's interface on the runtime's
// default network
const ExternalInterface = "eth0"

// Build derives the plan of cfg. g may be nil.
//
// With an internet gateway, NAT masquerades the private declared subnets.
// Public subnets are routed to the internet but not masqueraded.
func Build(cfg *config.Network, g *domain.LogicalGraph) (*domain.Plan, error) {
	plan := domain.NewPlan(cfg.Name)
	plan.UpdateHosts = cfg.UpdateHosts
	topo := plan.Topology

	subnets := make(map[string]addr.Subnet, len(cfg.Subnets))
	for _, name := range cfg.SubnetNames() {
		sc := cfg.Subnets[name]
		s, err := addr.ParseSubnet(sc.Address)
		if err != nil {
			return nil, &domain.ConfigError{Field: "subnets." + name + ".address", Reason: err.Error()}
		}
		subnets[name] = s

		bridge := config.BridgeName(name)
		if err := topo.AddNode(domain.NewBridge(bridge, false)); err != nil {
			return nil, clash("subnets."+name, err)
		}
		for _, h := range sc.Hosts {
			if err := topo.AddNode(domain.NewHost(h, cfg.Images.Node)); err != nil {
				return nil, clash("subnets."+name+".hosts", err)
			}
			if err := plan.Connect(&domain.Link{Node: h, Bridge: bridge}, &s); err != nil {
				return nil, errors.Wrapf(err, "subnet %s", name)
			}
		}
	}

	gateway := ""
	for _, name := range cfg.RouterNames() {
		rc := cfg.Routers[name]
		router := domain.NewRouter(name, cfg.Images.Router)
		if rc.InternetGateway && cfg.InternetAccess {
			router.InternetGateway = true
			gateway = name
		}
		if err := topo.AddNode(router); err != nil {
			return nil, clash("routers."+name, err)
		}

		for _, sn := range rc.Subnets {
			s, ok := subnets[sn]
			if !ok {
				return nil, &domain.ConfigError{Field: "routers." + name + ".subnets", Reason: "unknown subnet " + sn}
			}
			if err := plan.Connect(&domain.Link{Node: name, Bridge: config.BridgeName(sn)}, &s); err != nil {
				return nil, errors.Wrapf(err, "router %s", name)
			}
		}

		if fw := rc.Firewall; fw != nil {
			rs := plan.Firewall(name, fw.Policy)
			rs.Accept = append(rs.Accept, fw.Accept...)
			rs.Drop = append(rs.Drop, fw.Drop...)
		}
	}

	pg := routing.NewGraph(topo)

	var targets []routing.Target
	var private []string
	for _, name := range cfg.SubnetNames() {
		s := subnets[name]
		if s.IsPrivate() {
			private = append(private, s.String())
		}
		if cfg.PrivateRouting && !s.IsPrivate() {
			continue
		}
		targets = append(targets, routing.Target{Destination: s.String(), Node: config.BridgeName(name)})
	}
	if gateway != "" {
		targets = append(targets, routing.Target{Destination: domain.DefaultRoute, Node: routing.InternetNode})
		plan.NAT = append(plan.NAT, domain.NATRule{Router: gateway, Sources: private, OutInterface: ExternalInterface})
	}

	routes, err := pg.Derive(plan.Addresses, targets)
	if err != nil {
		return nil, err
	}
	plan.Routes = routes

	if g != nil {
		if err := acceptLogicalEdges(plan, pg, g); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// acceptLogicalEdges opens every router on the path of each logical edge
func acceptLogicalEdges(plan *domain.Plan, pg *routing.Graph, g *domain.LogicalGraph) error {
	for _, e := range g.Edges() {
		for _, n := range []string{e.From, e.To} {
			if node, ok := plan.Topology.Node(n); !ok || !node.Role.IsContainer() {
				return &domain.ConfigError{Field: "graph", Reason: "logical node " + n + " is not a declared host or router"}
			}
		}

		rule := domain.Rule{Source: e.From, Destination: e.To, Bidirectional: true}
		for _, r := range pg.Routers(pg.Path(e.From, e.To)) {
			if r == e.From || r == e.To {
				continue
			}
			rs := plan.Firewall(r, domain.PolicyDrop)
			if !hasRule(rs.Accept, rule) {
				rs.Accept = append(rs.Accept, rule)
			}
		}
	}
	return nil
}

func hasRule(rules []domain.Rule, r domain.Rule) bool {
	for _, x := range rules {
		if x == r {
			return true
		}
		if r.Bidirectional && x.Bidirectional && x.Source == r.Destination && x.Destination == r.Source {
			return true
		}
	}
	return false
}

// Resources lists the bridges and containers cfg declares, without
// planning addresses. It is what delete tears down.
func Resources(cfg *config.Network) domain.ResourceSet {
	var rs domain.ResourceSet
	for _, name := range cfg.SubnetNames() {
		rs.Bridges = append(rs.Bridges, config.BridgeName(name))
		rs.Containers = append(rs.Containers, cfg.Subnets[name].Hosts...)
	}
	rs.Containers = append(rs.Containers, cfg.RouterNames()...)
	return rs
}

// clash moves a duplicate name error under field
func clash(field string, err error) error {
	var ce *domain.ConfigError
	if errors.As(err, &ce) {
		return &domain.ConfigError{Field: field, Reason: ce.Reason}
	}
	return err
}
