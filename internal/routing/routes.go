package routing

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/path"

	"vnet/internal/addr"
	"vnet/internal/domain"
)

// Target is a route destination and the node it is reached at: the bridge
// of a subnet, or InternetNode for the default route
type Target struct {
	Destination string
	Node        string
}

// Derive computes one route per (source, target) pair. For each target a
// shortest path tree is grown from the target node; every container whose
// path crosses a router gets a route through the first router on it, using
// that router's address on a subnet the two share. Containers on the
// target's own subnet need no route.
func (pg *Graph) Derive(addrs *addr.Allocator, targets []Target) ([]domain.RouteEntry, error) {
	var routes []domain.RouteEntry
	for _, t := range targets {
		if _, ok := pg.ids[t.Node]; !ok {
			return nil, errors.Errorf("route target %s: unknown node %q", t.Destination, t.Node)
		}
		tree := path.DijkstraFrom(pg.node(t.Node), pg.g)

		for _, src := range pg.topo.Nodes() {
			if src.Role == domain.RoleBridge || src.Name == t.Node {
				continue
			}
			p := pg.pathFrom(tree, src.Name, true)
			if len(p) <= 2 {
				continue
			}

			hop := ""
			for _, name := range p[1:] {
				if pg.isRouter(name) {
					hop = name
					break
				}
			}
			if hop == "" {
				continue
			}

			gw, err := sharedAddress(addrs, src.Name, hop)
			if err != nil {
				return nil, errors.Wrapf(err, "route %s in %s", t.Destination, src.Name)
			}
			routes = append(routes, domain.RouteEntry{
				Destination: t.Destination,
				Gateway:     gw.String(),
				Namespace:   src.Name,
			})
		}
	}
	return routes, nil
}

// sharedAddress returns the address router holds on a subnet src is also on
func sharedAddress(addrs *addr.Allocator, src, router string) (addr.Address, error) {
	for _, s := range addrs.Subnets(src) {
		if a, ok := addrs.AddressIn(router, s); ok {
			return a, nil
		}
	}
	return addr.Address{}, errors.Errorf("no subnet shared with next hop %s", router)
}
