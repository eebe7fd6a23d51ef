// Package kernel configures bridges, veth pairs, addresses, routes and
// bridge VLANs over netlink, and the host sysctls provisioning depends on.
//
// Namespaces are addressed by name through the files the container gateway
// links into the netns directory. An empty namespace name is the root
// namespace. Netlink calls cannot be interrupted, so a context is only
// checked before each call.
package kernel

import (
	"context"
	"net"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"vnet/internal/domain"
	"vnet/internal/gateway"
	"vnet/internal/log"
)

// Links implements gateway.LinkGateway and gateway.VLANGateway
type Links struct {
	netnsDir string
}

var (
	_ gateway.LinkGateway = (*Links)(nil)
	_ gateway.VLANGateway = (*Links)(nil)
)

// NewLinks creates a link gateway resolving namespaces under netnsDir
func NewLinks(netnsDir string) *Links {
	return &Links{netnsDir: netnsDir}
}

// namespace opens a named namespace
func (l *Links) namespace(name string) (netns.NsHandle, error) {
	ns, err := netns.GetFromPath(filepath.Join(l.netnsDir, name))
	if err != nil {
		return netns.None(), linkError("netns", name, err)
	}
	return ns, nil
}

// handle opens a netlink socket in netns
func (l *Links) handle(ctx context.Context, netnsName string) (*netlink.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if netnsName == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, linkError("netlink", "root", err)
		}
		return h, nil
	}

	ns, err := l.namespace(netnsName)
	if err != nil {
		return nil, err
	}
	defer ns.Close()

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return nil, linkError("netlink", netnsName, err)
	}
	return h, nil
}

// do runs fn with a handle in netns
func (l *Links) do(ctx context.Context, netnsName string, fn func(*netlink.Handle) error) error {
	h, err := l.handle(ctx, netnsName)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

func (l *Links) CreateBridge(ctx context.Context, name string) error {
	return l.do(ctx, "", func(h *netlink.Handle) error {
		br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
		if err := h.LinkAdd(br); err != nil {
			return linkError("add bridge", name, err)
		}
		log.G(ctx).WithField("bridge", name).Debug("bridge created")
		return nil
	})
}

// EnableVLAN turns on VLAN filtering
func (l *Links) EnableVLAN(ctx context.Context, name string) error {
	return l.do(ctx, "", func(h *netlink.Handle) error {
		link, err := h.LinkByName(name)
		if err != nil {
			return linkError("vlan_filtering", name, err)
		}
		br, ok := link.(*netlink.Bridge)
		if !ok {
			return syntaxError("vlan_filtering", name, errors.Errorf("%s is a %s, not a bridge", name, link.Type()))
		}
		on := true
		br.VlanFiltering = &on
		if err := h.LinkModify(br); err != nil {
			return linkError("vlan_filtering", name, err)
		}
		return nil
	})
}

func (l *Links) CreateVeth(ctx context.Context, a, b string) error {
	return l.do(ctx, "", func(h *netlink.Handle) error {
		veth := &netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: a}, PeerName: b}
		if err := h.LinkAdd(veth); err != nil {
			return linkError("add veth", a, err)
		}
		return nil
	})
}

func (l *Links) Activate(ctx context.Context, name, netnsName string) error {
	return l.do(ctx, netnsName, func(h *netlink.Handle) error {
		link, err := h.LinkByName(name)
		if err != nil {
			return linkError("up", name, err)
		}
		if err := h.LinkSetUp(link); err != nil {
			return linkError("up", name, err)
		}
		return nil
	})
}

// Attach moves a root namespace interface into a namespace or under a
// master bridge
func (l *Links) Attach(ctx context.Context, name string, to gateway.Target) error {
	if (to.Namespace == "") == (to.Master == "") {
		return syntaxError("attach", name, errors.New("exactly one of namespace and master is required"))
	}
	return l.do(ctx, "", func(h *netlink.Handle) error {
		link, err := h.LinkByName(name)
		if err != nil {
			return linkError("attach", name, err)
		}

		if to.Master != "" {
			master, err := h.LinkByName(to.Master)
			if err != nil {
				return linkError("attach", to.Master, err)
			}
			if err := h.LinkSetMaster(link, master); err != nil {
				return linkError("attach", name, err)
			}
			return nil
		}

		ns, err := l.namespace(to.Namespace)
		if err != nil {
			return err
		}
		defer ns.Close()
		if err := h.LinkSetNsFd(link, int(ns)); err != nil {
			return linkError("attach", name, err)
		}
		return nil
	})
}

func (l *Links) AssignAddress(ctx context.Context, iface, cidr, netnsName string) error {
	a, err := netlink.ParseAddr(cidr)
	if err != nil {
		return syntaxError("addr", iface, err)
	}
	return l.do(ctx, netnsName, func(h *netlink.Handle) error {
		link, err := h.LinkByName(iface)
		if err != nil {
			return linkError("addr", iface, err)
		}
		if err := h.AddrReplace(link, a); err != nil {
			return linkError("addr", iface, err)
		}
		return nil
	})
}

// AssignRoute installs or replaces a route to dest, a CIDR block or
// domain.DefaultRoute, via gw
func (l *Links) AssignRoute(ctx context.Context, dest, gw, netnsName string) error {
	route, err := parseRoute(dest, gw)
	if err != nil {
		return syntaxError("route", netnsName, err)
	}
	return l.do(ctx, netnsName, func(h *netlink.Handle) error {
		if err := h.RouteReplace(route); err != nil {
			return linkError("route", netnsName, errors.Wrapf(err, "%s via %s", dest, gw))
		}
		return nil
	})
}

func parseRoute(dest, gw string) (*netlink.Route, error) {
	route := &netlink.Route{Gw: net.ParseIP(gw)}
	if route.Gw == nil || route.Gw.To4() == nil {
		return nil, errors.Errorf("invalid gateway %q", gw)
	}
	if dest == domain.DefaultRoute {
		return route, nil
	}
	_, dst, err := net.ParseCIDR(dest)
	if err != nil {
		return nil, errors.Errorf("invalid destination %q", dest)
	}
	route.Dst = dst
	return route, nil
}

func (l *Links) RemoveBridge(ctx context.Context, name string) error {
	return l.remove(ctx, "", name)
}

// RemoveVeth deletes a veth pair through either end
func (l *Links) RemoveVeth(ctx context.Context, name, netnsName string) error {
	return l.remove(ctx, netnsName, name)
}

func (l *Links) remove(ctx context.Context, netnsName, name string) error {
	return l.do(ctx, netnsName, func(h *netlink.Handle) error {
		link, err := h.LinkByName(name)
		if err != nil {
			return linkError("del", name, err)
		}
		if err := h.LinkDel(link); err != nil {
			return linkError("del", name, err)
		}
		return nil
	})
}
