package kernel

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"

	"vnet/internal/gateway"
)

const (
	defaultVLAN = 1
	firstVLAN   = 2
	lastVLAN    = 4094
)

// AddInterface sets the VLAN membership of a bridge port. A leaf port
// becomes an untagged PVID member of vlanID; a trunk port carries every
// usable VLAN tagged. Either way the port leaves the bridge's default VLAN
// so cliques never share a broadcast domain.
func (l *Links) AddInterface(ctx context.Context, vlanID int, iface string) error {
	if vlanID != gateway.TrunkVLAN && (vlanID < firstVLAN || vlanID > lastVLAN) {
		return syntaxError("vlan", iface, errors.Errorf("vlan id %d outside %d-%d", vlanID, firstVLAN, lastVLAN))
	}
	return l.do(ctx, "", func(h *netlink.Handle) error {
		link, err := h.LinkByName(iface)
		if err != nil {
			return linkError("vlan", iface, err)
		}

		if vlanID == gateway.TrunkVLAN {
			err = h.BridgeVlanAddRange(link, firstVLAN, lastVLAN, false, false, false, true)
		} else {
			err = h.BridgeVlanAdd(link, uint16(vlanID), true, true, false, true)
		}
		if err != nil {
			return linkError("vlan", iface, err)
		}

		if err := h.BridgeVlanDel(link, defaultVLAN, true, true, false, true); err != nil {
			return linkError("vlan", iface, err)
		}
		return nil
	})
}
