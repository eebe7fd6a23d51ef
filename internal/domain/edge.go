package domain

import "vnet/internal/addr"

// Link is a veth pair. NodeIface lives in Node's namespace, or is enslaved to
// Node when Node is a bridge (a trunk uplink); BridgeIface is enslaved to
// Bridge.
type Link struct {
	Node        string `yaml:"node"`
	Bridge      string `yaml:"bridge"`
	NodeIface   string `yaml:"node_iface"`
	BridgeIface string `yaml:"bridge_iface"`

	// Address is assigned to NodeIface unless zero
	Address addr.Address `yaml:"-"`

	// VLAN is the untagged PVID of BridgeIface, 0 for none
	VLAN int `yaml:"vlan,omitempty"`

	// Trunk carries every VLAN tagged on BridgeIface
	Trunk bool `yaml:"trunk,omitempty"`
}

// HasAddress reports whether the node end is addressed
func (l *Link) HasAddress() bool {
	return !l.Address.IsZero()
}
