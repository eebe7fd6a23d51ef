package domain

import "vnet/internal/addr"

// interface names must fit IFNAMSIZ (15), so links are numbered in base 36
const (
	ifaceAlphabet = "z0123456789abcdefghijklmnopqrstuvwxy"
	ifacePad      = 4

	NodeIfacePrefix   = "vn"
	BridgeIfacePrefix = "vb"
)

// IfaceID encodes n in base 36, left padded to four characters
func IfaceID(n int) string {
	var b []byte
	for n > 0 {
		b = append(b, ifaceAlphabet[n%len(ifaceAlphabet)])
		n /= len(ifaceAlphabet)
	}
	for len(b) < ifacePad {
		b = append(b, ifaceAlphabet[0])
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// Connect names l's interfaces, allocates l.Node an address in subnet when
// subnet is non-nil, and adds l to the topology.
func (p *Plan) Connect(l *Link, subnet *addr.Subnet) error {
	p.links++
	id := IfaceID(p.links)
	l.NodeIface = NodeIfacePrefix + id
	l.BridgeIface = BridgeIfacePrefix + id

	if subnet != nil {
		a, err := p.Addresses.Allocate(*subnet, l.Node)
		if err != nil {
			return err
		}
		l.Address = a
	}
	return p.Topology.AddLink(l)
}
