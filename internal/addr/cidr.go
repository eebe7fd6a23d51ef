// Package addr implements the IPv4 arithmetic used to address a synthesized
// network: CIDR parsing, aligned block carving, sequential allocation within
// a subnet and the name to address registry consulted by routing, firewall
// and hosts-file generation.
package addr

import (
	"fmt"
	"math/bits"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidCIDR is returned for anything that is not a.b.c.d/m with m in 1..32.
var ErrInvalidCIDR = errors.New("invalid CIDR")

var privateBlocks = []Subnet{
	{Network: 10 << 24, Prefix: 8},
	{Network: 172<<24 | 16<<16, Prefix: 12},
	{Network: 192<<24 | 168<<16, Prefix: 16},
}

// Subnet is an IPv4 block stored as its network address and prefix length.
type Subnet struct {
	Network uint32
	Prefix  int
}

// ParseSubnet parses a CIDR string. Host bits are cleared, so 10.0.0.7/24
// yields 10.0.0.0/24.
func ParseSubnet(cidr string) (Subnet, error) {
	ipPart, maskPart, ok := strings.Cut(cidr, "/")
	if !ok || strings.Count(ipPart, ".") != 3 {
		return Subnet{}, errors.Wrapf(ErrInvalidCIDR, "%q", cidr)
	}
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return Subnet{}, errors.Wrapf(ErrInvalidCIDR, "%q", cidr)
	}
	ones, size := ipnet.Mask.Size()
	if size != 32 || ones < 1 || ones > 32 || maskPart == "" {
		return Subnet{}, errors.Wrapf(ErrInvalidCIDR, "%q: prefix must be in 1..32", cidr)
	}
	return Subnet{Network: ipToU32(ipnet.IP), Prefix: ones}, nil
}

// MustParseSubnet is ParseSubnet for literals known to be valid.
func MustParseSubnet(cidr string) Subnet {
	s, err := ParseSubnet(cidr)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseAddr converts a dotted quad into its integer form.
func ParseAddr(s string) (uint32, error) {
	if strings.Count(s, ".") != 3 {
		return 0, errors.Errorf("invalid IPv4 address %q", s)
	}
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return 0, errors.Errorf("invalid IPv4 address %q", s)
	}
	return ipToU32(ip), nil
}

// FormatAddr converts an integer address back into a dotted quad.
func FormatAddr(a uint32) string {
	return u32ToIP(a).String()
}

// Mask returns the netmask as an integer.
func (s Subnet) Mask() uint32 {
	if s.Prefix <= 0 {
		return 0
	}
	return ^uint32(0) << (32 - s.Prefix)
}

// NetworkAddress returns the first address of the block.
func (s Subnet) NetworkAddress() uint32 {
	return s.Network & s.Mask()
}

// BroadcastAddress returns the last address of the block.
func (s Subnet) BroadcastAddress() uint32 {
	return s.NetworkAddress() | ^s.Mask()
}

// Size is the number of addresses in the block, network and broadcast included.
func (s Subnet) Size() uint64 {
	return uint64(1) << (32 - s.Prefix)
}

// Contains reports whether ip lies inside the block.
func (s Subnet) Contains(ip uint32) bool {
	return ip&s.Mask() == s.NetworkAddress()
}

// ContainsSubnet reports whether o lies entirely inside s.
func (s Subnet) ContainsSubnet(o Subnet) bool {
	return o.Prefix >= s.Prefix && s.Contains(o.NetworkAddress())
}

// Overlaps reports whether the two blocks share at least one address.
func (s Subnet) Overlaps(o Subnet) bool {
	return s.ContainsSubnet(o) || o.ContainsSubnet(s)
}

// IsPrivate reports whether the whole block lies inside one of the RFC 1918
// ranges.
func (s Subnet) IsPrivate() bool {
	for _, p := range privateBlocks {
		if p.ContainsSubnet(s) {
			return true
		}
	}
	return false
}

// IPNet converts the block for use with the net package.
func (s Subnet) IPNet() *net.IPNet {
	return &net.IPNet{
		IP:   u32ToIP(s.NetworkAddress()),
		Mask: net.CIDRMask(s.Prefix, 32),
	}
}

func (s Subnet) String() string {
	return fmt.Sprintf("%s/%d", FormatAddr(s.NetworkAddress()), s.Prefix)
}

// PrefixForHosts returns the longest prefix whose block holds n hosts plus
// the network and broadcast addresses: 32 - ceil(log2(n+2)).
func PrefixForHosts(n int) int {
	if n < 1 {
		n = 1
	}
	return 32 - bits.Len(uint(n+1))
}

// Address is one offset within a subnet.
type Address struct {
	Subnet Subnet
	Offset uint32
}

// IP returns the integer form of the address.
func (a Address) IP() uint32 {
	return a.Subnet.NetworkAddress() + a.Offset
}

// String returns the dotted quad without a prefix.
func (a Address) String() string {
	return FormatAddr(a.IP())
}

// CIDR returns the address with its subnet prefix, as interfaces expect it.
func (a Address) CIDR() string {
	return fmt.Sprintf("%s/%d", a.String(), a.Subnet.Prefix)
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a == Address{}
}

func ipToU32(ip net.IP) uint32 {
	ip = ip.To4()
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func u32ToIP(a uint32) net.IP {
	return net.IPv4(byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}
