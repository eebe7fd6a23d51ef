package addr

import (
	"fmt"

	"github.com/pkg/errors"
)

// All selects every address of a name in Resolve.
const All = -1

var (
	// ErrSubnetExhausted is returned when a subnet has no host address left.
	ErrSubnetExhausted = errors.New("subnet exhausted")
	// ErrUnknownName is returned when a name has no registered address.
	ErrUnknownName = errors.New("unknown name")
	// ErrIndexOutOfRange is returned when a name has fewer addresses than asked for.
	ErrIndexOutOfRange = errors.New("address index out of range")
)

// LookupError describes a failed Resolve.
type LookupError struct {
	Name  string
	Index int
	Err   error
}

func (e *LookupError) Error() string {
	if e.Index == All {
		return fmt.Sprintf("resolve %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("resolve %s[%d]: %v", e.Name, e.Index, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Allocator hands out host addresses sequentially per subnet and remembers
// which name owns which addresses. One Allocator covers one provisioning
// invocation and is not safe for concurrent use.
type Allocator struct {
	counters map[Subnet]uint32
	registry map[string][]Address
	names    []string
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		counters: make(map[Subnet]uint32),
		registry: make(map[string][]Address),
	}
}

// AllocateNext returns the next unused host address of s, starting at the
// network address + 1. It fails with ErrSubnetExhausted instead of running
// into the broadcast address.
func (a *Allocator) AllocateNext(s Subnet) (Address, error) {
	s = Subnet{Network: s.NetworkAddress(), Prefix: s.Prefix}
	next := a.counters[s] + 1
	if uint64(next) >= s.Size()-1 {
		return Address{}, errors.Wrapf(ErrSubnetExhausted, "%s", s)
	}
	a.counters[s] = next
	return Address{Subnet: s, Offset: next}, nil
}

// Register appends addr to the addresses owned by name.
func (a *Allocator) Register(name string, addr Address) {
	if _, ok := a.registry[name]; !ok {
		a.names = append(a.names, name)
	}
	a.registry[name] = append(a.registry[name], addr)
}

// Allocate is AllocateNext followed by Register.
func (a *Allocator) Allocate(s Subnet, name string) (Address, error) {
	addr, err := a.AllocateNext(s)
	if err != nil {
		return Address{}, errors.Wrapf(err, "allocate for %s", name)
	}
	a.Register(name, addr)
	return addr, nil
}

// Resolve returns the address registered at index for name, or all of them
// when index is All.
func (a *Allocator) Resolve(name string, index int) ([]Address, error) {
	addrs, ok := a.registry[name]
	if !ok {
		return nil, &LookupError{Name: name, Index: index, Err: ErrUnknownName}
	}
	if index == All {
		out := make([]Address, len(addrs))
		copy(out, addrs)
		return out, nil
	}
	if index < 0 || index >= len(addrs) {
		return nil, &LookupError{Name: name, Index: index, Err: ErrIndexOutOfRange}
	}
	return []Address{addrs[index]}, nil
}

// ResolveIP returns the first address of name as a dotted quad. Literal
// addresses and CIDR blocks are returned unchanged.
func (a *Allocator) ResolveIP(name string) (string, error) {
	if _, err := ParseAddr(name); err == nil {
		return name, nil
	}
	if _, err := ParseSubnet(name); err == nil {
		return name, nil
	}
	addrs, err := a.Resolve(name, 0)
	if err != nil {
		return "", err
	}
	return addrs[0].String(), nil
}

// Subnets returns the distinct subnets name holds addresses in.
func (a *Allocator) Subnets(name string) []Subnet {
	var out []Subnet
	seen := make(map[Subnet]bool)
	for _, addr := range a.registry[name] {
		if !seen[addr.Subnet] {
			seen[addr.Subnet] = true
			out = append(out, addr.Subnet)
		}
	}
	return out
}

// AddressIn returns the address name holds in s.
func (a *Allocator) AddressIn(name string, s Subnet) (Address, bool) {
	for _, addr := range a.registry[name] {
		if addr.Subnet == s {
			return addr, true
		}
	}
	return Address{}, false
}

// Names lists registered names in registration order.
func (a *Allocator) Names() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}
