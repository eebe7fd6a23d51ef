package addr

import "github.com/pkg/errors"

// ErrPoolExhausted is returned when a pool cannot fit another block.
var ErrPoolExhausted = errors.New("address pool exhausted")

// Pool carves consecutive, size-aligned blocks out of a parent block.
type Pool struct {
	parent Subnet
	next   uint64
}

// NewPool returns a Pool over parent.
func NewPool(parent Subnet) *Pool {
	parent.Network = parent.NetworkAddress()
	return &Pool{parent: parent, next: uint64(parent.Network)}
}

// Parent returns the block the pool carves from.
func (p *Pool) Parent() Subnet {
	return p.parent
}

// Carve returns the next free block with the given prefix, aligned to its
// own size.
func (p *Pool) Carve(prefix int) (Subnet, error) {
	if prefix < p.parent.Prefix || prefix > 32 {
		return Subnet{}, errors.Errorf("cannot carve /%d out of %s", prefix, p.parent)
	}
	size := uint64(1) << (32 - prefix)
	start := (p.next + size - 1) &^ (size - 1)
	end := uint64(p.parent.BroadcastAddress())
	if start+size-1 > end {
		return Subnet{}, errors.Wrapf(ErrPoolExhausted, "no /%d left in %s", prefix, p.parent)
	}
	p.next = start + size
	return Subnet{Network: uint32(start), Prefix: prefix}, nil
}
