package addr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateNextIncreasing(t *testing.T) {
	for _, cidr := range []string{"10.0.0.0/24", "172.16.0.0/28", "192.168.9.4/30"} {
		t.Run(cidr, func(t *testing.T) {
			s := MustParseSubnet(cidr)
			a := NewAllocator()

			prev := s.NetworkAddress()
			for {
				addr, err := a.AllocateNext(s)
				if err != nil {
					require.ErrorIs(t, err, ErrSubnetExhausted)
					break
				}
				require.Greater(t, addr.IP(), prev)
				require.NotEqual(t, s.NetworkAddress(), addr.IP())
				require.Less(t, addr.IP(), s.BroadcastAddress())
				prev = addr.IP()
			}
			assert.Equal(t, s.BroadcastAddress()-1, prev)
		})
	}
}

func TestAllocateNextExhaustion(t *testing.T) {
	a := NewAllocator()
	s := MustParseSubnet("10.0.0.0/30")

	first, err := a.AllocateNext(s)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", first.String())
	_, err = a.AllocateNext(s)
	require.NoError(t, err)

	_, err = a.AllocateNext(s)
	assert.ErrorIs(t, err, ErrSubnetExhausted)
	// exhaustion is sticky, never a wrap into the next block
	_, err = a.AllocateNext(s)
	assert.ErrorIs(t, err, ErrSubnetExhausted)

	_, err = a.AllocateNext(MustParseSubnet("10.0.0.4/32"))
	assert.ErrorIs(t, err, ErrSubnetExhausted)
}

func TestCountersArePerSubnet(t *testing.T) {
	a := NewAllocator()
	x, _ := a.AllocateNext(MustParseSubnet("10.0.0.0/24"))
	y, _ := a.AllocateNext(MustParseSubnet("10.0.1.0/24"))
	z, _ := a.AllocateNext(MustParseSubnet("10.0.0.0/24"))

	assert.Equal(t, "10.0.0.1", x.String())
	assert.Equal(t, "10.0.1.1", y.String())
	assert.Equal(t, "10.0.0.2", z.String())
}

func TestResolve(t *testing.T) {
	a := NewAllocator()
	lan := MustParseSubnet("10.0.0.0/24")
	wan := MustParseSubnet("10.0.1.0/24")

	_, err := a.Allocate(lan, "h1")
	require.NoError(t, err)
	_, err = a.Allocate(lan, "r1")
	require.NoError(t, err)
	_, err = a.Allocate(wan, "r1")
	require.NoError(t, err)

	all, err := a.Resolve("r1", All)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "10.0.0.2/24", all[0].CIDR())
	assert.Equal(t, "10.0.1.1/24", all[1].CIDR())

	second, err := a.Resolve("r1", 1)
	require.NoError(t, err)
	assert.Equal(t, all[1], second[0])

	_, err = a.Resolve("r1", 2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = a.Resolve("nobody", 0)
	assert.ErrorIs(t, err, ErrUnknownName)
	var lookupErr *LookupError
	require.True(t, errors.As(err, &lookupErr))
	assert.Equal(t, "nobody", lookupErr.Name)

	assert.Equal(t, []Subnet{lan, wan}, a.Subnets("r1"))
	assert.Equal(t, []string{"h1", "r1"}, a.Names())

	got, ok := a.AddressIn("r1", wan)
	require.True(t, ok)
	assert.Equal(t, "10.0.1.1", got.String())
}

func TestResolveIPPassesLiteralsThrough(t *testing.T) {
	a := NewAllocator()
	_, _ = a.Allocate(MustParseSubnet("10.0.0.0/24"), "h1")

	ip, err := a.ResolveIP("h1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip)

	ip, err = a.ResolveIP("8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "8.8.8.8", ip)

	ip, err = a.ResolveIP("0.0.0.0/1")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0/1", ip)

	_, err = a.ResolveIP("ghost")
	assert.ErrorIs(t, err, ErrUnknownName)
}
