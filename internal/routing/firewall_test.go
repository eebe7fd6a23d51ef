package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnet/internal/addr"
	"vnet/internal/domain"
)

func resolver(t *testing.T) *addr.Allocator {
	a := addr.NewAllocator()
	s := addr.MustParseSubnet("10.0.0.0/24")
	for _, n := range []string{"a", "b", "c"} {
		_, err := a.Allocate(s, n)
		require.NoError(t, err)
	}
	return a
}

func TestRenderOrder(t *testing.T) {
	rs := domain.FirewallRuleSet{
		Router: "r1",
		Policy: domain.PolicyDrop,
		Drop:   []domain.Rule{{Source: "c", Destination: "8.8.8.8"}},
		Accept: []domain.Rule{
			{Source: "a", Destination: "b", Bidirectional: true},
			{Source: "a", Destination: "c"},
		},
	}

	cmds, err := Render(rs, resolver(t))
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"iptables", "-P", "FORWARD", "DROP"},
		{"iptables", "-A", "FORWARD", "-p", "all", "-s", "10.0.0.1", "-d", "10.0.0.2", "-j", "ACCEPT"},
		{"iptables", "-A", "FORWARD", "-p", "all", "-s", "10.0.0.2", "-d", "10.0.0.1", "-j", "ACCEPT"},
		{"iptables", "-A", "FORWARD", "-p", "all", "-s", "10.0.0.1", "-d", "10.0.0.3", "-j", "ACCEPT"},
		{"iptables", "-A", "FORWARD", "-p", "all", "-s", "10.0.0.3", "-d", "8.8.8.8", "-j", "DROP"},
	}, cmds)
}

func TestRenderUnknownNameAbortsRouter(t *testing.T) {
	rs := domain.FirewallRuleSet{
		Router: "edge",
		Policy: domain.PolicyAccept,
		Accept: []domain.Rule{{Source: "a", Destination: "b"}},
		Drop:   []domain.Rule{{Source: "a", Destination: "nobody"}},
	}

	cmds, err := Render(rs, resolver(t))
	require.Error(t, err)
	assert.Nil(t, cmds, "no partial rule set")
	assert.ErrorIs(t, err, addr.ErrUnknownName)
	assert.Contains(t, err.Error(), "edge")
}

func TestRenderInvalidPolicy(t *testing.T) {
	_, err := Render(domain.FirewallRuleSet{Router: "r", Policy: "REJECT"}, resolver(t))
	assert.Error(t, err)
}

func TestRenderNAT(t *testing.T) {
	cmds := RenderNAT(domain.NATRule{Router: "gw", Sources: []string{"10.0.1.0/24", "10.0.2.0/24"}, OutInterface: "eth0"})
	require.Len(t, cmds, 2)
	assert.Equal(t, []string{"iptables", "-t", "nat", "-A", "POSTROUTING", "-s", "10.0.2.0/24", "-o", "eth0", "-j", "MASQUERADE"}, cmds[1])
}
