package provision

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnet/internal/config"
	"vnet/internal/declared"
	"vnet/internal/domain"
	"vnet/internal/gateway/kernel"
	"vnet/internal/strategy"
	"vnet/internal/testutil"
)

const lab = `
name: lab
subnets:
  lan1:
    address: 10.0.1.0/24
    hosts: [h1, h2]
  lan2:
    address: 10.0.2.0/24
    hosts: [h3]
routers:
  r1:
    subnets: [lan1, lan2]
    firewall:
      policy: DROP
      accept:
        - {source: h1, destination: h3, bidirectional: true}
update_hosts: true
`

func labPlan(t *testing.T, src string) *domain.Plan {
	t.Helper()
	cfg, err := config.Parse([]byte(src))
	require.NoError(t, err)
	plan, err := declared.Build(cfg, nil)
	require.NoError(t, err)
	return plan
}

func names(calls []testutil.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Name)
	}
	return out
}

func removals(gw *testutil.Gateways) []string {
	var out []string
	for _, c := range gw.Calls() {
		switch c.Op {
		case "Remove", "RemoveBridge", "RemoveVeth":
			out = append(out, c.Name)
		}
	}
	return out
}

func TestInstantiateReachesReady(t *testing.T) {
	gw := testutil.NewGateways()
	o := New(gw.Set())

	plan := labPlan(t, lab)
	require.NoError(t, o.Instantiate(context.Background(), plan))
	assert.Equal(t, StateReady, o.State())

	calls := gw.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "Prepare", calls[0].Op)

	assert.Equal(t, []string{"lan1_brd", "lan2_brd"}, names(gw.CallsTo("CreateBridge")))
	assert.Equal(t, []string{"h1", "h2", "h3", "r1"}, names(gw.CallsTo("Create")))
	assert.Len(t, gw.CallsTo("CreateVeth"), 5)
	assert.Len(t, gw.CallsTo("AssignAddress"), 5)
	assert.Len(t, gw.CallsTo("AssignRoute"), len(plan.Routes))
	assert.Empty(t, gw.CallsTo("DefaultNetwork"))
	assert.Empty(t, gw.CallsTo("Restore"))

	// subnets are complete before the first router exists
	router := gw.Index("Create r1 " + config.DefaultRouterImage)
	require.Positive(t, router)
	for _, c := range []string{"Create h3 " + config.DefaultNodeImage, "CreateVeth vnzzz2 vbzzz2"} {
		assert.Less(t, gw.Index(c), router, c)
	}

	// routes come after every address
	addrs := gw.CallsTo("AssignAddress")
	lastAddr := gw.Index(addrs[len(addrs)-1].String())
	assert.Less(t, lastAddr, gw.Index(gw.CallsTo("AssignRoute")[0].String()))

	var fw [][]string
	for _, c := range gw.CallsTo("Exec") {
		if c.Name == "r1" && c.Args[0] == "iptables" {
			fw = append(fw, c.Args)
		}
	}
	require.Len(t, fw, 3)
	assert.Equal(t, []string{"iptables", "-P", "FORWARD", "DROP"}, fw[0])
	assert.Equal(t, "ACCEPT", fw[1][len(fw[1])-1])

	ledger := o.Ledger()
	assert.Len(t, ledger, 11)
	assert.Equal(t, Entry{Kind: KindBridge, Name: "lan1_brd"}, ledger[0])
}

func TestInstantiateOnlyOnce(t *testing.T) {
	o := New(testutil.NewGateways().Set())
	plan := labPlan(t, lab)
	require.NoError(t, o.Instantiate(context.Background(), plan))
	assert.Error(t, o.Instantiate(context.Background(), plan))
}

func TestHostsFileUpdate(t *testing.T) {
	gw := testutil.NewGateways()
	require.NoError(t, New(gw.Set()).Instantiate(context.Background(), labPlan(t, lab)))

	var updated []string
	for _, c := range gw.CallsTo("Exec") {
		if c.Args[0] != "sh" {
			continue
		}
		updated = append(updated, c.Name)
		assert.Contains(t, c.Args, "10.0.1.1 h1")
		assert.Contains(t, c.Args, "10.0.2.1 h3")
		assert.Contains(t, c.Args, "10.0.1.3 r1")
	}
	assert.ElementsMatch(t, []string{"h1", "h2", "h3", "r1"}, updated)
}

func TestRollbackRemovesEachResourceOnce(t *testing.T) {
	boom := errors.New("image pull failed")
	gw := testutil.NewGateways()
	gw.Fail["Create r1"] = boom
	o := New(gw.Set())

	err := o.Instantiate(context.Background(), labPlan(t, lab))
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, o.State())

	var oe *domain.OrchestrationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "ROUTERS_CREATED", oe.Phase)
	assert.Equal(t, "r1", oe.Node)
	assert.Empty(t, oe.Rollback)
	assert.ErrorIs(t, err, boom)

	var ce *domain.ContainerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "create", ce.Op)

	assert.Equal(t, []string{
		"vbzzz2", "vbzzz1", "vbzzz0",
		"h3", "h2", "h1",
		"lan2_brd", "lan1_brd",
	}, removals(gw))
	assert.Len(t, gw.CallsTo("Restore"), 1)
}

func TestRollbackContinuesPastFailures(t *testing.T) {
	gw := testutil.NewGateways()
	gw.Fail["Create r1"] = errors.New("no space left")
	gw.Fail["Remove h2"] = errors.New("daemon busy")
	gw.Fail["RemoveBridge lan1_brd"] = errors.New("device busy")

	err := New(gw.Set()).Instantiate(context.Background(), labPlan(t, lab))
	var oe *domain.OrchestrationError
	require.True(t, errors.As(err, &oe))
	assert.Len(t, oe.Rollback, 2)
	assert.Contains(t, err.Error(), "rollback left 2 resource(s) behind")
	assert.Contains(t, err.Error(), "no space left")

	// every entry is still attempted exactly once
	assert.Len(t, removals(gw), 8)
}

func TestRollbackAfterHalfConfiguredVeth(t *testing.T) {
	gw := testutil.NewGateways()
	gw.Fail["Attach vnzzz1"] = errors.New("no such namespace")

	err := New(gw.Set()).Instantiate(context.Background(), labPlan(t, lab))
	var oe *domain.OrchestrationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "SUBNETS_CREATED", oe.Phase)
	assert.Equal(t, "h2", oe.Node)

	var le *domain.LinkError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, domain.LinkErrorKernel, le.Kind)

	// the failing pair was created, so it is removed too
	assert.Equal(t, []string{"vbzzz1", "vbzzz0"}, names(gw.CallsTo("RemoveVeth")))
}

func TestFirewallUnresolvedName(t *testing.T) {
	plan := labPlan(t, lab)
	rs := plan.Firewall("r1", domain.PolicyDrop)
	rs.Drop = append(rs.Drop, domain.Rule{Source: "ghost", Destination: "h3"})

	gw := testutil.NewGateways()
	err := New(gw.Set()).Instantiate(context.Background(), plan)

	var oe *domain.OrchestrationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "FIREWALLED", oe.Phase)
	assert.Equal(t, "r1", oe.Node)
	assert.Contains(t, err.Error(), "ghost")

	// nothing of the set reaches the router
	assert.Empty(t, gw.CallsTo("Exec"))
}

func TestFirewallCommandFailure(t *testing.T) {
	gw := testutil.NewGateways()
	gw.ExitCodes["r1"] = 2

	err := New(gw.Set()).Instantiate(context.Background(), labPlan(t, lab))
	var oe *domain.OrchestrationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "FIREWALLED", oe.Phase)

	var ce *domain.ContainerError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "r1", ce.Name)
	assert.Contains(t, ce.Error(), "exited with status 2")
	assert.Len(t, gw.CallsTo("Exec"), 1)
}

func TestCallTimeout(t *testing.T) {
	gw := testutil.NewGateways()
	gw.Block["AssignRoute h1"] = true

	o := New(gw.Set(), WithCallTimeout(20*time.Millisecond))
	err := o.Instantiate(context.Background(), labPlan(t, lab))

	var oe *domain.OrchestrationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "ROUTED", oe.Phase)
	assert.Equal(t, "h1", oe.Node)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, oe.Rollback)
	assert.Len(t, removals(gw), 11)
}

const gatewayLab = `
name: edge
subnets:
  lan:
    address: 172.17.8.0/24
    hosts: [h1]
routers:
  r1:
    subnets: [lan]
    internet_gateway: true
internet_access: true
`

func TestDefaultNetworkOverlap(t *testing.T) {
	gw := testutil.NewGateways()
	err := New(gw.Set()).Instantiate(context.Background(), labPlan(t, gatewayLab))

	var ce *domain.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Reason, "172.17.0.0/16")
	assert.Empty(t, gw.CallsTo("CreateBridge"))
	assert.Len(t, gw.CallsTo("Restore"), 1)
}

func TestInternetGateway(t *testing.T) {
	gw := testutil.NewGateways()
	gw.Network.Subnet = "192.168.250.0/24"

	require.NoError(t, New(gw.Set()).Instantiate(context.Background(), labPlan(t, gatewayLab)))

	var nat []string
	for _, c := range gw.CallsTo("Exec") {
		if len(c.Args) > 2 && c.Args[1] == "-t" {
			nat = c.Args
		}
	}
	assert.Equal(t, []string{
		"iptables", "-t", "nat", "-A", "POSTROUTING",
		"-s", "172.17.8.0/24", "-o", declared.ExternalInterface, "-j", "MASQUERADE",
	}, nat)
}

func TestContainerSpec(t *testing.T) {
	host := containerSpec(domain.NewHost("h1", "d_host"))
	assert.Equal(t, []string{"SYS_ADMIN"}, host.Capabilities)
	assert.Empty(t, host.Sysctls)
	assert.False(t, host.DefaultNetwork)

	r := domain.NewRouter("r1", "d_router")
	r.InternetGateway = true
	router := containerSpec(r)
	assert.Equal(t, []string{"SYS_ADMIN", "NET_ADMIN"}, router.Capabilities)
	assert.Equal(t, "1", router.Sysctls["net.ipv4.ip_forward"])
	assert.True(t, router.DefaultNetwork)
}

func TestTeardownReportsMissingResources(t *testing.T) {
	cfg, err := config.Parse([]byte(lab))
	require.NoError(t, err)

	gw := testutil.NewGateways()
	for _, n := range []string{"h1", "h2", "h3", "r1"} {
		gw.Missing[n] = true
	}

	err = NewSession(gw.Set()).Delete(context.Background(), cfg)
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 4)
	for _, e := range merr.Errors {
		var ce *domain.ContainerError
		require.True(t, errors.As(e, &ce))
		assert.True(t, ce.Recoverable)
		assert.ErrorIs(t, e, domain.ErrNotFound)
	}

	// bridges are still removed after the containers
	assert.Equal(t, []string{"h1", "h2", "h3", "r1", "lan1_brd", "lan2_brd"}, removals(gw))
}

func TestSessionRejectsUndeclaredLogicalNode(t *testing.T) {
	cfg, err := config.Parse([]byte(lab))
	require.NoError(t, err)

	g := domain.NewLogicalGraph("lab", false)
	require.NoError(t, g.AddEdge("h1", "db"))

	gw := testutil.NewGateways()
	_, err = NewSession(gw.Set()).Instantiate(context.Background(), cfg, g)

	var ce *domain.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Empty(t, gw.Calls())
}

func TestSynthesizeUploadsNeighbourMaps(t *testing.T) {
	g := domain.NewLogicalGraph("pair", false)
	require.NoError(t, g.AddEdge("a", "b"))

	p := strategy.DefaultParams()
	p.NeighbourMaps = true
	st, err := strategy.Lookup("multi-router")
	require.NoError(t, err)

	gw := testutil.NewGateways()
	s := NewSession(gw.Set())
	plan, err := s.SynthesizeAndInstantiate(context.Background(), st, g, p)
	require.NoError(t, err)

	archive, ok := gw.Uploads["a"]
	require.True(t, ok)

	tr := tar.NewReader(bytes.NewReader(archive))
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "neighIPs.json", hdr.Name)
	data, err := io.ReadAll(tr)
	require.NoError(t, err)

	var nm struct {
		OurIP    string   `json:"ourIP"`
		NeighIPs []string `json:"neighIPs"`
	}
	require.NoError(t, json.Unmarshal(data, &nm))
	own, err := plan.Addresses.ResolveIP("a")
	require.NoError(t, err)
	peer, err := plan.Addresses.ResolveIP("b")
	require.NoError(t, err)
	assert.Equal(t, own, nm.OurIP)
	assert.Equal(t, []string{peer}, nm.NeighIPs)

	require.NoError(t, s.Remove(context.Background(), st, g, p))
	assert.ElementsMatch(t, []string{"a", "r-a", "b", "r-b"}, names(gw.CallsTo("Remove")))
}

func TestVLANTrunks(t *testing.T) {
	g := domain.NewLogicalGraph("tri", false)
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("a", "c"))

	p := strategy.DefaultParams()
	p.MaxLeafPorts = 2
	st, err := strategy.Lookup("vlans")
	require.NoError(t, err)

	gw := testutil.NewGateways()
	s := NewSession(gw.Set())
	_, err = s.SynthesizeAndInstantiate(context.Background(), st, g, p)
	require.NoError(t, err)

	assert.Equal(t, []string{"brdE0", "brdE1"}, names(gw.CallsTo("EnableVLAN")))

	var trunks, leaves int
	for _, c := range gw.CallsTo("AddInterface") {
		if c.Args[0] == "trunk" {
			trunks++
		} else {
			assert.Equal(t, "2", c.Args[0])
			leaves++
		}
	}
	assert.Equal(t, 2, trunks)
	assert.Equal(t, 3, leaves)
	assert.Empty(t, gw.CallsTo("AssignRoute"))

	require.NoError(t, s.Remove(context.Background(), st, g, p))
	assert.Len(t, gw.CallsTo("RemoveVeth"), 2)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "SYSTEM_SETUP", StateSystemSetup.String())
	assert.Equal(t, "ROLLED_BACK", StateRolledBack.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
	assert.True(t, StateReady.Terminal())
	assert.False(t, StateRouted.Terminal())
}

func TestFailedSystemSetupRestoresHost(t *testing.T) {
	gw := testutil.NewGateways()
	gw.Fail["Prepare host"] = errors.New("read-only file system")
	o := New(gw.Set())

	err := o.Instantiate(context.Background(), labPlan(t, lab))
	var oe *domain.OrchestrationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "SYSTEM_SETUP", oe.Phase)
	assert.Len(t, gw.CallsTo("Restore"), 1)
	assert.Empty(t, gw.CallsTo("CreateBridge"))
}

func TestFailedSystemSetupRestoresSysctls(t *testing.T) {
	proc := t.TempDir()
	forward := filepath.Join(proc, "net", "ipv4", "ip_forward")
	require.NoError(t, os.MkdirAll(filepath.Dir(forward), 0o755))
	require.NoError(t, os.WriteFile(forward, []byte("0\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(proc, "net", "bridge", "bridge-nf-call-iptables"), 0o755))

	gw := testutil.NewGateways()
	set := gw.Set()
	set.Host = kernel.NewHost(proc, filepath.Join(t.TempDir(), "netns"))

	err := New(set).Instantiate(context.Background(), labPlan(t, lab))
	var oe *domain.OrchestrationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "SYSTEM_SETUP", oe.Phase)

	data, err := os.ReadFile(forward)
	require.NoError(t, err)
	assert.Equal(t, "0\n", string(data))
}
