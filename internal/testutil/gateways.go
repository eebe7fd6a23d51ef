// Package testutil provides in-memory gateways for exercising provisioning
// without a container runtime or root privileges.
package testutil

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"vnet/internal/domain"
	"vnet/internal/gateway"
)

// Call is one recorded gateway invocation
type Call struct {
	Op   string
	Name string
	Args []string
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Op + " " + c.Name
	}
	return c.Op + " " + c.Name + " " + strings.Join(c.Args, " ")
}

// Gateways implements every gateway interface and records each call.
//
// Failures are injected by key "<Op> <name>", for example "Create r1" or
// "RemoveBridge brd0". Names listed in Missing are reported as already gone
// by the removal calls. Keys in Block make the call wait for its context to
// expire.
type Gateways struct {
	mu    sync.Mutex
	calls []Call

	Fail      map[string]error
	Missing   map[string]bool
	Block     map[string]bool
	ExitCodes map[string]int // by container name

	Network gateway.Network
	Uploads map[string][]byte // by container name
}

// NewGateways returns a recorder that succeeds at everything
func NewGateways() *Gateways {
	return &Gateways{
		Fail:      make(map[string]error),
		Missing:   make(map[string]bool),
		Block:     make(map[string]bool),
		ExitCodes: make(map[string]int),
		Network:   gateway.Network{Bridge: "docker0", Gateway: "172.17.0.1", Subnet: "172.17.0.0/16"},
		Uploads:   make(map[string][]byte),
	}
}

// Set exposes g through every slot of a gateway.Set
func (g *Gateways) Set() gateway.Set {
	return gateway.Set{Containers: g, Links: g, VLANs: g, Host: g}
}

// Calls returns the recorded calls in order
func (g *Gateways) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallsTo returns the recorded calls of one operation
func (g *Gateways) CallsTo(op string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Index returns the position of the first call rendering as s, or -1
func (g *Gateways) Index(s string) int {
	for i, c := range g.Calls() {
		if c.String() == s {
			return i
		}
	}
	return -1
}

func (g *Gateways) record(ctx context.Context, op, name string, args ...string) error {
	g.mu.Lock()
	g.calls = append(g.calls, Call{Op: op, Name: name, Args: args})
	key := op + " " + name
	err := g.Fail[key]
	block := g.Block[key]
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (g *Gateways) missing(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Missing[name]
}

func (g *Gateways) Create(ctx context.Context, spec gateway.ContainerSpec) error {
	if err := g.record(ctx, "Create", spec.Name, spec.Image); err != nil {
		return &domain.ContainerError{Op: "create", Name: spec.Name, Err: err}
	}
	return nil
}

func (g *Gateways) LinkNamespace(ctx context.Context, name string) error {
	return g.record(ctx, "LinkNamespace", name)
}

func (g *Gateways) Remove(ctx context.Context, name string) error {
	if err := g.record(ctx, "Remove", name); err != nil {
		return &domain.ContainerError{Op: "remove", Name: name, Err: err}
	}
	if g.missing(name) {
		return &domain.ContainerError{Op: "remove", Name: name, Recoverable: true, Err: domain.ErrNotFound}
	}
	return nil
}

func (g *Gateways) Exec(ctx context.Context, name string, argv []string) (int, error) {
	if err := g.record(ctx, "Exec", name, argv...); err != nil {
		return -1, &domain.ContainerError{Op: "exec", Name: name, Err: err}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ExitCodes[name], nil
}

func (g *Gateways) Upload(ctx context.Context, name, dir string, archive []byte) error {
	if err := g.record(ctx, "Upload", name, dir); err != nil {
		return err
	}
	g.mu.Lock()
	g.Uploads[name] = archive
	g.mu.Unlock()
	return nil
}

func (g *Gateways) DefaultNetwork(ctx context.Context) (gateway.Network, error) {
	if err := g.record(ctx, "DefaultNetwork", ""); err != nil {
		return gateway.Network{}, err
	}
	return g.Network, nil
}

func (g *Gateways) CreateBridge(ctx context.Context, name string) error {
	return g.linkErr("add", name, g.record(ctx, "CreateBridge", name))
}

func (g *Gateways) EnableVLAN(ctx context.Context, name string) error {
	return g.linkErr("vlan_filtering", name, g.record(ctx, "EnableVLAN", name))
}

func (g *Gateways) CreateVeth(ctx context.Context, a, b string) error {
	return g.linkErr("add", a, g.record(ctx, "CreateVeth", a, b))
}

func (g *Gateways) Activate(ctx context.Context, name, netns string) error {
	return g.linkErr("up", name, g.record(ctx, "Activate", name, netns))
}

func (g *Gateways) Attach(ctx context.Context, name string, to gateway.Target) error {
	target := "master=" + to.Master
	if to.Namespace != "" {
		target = "netns=" + to.Namespace
	}
	return g.linkErr("attach", name, g.record(ctx, "Attach", name, target))
}

func (g *Gateways) AssignAddress(ctx context.Context, iface, cidr, netns string) error {
	return g.linkErr("addr", iface, g.record(ctx, "AssignAddress", iface, cidr, netns))
}

func (g *Gateways) AssignRoute(ctx context.Context, dest, gw, netns string) error {
	return g.linkErr("route", netns, g.record(ctx, "AssignRoute", netns, dest, gw))
}

func (g *Gateways) RemoveBridge(ctx context.Context, name string) error {
	if err := g.record(ctx, "RemoveBridge", name); err != nil {
		return g.linkErr("del", name, err)
	}
	if g.missing(name) {
		return g.linkErr("del", name, domain.ErrNotFound)
	}
	return nil
}

func (g *Gateways) RemoveVeth(ctx context.Context, name, netns string) error {
	if err := g.record(ctx, "RemoveVeth", name, netns); err != nil {
		return g.linkErr("del", name, err)
	}
	if g.missing(name) {
		return g.linkErr("del", name, domain.ErrNotFound)
	}
	return nil
}

func (g *Gateways) AddInterface(ctx context.Context, vlanID int, iface string) error {
	vid := "trunk"
	if vlanID != gateway.TrunkVLAN {
		vid = strconv.Itoa(vlanID)
	}
	return g.linkErr("vlan", iface, g.record(ctx, "AddInterface", iface, vid))
}

func (g *Gateways) Prepare(ctx context.Context) error {
	return g.record(ctx, "Prepare", "host")
}

func (g *Gateways) Restore(ctx context.Context) error {
	return g.record(ctx, "Restore", "host")
}

func (g *Gateways) linkErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.LinkError{Op: op, Name: name, Kind: domain.LinkErrorKernel, Err: err}
}
