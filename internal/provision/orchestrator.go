// Package provision instantiates and removes planned networks.
//
// An Orchestrator drives a domain.Plan through a fixed sequence of phases
// against a gateway.Set. Every resource it creates is recorded in a Ledger;
// when any step fails the ledger is walked in reverse, each entry is removed
// exactly once, and the original failure is returned as a
// *domain.OrchestrationError together with whatever the rollback could not
// clean up.
package provision

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vnet/internal/addr"
	"vnet/internal/domain"
	"vnet/internal/gateway"
	"vnet/internal/log"
	"vnet/internal/routing"
)

const ipForwardSysctl = "net.ipv4.ip_forward"

// Orchestrator provisions one plan. It is not safe for concurrent use and
// is not reusable once it reaches a terminal state.
type Orchestrator struct {
	gw      gateway.Set
	timeout time.Duration
	logger  *logrus.Entry

	state    State
	ledger   Ledger
	prepared bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithCallTimeout bounds every individual gateway call. Zero disables the
// bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithLogger sets the logger phases report through
func WithLogger(l *logrus.Entry) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an orchestrator over gw
func New(gw gateway.Set, opts ...Option) *Orchestrator {
	o := &Orchestrator{gw: gw}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	return o.state
}

// Ledger returns the resources created so far
func (o *Orchestrator) Ledger() []Entry {
	return o.ledger.Entries()
}

type phase struct {
	state State
	run   func(context.Context, *domain.Plan) error
}

// Instantiate creates everything plan describes. On failure nothing created
// by this call is left behind except what the returned error's Rollback
// lists.
func (o *Orchestrator) Instantiate(ctx context.Context, plan *domain.Plan) error {
	if o.state != StateInit {
		return errors.New("orchestrator already used")
	}
	ctx = o.context(ctx)

	phases := []phase{
		{StateSystemSetup, o.setupSystem},
		{StateSubnetsCreated, o.createSubnets},
		{StateRoutersCreated, o.createRouters},
		{StateRouted, o.route},
		{StateFirewalled, o.firewall},
		{StateHostsUpdated, o.updateHosts},
	}

	logger := log.G(ctx).WithField("network", plan.Topology.Name)
	logger.Info("provisioning network")
	start := time.Now()
	for _, ph := range phases {
		logger.WithField("phase", ph.state).Debug("phase starting")
		if err := ph.run(ctx, plan); err != nil {
			return o.rollback(ctx, ph.state, err)
		}
		o.state = ph.state
	}
	o.state = StateReady
	logger.WithFields(logrus.Fields{
		"resources": o.ledger.Len(),
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("network ready")
	return nil
}

func (o *Orchestrator) context(ctx context.Context) context.Context {
	if o.logger != nil {
		ctx = log.WithLogger(ctx, o.logger)
	}
	return log.WithModule(ctx, "provision")
}

// call runs one gateway call under the per-call timeout
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	if o.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return fn(ctx)
}

// nodeError attributes a phase failure to the node being worked on
type nodeError struct {
	node string
	err  error
}

func (e *nodeError) Error() string { return e.node + ": " + e.err.Error() }

func (e *nodeError) Unwrap() error { return e.err }

func at(node string, err error) error {
	if err == nil {
		return nil
	}
	return &nodeError{node: node, err: err}
}

func (o *Orchestrator) setupSystem(ctx context.Context, plan *domain.Plan) error {
	// a partial Prepare still has settings to restore
	o.prepared = true
	if err := o.call(ctx, o.gw.Host.Prepare); err != nil {
		return err
	}

	var gw *domain.Node
	for _, r := range plan.Topology.NodesByRole(domain.RoleRouter) {
		if r.InternetGateway {
			gw = r
			break
		}
	}
	if gw == nil {
		return nil
	}

	var dn gateway.Network
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		dn, err = o.gw.Containers.DefaultNetwork(ctx)
		return err
	})
	if err != nil {
		return at(gw.Name, err)
	}
	return checkDefaultNetwork(plan, dn)
}

// checkDefaultNetwork rejects plans whose subnets overlap the runtime's
// default network, which the gateway router is attached to
func checkDefaultNetwork(plan *domain.Plan, dn gateway.Network) error {
	if dn.Subnet == "" {
		return nil
	}
	def, err := addr.ParseSubnet(dn.Subnet)
	if err != nil {
		return &domain.ConfigError{Field: "default network", Reason: err.Error()}
	}
	seen := make(map[addr.Subnet]bool)
	for _, name := range plan.Addresses.Names() {
		for _, s := range plan.Addresses.Subnets(name) {
			if seen[s] {
				continue
			}
			seen[s] = true
			if s.Overlaps(def) {
				return &domain.ConfigError{
					Field:  "subnets",
					Reason: s.String() + " overlaps the default network " + def.String(),
				}
			}
		}
	}
	return nil
}

func (o *Orchestrator) createSubnets(ctx context.Context, plan *domain.Plan) error {
	topo := plan.Topology
	for _, b := range topo.NodesByRole(domain.RoleBridge) {
		if err := o.createBridge(ctx, b); err != nil {
			return at(b.Name, err)
		}
	}
	for _, h := range topo.NodesByRole(domain.RoleHost) {
		if err := o.createContainer(ctx, h); err != nil {
			return at(h.Name, err)
		}
	}
	for _, l := range topo.Links {
		n, _ := topo.Node(l.Node)
		if n.Role == domain.RoleRouter {
			continue
		}
		if err := o.connect(ctx, topo, l); err != nil {
			return at(l.Node, err)
		}
	}
	log.G(ctx).WithFields(logrus.Fields{
		"bridges": len(topo.NodesByRole(domain.RoleBridge)),
		"hosts":   len(topo.NodesByRole(domain.RoleHost)),
	}).Info("subnets created")
	return nil
}

func (o *Orchestrator) createRouters(ctx context.Context, plan *domain.Plan) error {
	topo := plan.Topology
	routers := topo.NodesByRole(domain.RoleRouter)
	for _, r := range routers {
		if err := o.createContainer(ctx, r); err != nil {
			return at(r.Name, err)
		}
		for _, l := range topo.LinksOf(r.Name) {
			if err := o.connect(ctx, topo, l); err != nil {
				return at(r.Name, err)
			}
		}
	}
	if len(routers) > 0 {
		log.G(ctx).WithField("routers", len(routers)).Info("routers created")
	}
	return nil
}

func (o *Orchestrator) createBridge(ctx context.Context, b *domain.Node) error {
	if err := o.call(ctx, func(ctx context.Context) error {
		return o.gw.Links.CreateBridge(ctx, b.Name)
	}); err != nil {
		return err
	}
	o.ledger.Append(KindBridge, b.Name)

	if b.VLANAware {
		if err := o.call(ctx, func(ctx context.Context) error {
			return o.gw.Links.EnableVLAN(ctx, b.Name)
		}); err != nil {
			return err
		}
	}
	return o.call(ctx, func(ctx context.Context) error {
		return o.gw.Links.Activate(ctx, b.Name, "")
	})
}

// containerSpec derives the runtime settings of a host or router
func containerSpec(n *domain.Node) gateway.ContainerSpec {
	spec := gateway.ContainerSpec{
		Name:         n.Name,
		Role:         n.Role,
		Image:        n.Image,
		Capabilities: []string{"SYS_ADMIN"},
	}
	if n.Role == domain.RoleRouter {
		spec.Capabilities = append(spec.Capabilities, "NET_ADMIN")
		spec.Sysctls = map[string]string{ipForwardSysctl: "1"}
		spec.DefaultNetwork = n.InternetGateway
	}
	return spec
}

func (o *Orchestrator) createContainer(ctx context.Context, n *domain.Node) error {
	spec := containerSpec(n)
	if err := o.call(ctx, func(ctx context.Context) error {
		return o.gw.Containers.Create(ctx, spec)
	}); err != nil {
		return err
	}
	o.ledger.Append(KindContainer, n.Name)

	return o.call(ctx, func(ctx context.Context) error {
		return o.gw.Containers.LinkNamespace(ctx, n.Name)
	})
}

// connect realises one link: a veth pair whose node end goes into the
// node's namespace (or under the node bridge for trunks) and whose bridge
// end is enslaved to the bridge
func (o *Orchestrator) connect(ctx context.Context, topo *domain.Topology, l *domain.Link) error {
	links := o.gw.Links
	if err := o.call(ctx, func(ctx context.Context) error {
		return links.CreateVeth(ctx, l.NodeIface, l.BridgeIface)
	}); err != nil {
		return err
	}
	o.ledger.Append(KindVeth, l.BridgeIface)

	n, _ := topo.Node(l.Node)
	nodeTarget := gateway.Target{Namespace: l.Node}
	nodeNS := l.Node
	if n.Role == domain.RoleBridge {
		nodeTarget = gateway.Target{Master: l.Node}
		nodeNS = ""
	}

	steps := []func(context.Context) error{
		func(ctx context.Context) error { return links.Attach(ctx, l.NodeIface, nodeTarget) },
		func(ctx context.Context) error { return links.Attach(ctx, l.BridgeIface, gateway.Target{Master: l.Bridge}) },
		func(ctx context.Context) error { return links.Activate(ctx, l.NodeIface, nodeNS) },
		func(ctx context.Context) error { return links.Activate(ctx, l.BridgeIface, "") },
	}
	switch {
	case l.Trunk:
		steps = append(steps, func(ctx context.Context) error {
			return o.gw.VLANs.AddInterface(ctx, gateway.TrunkVLAN, l.BridgeIface)
		})
	case l.VLAN > 0:
		steps = append(steps, func(ctx context.Context) error {
			return o.gw.VLANs.AddInterface(ctx, l.VLAN, l.BridgeIface)
		})
	}
	if l.HasAddress() {
		steps = append(steps, func(ctx context.Context) error {
			return links.AssignAddress(ctx, l.NodeIface, l.Address.CIDR(), nodeNS)
		})
	}

	for _, step := range steps {
		if err := o.call(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) route(ctx context.Context, plan *domain.Plan) error {
	for _, r := range plan.Routes {
		if err := o.call(ctx, func(ctx context.Context) error {
			return o.gw.Links.AssignRoute(ctx, r.Destination, r.Gateway, r.Namespace)
		}); err != nil {
			return at(r.Namespace, err)
		}
	}
	log.G(ctx).WithField("routes", len(plan.Routes)).Info("routes installed")
	return nil
}

func (o *Orchestrator) firewall(ctx context.Context, plan *domain.Plan) error {
	for _, rs := range plan.Firewalls {
		cmds, err := routing.Render(rs, plan.Addresses)
		if err != nil {
			return at(rs.Router, err)
		}
		if err := o.execAll(ctx, rs.Router, cmds); err != nil {
			return at(rs.Router, err)
		}
	}
	for _, n := range plan.NAT {
		if err := o.execAll(ctx, n.Router, routing.RenderNAT(n)); err != nil {
			return at(n.Router, err)
		}
	}
	return nil
}

// execAll runs cmds in order inside node, stopping at the first failure
func (o *Orchestrator) execAll(ctx context.Context, node string, cmds [][]string) error {
	for _, argv := range cmds {
		if err := o.exec(ctx, node, argv); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) exec(ctx context.Context, node string, argv []string) error {
	var code int
	if err := o.call(ctx, func(ctx context.Context) error {
		var err error
		code, err = o.gw.Containers.Exec(ctx, node, argv)
		return err
	}); err != nil {
		return err
	}
	if code != 0 {
		return &domain.ContainerError{
			Op:   "exec",
			Name: node,
			Err:  errors.Errorf("%s exited with status %d", strings.Join(argv, " "), code),
		}
	}
	return nil
}

func (o *Orchestrator) updateHosts(ctx context.Context, plan *domain.Plan) error {
	for _, u := range plan.Uploads {
		archive, err := tarFiles(u.Files)
		if err != nil {
			return at(u.Node, err)
		}
		if err := o.call(ctx, func(ctx context.Context) error {
			return o.gw.Containers.Upload(ctx, u.Node, u.Dir, archive)
		}); err != nil {
			return at(u.Node, err)
		}
	}

	if !plan.UpdateHosts {
		return nil
	}
	lines := hostsEntries(plan)
	if len(lines) == 0 {
		return nil
	}
	argv := hostsCommand(lines)
	for _, n := range plan.Topology.Nodes() {
		if !n.Role.IsContainer() {
			continue
		}
		if err := o.exec(ctx, n.Name, argv); err != nil {
			return at(n.Name, err)
		}
	}
	return nil
}

// rollback unwinds the ledger newest first. Every entry is attempted once;
// failures are collected, never retried, and never stop the walk.
func (o *Orchestrator) rollback(ctx context.Context, failed State, cause error) error {
	o.state = StateRollingBack
	ctx = context.WithoutCancel(ctx)
	logger := log.G(ctx).WithField("phase", failed)
	logger.WithError(cause).Error("provisioning failed, rolling back")

	var result *multierror.Error
	entries := o.ledger.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := o.remove(ctx, e); err != nil {
			logger.WithError(err).Warnf("rollback could not remove %s %s", e.Kind, e.Name)
			result = multierror.Append(result, err)
		}
	}
	if o.prepared {
		if err := o.call(ctx, o.gw.Host.Restore); err != nil {
			logger.WithError(err).Warn("rollback could not restore host settings")
			result = multierror.Append(result, err)
		}
	}
	o.state = StateRolledBack

	oe := &domain.OrchestrationError{Phase: failed.String(), Err: cause}
	var ne *nodeError
	if errors.As(cause, &ne) {
		oe.Node = ne.node
		oe.Err = ne.err
	}
	if result != nil {
		oe.Rollback = result.Errors
	}
	logger.WithField("removed", len(entries)-len(oe.Rollback)).Info("rollback finished")
	return oe
}

func (o *Orchestrator) remove(ctx context.Context, e Entry) error {
	return o.call(ctx, func(ctx context.Context) error {
		switch e.Kind {
		case KindContainer:
			return o.gw.Containers.Remove(ctx, e.Name)
		case KindBridge:
			return o.gw.Links.RemoveBridge(ctx, e.Name)
		default:
			return o.gw.Links.RemoveVeth(ctx, e.Name, "")
		}
	})
}

// Teardown removes rs best-effort: containers, then bridge-to-bridge veths,
// then bridges. Every resource is attempted; failures, including resources
// that were already gone, are returned together.
func (o *Orchestrator) Teardown(ctx context.Context, rs domain.ResourceSet) error {
	ctx = o.context(ctx)
	logger := log.G(ctx)

	var result *multierror.Error
	failed := 0
	try := func(e Entry) {
		if err := o.remove(ctx, e); err != nil {
			logger.WithError(err).Warnf("could not remove %s %s", e.Kind, e.Name)
			result = multierror.Append(result, err)
			failed++
		}
	}
	for _, c := range rs.Containers {
		try(Entry{Kind: KindContainer, Name: c})
	}
	for _, v := range rs.Veths {
		try(Entry{Kind: KindVeth, Name: v})
	}
	for _, b := range rs.Bridges {
		try(Entry{Kind: KindBridge, Name: b})
	}

	total := len(rs.Containers) + len(rs.Veths) + len(rs.Bridges)
	logger.WithFields(logrus.Fields{
		"resources": total,
		"failed":    failed,
	}).Info("network removed")
	return result.ErrorOrNil()
}
