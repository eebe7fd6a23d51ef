// Package domain defines the types shared by every stage of vnet, from the
// abstract connectivity a user asks for down to the concrete resources that
// are created on the host.
//
// # Logical Graph
//
// LogicalGraph is the externally supplied connectivity: named nodes and the
// edges between them, optionally directed, with no addressing. It is loaded
// once and never mutated by synthesis.
//
// # Physical Topology
//
// Topology is what a synthesis strategy derives from a logical graph. Its
// nodes are hosts, routers and bridges. Its links are veth pairs with one end
// in a container namespace (or a bridge, for trunks) and the other end
// enslaved to a bridge, optionally carrying an address or a VLAN.
//
// # Plan
//
// Plan bundles a Topology with everything the provisioning orchestrator needs
// to bring it up: the address allocator holding every assignment, the static
// routes, the per-router firewall rule sets, NAT rules and file uploads.
//
// ResourceSet is the flat list of bridges and containers of a network, used
// for teardown when no ledger from the creating process is available.
//
// # Errors
//
// ConfigError means nothing was touched. LinkError and ContainerError come
// from the gateways and imply partial side effects. OrchestrationError wraps
// either with the phase and node that failed, plus any rollback failures.
package domain
