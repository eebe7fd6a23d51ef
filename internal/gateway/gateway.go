// Package gateway defines the collaborators the provisioning orchestrator
// drives: the container runtime, kernel links, bridge VLAN membership and
// host settings. Implementations live in the docker and kernel
// subpackages.
//
// Every call blocks until it completes or its context expires. Failures are
// reported as *domain.ContainerError or *domain.LinkError; removing
// something that does not exist wraps domain.ErrNotFound.
package gateway

import (
	"context"

	"vnet/internal/domain"
)

// TrunkVLAN asks AddInterface for tagged membership of every VLAN
const TrunkVLAN = 0

// ContainerSpec describes a container to create
type ContainerSpec struct {
	Name         string
	Role         domain.Role
	Image        string
	Capabilities []string
	Sysctls      map[string]string

	// DefaultNetwork attaches the container to the runtime's default
	// network instead of leaving it without interfaces
	DefaultNetwork bool
}

// Network describes the runtime's default network
type Network struct {
	Bridge  string
	Gateway string
	Subnet  string
}

// ContainerGateway runs nodes as containers
type ContainerGateway interface {
	Create(ctx context.Context, spec ContainerSpec) error
	// LinkNamespace exposes the container's network namespace under its name
	LinkNamespace(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	Exec(ctx context.Context, name string, argv []string) (int, error)
	// Upload extracts a tar archive into dir inside the container
	Upload(ctx context.Context, name, dir string, archive []byte) error
	DefaultNetwork(ctx context.Context) (Network, error)
}

// Target is where Attach moves an interface: into a named namespace, or
// under a master bridge
type Target struct {
	Namespace string
	Master    string
}

// LinkGateway configures kernel links. An empty netns means the root
// namespace.
type LinkGateway interface {
	CreateBridge(ctx context.Context, name string) error
	EnableVLAN(ctx context.Context, name string) error
	CreateVeth(ctx context.Context, a, b string) error
	Activate(ctx context.Context, name, netns string) error
	Attach(ctx context.Context, name string, to Target) error
	AssignAddress(ctx context.Context, iface, cidr, netns string) error
	AssignRoute(ctx context.Context, dest, gateway, netns string) error
	RemoveBridge(ctx context.Context, name string) error
	RemoveVeth(ctx context.Context, name, netns string) error
}

// VLANGateway manages bridge port VLAN membership
type VLANGateway interface {
	// AddInterface makes iface an untagged PVID member of vlanID, or a
	// tagged member of every VLAN when vlanID is TrunkVLAN
	AddInterface(ctx context.Context, vlanID int, iface string) error
}

// HostGateway prepares the host for provisioning
type HostGateway interface {
	// Prepare enables forwarding and disables bridge netfilter, remembering
	// the previous values
	Prepare(ctx context.Context) error
	// Restore puts back what Prepare changed
	Restore(ctx context.Context) error
}

// Set bundles the gateways a session provisions through
type Set struct {
	Containers ContainerGateway
	Links      LinkGateway
	VLANs      VLANGateway
	Host       HostGateway
}
