package domain

// Role is the function of a node in the physical topology
type Role string

const (
	RoleHost   Role = "host"
	RoleRouter Role = "router"
	RoleBridge Role = "bridge"
)

// IsContainer reports whether nodes of this role run in their own namespace
func (r Role) IsContainer() bool {
	return r == RoleHost || r == RoleRouter
}

// Node is a physical node: a container or a bridge
type Node struct {
	Name  string `yaml:"name"`
	Role  Role   `yaml:"role"`
	Image string `yaml:"image,omitempty"`

	// VLANAware enables VLAN filtering on a bridge
	VLANAware bool `yaml:"vlan_aware,omitempty"`

	// InternetGateway attaches a router to the runtime's default network
	InternetGateway bool `yaml:"internet_gateway,omitempty"`
}

// NewHost creates a host node
func NewHost(name, image string) *Node {
	return &Node{Name: name, Role: RoleHost, Image: image}
}

// NewRouter creates a router node
func NewRouter(name, image string) *Node {
	return &Node{Name: name, Role: RoleRouter, Image: image}
}

// NewBridge creates a bridge node
func NewBridge(name string, vlanAware bool) *Node {
	return &Node{Name: name, Role: RoleBridge, VLANAware: vlanAware}
}
