package domain

import "vnet/internal/addr"

// DefaultRoute is the destination of the internet egress route
const DefaultRoute = "default"

// Policy is an iptables target usable as a chain policy
type Policy string

const (
	PolicyAccept Policy = "ACCEPT"
	PolicyDrop   Policy = "DROP"
)

// Valid reports whether p is a known policy
func (p Policy) Valid() bool {
	return p == PolicyAccept || p == PolicyDrop
}

// Rule matches traffic from Source to Destination. Endpoints are node names,
// addresses or CIDR blocks.
type Rule struct {
	Source        string `yaml:"source"`
	Destination   string `yaml:"destination"`
	Bidirectional bool   `yaml:"bidirectional,omitempty"`
}

// FirewallRuleSet is the FORWARD chain configuration of one router
type FirewallRuleSet struct {
	Router string `yaml:"router"`
	Policy Policy `yaml:"policy"`
	Accept []Rule `yaml:"accept,omitempty"`
	Drop   []Rule `yaml:"drop,omitempty"`
}

// RouteEntry is a static route installed in Namespace
type RouteEntry struct {
	Destination string `yaml:"destination"`
	Gateway     string `yaml:"gateway"`
	Namespace   string `yaml:"namespace"`
}

// NATRule masquerades traffic from Sources leaving Router through OutInterface
type NATRule struct {
	Router       string   `yaml:"router"`
	Sources      []string `yaml:"sources"`
	OutInterface string   `yaml:"out_interface"`
}

// File is one entry of an Upload
type File struct {
	Name string
	Mode int64
	Data []byte
}

// Upload copies files into Dir inside a container
type Upload struct {
	Node  string
	Dir   string
	Files []File
}

// Plan is a fully derived network, ready to be provisioned
type Plan struct {
	Topology    *Topology
	Addresses   *addr.Allocator
	Routes      []RouteEntry
	Firewalls   []FirewallRuleSet
	NAT         []NATRule
	Uploads     []Upload
	UpdateHosts bool

	links int
}

// NewPlan creates an empty plan with a fresh allocator
func NewPlan(name string) *Plan {
	return &Plan{
		Topology:  NewTopology(name),
		Addresses: addr.NewAllocator(),
	}
}

// Firewall returns the rule set of router, creating one with policy if absent
func (p *Plan) Firewall(router string, policy Policy) *FirewallRuleSet {
	for i := range p.Firewalls {
		if p.Firewalls[i].Router == router {
			return &p.Firewalls[i]
		}
	}
	p.Firewalls = append(p.Firewalls, FirewallRuleSet{Router: router, Policy: policy})
	return &p.Firewalls[len(p.Firewalls)-1]
}
