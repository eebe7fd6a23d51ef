package config

import (
	"sort"
	"time"

	"vnet/internal/domain"
)

// Network is a declared network: named subnets with their hosts, and
// routers joining them.
type Network struct {
	Version int    `yaml:"version"`
	Name    string `yaml:"name"`

	Subnets map[string]SubnetConfig `yaml:"subnets"`
	Routers map[string]RouterConfig `yaml:"routers,omitempty"`

	InternetAccess bool `yaml:"internet_access"` // NAT egress through one router
	PrivateRouting bool `yaml:"private_routing"` // derive routes to private subnets only
	UpdateHosts    bool `yaml:"update_hosts"`    // write every node into /etc/hosts

	Images      Images    `yaml:"images"`
	CallTimeout *Duration `yaml:"call_timeout,omitempty"`
	NetnsDir    string    `yaml:"netns_dir,omitempty"`
}

// SubnetConfig is one declared subnet
type SubnetConfig struct {
	Address string   `yaml:"address"`
	Hosts   []string `yaml:"hosts,omitempty"`
}

// RouterConfig is one declared router
type RouterConfig struct {
	Subnets         []string        `yaml:"subnets"`
	InternetGateway bool            `yaml:"internet_gateway,omitempty"`
	Firewall        *FirewallConfig `yaml:"firewall,omitempty"`
}

// FirewallConfig is the FORWARD chain of a router
type FirewallConfig struct {
	Policy domain.Policy `yaml:"policy"`
	Accept []domain.Rule `yaml:"accept,omitempty"`
	Drop   []domain.Rule `yaml:"drop,omitempty"`
}

// Images names the container images nodes run
type Images struct {
	Node   string `yaml:"node"`
	Router string `yaml:"router"`
}

// SubnetNames returns subnet names in the order they are provisioned
func (n *Network) SubnetNames() []string {
	names := make([]string, 0, len(n.Subnets))
	for name := range n.Subnets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RouterNames returns router names in the order they are provisioned
func (n *Network) RouterNames() []string {
	names := make([]string, 0, len(n.Routers))
	for name := range n.Routers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Timeout is the bound applied to each runtime or kernel call
func (n *Network) Timeout() time.Duration {
	if n.CallTimeout == nil {
		return DefaultCallTimeout
	}
	return n.CallTimeout.Duration()
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
