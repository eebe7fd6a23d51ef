package config

import (
	"fmt"

	"vnet/internal/addr"
	"vnet/internal/domain"
)

// bridge names are <subnet>_brd and must fit IFNAMSIZ
const (
	bridgeSuffix    = "_brd"
	maxIfaceNameLen = 15
	MaxSubnetName   = maxIfaceNameLen - len(bridgeSuffix)
)

// BridgeName is the bridge backing a declared subnet
func BridgeName(subnet string) string {
	return subnet + bridgeSuffix
}

// Validate checks the definition, returning a *domain.ConfigError on the
// first problem found
func (n *Network) Validate() error {
	if n.Version != 1 {
		return cfgErr("version", "unsupported version %d", n.Version)
	}
	if len(n.Subnets) == 0 {
		return cfgErr("subnets", "at least one subnet is required")
	}

	parsed := make(map[string]addr.Subnet, len(n.Subnets))
	owners := make(map[string]string)
	names := n.SubnetNames()

	for _, name := range names {
		sc := n.Subnets[name]
		field := "subnets." + name
		if !domain.ValidName(name) || len(name) > MaxSubnetName {
			return cfgErr(field, "name must be a valid node name of at most %d characters", MaxSubnetName)
		}
		s, err := addr.ParseSubnet(sc.Address)
		if err != nil {
			return cfgErr(field+".address", "%v", err)
		}
		for _, other := range names {
			if o, ok := parsed[other]; ok && o.Overlaps(s) {
				return cfgErr(field+".address", "%s overlaps subnet %s (%s)", s, other, o)
			}
		}
		parsed[name] = s

		for _, h := range sc.Hosts {
			if !domain.ValidName(h) {
				return cfgErr(field+".hosts", "invalid host name %q", h)
			}
			if prev, ok := owners[h]; ok {
				return cfgErr(field+".hosts", "host %q already declared in %s", h, prev)
			}
			owners[h] = field
		}
	}

	attached := make(map[string]int)
	gateways := 0
	for _, name := range n.RouterNames() {
		rc := n.Routers[name]
		field := "routers." + name
		if !domain.ValidName(name) {
			return cfgErr(field, "invalid router name")
		}
		if prev, ok := owners[name]; ok {
			return cfgErr(field, "name already declared in %s", prev)
		}
		owners[name] = field

		if len(rc.Subnets) == 0 {
			return cfgErr(field+".subnets", "a router needs at least one subnet")
		}
		seen := make(map[string]bool)
		for _, s := range rc.Subnets {
			if _, ok := n.Subnets[s]; !ok {
				return cfgErr(field+".subnets", "unknown subnet %q", s)
			}
			if seen[s] {
				return cfgErr(field+".subnets", "subnet %q listed twice", s)
			}
			seen[s] = true
			attached[s]++
		}

		if rc.InternetGateway {
			gateways++
		}
		if err := rc.Firewall.validate(field + ".firewall"); err != nil {
			return err
		}
	}

	for _, name := range names {
		need := len(n.Subnets[name].Hosts) + attached[name]
		if capacity := parsed[name].Size() - 2; parsed[name].Size() < 4 || uint64(need) > capacity {
			return cfgErr("subnets."+name+".address", "%s cannot hold %d nodes", parsed[name], need)
		}
	}

	switch {
	case n.InternetAccess && gateways != 1:
		return cfgErr("routers", "internet_access needs exactly one internet_gateway router, found %d", gateways)
	case !n.InternetAccess && gateways > 0:
		return cfgErr("routers", "internet_gateway set without internet_access")
	}

	if n.CallTimeout != nil && n.CallTimeout.Duration() <= 0 {
		return cfgErr("call_timeout", "must be positive")
	}
	return nil
}

func (f *FirewallConfig) validate(field string) error {
	if f == nil {
		return nil
	}
	if !f.Policy.Valid() {
		return cfgErr(field+".policy", "policy must be ACCEPT or DROP, got %q", f.Policy)
	}
	for _, rules := range [][]domain.Rule{f.Accept, f.Drop} {
		for _, r := range rules {
			if r.Source == "" || r.Destination == "" {
				return cfgErr(field, "rule needs both source and destination")
			}
		}
	}
	return nil
}

func cfgErr(field, format string, args ...any) *domain.ConfigError {
	return &domain.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
