package routing

import (
	"github.com/pkg/errors"

	"vnet/internal/domain"
)

// Resolver maps rule endpoints to addresses
type Resolver interface {
	ResolveIP(name string) (string, error)
}

// Render turns a rule set into iptables invocations: the FORWARD policy,
// then every ACCEPT rule, then every DROP rule. Bidirectional rules yield
// one rule per direction. Every endpoint is resolved before anything is
// returned, so a single unknown name fails the whole set.
func Render(rs domain.FirewallRuleSet, r Resolver) ([][]string, error) {
	if !rs.Policy.Valid() {
		return nil, errors.Errorf("firewall of %s: invalid policy %q", rs.Router, rs.Policy)
	}
	cmds := [][]string{{"iptables", "-P", "FORWARD", string(rs.Policy)}}

	for _, group := range []struct {
		target domain.Policy
		rules  []domain.Rule
	}{
		{domain.PolicyAccept, rs.Accept},
		{domain.PolicyDrop, rs.Drop},
	} {
		for _, rule := range group.rules {
			src, err := r.ResolveIP(rule.Source)
			if err != nil {
				return nil, errors.Wrapf(err, "firewall of %s", rs.Router)
			}
			dst, err := r.ResolveIP(rule.Destination)
			if err != nil {
				return nil, errors.Wrapf(err, "firewall of %s", rs.Router)
			}
			cmds = append(cmds, forwardRule(group.target, src, dst))
			if rule.Bidirectional {
				cmds = append(cmds, forwardRule(group.target, dst, src))
			}
		}
	}
	return cmds, nil
}

func forwardRule(target domain.Policy, src, dst string) []string {
	return []string{"iptables", "-A", "FORWARD", "-p", "all", "-s", src, "-d", dst, "-j", string(target)}
}

// RenderNAT turns a NAT rule into iptables invocations
func RenderNAT(n domain.NATRule) [][]string {
	cmds := make([][]string, 0, len(n.Sources))
	for _, src := range n.Sources {
		cmds = append(cmds, []string{
			"iptables", "-t", "nat", "-A", "POSTROUTING",
			"-s", src, "-o", n.OutInterface, "-j", "MASQUERADE",
		})
	}
	return cmds
}
