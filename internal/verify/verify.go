// Package verify checks that a provisioned network answers.
//
// A Verifier enters the namespace of one node and runs an nmap scan over
// every address the plan registered for the other containers, reporting
// which ones came up.
package verify

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/pkg/errors"
	"github.com/vishvananda/netns"

	"vnet/internal/config"
	"vnet/internal/domain"
	"vnet/internal/log"
)

// Probe is one address of one node
type Probe struct {
	Node      string `yaml:"node"`
	Address   string `yaml:"address"`
	OpenPorts []int  `yaml:"open_ports,omitempty"`
}

// Report is the outcome of a verification
type Report struct {
	Vantage string  `yaml:"vantage"`
	Up      []Probe `yaml:"up"`
	Down    []Probe `yaml:"down"`
}

// OK reports whether every probed address answered
func (r *Report) OK() bool {
	return len(r.Down) == 0
}

// scanFunc runs nmap over targets from inside vantage; tests replace it
type scanFunc func(ctx context.Context, vantage string, targets []string) (*nmap.Run, error)

// Verifier scans a network from inside one of its nodes
type Verifier struct {
	timeout    time.Duration
	netnsDir   string
	binaryPath string
	ports      string

	scan scanFunc
}

// New creates a verifier
func New(opts ...Option) *Verifier {
	v := &Verifier{
		timeout:  2 * time.Minute,
		netnsDir: config.DefaultNetnsDir,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.scan = v.nmapScan
	return v
}

// Verify scans every address of every container in plan except vantage's
// own, from inside vantage's namespace
func (v *Verifier) Verify(ctx context.Context, plan *domain.Plan, vantage string) (*Report, error) {
	ctx = log.WithModule(ctx, "verify")
	n, ok := plan.Topology.Node(vantage)
	if !ok || !n.Role.IsContainer() {
		return nil, errors.Errorf("vantage %q is not a host or router of %s", vantage, plan.Topology.Name)
	}

	probes := Probes(plan, vantage)
	report := &Report{Vantage: vantage}
	if len(probes) == 0 {
		return report, nil
	}

	targets := make([]string, 0, len(probes))
	for _, p := range probes {
		targets = append(targets, p.Address)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	log.G(ctx).WithField("vantage", vantage).Infof("scanning %d addresses", len(targets))
	result, err := v.scan(ctx, vantage, targets)
	if err != nil {
		return nil, err
	}
	if err := processResults(result, probes, report); err != nil {
		return nil, err
	}
	log.G(ctx).WithField("up", len(report.Up)).WithField("down", len(report.Down)).Info("scan complete")
	return report, nil
}

// Probes lists the addresses of every container except vantage, sorted by
// node name
func Probes(plan *domain.Plan, vantage string) []Probe {
	var probes []Probe
	for _, name := range plan.Addresses.Names() {
		if name == vantage {
			continue
		}
		if n, ok := plan.Topology.Node(name); !ok || !n.Role.IsContainer() {
			continue
		}
		for _, s := range plan.Addresses.Subnets(name) {
			if a, ok := plan.Addresses.AddressIn(name, s); ok {
				probes = append(probes, Probe{Node: name, Address: a.String()})
			}
		}
	}
	sort.SliceStable(probes, func(i, j int) bool { return probes[i].Node < probes[j].Node })
	return probes
}

// nmapScan runs nmap with the calling thread moved into the vantage
// namespace; the child process inherits it
func (v *Verifier) nmapScan(ctx context.Context, vantage string, targets []string) (*nmap.Run, error) {
	exit, err := v.enter(vantage)
	if err != nil {
		return nil, err
	}
	defer exit(ctx)

	opts := []nmap.Option{nmap.WithTargets(targets...)}
	if v.ports != "" {
		opts = append(opts, nmap.WithPorts(v.ports))
	} else {
		opts = append(opts, nmap.WithPingScan())
	}
	if v.binaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(v.binaryPath))
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create scanner")
	}
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, errors.Wrap(err, "scan failed")
	}
	if warnings != nil && len(*warnings) > 0 {
		log.G(ctx).Warnf("nmap warnings: %v", *warnings)
	}
	return result, nil
}

// enter locks the goroutine to its thread and moves the thread into the
// namespace of node. The returned func moves it back; a thread that cannot
// be moved back stays locked and dies with the goroutine.
func (v *Verifier) enter(node string) (func(context.Context), error) {
	runtime.LockOSThread()

	orig, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, errors.Wrap(err, "current namespace")
	}
	target, err := netns.GetFromPath(filepath.Join(v.netnsDir, node))
	if err != nil {
		orig.Close()
		runtime.UnlockOSThread()
		return nil, errors.Wrapf(err, "namespace of %s", node)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		orig.Close()
		runtime.UnlockOSThread()
		return nil, errors.Wrapf(err, "enter namespace of %s", node)
	}

	return func(ctx context.Context) {
		defer orig.Close()
		if err := netns.Set(orig); err != nil {
			log.G(ctx).WithError(err).Error("could not restore namespace")
			return
		}
		runtime.UnlockOSThread()
	}, nil
}

// processResults sorts probes into up and down by the host states nmap
// reported
func processResults(result *nmap.Run, probes []Probe, report *Report) error {
	if result == nil {
		return errors.New("nil scan result")
	}

	up := make(map[string][]int)
	for _, host := range result.Hosts {
		if host.Status.State != "up" {
			continue
		}
		for _, a := range host.Addresses {
			if a.AddrType == "ipv4" || a.AddrType == "" {
				up[a.Addr] = openPorts(host.Ports)
			}
		}
	}

	for _, p := range probes {
		ports, ok := up[p.Address]
		if !ok {
			report.Down = append(report.Down, p)
			continue
		}
		p.OpenPorts = ports
		report.Up = append(report.Up, p)
	}
	return nil
}

func openPorts(ports []nmap.Port) []int {
	var open []int
	for _, port := range ports {
		if port.State.State == "open" {
			open = append(open, int(port.ID))
		}
	}
	return open
}

// parsePorts validates a port list in nmap format
func parsePorts(portRange string) (string, error) {
	parts := strings.Split(portRange, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			if len(bounds) != 2 {
				return "", errors.Errorf("invalid port range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil || start < 1 || start > 65535 {
				return "", errors.Errorf("invalid port number: %s", bounds[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil || end < 1 || end > 65535 || end < start {
				return "", errors.Errorf("invalid port number: %s", bounds[1])
			}
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return "", errors.Errorf("invalid port number: %s", part)
		}
	}
	return strings.ReplaceAll(portRange, " ", ""), nil
}
