// Package preflight probes whether the host can instantiate networks: the
// privileges the kernel gateway needs, the container engine and its node
// images, and the tools verification shells out to.
//
// Probes never change the host. Each produces a Finding; a failed finding
// marked Required means provisioning would fail partway through.
package preflight

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vnet/internal/config"
	"vnet/internal/log"
)

// Category groups findings
type Category string

const (
	CategoryPermissions Category = "permissions"
	CategoryKernel      Category = "kernel"
	CategoryRuntime     Category = "runtime"
	CategoryTools       Category = "tools"
)

// Finding is the outcome of one probe
type Finding struct {
	Category Category
	Property string
	OK       bool
	Required bool
	Method   string // how the value was obtained, or why it failed
}

// Report aggregates findings in probe order
type Report struct {
	Findings []Finding
	Duration time.Duration
}

// Failed returns the required findings that did not pass
func (r *Report) Failed() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Required && !f.OK {
			out = append(out, f)
		}
	}
	return out
}

// Err returns one error per failed required finding, or nil
func (r *Report) Err() error {
	var result *multierror.Error
	for _, f := range r.Failed() {
		result = multierror.Append(result, errors.Errorf("%s: %s", f.Property, f.Method))
	}
	return result.ErrorOrNil()
}

// Engine is the part of the container gateway preflight probes
type Engine interface {
	Ping(ctx context.Context) (string, error)
	HasImage(ctx context.Context, image string) (bool, error)
}

// Checker runs the probes
type Checker struct {
	procSys  string
	netnsDir string
	engine   Engine
	images   []string

	euid     func() int
	lookPath func(string) (string, error)
}

// Option configures a Checker
type Option func(*Checker)

// WithEngine probes the container engine and the images given
func WithEngine(e Engine, images ...string) Option {
	return func(c *Checker) {
		c.engine = e
		c.images = images
	}
}

// WithProcSys sets the sysctl tree, normally /proc/sys
func WithProcSys(dir string) Option {
	return func(c *Checker) {
		c.procSys = dir
	}
}

// WithNetnsDir sets where namespaces are linked
func WithNetnsDir(dir string) Option {
	return func(c *Checker) {
		c.netnsDir = dir
	}
}

// New returns a checker for the current process
func New(opts ...Option) *Checker {
	c := &Checker{
		procSys:  "/proc/sys",
		netnsDir: config.DefaultNetnsDir,
		euid:     os.Geteuid,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes every probe
func (c *Checker) Run(ctx context.Context) *Report {
	ctx = log.WithModule(ctx, "preflight")
	start := time.Now()

	var findings []Finding
	findings = append(findings, c.detectUser()...)
	findings = append(findings, c.probeProcSys()...)
	findings = append(findings, c.probeNetnsDir()...)
	findings = append(findings, c.probeEngine(ctx)...)
	findings = append(findings, c.probeNmap(ctx)...)

	for _, f := range findings {
		log.G(ctx).WithFields(logrus.Fields{
			"category": f.Category,
			"ok":       f.OK,
		}).Debugf("%s: %s", f.Property, f.Method)
	}
	return &Report{Findings: findings, Duration: time.Since(start)}
}

func (c *Checker) detectUser() []Finding {
	euid := c.euid()
	return []Finding{{
		Category: CategoryPermissions,
		Property: "is_root",
		OK:       euid == 0,
		Required: true,
		Method:   "effective uid " + strconv.Itoa(euid),
	}}
}

func (c *Checker) probeProcSys() []Finding {
	var findings []Finding

	// opening for write checks permission without changing the value
	path := filepath.Join(c.procSys, "net", "ipv4", "ip_forward")
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err == nil {
		f.Close()
		findings = append(findings, Finding{
			Category: CategoryKernel,
			Property: "can_write_sysctl",
			OK:       true,
			Required: true,
			Method:   path + " is writable",
		})
	} else {
		findings = append(findings, Finding{
			Category: CategoryKernel,
			Property: "can_write_sysctl",
			Required: true,
			Method:   err.Error(),
		})
	}

	// without br_netfilter the bridge-nf settings are absent, which is fine
	_, err = os.Stat(filepath.Join(c.procSys, "net", "bridge"))
	method := "bridge netfilter loaded"
	if err != nil {
		method = "bridge netfilter not loaded"
	}
	findings = append(findings, Finding{
		Category: CategoryKernel,
		Property: "bridge_netfilter",
		OK:       err == nil,
		Method:   method,
	})
	return findings
}

func (c *Checker) probeNetnsDir() []Finding {
	dir := c.netnsDir
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return []Finding{{
					Category: CategoryPermissions,
					Property: "netns_dir",
					Required: true,
					Method:   dir + " is not a directory",
				}}
			}
			return []Finding{{
				Category: CategoryPermissions,
				Property: "netns_dir",
				OK:       true,
				Required: true,
				Method:   "links go under " + c.netnsDir + " (via " + dir + ")",
			}}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return []Finding{{
				Category: CategoryPermissions,
				Property: "netns_dir",
				Required: true,
				Method:   err.Error(),
			}}
		}
		dir = parent
	}
}

func (c *Checker) probeEngine(ctx context.Context) []Finding {
	if c.engine == nil {
		return nil
	}

	version, err := c.engine.Ping(ctx)
	if err != nil {
		return []Finding{{
			Category: CategoryRuntime,
			Property: "engine",
			Required: true,
			Method:   err.Error(),
		}}
	}
	findings := []Finding{{
		Category: CategoryRuntime,
		Property: "engine",
		OK:       true,
		Required: true,
		Method:   "API version " + version,
	}}

	for _, image := range c.images {
		f := Finding{
			Category: CategoryRuntime,
			Property: "image " + image,
			Required: true,
			Method:   "present",
		}
		ok, err := c.engine.HasImage(ctx, image)
		switch {
		case err != nil:
			f.Method = err.Error()
		case !ok:
			f.Method = "not present locally; build or pull it first"
		default:
			f.OK = true
		}
		findings = append(findings, f)
	}
	return findings
}

// probeNmap is informational: only verification needs nmap
func (c *Checker) probeNmap(ctx context.Context) []Finding {
	path, err := c.lookPath("nmap")
	if err != nil {
		return []Finding{{
			Category: CategoryTools,
			Property: "has_nmap",
			Method:   "nmap not in PATH",
		}}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return []Finding{{
			Category: CategoryTools,
			Property: "has_nmap",
			Method:   "nmap exists but --version failed: " + err.Error(),
		}}
	}
	return []Finding{{
		Category: CategoryTools,
		Property: "has_nmap",
		OK:       true,
		Method:   strings.TrimSpace(strings.Split(string(output), "\n")[0]),
	}}
}
