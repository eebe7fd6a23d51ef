package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"vnet/internal/addr"
	"vnet/internal/codec"
	"vnet/internal/config"
	"vnet/internal/domain"
	"vnet/internal/gateway"
	"vnet/internal/gateway/docker"
	"vnet/internal/gateway/kernel"
	"vnet/internal/log"
	"vnet/internal/preflight"
)

// loadNetwork reads the definition named by args, or the discovered one
func loadNetwork(cmd *cobra.Command, args []string) (*config.Network, error) {
	var (
		cfg  *config.Network
		path string
		err  error
	)
	if len(args) > 0 {
		cfg, path, err = config.LoadFromPath(args[0])
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		if path != "" {
			return nil, errors.Wrap(err, path)
		}
		return nil, err
	}
	log.G(cmd.Context()).WithField("path", path).Debug("loaded network definition")
	return cfg, nil
}

// readGraph parses a logical graph file. An empty format is guessed from
// the extension.
func readGraph(path, format string) (*domain.LogicalGraph, error) {
	if format == "" {
		f, ok := codec.FormatFromPath(path)
		if !ok {
			return nil, errors.Errorf("cannot tell the format of %s, use --format", path)
		}
		format = f
	}
	importer, err := codec.ImporterFor(format)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open graph")
	}
	defer f.Close()

	g, err := importer.Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return g, nil
}

// backend holds the gateways of one command
type backend struct {
	engine   *docker.Gateway
	set      gateway.Set
	timeout  time.Duration
	netnsDir string
}

func (b *backend) Close() error {
	return b.engine.Close()
}

// settings resolves the call timeout and namespace directory. Flags
// override cfg, which may be nil.
func settings(cmd *cobra.Command, cfg *config.Network) (time.Duration, string, error) {
	flags := cmd.Flags()
	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return 0, "", err
	}
	netnsDir, err := flags.GetString("netns-dir")
	if err != nil {
		return 0, "", err
	}

	if timeout == 0 {
		timeout = config.DefaultCallTimeout
		if cfg != nil {
			timeout = cfg.Timeout()
		}
	}
	if netnsDir == "" {
		netnsDir = config.DefaultNetnsDir
		if cfg != nil && cfg.NetnsDir != "" {
			netnsDir = cfg.NetnsDir
		}
	}
	return timeout, netnsDir, nil
}

// newBackend builds the Docker and kernel gateways
func newBackend(cmd *cobra.Command, cfg *config.Network) (*backend, error) {
	timeout, netnsDir, err := settings(cmd, cfg)
	if err != nil {
		return nil, err
	}

	engine, err := docker.New(docker.WithNetnsDir(netnsDir))
	if err != nil {
		return nil, err
	}
	links := kernel.NewLinks(netnsDir)
	return &backend{
		engine: engine,
		set: gateway.Set{
			Containers: engine,
			Links:      links,
			VLANs:      links,
			Host:       kernel.NewHost(kernel.DefaultProcSys, netnsDir),
		},
		timeout:  timeout,
		netnsDir: netnsDir,
	}, nil
}

// preflight fails when the host cannot provision with images
func (b *backend) preflight(cmd *cobra.Command, images ...string) error {
	skip, err := cmd.Flags().GetBool("skip-checks")
	if err != nil || skip {
		return err
	}
	report := b.checker(images...).Run(cmd.Context())
	return errors.Wrap(report.Err(), "preflight")
}

func (b *backend) checker(images ...string) *preflight.Checker {
	return preflight.New(
		preflight.WithProcSys(kernel.DefaultProcSys),
		preflight.WithNetnsDir(b.netnsDir),
		preflight.WithEngine(b.engine, images...),
	)
}

// printAddresses lists every address of plan, one node per line
func printAddresses(w io.Writer, plan *domain.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROLE\tADDRESSES")
	for _, n := range plan.Topology.Nodes() {
		if n.Role == domain.RoleBridge {
			continue
		}
		addrs, err := plan.Addresses.Resolve(n.Name, addr.All)
		if err != nil {
			continue
		}
		cidrs := make([]string, len(addrs))
		for i, a := range addrs {
			cidrs[i] = a.CIDR()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", n.Name, n.Role, strings.Join(cidrs, ", "))
	}
	return tw.Flush()
}
