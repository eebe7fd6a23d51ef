package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"vnet/internal/addr"
	"vnet/internal/codec"
	"vnet/internal/domain"
	"vnet/internal/log"
	"vnet/internal/provision"
	"vnet/internal/strategy"
)

var (
	synthCmd = &cobra.Command{
		Use:   "synth <graph>",
		Short: "Synthesize a network from a logical graph and instantiate it",
		Long: `Synthesize maps every node of a logical graph onto a container and joins
them with routers or VLAN bridges so that exactly the graph's edges can
talk. With --remove the synthesized network is deleted instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			st, p, err := strategyParams(flags)
			if err != nil {
				return err
			}
			format, err := flags.GetString("format")
			if err != nil {
				return err
			}
			remove, err := flags.GetBool("remove")
			if err != nil {
				return err
			}
			dryRun, err := flags.GetBool("dry-run")
			if err != nil {
				return err
			}

			g, err := readGraph(args[0], format)
			if err != nil {
				return err
			}
			nameAfter(g, args[0])

			if dryRun {
				plan, err := st.Synthesize(g, p)
				if err != nil {
					return err
				}
				return printAddresses(os.Stdout, plan)
			}

			b, err := newBackend(cmd, nil)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx := log.WithModule(cmd.Context(), g.Name)
			session := provision.NewSession(b.set,
				provision.WithCallTimeout(b.timeout),
				provision.WithLogger(log.G(ctx).WithField("algorithm", st.Name())),
			)
			if remove {
				return session.Remove(ctx, st, g, p)
			}

			if err := b.preflight(cmd, p.NodeImage, p.RouterImage); err != nil {
				return err
			}
			plan, err := session.SynthesizeAndInstantiate(ctx, st, g, p)
			if err != nil {
				return err
			}
			return printAddresses(os.Stdout, plan)
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump <graph>",
		Short: "Render the physical topology a strategy would build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			name, err := flags.GetString("algorithm")
			if err != nil {
				return err
			}
			st, err := strategy.Lookup(name)
			if err != nil {
				return err
			}
			inFormat, err := flags.GetString("input-format")
			if err != nil {
				return err
			}
			outFormat, err := flags.GetString("format")
			if err != nil {
				return err
			}
			output, err := flags.GetString("output")
			if err != nil {
				return err
			}

			exporter, err := codec.ExporterFor(outFormat)
			if err != nil {
				return err
			}
			g, err := readGraph(args[0], inFormat)
			if err != nil {
				return err
			}
			nameAfter(g, args[0])
			topo, err := st.Dump(g, g.Name)
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrap(err, "create output")
				}
				defer f.Close()
				w = f
			}
			return exporter.Export(topo, w)
		},
	}

	convertCmd = &cobra.Command{
		Use:   "convert <graph>",
		Short: "Rewrite a logical graph in YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			g, err := readGraph(args[0], format)
			if err != nil {
				return err
			}
			nameAfter(g, args[0])
			return codec.NewYAMLCodec().EncodeGraph(g, os.Stdout)
		},
	}
)

// nameAfter names an anonymous graph after its file
func nameAfter(g *domain.LogicalGraph, path string) {
	if g.Name == "" {
		g.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
}

// strategyParams reads the synthesis flags over the defaults
func strategyParams(flags *pflag.FlagSet) (strategy.Strategy, strategy.Params, error) {
	p := strategy.DefaultParams()

	name, err := flags.GetString("algorithm")
	if err != nil {
		return nil, p, err
	}
	st, err := strategy.Lookup(name)
	if err != nil {
		return nil, p, err
	}

	if p.NodeImage, err = flags.GetString("node-image"); err != nil {
		return nil, p, err
	}
	if p.RouterImage, err = flags.GetString("router-image"); err != nil {
		return nil, p, err
	}
	if p.NeighbourMaps, err = flags.GetBool("neighbour-maps"); err != nil {
		return nil, p, err
	}
	if p.MaxLeafPorts, err = flags.GetInt("max-leaf-ports"); err != nil {
		return nil, p, err
	}

	pools := []struct {
		flag   string
		subnet *addr.Subnet
	}{
		{"edge-pool", &p.EdgePool},
		{"backbone", &p.Backbone},
		{"vlan-pool", &p.VLANPool},
	}
	for _, pool := range pools {
		if !flags.Changed(pool.flag) {
			continue
		}
		cidr, err := flags.GetString(pool.flag)
		if err != nil {
			return nil, p, err
		}
		s, err := addr.ParseSubnet(cidr)
		if err != nil {
			return nil, p, errors.Wrapf(err, "--%s", pool.flag)
		}
		*pool.subnet = s
	}
	return st, p, nil
}

func init() {
	defaults := strategy.DefaultParams()
	algorithms := "Synthesis algorithm (" + strings.Join(strategy.Names(), ", ") + ")"

	synthCmd.Flags().StringP("algorithm", "a", "multi-router", algorithms)
	synthCmd.Flags().String("format", "", "Format of the graph (yaml, json, edgelist; default from the extension)")
	synthCmd.Flags().Bool("remove", false, "Delete the synthesized network instead of creating it")
	synthCmd.Flags().Bool("skip-checks", false, "Do not probe the host before provisioning")
	synthCmd.Flags().Bool("dry-run", false, "Print the addresses that would be assigned and exit")
	synthCmd.Flags().String("node-image", defaults.NodeImage, "Image of graph nodes")
	synthCmd.Flags().String("router-image", defaults.RouterImage, "Image of routers")
	synthCmd.Flags().Bool("neighbour-maps", false, "Upload each node's neighbour addresses to /root/neighIPs.json")
	synthCmd.Flags().String("edge-pool", defaults.EdgePool.String(), "Pool the per-node subnets are carved from")
	synthCmd.Flags().String("backbone", defaults.Backbone.String(), "Pool of the router backbone subnet")
	synthCmd.Flags().String("vlan-pool", defaults.VLANPool.String(), "Pool the VLAN subnets are carved from")
	synthCmd.Flags().Int("max-leaf-ports", defaults.MaxLeafPorts, "Leaf ports per VLAN edge bridge")

	dumpCmd.Flags().StringP("algorithm", "a", "multi-router", algorithms)
	dumpCmd.Flags().String("input-format", "", "Format of the graph (yaml, json, edgelist; default from the extension)")
	dumpCmd.Flags().StringP("format", "f", "dot", "Output format (dot, yaml)")
	dumpCmd.Flags().StringP("output", "o", "-", "Output file")

	convertCmd.Flags().String("format", "", "Format of the graph (yaml, json, edgelist; default from the extension)")
}
