package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"vnet/internal/config"
	"vnet/internal/declared"
	"vnet/internal/domain"
	"vnet/internal/log"
	"vnet/internal/provision"
	"vnet/internal/verify"
)

var (
	upCmd = &cobra.Command{
		Use:   "up [config]",
		Short: "Instantiate a declared network",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadNetwork(cmd, args)
			if err != nil {
				return err
			}
			g, err := optionalGraph(cmd)
			if err != nil {
				return err
			}

			b, err := newBackend(cmd, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.preflight(cmd, cfg.Images.Node, cfg.Images.Router); err != nil {
				return err
			}

			ctx := log.WithModule(cmd.Context(), cfg.Name)
			session := provision.NewSession(b.set,
				provision.WithCallTimeout(b.timeout),
				provision.WithLogger(log.G(ctx)),
			)
			plan, err := session.Instantiate(ctx, cfg, g)
			if err != nil {
				return err
			}
			return printAddresses(os.Stdout, plan)
		},
	}

	downCmd = &cobra.Command{
		Use:   "down [config]",
		Short: "Remove every container and bridge a declared network names",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadNetwork(cmd, args)
			if err != nil {
				return err
			}

			b, err := newBackend(cmd, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx := log.WithModule(cmd.Context(), cfg.Name)
			session := provision.NewSession(b.set,
				provision.WithCallTimeout(b.timeout),
				provision.WithLogger(log.G(ctx)),
			)
			return session.Delete(ctx, cfg)
		},
	}

	validateCmd = &cobra.Command{
		Use:   "validate [config]",
		Short: "Check a network definition and print the addresses it would assign",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadNetwork(cmd, args)
			if err != nil {
				return err
			}
			g, err := optionalGraph(cmd)
			if err != nil {
				return err
			}

			plan, err := declared.Build(cfg, g)
			if err != nil {
				return err
			}

			// the saved file carries every default filled in
			if output, err := cmd.Flags().GetString("output"); err != nil {
				return err
			} else if output != "" {
				if err := cfg.Save(output); err != nil {
					return err
				}
			}
			return printAddresses(os.Stdout, plan)
		},
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [config]",
		Short: "Ping scan a running network from inside one of its nodes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			from, err := flags.GetString("from")
			if err != nil {
				return err
			}
			ports, err := flags.GetString("ports")
			if err != nil {
				return err
			}

			cfg, err := loadNetwork(cmd, args)
			if err != nil {
				return err
			}
			g, err := optionalGraph(cmd)
			if err != nil {
				return err
			}
			plan, err := declared.Build(cfg, g)
			if err != nil {
				return err
			}

			_, netnsDir, err := settings(cmd, cfg)
			if err != nil {
				return err
			}
			opts := []verify.Option{verify.WithNetnsDir(netnsDir)}
			if scanTimeout, err := flags.GetDuration("scan-timeout"); err != nil {
				return err
			} else if scanTimeout > 0 {
				opts = append(opts, verify.WithTimeout(scanTimeout))
			}
			if ports != "" {
				opts = append(opts, verify.WithPorts(ports))
			}

			report, err := verify.New(opts...).Verify(cmd.Context(), plan, from)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.OK() {
				return errors.Errorf("%d of %d addresses unreachable from %s",
					len(report.Down), len(report.Up)+len(report.Down), from)
			}
			return nil
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check [config]",
		Short: "Probe whether this host can instantiate networks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Network
			images := []string{config.DefaultNodeImage, config.DefaultRouterImage}
			if len(args) > 0 {
				c, err := loadNetwork(cmd, args)
				if err != nil {
					return err
				}
				cfg = c
				images = []string{cfg.Images.Node, cfg.Images.Router}
			}

			b, err := newBackend(cmd, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			report := b.checker(images...).Run(cmd.Context())

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tPROPERTY\tOK\tDETAIL")
			for _, f := range report.Findings {
				ok := "yes"
				switch {
				case !f.OK && f.Required:
					ok = "NO"
				case !f.OK:
					ok = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Category, f.Property, ok, f.Method)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return report.Err()
		},
	}
)

// optionalGraph reads --graph when given
func optionalGraph(cmd *cobra.Command) (*domain.LogicalGraph, error) {
	path, err := cmd.Flags().GetString("graph")
	if err != nil || path == "" {
		return nil, err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return nil, err
	}
	return readGraph(path, format)
}

func init() {
	for _, c := range []*cobra.Command{upCmd, validateCmd, verifyCmd} {
		c.Flags().StringP("graph", "g", "", "Logical graph whose edges are opened on every router")
		c.Flags().String("format", "", "Format of --graph (yaml, json, edgelist; default from the extension)")
	}
	validateCmd.Flags().StringP("output", "o", "", "Write the definition with defaults applied to this file")
	upCmd.Flags().Bool("skip-checks", false, "Do not probe the host before provisioning")

	verifyCmd.Flags().String("from", "", "Node to scan from")
	verifyCmd.Flags().String("ports", "", "Also scan these ports, e.g. 22,80-443")
	verifyCmd.Flags().Duration("scan-timeout", 0, "Bound on the whole scan (default 2m)")
	verifyCmd.MarkFlagRequired("from")
}
