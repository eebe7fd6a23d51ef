package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vnet/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := mainCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var (
	mainCmd = &cobra.Command{
		Use:           os.Args[0],
		Short:         "Build virtual networks out of containers, bridges and veth pairs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			level, err := flags.GetString("log-level")
			if err != nil {
				return err
			}
			noColor, err := flags.GetBool("no-color")
			if err != nil {
				return err
			}
			return log.Configure(os.Stderr, level, noColor)
		},
	}
)

func init() {
	mainCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (options \"debug\", \"info\", \"warn\", \"error\")")
	mainCmd.PersistentFlags().Bool("no-color", false, "Disable colored log output")
	mainCmd.PersistentFlags().Duration("timeout", 0, "Bound on each runtime or kernel call (default from the network definition, else 30s)")
	mainCmd.PersistentFlags().String("netns-dir", "", "Directory container namespaces are linked into (default from the network definition, else /var/run/netns)")

	mainCmd.AddCommand(
		upCmd,
		downCmd,
		validateCmd,
		verifyCmd,
		checkCmd,
		synthCmd,
		dumpCmd,
		convertCmd,
	)
}
