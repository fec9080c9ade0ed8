package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "syncctl - operator tool for the sync engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(schedulesCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(masterTriggerCmd())
	return rootCmd
}
