// Package cmd holds the civictrack command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "civictrack",
		Short:         "Civic issue reporting backend",
		Long:          `civictrack lets residents report civic issues and city staff track them to resolution.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(
		newServeCommand(),
		newCreateAdminCommand(),
	)
	return root
}

func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
