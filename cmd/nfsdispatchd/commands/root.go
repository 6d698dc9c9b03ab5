// Package commands implements the nfsdispatchd CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

// Version information injected at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nfsdispatchd",
	Short: "NFS RPC dispatch and request-queueing daemon",
	Long: `nfsdispatchd accepts NFS-family RPC connections, classifies and
queues decoded requests, and drives a fixed-size worker pool that
invokes the protocol handlers registered for each program/version/
procedure.

Use "nfsdispatchd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: ./config.yaml or /etc/nfsdispatchd/config.yaml)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}
