// Package commands implements the mediarelay CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "mediarelay",
	Short: "mediarelay - fetch media and relay it to a chat",
	Long: `mediarelay downloads media from a URL and delivers it to a chat. Small
files go through the Bot HTTP API; files above the small-file limit are
uploaded in parts over a persistent session.

Every configuration value can be overridden with MEDIARELAY_* environment
variables, e.g. MEDIARELAY_BOTAPI_TOKEN or MEDIARELAY_LOGGING_LEVEL=DEBUG.

Use "mediarelay [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/mediarelay/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(statusCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
