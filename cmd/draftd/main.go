// Package main implements the draftd CLI: requirement-document pipeline
// runs, locally or behind the HTTP server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the default config file location
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "draftd",
	Short: "Multi-persona requirement document generator",
	Long: `draftd runs a business requirement through a phased pipeline of
persona workers (analysis, functional and non-functional requirements,
data architecture, solution architecture) with human review gates, and
renders the approved result as a markdown requirement document.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/draftd/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}
