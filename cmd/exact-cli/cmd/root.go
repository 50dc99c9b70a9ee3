// Package cmd provides CLI commands for exact-cli.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile        string
	debug          bool
	division       string
	continueOnFail bool
	metricsFile    string
	noHistory      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "exact-cli",
	Short: "Read and write Exact Online data",
	Long: `exact-cli talks to the Exact Online REST and XML APIs.

It supports:
- Reading single records, full collections and child collections
- Creating, updating and deleting records
- Uploading reconciliation match sets
- Running a batch of items from a YAML or JSON file
- Recording every run in a local SQLite history

Example:
  exact-cli list crm Accounts --filter "Name:contains:Acme" --limit 10
  exact-cli reconcile --file matchsets.yaml
  exact-cli stats`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logging
		logLevel := slog.LevelInfo
		if debug {
			logLevel = slog.LevelDebug
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&division, "division", "", "division code (default is EXACT_DIVISION or the current division)")
	rootCmd.PersistentFlags().BoolVar(&continueOnFail, "continue-on-fail", false, "report failed items inline instead of stopping")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")

	// Add subcommands
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(divisionsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
}

// Helper function to get config file path.
func getConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "" // Will use default .env loading
}

// Helper function to handle errors and exit.
func exitOnError(err error, msg string) {
	if err != nil {
		slog.Error(msg, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
		os.Exit(1)
	}
}
