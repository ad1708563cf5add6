// Package main provides the brainrt CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "brainrt",
		Short: "brainrt - concurrent neuron graph runtime",
		Long: `brainrt stores a graph of neurons connected by meaning-typed links
and runs instruction processors over it.

Graphs are imported from YAML, persisted in BadgerDB and queried with the
traversal instruction family.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&a.tracing, "trace", false, "Write processor spans to stderr")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "brainrt v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a data directory and a default config file",
		RunE:  a.runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	initCmd.Flags().String("output", "brainrt.yaml", "Where to write the config file")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)

	// Import command
	importCmd := &cobra.Command{
		Use:   "import [graph.yaml]",
		Short: "Import a YAML graph description into the store",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runImport,
	}
	importCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(importCmd)

	// Query command
	queryCmd := &cobra.Command{
		Use:   "query [name]",
		Short: "List the neighbours of a named neuron",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runQuery,
	}
	queryCmd.Flags().String("data-dir", "./data", "Data directory")
	queryCmd.Flags().String("direction", "out", "Link direction (out|in)")
	queryCmd.Flags().StringSlice("meaning", nil, "Restrict to links with these meanings")
	rootCmd.AddCommand(queryCmd)

	// Solve command
	solveCmd := &cobra.Command{
		Use:   "solve [name...]",
		Short: "Run the rules attached to the named neurons and save the result",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.runSolve,
	}
	solveCmd.Flags().String("data-dir", "./data", "Data directory")
	solveCmd.Flags().Bool("metrics", false, "Print runtime metrics after solving")
	rootCmd.AddCommand(solveCmd)

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph and buffer pool statistics",
		RunE:  a.runStats,
	}
	statsCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(statsCmd)

	// Instructions command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "instructions",
		Short: "List the registered instructions",
		RunE:  a.runInstructions,
	})

	return rootCmd
}
