package main

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "promptgate",
	Short: "Promptgate - rule-driven security filter for LLM pipelines",
	Long: `Promptgate scans text bound for an LLM against hot-reloadable rule
datasets. Inputs pass through a prefilter, a normalization pipeline, and
a code detector before rule evaluation, so obfuscated injection attempts
are caught and legitimate code is let through.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// logLevel maps the persistent verbosity flags onto a level name.
func logLevel(configured string) string {
	switch {
	case quiet:
		return "error"
	case verbose:
		return "debug"
	}
	return configured
}
