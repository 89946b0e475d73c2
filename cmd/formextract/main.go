// Formextract pulls contact form fields out of free text.
//
// Usage:
//
//	# Serve the HTTP API
//	formextract serve
//
//	# Extract from arguments or stdin, one line per turn
//	formextract extract "my name is John Doe"
//	printf 'I am Jane Roe\nmy email is jane@example.com\n' | formextract extract -
//
//	# Inspect or reset learned patterns
//	formextract cache stats
//	formextract cache clear
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "formextract",
		Short: "Extract form fields from natural language",
		Long: `formextract fills a contact form (name, email, phone, address) from
free text. Backends are tried in priority order, and successful extractions
are learned so that similar phrasing is recognised with higher confidence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/formextract/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newExtractCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newBackendsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "formextract by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
