package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/webrelay/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - OpenAI-compatible front-end for web chat backends",
	Long: `Relay serves /v1/chat/completions and /v1/models and forwards each request
to the web chat backend that owns the requested model.

It handles, per backend:
  - Session credentials and their refresh
  - Proof-of-work challenges
  - Attachment upload and de-duplication
  - Translation of the backend's stream into OpenAI chunks`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a code derived from the
// error type.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
