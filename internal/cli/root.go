// Package cli holds the command-line entry points: the HTTP server and the
// offline script tools.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vtr",
	Short: "Record, replay and script browser sessions",
	Long: `vtr runs a browser session server that captures user actions as canonical steps,
synthesizes runnable automation scripts from them and replays them with visual feedback.
The parse and synthesize commands work offline on script text, trace archives and step files.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
