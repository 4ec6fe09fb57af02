package commands

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	configPath string
	keyFile    string
	jsonOutput bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "rally",
	Short: "Rally - peer-to-peer pong ledger",
	Long: `Rally is a peer-to-peer pong ledger.

Every agent keeps a signed, append-only view of a shared network: player
profiles, games and their revisions, scores and statistics. While a game is
running, paddle, ball and score updates travel directly between the two
players as fire-and-forget signals.

Start a long-lived peer with 'rally serve' to receive signals; every other
command performs one operation and exits.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Structured logs are for the daemon; one-shot commands stay quiet
		// unless asked.
		if !verbose && cmd.Name() != "serve" {
			log.SetOutput(io.Discard)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "rally.yml", "Path to rally.yml")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "Identity key file (overrides identity.key_file)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print structured logs to stderr")
}

// Execute runs the root command
func Execute() error {
	rootCmd.SilenceErrors = true // We print errors ourselves via printer
	rootCmd.SilenceUsage = true  // Don't show usage on errors
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
