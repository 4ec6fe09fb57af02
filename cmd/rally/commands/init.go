package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/rally/internal/config"
	"github.com/dyluth/rally/internal/printer"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	forceInit   bool
	initBackend string
	initNetwork string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create rally.yml and an identity key",
	Long: `Create a rally.yml with default settings and generate this agent's
signing key if it does not exist yet.

Use --force to overwrite an existing rally.yml. The key file is never
overwritten: it is the agent's identity.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing rally.yml")
	initCmd.Flags().StringVar(&initBackend, "backend", config.BackendRedis, "Substrate: redis or sqlite")
	initCmd.Flags().StringVar(&initNetwork, "network", config.DefaultNetwork, "Network name")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := &config.RallyConfig{Version: "1.0", Network: initNetwork, Backend: initBackend}
	if keyFile != "" {
		cfg.Identity = &config.IdentityConfig{KeyFile: keyFile}
	}
	if err := cfg.Validate(); err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	if forceInit {
		if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", configPath, err)
		}
	}
	if err := config.Write(configPath, cfg); err != nil {
		return printer.Error(
			"initialization failed",
			err.Error(),
			[]string{"Use --force to overwrite the existing configuration"},
		)
	}

	id, err := ledger.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		return err
	}

	printer.Success("Wrote %s\n", configPath)
	printer.Detail("network", cfg.Network)
	printer.Detail("backend", cfg.Backend)
	printer.Detail("key file", cfg.Identity.KeyFile)
	printer.Detail("agent", id.Agent())
	printer.Println()
	printer.Info("Next: 'rally player create <name>' then 'rally serve'\n")
	return nil
}
