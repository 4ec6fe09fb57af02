package commands

import (
	"os/signal"
	"syscall"

	"github.com/dyluth/rally/internal/config"
	"github.com/dyluth/rally/internal/peer"
	"github.com/dyluth/rally/internal/printer"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this agent as a long-lived peer",
	Long: `Run this agent as a long-lived peer.

The peer listens for signals from other agents and prints them as they
arrive, publishes a presence heartbeat so others see it online, and serves
GET /healthz on peer.health_addr (set it to "off" to disable).

Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := peer.Options{
		Network:   s.cfg.Network,
		Heartbeat: s.cfg.Peer.HeartbeatInterval,
		Pinger:    s.backend,
		OnSignal:  printSignal,
	}
	if s.cfg.HealthEnabled() {
		opts.HealthAddr = s.cfg.Peer.HealthAddr
	}
	daemon := peer.New(s.svc, s.transport, opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Run(ctx)
	}()

	select {
	case <-daemon.Ready():
		printer.Success("Peer %s online on network '%s' (%s)\n", s.svc.Agent().Short(), s.cfg.Network, s.cfg.Backend)
		if addr := daemon.HealthAddr(); addr != "" {
			printer.Detail("health", "http://"+addr+"/healthz")
		}
	case err := <-errCh:
		return printer.Error("peer failed to start", err.Error(), startSuggestions(s.cfg))
	}

	if err := <-errCh; err != nil {
		return err
	}
	printer.Info("Peer stopped\n")
	return nil
}

func startSuggestions(cfg *config.RallyConfig) []string {
	if cfg.HealthEnabled() {
		return []string{
			"Check that peer.health_addr is free, or set it to \"off\"",
			"Check the backend settings in rally.yml",
		}
	}
	return []string{"Check the backend settings in rally.yml"}
}
