package commands

import (
	"context"
	"strings"

	"github.com/dyluth/rally/internal/coordinator"
	"github.com/dyluth/rally/internal/printer"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
	"github.com/spf13/cobra"
)

var playerCmd = &cobra.Command{
	Use:   "player",
	Short: "Manage this agent's player profile",
}

var playerCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a profile under a unique name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "create player", func(ctx context.Context, s *session) error {
			entry, err := s.svc.CreatePlayer(ctx, model.Player{PlayerName: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			return emit(entry, func() {
				printer.Success("Registered '%s'\n", entry.Latest.Value.PlayerName)
				printPlayer(entry)
			})
		})
	},
}

var playerUpdateCmd = &cobra.Command{
	Use:   "update NAME",
	Short: "Rename this agent's profile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "update player", func(ctx context.Context, s *session) error {
			profile, err := s.svc.GetProfile(ctx, s.svc.Agent())
			if err != nil {
				return err
			}
			entry, err := s.svc.UpdatePlayer(ctx, profile.ID, "", model.Player{PlayerName: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			return emit(entry, func() {
				printer.Success("Renamed '%s' to '%s'\n", profile.Latest.Value.PlayerName, entry.Latest.Value.PlayerName)
				printPlayer(entry)
			})
		})
	},
}

var playerDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete this agent's profile and release its name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "delete player", func(ctx context.Context, s *session) error {
			profile, err := s.svc.GetProfile(ctx, s.svc.Agent())
			if err != nil {
				return err
			}
			deleteHash, err := s.svc.DeletePlayer(ctx, profile.ID)
			if err != nil {
				return err
			}
			return emit(map[string]ledger.Hash{"id": profile.ID, "delete": deleteHash}, func() {
				printer.Success("Deleted profile '%s'\n", profile.Latest.Value.PlayerName)
				printer.Detail("delete", deleteHash)
			})
		})
	},
}

var playerShowCmd = &cobra.Command{
	Use:   "show [AGENT|NAME]",
	Short: "Show a profile (default: this agent's)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "show player", func(ctx context.Context, s *session) error {
			agent := s.svc.Agent()
			if len(args) == 1 {
				var err error
				if agent, err = resolveAgent(ctx, s.svc, args[0]); err != nil {
					return err
				}
			}
			entry, err := s.svc.GetProfile(ctx, agent)
			if err != nil {
				return err
			}
			status, err := s.svc.GetPlayerStatus(ctx, agent)
			if err != nil {
				return err
			}
			revisions, err := s.svc.GetAllRevisionsForPlayer(ctx, entry.ID)
			if err != nil {
				return err
			}
			out := struct {
				*coordinator.Entry[model.Player]
				Status    coordinator.PlayerStatus `json:"status"`
				Revisions int                      `json:"revisions"`
			}{entry, status, len(revisions)}
			return emit(out, func() {
				printer.Info("%s\n", entry.Latest.Value.PlayerName)
				printPlayer(entry)
				printer.Detail("status", status)
				printer.Detail("revisions", len(revisions))
			})
		})
	},
}

var playerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered player",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "list players", func(ctx context.Context, s *session) error {
			agents, err := s.svc.GetAllPlayers(ctx)
			if err != nil {
				return err
			}
			entries := make([]*coordinator.Entry[model.Player], 0, len(agents))
			for _, agent := range agents {
				entry, err := s.svc.GetProfile(ctx, agent)
				if err != nil {
					// Deleted profiles stay in the all-players index
					continue
				}
				entries = append(entries, entry)
			}
			return emit(entries, func() {
				if len(entries) == 0 {
					printer.Info("No players registered\n")
					return
				}
				printer.Printf("%-24s %s\n", "NAME", "AGENT")
				for _, e := range entries {
					printer.Printf("%-24s %s\n", e.Latest.Value.PlayerName, e.Latest.Value.PlayerKey)
				}
			})
		})
	},
}

func init() {
	playerCmd.AddCommand(playerCreateCmd, playerUpdateCmd, playerDeleteCmd, playerShowCmd, playerListCmd)
	rootCmd.AddCommand(playerCmd)
}

func printPlayer(entry *coordinator.Entry[model.Player]) {
	printer.Detail("id", entry.ID)
	printer.Detail("agent", entry.Latest.Value.PlayerKey)
	printer.Detail("revision", entry.Latest.Hash)
}
