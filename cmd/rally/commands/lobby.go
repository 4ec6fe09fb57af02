package commands

import (
	"context"

	"github.com/dyluth/rally/internal/coordinator"
	"github.com/dyluth/rally/internal/printer"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/spf13/cobra"
)

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List agents with a recent presence heartbeat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "list online", func(ctx context.Context, s *session) error {
			agents, err := s.svc.GetOnlineUsers(ctx)
			if err != nil {
				return err
			}
			type onlineAgent struct {
				Agent ledger.Hash              `json:"agent"`
				Name  string                   `json:"player_name,omitempty"`
				State coordinator.PlayerStatus `json:"status,omitempty"`
			}
			out := make([]onlineAgent, 0, len(agents))
			for _, agent := range agents {
				row := onlineAgent{Agent: agent}
				if profile, err := s.svc.GetProfile(ctx, agent); err == nil {
					row.Name = profile.Latest.Value.PlayerName
					if status, err := s.svc.GetPlayerStatus(ctx, agent); err == nil {
						row.State = status
					}
				}
				out = append(out, row)
			}
			return emit(out, func() {
				if len(out) == 0 {
					printer.Info("Nobody is online\n")
					return
				}
				printer.Printf("%-24s %-12s %s\n", "NAME", "STATUS", "AGENT")
				for _, row := range out {
					name, state := row.Name, string(row.State)
					if name == "" {
						name, state = "-", "-"
					}
					printer.Printf("%-24s %-12s %s\n", name, state, row.Agent)
				}
			})
		})
	},
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Rank players by wins, then total points",
	Long: `Rank players by wins, then total points, then name.

A player wins a game when their best recorded score in it is strictly higher
than every other player's. A game nobody else scored counts as played, not
won.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "leaderboard", func(ctx context.Context, s *session) error {
			entries, err := s.svc.GetLeaderboardData(ctx)
			if err != nil {
				return err
			}
			return emit(entries, func() {
				if len(entries) == 0 {
					printer.Info("No players yet\n")
					return
				}
				printer.Printf("%-4s %-24s %6s %6s %8s\n", "#", "NAME", "WINS", "GAMES", "POINTS")
				for i, e := range entries {
					printer.Printf("%-4d %-24s %6d %6d %8d\n", i+1, e.PlayerName, e.Wins, e.GamesPlayed, e.TotalPoints)
				}
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(onlineCmd, leaderboardCmd)
}
