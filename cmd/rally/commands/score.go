package commands

import (
	"context"

	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/internal/printer"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
	"github.com/spf13/cobra"
)

var (
	scorePlayer string

	statsLatency    uint32
	statsValidation uint32
	statsDHT        uint32
	statsDelay      uint32
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Record and list final scores",
}

var scoreRecordCmd = &cobra.Command{
	Use:   "record GAME POINTS",
	Short: "Record a player's points in a Finished game",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		points, err := parseUints(args[1:])
		if err != nil {
			return err
		}
		return withGame(cmd, args[0], "record score", func(ctx context.Context, s *session, game ledger.Hash) error {
			player := s.svc.Agent()
			if scorePlayer != "" {
				if player, err = resolveAgent(ctx, s.svc, scorePlayer); err != nil {
					return err
				}
			}
			rev, err := s.svc.CreateScore(ctx, game, player, points[0])
			if err != nil {
				return err
			}
			return emit(rev, func() {
				printer.Success("Recorded %d points for %s\n", rev.Value.PlayerPoints, player.Short())
				printer.Detail("score", rev.Hash)
			})
		})
	},
}

var scoreListCmd = &cobra.Command{
	Use:   "list [GAME]",
	Short: "List scores for a game, or for a player with --player",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "list scores", func(ctx context.Context, s *session) error {
			var (
				scores []*entity.Revision[model.Score]
				err    error
			)
			switch {
			case len(args) == 1:
				game, perr := resolveGame(ctx, s.svc, args[0])
				if perr != nil {
					return perr
				}
				scores, err = s.svc.GetScoresForGame(ctx, game)
			default:
				player := s.svc.Agent()
				if scorePlayer != "" {
					if player, err = resolveAgent(ctx, s.svc, scorePlayer); err != nil {
						return err
					}
				}
				scores, err = s.svc.GetScoresForPlayer(ctx, player)
			}
			if err != nil {
				return err
			}
			return emit(scores, func() {
				if len(scores) == 0 {
					printer.Info("No scores\n")
					return
				}
				printer.Printf("%-18s %-18s %-18s %s\n", "GAME", "PLAYER", "RECORDED BY", "POINTS")
				for _, sc := range scores {
					printer.Printf("%-18s %-18s %-18s %d\n",
						sc.Value.GameID.Short(), sc.Value.Player.Short(), sc.Author.Short(), sc.Value.PlayerPoints)
				}
			})
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Record and list network statistics for finished games",
}

var statsRecordCmd = &cobra.Command{
	Use:   "record GAME",
	Short: "Record network measurements for a Finished game",
	Long: `Record network measurements, in milliseconds, for a Finished game.

Without --latency the mean one-way latency observed by this peer's relay is
used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "record statistics", func(ctx context.Context, s *session, game ledger.Hash) error {
			rev, err := s.svc.CreateStatistics(ctx, model.Statistics{
				GameID:              game,
				SignalLatency:       statsLatency,
				ScoreValidationTime: statsValidation,
				DHTResponseTime:     statsDHT,
				NetworkDelay:        statsDelay,
			})
			if err != nil {
				return err
			}
			return emit(rev, func() {
				printer.Success("Recorded statistics for game %s\n", game.Short())
				printStatistics(rev)
			})
		})
	},
}

var statsListCmd = &cobra.Command{
	Use:   "list GAME",
	Short: "List statistics recorded for a game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "list statistics", func(ctx context.Context, s *session, game ledger.Hash) error {
			stats, err := s.svc.GetStatisticsForGame(ctx, game)
			if err != nil {
				return err
			}
			return emit(stats, func() {
				if len(stats) == 0 {
					printer.Info("No statistics for game %s\n", game.Short())
					return
				}
				for _, st := range stats {
					printer.Info("%s by %s\n", st.Hash.Short(), st.Author.Short())
					printStatistics(st)
				}
			})
		})
	},
}

func init() {
	scoreRecordCmd.Flags().StringVar(&scorePlayer, "player", "", "Scored player (agent hash or name; default: this agent)")
	scoreListCmd.Flags().StringVar(&scorePlayer, "player", "", "List this player's scores (agent hash or name)")
	scoreCmd.AddCommand(scoreRecordCmd, scoreListCmd)
	rootCmd.AddCommand(scoreCmd)

	statsRecordCmd.Flags().Uint32Var(&statsLatency, "latency", 0, "Signal latency (ms)")
	statsRecordCmd.Flags().Uint32Var(&statsValidation, "validation", 0, "Score validation time (ms)")
	statsRecordCmd.Flags().Uint32Var(&statsDHT, "lookup", 0, "Shared store response time (ms)")
	statsRecordCmd.Flags().Uint32Var(&statsDelay, "delay", 0, "Network delay (ms)")
	statsCmd.AddCommand(statsRecordCmd, statsListCmd)
	rootCmd.AddCommand(statsCmd)
}

func printStatistics(rev *entity.Revision[model.Statistics]) {
	printer.Detail("latency", rev.Value.SignalLatency)
	printer.Detail("validation", rev.Value.ScoreValidationTime)
	printer.Detail("lookup", rev.Value.DHTResponseTime)
	printer.Detail("delay", rev.Value.NetworkDelay)
}
