package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/rally/internal/coordinator"
	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/printer"
	"github.com/dyluth/rally/internal/timespec"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
	"github.com/spf13/cobra"
)

var (
	gameOpponent string
	gameMine     bool
	gameStatus   string
	gameSince    string
	gameUntil    string
)

var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Create, join and inspect games",
	Long: `Create, join and inspect games.

A game is identified by the hash of its original record. Every state change
(join, finish) is a new revision chained from it:

  Waiting -> InProgress -> Finished

Only a Waiting game can be deleted, and only by a participant.`,
}

var gameCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new game as player 1",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "create game", func(ctx context.Context, s *session) error {
			var opponent *ledger.Hash
			if gameOpponent != "" {
				agent, err := resolveAgent(ctx, s.svc, gameOpponent)
				if err != nil {
					return err
				}
				opponent = &agent
			}
			entry, err := s.svc.CreateGame(ctx, "", opponent)
			if err != nil {
				return err
			}
			return emit(entry, func() {
				printer.Success("Created game %s\n", entry.ID)
				printGame(entry)
				printer.Println()
				printer.Info("Share the game hash; the other player runs 'rally game join %s'\n", entry.ID)
			})
		})
	},
}

var gameJoinCmd = &cobra.Command{
	Use:   "join GAME",
	Short: "Join a Waiting game as player 2",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "join game", func(ctx context.Context, s *session, game ledger.Hash) error {
			entry, err := s.svc.JoinGame(ctx, game)
			if err != nil {
				return err
			}
			return emit(entry, func() {
				printer.Success("Joined game %s\n", entry.ID.Short())
				printGame(entry)
			})
		})
	},
}

var gameFinishCmd = &cobra.Command{
	Use:   "finish GAME",
	Short: "Mark an InProgress game Finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "finish game", func(ctx context.Context, s *session, game ledger.Hash) error {
			entry, err := s.svc.FinishGame(ctx, game)
			if err != nil {
				return err
			}
			return emit(entry, func() {
				printer.Success("Finished game %s\n", entry.ID.Short())
				printer.Info("Record results with 'rally score record %s <points>'\n", entry.ID)
			})
		})
	},
}

var gameDeleteCmd = &cobra.Command{
	Use:   "delete GAME",
	Short: "Delete a Waiting game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "delete game", func(ctx context.Context, s *session, game ledger.Hash) error {
			deleteHash, err := s.svc.DeleteGame(ctx, game)
			if err != nil {
				return err
			}
			return emit(map[string]ledger.Hash{"id": game, "delete": deleteHash}, func() {
				printer.Success("Deleted game %s\n", game.Short())
				printer.Detail("delete", deleteHash)
			})
		})
	},
}

var gameShowCmd = &cobra.Command{
	Use:   "show GAME",
	Short: "Show the latest state of a game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "show game", func(ctx context.Context, s *session, game ledger.Hash) error {
			entry, err := s.svc.GetLatestGame(ctx, game)
			if err != nil {
				return err
			}
			return emit(entry, func() { printGame(entry) })
		})
	},
}

var gameHistoryCmd = &cobra.Command{
	Use:   "history GAME",
	Short: "List every revision of a game, and any deletes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "game history", func(ctx context.Context, s *session, game ledger.Hash) error {
			revisions, err := s.svc.GetAllRevisionsForGame(ctx, game)
			if err != nil {
				return err
			}
			deletes, err := s.svc.GetAllDeletesForGame(ctx, game)
			if err != nil {
				return err
			}
			out := map[string]any{"revisions": revisions, "deletes": deletes}
			return emit(out, func() {
				printer.Printf("%-18s %-12s %-18s %s\n", "REVISION", "STATUS", "AUTHOR", "TIME")
				for _, rev := range revisions {
					printer.Printf("%-18s %-12s %-18s %s\n",
						rev.Hash.Short(), rev.Value.Status, rev.Author.Short(), rev.Timestamp.Time().Format("2006-01-02 15:04:05"))
				}
				for _, del := range deletes {
					printer.Warning("deleted by %s at %s (%s)\n",
						del.Author.Short(), del.Timestamp.Time().Format("2006-01-02 15:04:05"), del.Hash.Short())
				}
			})
		})
	},
}

var gameListCmd = &cobra.Command{
	Use:   "list",
	Short: "List games on the network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "list games", func(ctx context.Context, s *session) error {
			var (
				games []*coordinator.Entry[model.Game]
				err   error
			)
			if gameMine {
				games, err = s.svc.GetGamesForAgent(ctx, s.svc.Agent())
			} else {
				games, err = s.svc.GetAllGames(ctx)
			}
			if err != nil {
				return err
			}
			window, err := timespec.ParseRange(gameSince, gameUntil, time.Now())
			if err != nil {
				return apperrors.Wrap(apperrors.CodeMalformedData, "invalid time window", err)
			}
			status := model.GameStatus(gameStatus)
			if status != "" {
				if err := status.Validate(); err != nil {
					return apperrors.Wrap(apperrors.CodeMalformedData, "invalid --status", err)
				}
			}
			games = filterGames(games, status, window)
			return emit(games, func() {
				if len(games) == 0 {
					printer.Info("No games\n")
					return
				}
				printer.Printf("%-70s %-12s %-18s %s\n", "GAME", "STATUS", "PLAYER 1", "PLAYER 2")
				for _, g := range games {
					printer.Printf("%-70s %-12s %-18s %s\n",
						g.ID, g.Latest.Value.Status, g.Latest.Value.Player1.Short(), player2Label(&g.Latest.Value))
				}
			})
		})
	},
}

var gameConflictsCmd = &cobra.Command{
	Use:   "conflicts GAME",
	Short: "Show every agent that joined the game as player 2",
	Long: `Two agents can join the same Waiting game before either sees the other's
revision. Both joins are kept; this lists every distinct player 2 recorded
so the players can settle it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "game conflicts", func(ctx context.Context, s *session, game ledger.Hash) error {
			joiners, err := s.svc.GetJoinConflicts(ctx, game)
			if err != nil {
				return err
			}
			return emit(joiners, func() {
				switch len(joiners) {
				case 0:
					printer.Info("Nobody has joined game %s\n", game.Short())
				case 1:
					printer.Success("No conflict: %s is player 2\n", joiners[0].Short())
				default:
					printer.Warning("%d agents joined game %s\n", len(joiners), game.Short())
					for _, j := range joiners {
						printer.Detail("player 2", j)
					}
				}
			})
		})
	},
}

func init() {
	gameCreateCmd.Flags().StringVar(&gameOpponent, "opponent", "", "Reserve player 2 for this agent hash or player name")
	gameListCmd.Flags().BoolVar(&gameMine, "mine", false, "Only games this agent plays in")
	gameListCmd.Flags().StringVar(&gameStatus, "status", "", "Filter by status: Waiting, InProgress or Finished")
	gameListCmd.Flags().StringVar(&gameSince, "since", "", "Only games created after this time (duration or RFC3339)")
	gameListCmd.Flags().StringVar(&gameUntil, "until", "", "Only games created before this time (duration or RFC3339)")

	gameCmd.AddCommand(gameCreateCmd, gameJoinCmd, gameFinishCmd, gameDeleteCmd,
		gameShowCmd, gameHistoryCmd, gameListCmd, gameConflictsCmd)
	rootCmd.AddCommand(gameCmd)
}

// withGame runs fn with the GAME argument resolved to a full hash.
func withGame(cmd *cobra.Command, arg, operation string, fn func(ctx context.Context, s *session, game ledger.Hash) error) error {
	return withSession(cmd, operation, func(ctx context.Context, s *session) error {
		game, err := resolveGame(ctx, s.svc, arg)
		if err != nil {
			return err
		}
		return fn(ctx, s, game)
	})
}

// filterGames keeps games in status (any if empty) created within window.
func filterGames(games []*coordinator.Entry[model.Game], status model.GameStatus, window timespec.Range) []*coordinator.Entry[model.Game] {
	out := games[:0]
	for _, g := range games {
		if (status == "" || g.Latest.Value.Status == status) && window.Contains(g.Latest.Value.CreatedAt) {
			out = append(out, g)
		}
	}
	return out
}

func player2Label(g *model.Game) string {
	if g.Player2 == nil {
		return "-"
	}
	return g.Player2.Short()
}

func printGame(entry *coordinator.Entry[model.Game]) {
	g := entry.Latest.Value
	printer.Detail("id", entry.ID)
	printer.Detail("status", g.Status)
	printer.Detail("player 1", g.Player1)
	printer.Detail("player 2", player2Label(&g))
	printer.Detail("board", fmt.Sprintf("paddles %d/%d, ball (%d,%d)", g.Player1Paddle, g.Player2Paddle, g.BallX, g.BallY))
	printer.Detail("revision", entry.Latest.Hash)
}
