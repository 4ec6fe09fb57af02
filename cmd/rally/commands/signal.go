package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dyluth/rally/internal/printer"
	"github.com/dyluth/rally/internal/relay"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/spf13/cobra"
)

var signalWinner string

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Send real-time game signals",
	Long: `Send fire-and-forget signals to the other participant of a game.

Signals are not stored. The recipient must be running 'rally serve' to see
them; a signal to an offline peer is lost. Chat goes to every online agent.`,
}

var signalPaddleCmd = &cobra.Command{
	Use:   "paddle GAME Y",
	Short: "Send this player's paddle position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vals, err := parseUints(args[1:])
		if err != nil {
			return err
		}
		return sendGameSignal(cmd, args[0], "paddle update", func(ctx context.Context, s *session, game ledger.Hash) error {
			return s.svc.SendPaddleUpdate(ctx, game, vals[0])
		})
	},
}

var signalBallCmd = &cobra.Command{
	Use:   "ball GAME X Y DX DY",
	Short: "Send the ball position and velocity",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parseUints(args[1:3])
		if err != nil {
			return err
		}
		vel, err := parseInts(args[3:5])
		if err != nil {
			return err
		}
		return sendGameSignal(cmd, args[0], "ball update", func(ctx context.Context, s *session, game ledger.Hash) error {
			return s.svc.SendBallUpdate(ctx, game, pos[0], pos[1], vel[0], vel[1])
		})
	},
}

var signalScoreCmd = &cobra.Command{
	Use:   "score GAME SCORE1 SCORE2",
	Short: "Send the running score",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		vals, err := parseUints(args[1:])
		if err != nil {
			return err
		}
		return sendGameSignal(cmd, args[0], "score update", func(ctx context.Context, s *session, game ledger.Hash) error {
			return s.svc.SendScoreUpdate(ctx, game, vals[0], vals[1])
		})
	},
}

var signalOverCmd = &cobra.Command{
	Use:   "over GAME SCORE1 SCORE2",
	Short: "Announce the final result (omit --winner for a draw)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		vals, err := parseUints(args[1:])
		if err != nil {
			return err
		}
		return sendGameSignal(cmd, args[0], "game over", func(ctx context.Context, s *session, game ledger.Hash) error {
			var winner *ledger.Hash
			if signalWinner != "" {
				w, err := resolveAgent(ctx, s.svc, signalWinner)
				if err != nil {
					return err
				}
				winner = &w
			}
			return s.svc.SendGameOver(ctx, game, winner, vals[0], vals[1])
		})
	},
}

var signalAbandonCmd = &cobra.Command{
	Use:   "abandon GAME",
	Short: "Tell the other player this player is leaving",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendGameSignal(cmd, args[0], "game abandoned", func(ctx context.Context, s *session, game ledger.Hash) error {
			return s.svc.SendGameAbandoned(ctx, game)
		})
	},
}

var signalChatCmd = &cobra.Command{
	Use:   "chat MESSAGE...",
	Short: "Send a lobby chat message to every online agent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, "chat", func(ctx context.Context, s *session) error {
			if err := s.svc.SendGlobalChatMessage(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
			printer.Success("Chat sent\n")
			return nil
		})
	},
}

func init() {
	signalOverCmd.Flags().StringVar(&signalWinner, "winner", "", "Winning agent hash or player name")

	signalCmd.AddCommand(signalPaddleCmd, signalBallCmd, signalScoreCmd, signalOverCmd, signalAbandonCmd, signalChatCmd)
	rootCmd.AddCommand(signalCmd)
}

func sendGameSignal(cmd *cobra.Command, gameArg, operation string, send func(ctx context.Context, s *session, game ledger.Hash) error) error {
	return withSession(cmd, operation, func(ctx context.Context, s *session) error {
		game, err := resolveGame(ctx, s.svc, gameArg)
		if err != nil {
			return err
		}
		if err := send(ctx, s, game); err != nil {
			return err
		}
		printer.Success("Sent %s for game %s\n", operation, game.Short())
		return nil
	})
}

func parseUints(args []string) ([]uint32, error) {
	out := make([]uint32, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			return nil, printer.Error("invalid number", fmt.Sprintf("'%s' is not a non-negative integer", a), nil)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

func parseInts(args []string) ([]int32, error) {
	out := make([]int32, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			return nil, printer.Error("invalid number", fmt.Sprintf("'%s' is not an integer", a), nil)
		}
		out[i] = int32(v)
	}
	return out, nil
}

// printSignal renders one signal from the local bus.
func printSignal(sig relay.Signal) {
	if jsonOutput {
		data, err := json.Marshal(sig)
		if err != nil {
			return
		}
		printer.Println(string(data))
		return
	}
	printer.Step("%s\n", formatSignal(sig))
}

func formatSignal(sig relay.Signal) string {
	game := sig.GameID.Short()
	switch sig.Type {
	case relay.KindGameInvitation:
		// Full hash so it can be pasted into 'rally invite accept'
		line := fmt.Sprintf("[%s] %s invites you to game %s", sig.Type, sig.Inviter.Short(), sig.GameID)
		if sig.Message != "" {
			line += ": " + sig.Message
		}
		return line
	case relay.KindGameStarted:
		return fmt.Sprintf("[%s] game %s: %s vs %s", sig.Type, game, sig.Player1.Short(), sig.Player2.Short())
	case relay.KindPaddleUpdate:
		return fmt.Sprintf("[%s] game %s: %s paddle at %d", sig.Type, game, sig.Player.Short(), sig.PaddleY)
	case relay.KindBallUpdate:
		return fmt.Sprintf("[%s] game %s: ball at (%d,%d) moving (%d,%d)", sig.Type, game, sig.BallX, sig.BallY, sig.BallDX, sig.BallDY)
	case relay.KindScoreUpdate:
		return fmt.Sprintf("[%s] game %s: %d - %d", sig.Type, game, sig.Score1, sig.Score2)
	case relay.KindGameOver:
		result := "draw"
		if sig.Winner != nil {
			result = sig.Winner.Short() + " wins"
		}
		return fmt.Sprintf("[%s] game %s: %d - %d, %s", sig.Type, game, sig.Score1, sig.Score2, result)
	case relay.KindGameAbandoned:
		return fmt.Sprintf("[%s] game %s: abandoned by %s", sig.Type, game, sig.AbandonedBy.Short())
	case relay.KindGlobalChatMessage:
		return fmt.Sprintf("[%s] %s: %s", sig.Type, sig.Sender.Short(), sig.Content)
	default:
		return fmt.Sprintf("[%s] game %s", sig.Type, game)
	}
}
