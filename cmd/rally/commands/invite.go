package commands

import (
	"context"

	"github.com/dyluth/rally/internal/printer"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/spf13/cobra"
)

var inviteMessage string

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Invite another player to a game",
}

var inviteSendCmd = &cobra.Command{
	Use:   "send GAME PLAYER",
	Short: "Send an invitation for a game this agent plays in",
	Long: `Send an invitation signal to PLAYER (agent hash or player name).

The invitation is not stored: the invitee sees it only if their peer is
running 'rally serve'.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "send invitation", func(ctx context.Context, s *session, game ledger.Hash) error {
			invitee, err := resolveAgent(ctx, s.svc, args[1])
			if err != nil {
				return err
			}
			if err := s.svc.SendInvitation(ctx, game, invitee, inviteMessage); err != nil {
				return err
			}
			printer.Success("Invited %s to game %s\n", invitee.Short(), game.Short())
			return nil
		})
	},
}

var inviteAcceptCmd = &cobra.Command{
	Use:   "accept GAME",
	Short: "Accept an invitation by joining the game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(cmd, args[0], "accept invitation", func(ctx context.Context, s *session, game ledger.Hash) error {
			entry, err := s.svc.AcceptInvitation(ctx, game)
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

func init() {
	inviteSendCmd.Flags().StringVarP(&inviteMessage, "message", "m", "", "Message shown with the invitation")
	inviteCmd.AddCommand(inviteSendCmd, inviteAcceptCmd)
	rootCmd.AddCommand(inviteCmd)
}
