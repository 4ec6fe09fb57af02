package coordinator

import (
	"context"
	"strings"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/internal/relay"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// SendInvitation asks invitee to join a game the caller takes part in. The
// invitation is also emitted on the caller's own bus. Nothing is written; the
// invitee accepts by joining.
func (s *Service) SendInvitation(ctx context.Context, game, invitee ledger.Hash, message string) error {
	latest, err := entity.Latest[model.Game](ctx, s.games, game)
	if err != nil {
		return err
	}
	me := s.store.Agent()
	if !latest.Value.IsParticipant(me) {
		return apperrors.New(apperrors.CodeUnauthorized, "only game participants can send invitations")
	}
	if invitee == me {
		return apperrors.New(apperrors.CodeConflict, "cannot invite yourself")
	}
	if err := s.relay.Broadcast([]ledger.Hash{invitee}, relay.GameInvitation(game, me, message)); err != nil {
		return err
	}
	s.logEvent("invitation_sent", map[string]interface{}{
		"game_id": game.Short(),
		"invitee": invitee.Short(),
	})
	return nil
}

// AcceptInvitation joins the game named in an invitation.
func (s *Service) AcceptInvitation(ctx context.Context, game ledger.Hash) (*Entry[model.Game], error) {
	return s.JoinGame(ctx, game)
}

// SendPaddleUpdate relays the caller's paddle position.
func (s *Service) SendPaddleUpdate(ctx context.Context, game ledger.Hash, paddleY uint32) error {
	return s.relay.Send(ctx, relay.PaddleUpdate(game, s.store.Agent(), paddleY))
}

// SendBallUpdate relays the ball position and velocity.
func (s *Service) SendBallUpdate(ctx context.Context, game ledger.Hash, x, y uint32, dx, dy int32) error {
	return s.relay.Send(ctx, relay.BallUpdate(game, x, y, dx, dy))
}

// SendScoreUpdate relays the running score.
func (s *Service) SendScoreUpdate(ctx context.Context, game ledger.Hash, score1, score2 uint32) error {
	return s.relay.Send(ctx, relay.ScoreUpdate(game, score1, score2))
}

// SendGameOver relays the final score. winner may be nil for a draw.
func (s *Service) SendGameOver(ctx context.Context, game ledger.Hash, winner *ledger.Hash, score1, score2 uint32) error {
	return s.relay.Send(ctx, relay.GameOver(game, winner, score1, score2))
}

// SendGameAbandoned tells the opponent the caller left.
func (s *Service) SendGameAbandoned(ctx context.Context, game ledger.Hash) error {
	return s.relay.Send(ctx, relay.GameAbandoned(game, s.store.Agent()))
}

// SendGlobalChatMessage emits a lobby message locally and delivers it to
// every online agent.
func (s *Service) SendGlobalChatMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return apperrors.New(apperrors.CodeMalformedData, "chat message cannot be empty")
	}
	online, err := s.GetOnlineUsers(ctx)
	if err != nil {
		return err
	}
	return s.relay.Broadcast(online, relay.GlobalChatMessage(s.store.Agent(), content, s.store.Now()))
}

// ReceiveRemoteSignal handles a receive_remote_signal call from another
// agent.
func (s *Service) ReceiveRemoteSignal(call *ledger.Call) error {
	return s.relay.HandleCall(call)
}
