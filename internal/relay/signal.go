// Package relay carries transient, non-durable game signals between peers.
//
// A signal is emitted on the sender's local bus and delivered to the other
// participants as a fire-and-forget remote call. Nothing here touches the
// ledger except to resolve who the participants are; a lost signal is never
// retried.
package relay

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
)

// Kind names a signal variant. The value is the JSON "type" tag.
type Kind string

const (
	KindGameInvitation    Kind = "GameInvitation"
	KindGameStarted       Kind = "GameStarted"
	KindPaddleUpdate      Kind = "PaddleUpdate"
	KindBallUpdate        Kind = "BallUpdate"
	KindScoreUpdate       Kind = "ScoreUpdate"
	KindGameOver          Kind = "GameOver"
	KindGameAbandoned     Kind = "GameAbandoned"
	KindGlobalChatMessage Kind = "GlobalChatMessage"
)

// Kinds lists every signal variant.
var Kinds = []Kind{
	KindGameInvitation,
	KindGameStarted,
	KindPaddleUpdate,
	KindBallUpdate,
	KindScoreUpdate,
	KindGameOver,
	KindGameAbandoned,
	KindGlobalChatMessage,
}

// Validate checks that k is a known variant.
func (k Kind) Validate() error {
	for _, known := range Kinds {
		if k == known {
			return nil
		}
	}
	return apperrors.New(apperrors.CodeMalformedData, fmt.Sprintf("unknown signal type '%s'", k))
}

// Tracked reports whether signals of this kind carry sent_at and feed the
// latency tracker.
func (k Kind) Tracked() bool {
	switch k {
	case KindPaddleUpdate, KindBallUpdate, KindScoreUpdate, KindGameOver:
		return true
	}
	return false
}

// GameScoped reports whether the signal belongs to a game and is routed to
// its participants.
func (k Kind) GameScoped() bool {
	return k != KindGlobalChatMessage
}

// Signal is the flat wire form of every variant. Fields a variant does not
// use are left zero and omitted from JSON.
type Signal struct {
	Type   Kind        `json:"type"`
	GameID ledger.Hash `json:"game_id,omitempty"`

	// GameInvitation
	Inviter ledger.Hash `json:"inviter,omitempty"`
	Message string      `json:"message,omitempty"`

	// GameStarted
	Player1 ledger.Hash `json:"player_1,omitempty"`
	Player2 ledger.Hash `json:"player_2,omitempty"`

	// PaddleUpdate
	Player  ledger.Hash `json:"player,omitempty"`
	PaddleY uint32      `json:"paddle_y,omitempty"`

	// BallUpdate
	BallX  uint32 `json:"ball_x,omitempty"`
	BallY  uint32 `json:"ball_y,omitempty"`
	BallDX int32  `json:"ball_dx,omitempty"`
	BallDY int32  `json:"ball_dy,omitempty"`

	// ScoreUpdate, GameOver
	Score1 uint32       `json:"score1,omitempty"`
	Score2 uint32       `json:"score2,omitempty"`
	Winner *ledger.Hash `json:"winner,omitempty"`

	// GameAbandoned
	AbandonedBy ledger.Hash `json:"abandoned_by_player,omitempty"`

	// GlobalChatMessage
	Sender    ledger.Hash      `json:"sender,omitempty"`
	Content   string           `json:"content,omitempty"`
	Timestamp ledger.Timestamp `json:"timestamp,omitempty"`

	SentAt ledger.Timestamp `json:"sent_at,omitempty"`
}

// Validate checks the variant tag and the fields routing depends on.
func (s *Signal) Validate() error {
	if err := s.Type.Validate(); err != nil {
		return err
	}
	if s.Type.GameScoped() && s.GameID == "" {
		return apperrors.New(apperrors.CodeMalformedData, fmt.Sprintf("%s signal requires game_id", s.Type))
	}
	if s.Type == KindGlobalChatMessage && s.Content == "" {
		return apperrors.New(apperrors.CodeMalformedData, "chat message cannot be empty")
	}
	return nil
}

// DecodeSignal parses and validates a signal payload.
func DecodeSignal(data []byte) (*Signal, error) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedData, "invalid signal payload", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// PaddleUpdate builds a paddle position signal.
func PaddleUpdate(game, player ledger.Hash, paddleY uint32) Signal {
	return Signal{Type: KindPaddleUpdate, GameID: game, Player: player, PaddleY: paddleY}
}

// BallUpdate builds a ball position and velocity signal.
func BallUpdate(game ledger.Hash, x, y uint32, dx, dy int32) Signal {
	return Signal{Type: KindBallUpdate, GameID: game, BallX: x, BallY: y, BallDX: dx, BallDY: dy}
}

// ScoreUpdate builds a running score signal.
func ScoreUpdate(game ledger.Hash, score1, score2 uint32) Signal {
	return Signal{Type: KindScoreUpdate, GameID: game, Score1: score1, Score2: score2}
}

// GameOver builds a final result signal. winner is nil for a draw.
func GameOver(game ledger.Hash, winner *ledger.Hash, score1, score2 uint32) Signal {
	return Signal{Type: KindGameOver, GameID: game, Winner: winner, Score1: score1, Score2: score2}
}

// GameAbandoned builds an abandonment notice.
func GameAbandoned(game, by ledger.Hash) Signal {
	return Signal{Type: KindGameAbandoned, GameID: game, AbandonedBy: by}
}

// GameInvitation builds an invitation from inviter.
func GameInvitation(game, inviter ledger.Hash, message string) Signal {
	return Signal{Type: KindGameInvitation, GameID: game, Inviter: inviter, Message: message}
}

// GameStarted builds the notice sent when player 2 joins.
func GameStarted(game, player1, player2 ledger.Hash) Signal {
	return Signal{Type: KindGameStarted, GameID: game, Player1: player1, Player2: player2}
}

// GlobalChatMessage builds a lobby chat line.
func GlobalChatMessage(sender ledger.Hash, content string, at ledger.Timestamp) Signal {
	return Signal{Type: KindGlobalChatMessage, Sender: sender, Content: content, Timestamp: at}
}
