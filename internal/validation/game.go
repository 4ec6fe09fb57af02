package validation

import (
	"fmt"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

func (e *Engine) validateGame(r *ledger.Record, prev *ledger.Record) error {
	switch r.Action {
	case ledger.ActionCreate:
		game, err := decode[model.Game](r)
		if err != nil {
			return err
		}
		return e.ValidateCreateGame(r.Author, r.Timestamp, game)
	case ledger.ActionUpdate:
		game, err := decode[model.Game](r)
		if err != nil {
			return err
		}
		previous, err := decode[model.Game](prev)
		if err != nil {
			return err
		}
		return ValidateUpdateGame(r.Author, game, previous)
	default:
		target, err := decode[model.Game](prev)
		if err != nil {
			return err
		}
		return ValidateDeleteGame(r.Author, target)
	}
}

// ValidateCreateGame checks a new game: the author is one of its players, it
// starts Waiting with two distinct players, and created_at is close to the
// record time.
func (e *Engine) ValidateCreateGame(author ledger.Hash, at ledger.Timestamp, game *model.Game) error {
	if err := game.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedData, "invalid game", err)
	}
	if !game.IsParticipant(author) {
		return reject(apperrors.CodeUnauthorized, "game creator must be player 1 or the named player 2")
	}
	if game.Status != model.StatusWaiting {
		return reject(apperrors.CodeInvalidState, "game must be created with Waiting status")
	}
	if game.IsPlayer2(game.Player1) {
		return reject(apperrors.CodeConflict, "player 1 and player 2 cannot be the same agent")
	}
	if !e.withinSkew(game.CreatedAt, at) {
		return reject(apperrors.CodeMalformedData, "game created_at is too far from the record timestamp")
	}
	return nil
}

// ValidateUpdateGame checks a game update against the state it supersedes.
func ValidateUpdateGame(author ledger.Hash, updated, previous *model.Game) error {
	if err := updated.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedData, "invalid game", err)
	}

	joining := previous.Status == model.StatusWaiting && updated.Status == model.StatusInProgress

	if previous.Player1 != author && !previous.IsPlayer2(author) && !(joining && updated.IsPlayer2(author)) {
		return reject(apperrors.CodeUnauthorized,
			"update author must be player 1, the existing player 2, or a new player 2 joining a Waiting game")
	}

	if updated.Player1 != previous.Player1 || updated.CreatedAt != previous.CreatedAt {
		return reject(apperrors.CodeInvalidState, "player_1 and created_at cannot change")
	}
	if !samePlayer2(updated, previous) {
		if !joining {
			return reject(apperrors.CodeInvalidState, "player_2 can only change when joining")
		}
		if previous.HasPlayer2() || !updated.HasPlayer2() {
			return reject(apperrors.CodeInvalidState, "player_2 can only change from empty to set when joining")
		}
	}

	if !updated.SamePositions(previous) {
		switch {
		case updated.Status == model.StatusFinished && previous.Status == model.StatusFinished:
			return reject(apperrors.CodeInvalidState, "cannot update paddle or ball positions on a Finished game")
		case updated.Status != model.StatusFinished:
			return reject(apperrors.CodeInvalidState, "paddle and ball positions travel over the relay, not in game updates")
		}
	}

	switch {
	case joining:
		if !updated.HasPlayer2() {
			return reject(apperrors.CodeInvalidState, "cannot start a game without player 2")
		}
	case previous.Status == model.StatusInProgress && updated.Status == model.StatusFinished:
	case previous.Status == model.StatusFinished && updated.Status == model.StatusFinished:
	default:
		return reject(apperrors.CodeInvalidState,
			fmt.Sprintf("invalid game status transition from %s to %s", previous.Status, updated.Status))
	}
	return nil
}

// ValidateDeleteGame allows participants to delete games that never started.
func ValidateDeleteGame(author ledger.Hash, target *model.Game) error {
	if !target.IsParticipant(author) {
		return reject(apperrors.CodeUnauthorized, "only game participants can delete the game")
	}
	if target.Status != model.StatusWaiting {
		return reject(apperrors.CodeInvalidState, "only Waiting games can be deleted")
	}
	return nil
}

func samePlayer2(a, b *model.Game) bool {
	if a.Player2 == nil || b.Player2 == nil {
		return a.Player2 == nil && b.Player2 == nil
	}
	return *a.Player2 == *b.Player2
}
