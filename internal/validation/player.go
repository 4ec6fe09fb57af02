package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

func (e *Engine) validatePlayer(r *ledger.Record, prev *ledger.Record) error {
	switch r.Action {
	case ledger.ActionCreate:
		player, err := decode[model.Player](r)
		if err != nil {
			return err
		}
		return ValidateCreatePlayer(r.Author, player)
	case ledger.ActionUpdate:
		player, err := decode[model.Player](r)
		if err != nil {
			return err
		}
		previous, err := decode[model.Player](prev)
		if err != nil {
			return err
		}
		return e.ValidateUpdatePlayer(r.Author, player, previous)
	default:
		target, err := decode[model.Player](prev)
		if err != nil {
			return err
		}
		if target.PlayerKey != r.Author {
			return reject(apperrors.CodeUnauthorized, "player profiles can only be deleted by the player themselves")
		}
		return nil
	}
}

// ValidatePlayerName checks the 1..50 character rule on the trimmed name.
func ValidatePlayerName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return reject(apperrors.CodeMalformedData, "player name cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > model.MaxPlayerNameLength {
		return reject(apperrors.CodeMalformedData,
			fmt.Sprintf("player name is too long (max %d chars)", model.MaxPlayerNameLength))
	}
	return nil
}

// ValidateCreatePlayer checks that a profile is created by its own agent.
func ValidateCreatePlayer(author ledger.Hash, player *model.Player) error {
	if player.PlayerKey != author {
		return reject(apperrors.CodeUnauthorized, "player profiles can only be created by the player themselves")
	}
	return ValidatePlayerName(player.PlayerName)
}

// ValidateUpdatePlayer checks a profile update. Name uniqueness is the
// writer's responsibility and is not checked here.
func (e *Engine) ValidateUpdatePlayer(author ledger.Hash, updated, previous *model.Player) error {
	if previous.PlayerKey != author {
		return reject(apperrors.CodeUnauthorized, "player profiles can only be updated by the player themselves")
	}
	if updated.PlayerKey != previous.PlayerKey {
		return reject(apperrors.CodeInvalidState, "cannot change the player_key of a profile")
	}
	if updated.PlayerName != previous.PlayerName {
		if err := ValidatePlayerName(updated.PlayerName); err != nil {
			return err
		}
		e.warn("player %s renamed from %q to %q", author.Short(), previous.PlayerName, updated.PlayerName)
	}
	return nil
}
