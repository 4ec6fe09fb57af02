package validation

import (
	"fmt"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// linkShape is the expected kind of base and target for a link type.
type linkShape struct {
	base         string
	target       string
	authorIsBase bool
}

var linkShapes = map[ledger.LinkType]linkShape{
	model.LinkGameIdToGame:       {base: ledger.KindAnchor, target: ledger.KindRecord},
	model.LinkPlayer1ToGames:     {base: ledger.KindAgent, target: ledger.KindRecord},
	model.LinkPlayer2ToGames:     {base: ledger.KindAgent, target: ledger.KindRecord},
	model.LinkGameUpdates:        {base: ledger.KindRecord, target: ledger.KindRecord},
	model.LinkGameToScores:       {base: ledger.KindRecord, target: ledger.KindRecord},
	model.LinkGameToStatistics:   {base: ledger.KindRecord, target: ledger.KindRecord},
	model.LinkPlayerToPlayers:    {base: ledger.KindAgent, target: ledger.KindRecord, authorIsBase: true},
	model.LinkPlayerNameToPlayer: {base: ledger.KindAnchor, target: ledger.KindRecord},
	model.LinkPlayerUpdates:      {base: ledger.KindRecord, target: ledger.KindRecord},
	model.LinkPlayerToScores:     {base: ledger.KindAgent, target: ledger.KindRecord},
	model.LinkPresence:           {base: ledger.KindAnchor, target: ledger.KindRecord},
	model.LinkAllPlayersToAgent:  {base: ledger.KindAnchor, target: ledger.KindAgent},
}

// ValidateLink checks base and target kinds for the link type and, for
// profile links, that the agent links its own profile.
//
// Player1ToGames links carry no author rule: a named player 2 may create a
// game and index it under player 1.
func (e *Engine) ValidateLink(l *ledger.Link) error {
	if err := l.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedData, "malformed link", err)
	}

	shape, ok := linkShapes[l.Type]
	if !ok {
		return reject(apperrors.CodeMalformedData, fmt.Sprintf("unknown link type %q", l.Type))
	}
	if l.Base.Kind() != shape.base {
		return reject(apperrors.CodeMalformedData, fmt.Sprintf("%s base must be a %s hash", l.Type, kindName(shape.base)))
	}
	if l.Target.Kind() != shape.target {
		return reject(apperrors.CodeMalformedData, fmt.Sprintf("%s target must be a %s hash", l.Type, kindName(shape.target)))
	}
	if shape.authorIsBase && l.Author != l.Base {
		return reject(apperrors.CodeUnauthorized, fmt.Sprintf("author of a %s link must be its base agent", l.Type))
	}
	return nil
}

// ValidateLinkDelete allows only the link author to remove a link.
func (e *Engine) ValidateLinkDelete(l *ledger.Link, author ledger.Hash) error {
	if l.Author != author {
		return reject(apperrors.CodeUnauthorized, "only the link author can delete a link")
	}
	return nil
}

func kindName(kind string) string {
	switch kind {
	case ledger.KindAgent:
		return "agent"
	case ledger.KindAnchor:
		return "anchor"
	case ledger.KindRecord:
		return "record"
	default:
		return kind
	}
}
