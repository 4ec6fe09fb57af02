package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = ledger.FromTime(time.Unix(1700000000, 0))

func identity(t *testing.T, b byte) *ledger.Identity {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = b
	}
	id, err := ledger.NewIdentity(seed)
	require.NoError(t, err)
	return id
}

func seal(t *testing.T, id *ledger.Identity, action ledger.Action, entryType ledger.EntryType, payload any, prev *ledger.Record, at ledger.Timestamp) *ledger.Record {
	t.Helper()
	r := &ledger.Record{
		Action:    action,
		EntryType: entryType,
		Author:    id.Agent(),
		Timestamp: at,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		r.Payload = data
	}
	if prev != nil {
		r.Prev = prev.Hash
	}
	require.NoError(t, r.Seal(id))
	return r
}

// recordingEngine returns an engine that collects warnings.
func recordingEngine() (*Engine, *[]string) {
	var warnings []string
	e := NewEngine().WithWarnFunc(func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	})
	return e, &warnings
}

func assertCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.CodeOf(err), err.Error())
}

func TestValidateRecordIntegrity(t *testing.T) {
	e := NewEngine()
	p1 := identity(t, 1)
	game := model.NewGame(p1.Agent(), nil, baseTime)

	rec := seal(t, p1, ledger.ActionCreate, model.EntryGame, game, nil, baseTime)
	require.NoError(t, e.ValidateRecord(rec, nil))

	t.Run("tampered payload", func(t *testing.T) {
		bad := *rec
		bad.Payload = json.RawMessage(strings.Replace(string(rec.Payload), "Waiting", "Finished", 1))
		assertCode(t, e.ValidateRecord(&bad, nil), apperrors.CodeMalformedData)
	})

	t.Run("unknown entry type", func(t *testing.T) {
		odd := seal(t, p1, ledger.ActionCreate, "chess", game, nil, baseTime)
		assertCode(t, e.ValidateRecord(odd, nil), apperrors.CodeMalformedData)
	})

	t.Run("prev mismatch", func(t *testing.T) {
		other := seal(t, p1, ledger.ActionCreate, model.EntryGame, model.NewGame(p1.Agent(), nil, baseTime+1), nil, baseTime+1)
		upd := seal(t, p1, ledger.ActionUpdate, model.EntryGame, game, rec, baseTime+2)
		assertCode(t, e.ValidateRecord(upd, other), apperrors.CodeMalformedData)
	})

	t.Run("undecodable payload", func(t *testing.T) {
		junk := seal(t, p1, ledger.ActionCreate, model.EntryGame, []int{1, 2}, nil, baseTime)
		assertCode(t, e.ValidateRecord(junk, nil), apperrors.CodeMalformedData)
	})
}

func TestValidateCreateGame(t *testing.T) {
	e := NewEngine()
	p1 := identity(t, 1).Agent()
	p2 := identity(t, 2).Agent()
	stranger := identity(t, 3).Agent()

	tests := []struct {
		name   string
		author ledger.Hash
		game   func() model.Game
		code   apperrors.Code
	}{
		{"player 1 creates open game", p1, func() model.Game { return model.NewGame(p1, nil, baseTime) }, ""},
		{"named player 2 creates game", p2, func() model.Game { return model.NewGame(p1, &p2, baseTime) }, ""},
		{"stranger cannot create", stranger, func() model.Game { return model.NewGame(p1, &p2, baseTime) }, apperrors.CodeUnauthorized},
		{"must start waiting", p1, func() model.Game {
			g := model.NewGame(p1, &p2, baseTime)
			g.Status = model.StatusInProgress
			return g
		}, apperrors.CodeInvalidState},
		{"players must differ", p1, func() model.Game { return model.NewGame(p1, &p1, baseTime) }, apperrors.CodeConflict},
		{"created_at within skew", p1, func() model.Game { return model.NewGame(p1, nil, baseTime.Add(4*time.Minute)) }, ""},
		{"created_at too far ahead", p1, func() model.Game { return model.NewGame(p1, nil, baseTime.Add(6*time.Minute)) }, apperrors.CodeMalformedData},
		{"created_at too far behind", p1, func() model.Game { return model.NewGame(p1, nil, baseTime.Add(-6*time.Minute)) }, apperrors.CodeMalformedData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.game()
			err := e.ValidateCreateGame(tt.author, baseTime, &g)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assertCode(t, err, tt.code)
		})
	}
}

func TestValidateUpdateGame(t *testing.T) {
	p1 := identity(t, 1).Agent()
	p2 := identity(t, 2).Agent()
	p3 := identity(t, 3).Agent()

	waiting := model.NewGame(p1, nil, baseTime)
	with := func(g model.Game, mutate func(*model.Game)) *model.Game {
		mutate(&g)
		return &g
	}
	inProgress := *with(waiting, func(g *model.Game) { g.Player2 = &p2; g.Status = model.StatusInProgress })
	finished := *with(inProgress, func(g *model.Game) { g.Status = model.StatusFinished })

	tests := []struct {
		name     string
		author   ledger.Hash
		previous model.Game
		updated  *model.Game
		code     apperrors.Code
	}{
		{"new player 2 joins", p2, waiting, &inProgress, ""},
		{"joining without player 2", p1, waiting, with(waiting, func(g *model.Game) { g.Status = model.StatusInProgress }), apperrors.CodeInvalidState},
		{"stranger cannot update", p3, inProgress, &finished, apperrors.CodeUnauthorized},
		{"outsider cannot claim slot outside join", p3, inProgress, with(inProgress, func(g *model.Game) { g.Player2 = &p3 }), apperrors.CodeUnauthorized},
		{"player 1 finishes", p1, inProgress, &finished, ""},
		{"player 2 finishes", p2, inProgress, &finished, ""},
		{"finished to finished", p1, finished, &finished, ""},
		{"waiting to waiting", p1, waiting, &waiting, apperrors.CodeInvalidState},
		{"in progress to in progress", p1, inProgress, &inProgress, apperrors.CodeInvalidState},
		{"in progress back to waiting", p1, inProgress, with(inProgress, func(g *model.Game) { g.Status = model.StatusWaiting }), apperrors.CodeInvalidState},
		{"waiting straight to finished", p1, waiting, with(waiting, func(g *model.Game) { g.Status = model.StatusFinished }), apperrors.CodeInvalidState},
		{"player 1 immutable", p2, inProgress, with(finished, func(g *model.Game) { g.Player1 = p3 }), apperrors.CodeInvalidState},
		{"created_at immutable", p1, inProgress, with(finished, func(g *model.Game) { g.CreatedAt++ }), apperrors.CodeInvalidState},
		{"player 2 replaced after join", p1, inProgress, with(finished, func(g *model.Game) { g.Player2 = &p3 }), apperrors.CodeInvalidState},
		{"positions frozen while playing", p1, waiting, with(inProgress, func(g *model.Game) { g.BallX = 1 }), apperrors.CodeInvalidState},
		{"positions recorded on finish", p1, inProgress, with(finished, func(g *model.Game) { g.BallX = 1; g.Player1Paddle = 10 }), ""},
		{"positions frozen once finished", p1, finished, with(finished, func(g *model.Game) { g.BallY = 1 }), apperrors.CodeInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := tt.previous
			err := ValidateUpdateGame(tt.author, tt.updated, &prev)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assertCode(t, err, tt.code)
		})
	}

	t.Run("pre-named player 2 joins", func(t *testing.T) {
		invited := model.NewGame(p1, &p2, baseTime)
		started := invited
		started.Status = model.StatusInProgress
		assert.NoError(t, ValidateUpdateGame(p2, &started, &invited))
	})
}

func TestValidateDeleteGame(t *testing.T) {
	e := NewEngine()
	p1 := identity(t, 1)
	p2 := identity(t, 2)
	stranger := identity(t, 3)

	game := model.NewGame(p1.Agent(), nil, baseTime)
	orig := seal(t, p1, ledger.ActionCreate, model.EntryGame, game, nil, baseTime)

	assert.NoError(t, e.ValidateRecord(seal(t, p1, ledger.ActionDelete, model.EntryGame, nil, orig, baseTime+1), orig))
	assertCode(t, e.ValidateRecord(seal(t, stranger, ledger.ActionDelete, model.EntryGame, nil, orig, baseTime+1), orig), apperrors.CodeUnauthorized)

	p2Agent := p2.Agent()
	started := game
	started.Player2 = &p2Agent
	started.Status = model.StatusInProgress
	assertCode(t, ValidateDeleteGame(p2.Agent(), &started), apperrors.CodeInvalidState)
}

func TestValidatePlayer(t *testing.T) {
	e, warnings := recordingEngine()
	ada := identity(t, 1)
	bob := identity(t, 2)

	t.Run("create", func(t *testing.T) {
		assert.NoError(t, ValidateCreatePlayer(ada.Agent(), &model.Player{PlayerKey: ada.Agent(), PlayerName: "ada"}))
		assertCode(t, ValidateCreatePlayer(bob.Agent(), &model.Player{PlayerKey: ada.Agent(), PlayerName: "ada"}), apperrors.CodeUnauthorized)
		assertCode(t, ValidateCreatePlayer(ada.Agent(), &model.Player{PlayerKey: ada.Agent(), PlayerName: "   "}), apperrors.CodeMalformedData)
		assertCode(t, ValidateCreatePlayer(ada.Agent(), &model.Player{PlayerKey: ada.Agent(), PlayerName: strings.Repeat("a", 51)}), apperrors.CodeMalformedData)
		assert.NoError(t, ValidateCreatePlayer(ada.Agent(), &model.Player{PlayerKey: ada.Agent(), PlayerName: strings.Repeat("é", 50)}))
	})

	t.Run("update", func(t *testing.T) {
		prev := &model.Player{PlayerKey: ada.Agent(), PlayerName: "ada"}
		assert.NoError(t, e.ValidateUpdatePlayer(ada.Agent(), &model.Player{PlayerKey: ada.Agent(), PlayerName: "lovelace"}, prev))
		assert.Len(t, *warnings, 1)
		assertCode(t, e.ValidateUpdatePlayer(bob.Agent(), &model.Player{PlayerKey: ada.Agent(), PlayerName: "x"}, prev), apperrors.CodeUnauthorized)
		assertCode(t, e.ValidateUpdatePlayer(ada.Agent(), &model.Player{PlayerKey: bob.Agent(), PlayerName: "ada"}, prev), apperrors.CodeInvalidState)
		assertCode(t, e.ValidateUpdatePlayer(ada.Agent(), &model.Player{PlayerKey: ada.Agent(), PlayerName: ""}, prev), apperrors.CodeMalformedData)
	})

	t.Run("delete", func(t *testing.T) {
		orig := seal(t, ada, ledger.ActionCreate, model.EntryPlayer, model.Player{PlayerKey: ada.Agent(), PlayerName: "ada"}, nil, baseTime)
		assert.NoError(t, e.ValidateRecord(seal(t, ada, ledger.ActionDelete, model.EntryPlayer, nil, orig, baseTime+1), orig))
		assertCode(t, e.ValidateRecord(seal(t, bob, ledger.ActionDelete, model.EntryPlayer, nil, orig, baseTime+1), orig), apperrors.CodeUnauthorized)
	})
}

func TestValidateFacts(t *testing.T) {
	e, warnings := recordingEngine()
	ada := identity(t, 1)
	gameID := ledger.Hash("rec:" + strings.Repeat("0", 64))

	t.Run("score", func(t *testing.T) {
		score := model.Score{GameID: gameID, Player: ada.Agent(), PlayerPoints: 11, CreatedAt: baseTime}
		rec := seal(t, ada, ledger.ActionCreate, model.EntryScore, score, nil, baseTime)
		require.NoError(t, e.ValidateRecord(rec, nil))

		high := score
		high.PlayerPoints = 101
		require.NoError(t, e.ValidateCreateScore(baseTime, &high))
		assert.Contains(t, (*warnings)[len(*warnings)-1], "seems high")

		skewed := score
		skewed.CreatedAt = baseTime.Add(-10 * time.Minute)
		assertCode(t, e.ValidateCreateScore(baseTime, &skewed), apperrors.CodeMalformedData)

		upd := seal(t, ada, ledger.ActionUpdate, model.EntryScore, score, rec, baseTime+1)
		assertCode(t, e.ValidateRecord(upd, rec), apperrors.CodeInvalidState)
		del := seal(t, ada, ledger.ActionDelete, model.EntryScore, nil, rec, baseTime+1)
		assertCode(t, e.ValidateRecord(del, rec), apperrors.CodeInvalidState)
	})

	t.Run("statistics", func(t *testing.T) {
		before := len(*warnings)
		stats := model.Statistics{GameID: gameID, Timestamp: baseTime, SignalLatency: 30001, ScoreValidationTime: 60001, DHTResponseTime: 10, NetworkDelay: 30001}
		require.NoError(t, e.ValidateCreateStatistics(baseTime, &stats))
		assert.Equal(t, 3, len(*warnings)-before)

		stats.Timestamp = baseTime.Add(time.Hour)
		assertCode(t, e.ValidateCreateStatistics(baseTime, &stats), apperrors.CodeMalformedData)
	})

	t.Run("presence", func(t *testing.T) {
		bob := identity(t, 2)
		ok := model.Presence{Agent: ada.Agent(), Timestamp: baseTime.Millis()}
		assert.NoError(t, e.ValidateCreatePresence(ada.Agent(), baseTime, &ok))
		assertCode(t, e.ValidateCreatePresence(bob.Agent(), baseTime, &ok), apperrors.CodeUnauthorized)

		late := model.Presence{Agent: ada.Agent(), Timestamp: baseTime.Millis() + 300_001}
		assertCode(t, e.ValidateCreatePresence(ada.Agent(), baseTime, &late), apperrors.CodeMalformedData)
		edge := model.Presence{Agent: ada.Agent(), Timestamp: baseTime.Millis() + 300_000}
		assert.NoError(t, e.ValidateCreatePresence(ada.Agent(), baseTime, &edge))
	})
}

func TestValidateLinks(t *testing.T) {
	e := NewEngine()
	ada := identity(t, 1).Agent()
	bob := identity(t, 2).Agent()
	rec := ledger.Hash("rec:" + strings.Repeat("1", 64))

	mk := func(base, target ledger.Hash, lt ledger.LinkType, author ledger.Hash) *ledger.Link {
		l := &ledger.Link{Base: base, Target: target, Type: lt, Author: author, Timestamp: baseTime}
		require.NoError(t, l.Seal())
		return l
	}

	tests := []struct {
		name string
		link *ledger.Link
		code apperrors.Code
	}{
		{"game anchor", mk(ledger.AnchorHash(model.AnchorGames), rec, model.LinkGameIdToGame, ada), ""},
		{"game anchor needs anchor base", mk(rec, rec, model.LinkGameIdToGame, ada), apperrors.CodeMalformedData},
		{"player 1 link by player 2", mk(ada, rec, model.LinkPlayer1ToGames, bob), ""},
		{"player 2 link needs agent base", mk(rec, rec, model.LinkPlayer2ToGames, ada), apperrors.CodeMalformedData},
		{"profile link by owner", mk(ada, rec, model.LinkPlayerToPlayers, ada), ""},
		{"profile link by other", mk(ada, rec, model.LinkPlayerToPlayers, bob), apperrors.CodeUnauthorized},
		{"all players targets agent", mk(ledger.AnchorHash(model.AnchorAllPlayers), ada, model.LinkAllPlayersToAgent, ada), ""},
		{"all players rejects record target", mk(ledger.AnchorHash(model.AnchorAllPlayers), rec, model.LinkAllPlayersToAgent, ada), apperrors.CodeMalformedData},
		{"unknown link type", mk(ada, rec, "Friends", ada), apperrors.CodeMalformedData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ValidateLink(tt.link)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assertCode(t, err, tt.code)
		})
	}

	t.Run("link delete by author only", func(t *testing.T) {
		l := mk(ada, rec, model.LinkPlayer2ToGames, ada)
		assert.NoError(t, e.ValidateLinkDelete(l, ada))
		err := e.ValidateLinkDelete(l, bob)
		assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	})
}
