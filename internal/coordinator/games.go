package coordinator

import (
	"context"
	"fmt"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/directory"
	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/internal/relay"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// PlayerStatus is an agent's availability in the lobby.
type PlayerStatus string

const (
	// StatusAvailable means the agent is not in an InProgress game
	StatusAvailable PlayerStatus = "Available"

	// StatusInGame means the agent is playing an InProgress game
	StatusInGame PlayerStatus = "InGame"
)

// CreateGame opens a game for player1, optionally naming player2 for a
// direct invitation. The caller must be one of the two players, both must
// have profiles, and neither may already be in an InProgress game.
func (s *Service) CreateGame(ctx context.Context, player1 ledger.Hash, player2 *ledger.Hash) (*Entry[model.Game], error) {
	me := s.store.Agent()
	if player1 == "" {
		player1 = me
	}
	if player1 != me && (player2 == nil || *player2 != me) {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "game creator must be player 1 or the named player 2")
	}

	if err := s.checkCanPlay(ctx, player1, "player 1", ""); err != nil {
		return nil, err
	}
	if player2 != nil {
		if *player2 == player1 {
			return nil, apperrors.New(apperrors.CodeConflict, "player 1 and player 2 cannot be the same agent")
		}
		if err := s.checkCanPlay(ctx, *player2, "player 2", ""); err != nil {
			return nil, err
		}
	}

	game := model.NewGame(player1, player2, s.store.Now())
	rec, err := s.games.Create(ctx, game)
	if err != nil {
		return nil, err
	}
	if err := s.dir.IndexGame(ctx, rec.Hash, player1, player2); err != nil {
		return nil, fmt.Errorf("game %s stored but indexing failed: %w", rec.Hash.Short(), err)
	}

	s.logEvent("game_created", map[string]interface{}{
		"game_id":  rec.Hash.Short(),
		"player_1": player1.Short(),
		"invited":  player2 != nil,
	})
	return gameEntry(rec.Hash, rec)
}

// JoinGame takes the player 2 slot of a Waiting game, moves it to
// InProgress and notifies player 1.
//
// The status check runs against this peer's view of the latest revision.
// Two agents joining at once can both succeed; GetJoinConflicts reports it.
func (s *Service) JoinGame(ctx context.Context, original ledger.Hash) (*Entry[model.Game], error) {
	me := s.store.Agent()
	latest, err := entity.Latest[model.Game](ctx, s.games, original)
	if err != nil {
		return nil, err
	}
	current := latest.Value

	if current.Status != model.StatusWaiting {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidState,
			fmt.Sprintf("cannot join game: status is %s, not Waiting", current.Status),
			map[string]string{"status": string(current.Status)})
	}
	if current.HasPlayer2() && !current.IsPlayer2(me) {
		return nil, apperrors.New(apperrors.CodeInvalidState, "cannot join game: player 2 slot is already taken")
	}
	if current.Player1 == me {
		return nil, apperrors.New(apperrors.CodeInvalidState, "cannot join game: player 1 cannot join their own game")
	}
	if err := s.checkCanPlay(ctx, me, "joining player", original); err != nil {
		return nil, err
	}

	updated := current
	updated.Player2 = &me
	updated.Status = model.StatusInProgress

	rec, err := s.games.Update(ctx, original, latest.Hash, updated)
	if err != nil {
		return nil, err
	}
	if err := s.dir.IndexPlayer2(ctx, me, original); err != nil {
		return nil, fmt.Errorf("game %s joined but indexing failed: %w", original.Short(), err)
	}

	s.logEvent("game_joined", map[string]interface{}{
		"game_id":  original.Short(),
		"player_1": current.Player1.Short(),
		"player_2": me.Short(),
	})

	if err := s.relay.Direct(current.Player1, relay.GameStarted(original, current.Player1, me)); err != nil {
		s.logEvent("join_notify_failed", map[string]interface{}{"game_id": original.Short(), "error": err.Error()})
	}
	s.reportJoinConflicts(ctx, original)

	return gameEntry(original, rec)
}

// UpdateGame supersedes previous with game. An empty previous means the
// current tip. The validator enforces the lifecycle rules.
func (s *Service) UpdateGame(ctx context.Context, original, previous ledger.Hash, game model.Game) (*Entry[model.Game], error) {
	if previous == "" {
		latest, err := s.games.ResolveLatest(ctx, original)
		if err != nil {
			return nil, err
		}
		previous = latest.Hash
	}
	rec, err := s.games.Update(ctx, original, previous, game)
	if err != nil {
		return nil, err
	}
	s.logEvent("game_updated", map[string]interface{}{
		"game_id": original.Short(),
		"status":  string(game.Status),
	})
	return gameEntry(original, rec)
}

// FinishGame moves the latest revision of a game to Finished.
func (s *Service) FinishGame(ctx context.Context, original ledger.Hash) (*Entry[model.Game], error) {
	latest, err := entity.Latest[model.Game](ctx, s.games, original)
	if err != nil {
		return nil, err
	}
	finished := latest.Value
	finished.Status = model.StatusFinished
	return s.UpdateGame(ctx, original, latest.Hash, finished)
}

// DeleteGame deletes a game that is still Waiting and removes the caller's
// index links to it. It returns the delete record hash.
func (s *Service) DeleteGame(ctx context.Context, original ledger.Hash) (ledger.Hash, error) {
	me := s.store.Agent()
	latest, err := entity.Latest[model.Game](ctx, s.games, original)
	if err != nil {
		return "", err
	}
	game := latest.Value
	if !game.IsParticipant(me) {
		return "", apperrors.New(apperrors.CodeUnauthorized, "only game participants can delete the game")
	}
	if game.Status != model.StatusWaiting {
		return "", apperrors.New(apperrors.CodeInvalidState, "only games in Waiting status can be deleted")
	}

	type index struct {
		base     ledger.Hash
		linkType ledger.LinkType
	}
	indexes := []index{
		{directory.GamesAnchor(), model.LinkGameIdToGame},
		{game.Player1, model.LinkPlayer1ToGames},
	}
	if game.Player2 != nil {
		indexes = append(indexes, index{*game.Player2, model.LinkPlayer2ToGames})
	}

	var links []ledger.Hash
	for _, idx := range indexes {
		found, err := s.store.GetLinks(ctx, idx.base, idx.linkType)
		if err != nil {
			return "", fmt.Errorf("failed to read %s links: %w", idx.linkType, err)
		}
		links = append(links, ownLinksTo(found, me, original)...)
	}

	rec, err := s.games.Delete(ctx, original, links...)
	if err != nil {
		return "", err
	}
	s.logEvent("game_deleted", map[string]interface{}{
		"game_id":       original.Short(),
		"links_removed": len(links),
	})
	return rec.Hash, nil
}

// GetLatestGame resolves the current state of a game.
func (s *Service) GetLatestGame(ctx context.Context, original ledger.Hash) (*Entry[model.Game], error) {
	rev, err := entity.Latest[model.Game](ctx, s.games, original)
	if err != nil {
		return nil, err
	}
	return &Entry[model.Game]{ID: original, Latest: rev}, nil
}

// GetOriginalGame returns the game as first created.
func (s *Service) GetOriginalGame(ctx context.Context, original ledger.Hash) (*entity.Revision[model.Game], error) {
	return entity.Original[model.Game](ctx, s.games, original)
}

// GetAllRevisionsForGame returns the original game followed by every update.
func (s *Service) GetAllRevisionsForGame(ctx context.Context, original ledger.Hash) ([]*entity.Revision[model.Game], error) {
	return entity.History[model.Game](ctx, s.games, original)
}

// GetAllGames resolves every listed game. Games that were deleted or cannot
// be fetched are skipped.
func (s *Service) GetAllGames(ctx context.Context) ([]*Entry[model.Game], error) {
	ids, err := s.dir.AllGames(ctx)
	if err != nil {
		return nil, err
	}
	return s.resolveGames(ctx, ids)
}

// GetGamesForPlayer1 returns the original hashes of games agent is player 1 of.
func (s *Service) GetGamesForPlayer1(ctx context.Context, agent ledger.Hash) ([]ledger.Hash, error) {
	return s.dir.GamesForPlayer(ctx, agent, directory.RolePlayer1)
}

// GetGamesForPlayer2 returns the original hashes of games agent joined or
// was invited to.
func (s *Service) GetGamesForPlayer2(ctx context.Context, agent ledger.Hash) ([]ledger.Hash, error) {
	return s.dir.GamesForPlayer(ctx, agent, directory.RolePlayer2)
}

// GetGamesForAgent resolves every game agent takes part in.
func (s *Service) GetGamesForAgent(ctx context.Context, agent ledger.Hash) ([]*Entry[model.Game], error) {
	ids, err := s.dir.GamesForAgent(ctx, agent)
	if err != nil {
		return nil, err
	}
	return s.resolveGames(ctx, ids)
}

// GetPlayerStatus reports whether agent is in an InProgress game.
func (s *Service) GetPlayerStatus(ctx context.Context, agent ledger.Hash) (PlayerStatus, error) {
	playing, err := s.inOngoingGame(ctx, agent, "")
	if err != nil {
		return "", err
	}
	if playing {
		return StatusInGame, nil
	}
	return StatusAvailable, nil
}

// GetAllDeletesForGame returns every delete record targeting the game.
func (s *Service) GetAllDeletesForGame(ctx context.Context, original ledger.Hash) ([]*ledger.Record, error) {
	return s.games.Deletes(ctx, original)
}

// GetOldestDeleteForGame returns the first delete record targeting the game.
func (s *Service) GetOldestDeleteForGame(ctx context.Context, original ledger.Hash) (*ledger.Record, error) {
	return s.games.OldestDelete(ctx, original)
}

// GetJoinConflicts returns every distinct player 2 recorded by a revision
// that left Waiting. More than one means concurrent joins both landed;
// which one a peer treats as current depends on latest resolution.
func (s *Service) GetJoinConflicts(ctx context.Context, original ledger.Hash) ([]ledger.Hash, error) {
	revs, err := entity.History[model.Game](ctx, s.games, original)
	if err != nil {
		return nil, err
	}
	var joiners []ledger.Hash
	seen := make(map[ledger.Hash]bool)
	for _, rev := range revs {
		g := rev.Value
		if g.Status == model.StatusWaiting || g.Player2 == nil || seen[*g.Player2] {
			continue
		}
		seen[*g.Player2] = true
		joiners = append(joiners, *g.Player2)
	}
	return joiners, nil
}

func (s *Service) reportJoinConflicts(ctx context.Context, original ledger.Hash) {
	joiners, err := s.GetJoinConflicts(ctx, original)
	if err != nil || len(joiners) < 2 {
		return
	}
	shorts := make([]string, len(joiners))
	for i, j := range joiners {
		shorts[i] = j.Short()
	}
	s.logEvent("join_conflict_detected", map[string]interface{}{
		"game_id": original.Short(),
		"joiners": shorts,
	})
}

// checkCanPlay requires agent to have a profile and not be in an InProgress
// game other than except.
func (s *Service) checkCanPlay(ctx context.Context, agent ledger.Hash, role string, except ledger.Hash) error {
	exists, err := s.hasProfile(ctx, agent)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("%s is not a registered player", role))
	}
	playing, err := s.inOngoingGame(ctx, agent, except)
	if err != nil {
		return err
	}
	if playing {
		return apperrors.New(apperrors.CodeConflict, fmt.Sprintf("%s is already in an ongoing game", role))
	}
	return nil
}

// inOngoingGame reports whether any game indexed under agent, other than
// except, is InProgress at its latest revision.
func (s *Service) inOngoingGame(ctx context.Context, agent ledger.Hash, except ledger.Hash) (bool, error) {
	ids, err := s.dir.GamesForAgent(ctx, agent)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == except {
			continue
		}
		rev, err := entity.Latest[model.Game](ctx, s.games, id)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeNotFound || apperrors.CodeOf(err) == apperrors.CodeMalformedData {
				continue
			}
			return false, err
		}
		if rev.Value.Status == model.StatusInProgress && rev.Value.IsParticipant(agent) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) resolveGames(ctx context.Context, ids []ledger.Hash) ([]*Entry[model.Game], error) {
	entries := make([]*Entry[model.Game], 0, len(ids))
	for _, id := range ids {
		rev, err := entity.Latest[model.Game](ctx, s.games, id)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeNotFound || apperrors.CodeOf(err) == apperrors.CodeMalformedData {
				continue
			}
			return nil, err
		}
		entries = append(entries, &Entry[model.Game]{ID: id, Latest: rev})
	}
	return entries, nil
}

func gameEntry(original ledger.Hash, rec *ledger.Record) (*Entry[model.Game], error) {
	rev, err := entity.Decode[model.Game](rec)
	if err != nil {
		return nil, err
	}
	return &Entry[model.Game]{ID: original, Latest: rev}, nil
}
