package coordinator

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/directory"
	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/internal/validation"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// CreatePlayer registers the caller's profile. The profile must belong to
// the caller, the caller must not already have one, and the name must be
// free in the registry.
func (s *Service) CreatePlayer(ctx context.Context, player model.Player) (*Entry[model.Player], error) {
	me := s.store.Agent()
	if player.PlayerKey == "" {
		player.PlayerKey = me
	}
	if player.PlayerKey != me {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "player profile can only be created by the player themselves")
	}
	player.PlayerName = strings.TrimSpace(player.PlayerName)
	if err := validation.ValidatePlayerName(player.PlayerName); err != nil {
		return nil, err
	}

	existing, err := s.dir.ProfileLinksForAgent(ctx, me)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, apperrors.New(apperrors.CodeConflict, "player profile already exists for this agent")
	}
	taken, err := s.dir.NameTaken(ctx, player.PlayerName)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperrors.New(apperrors.CodeConflict, fmt.Sprintf("player name '%s' is already taken", player.PlayerName))
	}

	rec, err := s.players.Create(ctx, player)
	if err != nil {
		return nil, err
	}
	if err := s.dir.RegisterPlayer(ctx, me, rec.Hash, player.PlayerName); err != nil {
		return nil, fmt.Errorf("player %s stored but indexing failed: %w", rec.Hash.Short(), err)
	}

	s.logEvent("player_created", map[string]interface{}{
		"player_hash": rec.Hash.Short(),
		"player_name": player.PlayerName,
	})
	return playerEntry(rec.Hash, rec)
}

// UpdatePlayer supersedes previous with player. An empty previous means the
// current tip. A rename moves the registry entry to the new name.
func (s *Service) UpdatePlayer(ctx context.Context, original, previous ledger.Hash, player model.Player) (*Entry[model.Player], error) {
	me := s.store.Agent()
	orig, err := entity.Original[model.Player](ctx, s.players, original)
	if err != nil {
		return nil, err
	}
	if orig.Value.PlayerKey != me {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "cannot update another player's profile")
	}
	if player.PlayerKey == "" {
		player.PlayerKey = me
	}
	player.PlayerName = strings.TrimSpace(player.PlayerName)
	if err := validation.ValidatePlayerName(player.PlayerName); err != nil {
		return nil, err
	}

	latest, err := entity.Latest[model.Player](ctx, s.players, original)
	if err != nil {
		return nil, err
	}
	if previous == "" {
		previous = latest.Hash
	}

	oldName := latest.Value.PlayerName
	renamed := directory.NormalizeName(oldName) != directory.NormalizeName(player.PlayerName)
	if renamed {
		owner, err := s.dir.NameOwner(ctx, player.PlayerName)
		if err != nil {
			return nil, err
		}
		if owner != "" && owner != original {
			return nil, apperrors.New(apperrors.CodeConflict, fmt.Sprintf("new player name '%s' is already taken", player.PlayerName))
		}
	}

	rec, err := s.players.Update(ctx, original, previous, player)
	if err != nil {
		return nil, err
	}

	if renamed {
		if err := s.dir.ReleaseName(ctx, oldName, original); err != nil {
			return nil, fmt.Errorf("player %s updated but releasing old name failed: %w", rec.Hash.Short(), err)
		}
		if err := s.dir.RegisterName(ctx, player.PlayerName, original); err != nil {
			return nil, fmt.Errorf("player %s updated but registering new name failed: %w", rec.Hash.Short(), err)
		}
		s.logEvent("player_renamed", map[string]interface{}{
			"player_hash": original.Short(),
			"old_name":    oldName,
			"new_name":    player.PlayerName,
		})
	}
	return playerEntry(original, rec)
}

// DeletePlayer deletes the caller's profile and drops the caller's registry
// links to it. It returns the delete record hash.
func (s *Service) DeletePlayer(ctx context.Context, original ledger.Hash) (ledger.Hash, error) {
	me := s.store.Agent()
	orig, err := entity.Original[model.Player](ctx, s.players, original)
	if err != nil {
		return "", err
	}
	if orig.Value.PlayerKey != me {
		return "", apperrors.New(apperrors.CodeUnauthorized, "cannot delete another player's profile")
	}

	names := []string{orig.Value.PlayerName}
	if latest, err := entity.Latest[model.Player](ctx, s.players, original); err == nil {
		names = append(names, latest.Value.PlayerName)
	}

	var links []ledger.Hash
	profileLinks, err := s.dir.ProfileLinksForAgent(ctx, me)
	if err != nil {
		return "", err
	}
	links = append(links, ownLinksTo(profileLinks, me, original)...)
	for _, name := range names {
		nameLinks, err := s.store.GetLinks(ctx, directory.NameAnchor(name), model.LinkPlayerNameToPlayer)
		if err != nil {
			return "", fmt.Errorf("failed to read name links: %w", err)
		}
		links = append(links, ownLinksTo(nameLinks, me, original)...)
	}
	agentLinks, err := s.store.GetLinks(ctx, directory.AllPlayersAnchor(), model.LinkAllPlayersToAgent)
	if err != nil {
		return "", fmt.Errorf("failed to read all_players links: %w", err)
	}
	links = append(links, ownLinksTo(agentLinks, me, me)...)

	rec, err := s.players.Delete(ctx, original, dedupeHashes(links)...)
	if err != nil {
		return "", err
	}
	s.logEvent("player_deleted", map[string]interface{}{
		"player_hash":   original.Short(),
		"links_removed": len(links),
	})
	return rec.Hash, nil
}

// GetLatestPlayer resolves the current state of a profile.
func (s *Service) GetLatestPlayer(ctx context.Context, original ledger.Hash) (*Entry[model.Player], error) {
	rev, err := entity.Latest[model.Player](ctx, s.players, original)
	if err != nil {
		return nil, err
	}
	return &Entry[model.Player]{ID: original, Latest: rev}, nil
}

// GetOriginalPlayer returns the profile as first created.
func (s *Service) GetOriginalPlayer(ctx context.Context, original ledger.Hash) (*entity.Revision[model.Player], error) {
	return entity.Original[model.Player](ctx, s.players, original)
}

// GetAllRevisionsForPlayer returns the original profile followed by every
// update.
func (s *Service) GetAllRevisionsForPlayer(ctx context.Context, original ledger.Hash) ([]*entity.Revision[model.Player], error) {
	return entity.History[model.Player](ctx, s.players, original)
}

// GetPlayerByName looks a profile up in the case-insensitive name registry.
func (s *Service) GetPlayerByName(ctx context.Context, name string) (*Entry[model.Player], error) {
	owner, err := s.dir.NameOwner(ctx, name)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("no player named '%s'", name))
	}
	return s.GetLatestPlayer(ctx, owner)
}

// GetPlayerProfileForAgent returns the agent's profile index links.
func (s *Service) GetPlayerProfileForAgent(ctx context.Context, agent ledger.Hash) ([]*ledger.Link, error) {
	return s.dir.ProfileLinksForAgent(ctx, agent)
}

// GetProfile resolves the agent's live profile.
func (s *Service) GetProfile(ctx context.Context, agent ledger.Hash) (*Entry[model.Player], error) {
	original, err := s.dir.ProfileForAgent(ctx, agent)
	if err != nil {
		return nil, err
	}
	if original == "" {
		return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("agent %s has no player profile", agent.Short()))
	}
	return s.GetLatestPlayer(ctx, original)
}

// GetAllPlayers returns every agent that has registered a profile.
func (s *Service) GetAllPlayers(ctx context.Context) ([]ledger.Hash, error) {
	return s.dir.AllPlayers(ctx)
}

// GetAllDeletesForPlayer returns every delete record targeting the profile.
func (s *Service) GetAllDeletesForPlayer(ctx context.Context, original ledger.Hash) ([]*ledger.Record, error) {
	return s.players.Deletes(ctx, original)
}

// GetOldestDeleteForPlayer returns the first delete record targeting the
// profile.
func (s *Service) GetOldestDeleteForPlayer(ctx context.Context, original ledger.Hash) (*ledger.Record, error) {
	return s.players.OldestDelete(ctx, original)
}

func (s *Service) hasProfile(ctx context.Context, agent ledger.Hash) (bool, error) {
	original, err := s.dir.ProfileForAgent(ctx, agent)
	if err != nil {
		return false, err
	}
	return original != "", nil
}

func playerEntry(original ledger.Hash, rec *ledger.Record) (*Entry[model.Player], error) {
	rev, err := entity.Decode[model.Player](rec)
	if err != nil {
		return nil, err
	}
	return &Entry[model.Player]{ID: original, Latest: rev}, nil
}

// ownLinksTo returns the create hashes of links authored by author that
// point at target.
func ownLinksTo(links []*ledger.Link, author, target ledger.Hash) []ledger.Hash {
	var out []ledger.Hash
	for _, l := range links {
		if l.Author == author && l.Target == target {
			out = append(out, l.CreateHash)
		}
	}
	return out
}

func dedupeHashes(hashes []ledger.Hash) []ledger.Hash {
	seen := make(map[ledger.Hash]bool, len(hashes))
	out := make([]ledger.Hash, 0, len(hashes))
	for _, h := range hashes {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
