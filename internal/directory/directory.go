// Package directory keeps the shared indexes that let any peer discover
// games, players and online agents without a central registry.
//
// Indexes are links hung from well-known anchors and agent keys. Any peer may
// append to them and nothing locks them, so every read de-duplicates by
// target and skips entries that no longer resolve.
package directory

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// Role selects which participation index to read.
type Role int

const (
	// RolePlayer1 reads games the agent created or was indexed under as player 1
	RolePlayer1 Role = 1

	// RolePlayer2 reads games the agent joined or was invited to as player 2
	RolePlayer2 Role = 2
)

// Directory reads and writes the shared indexes through one agent's ledger.
type Directory struct {
	store ledger.Store
}

// New creates a directory over store.
func New(store ledger.Store) *Directory {
	return &Directory{store: store}
}

// GamesAnchor is the base of the global game listing.
func GamesAnchor() ledger.Hash { return ledger.AnchorHash(model.AnchorGames) }

// PresenceAnchor is the base of the presence listing.
func PresenceAnchor() ledger.Hash { return ledger.AnchorHash(model.AnchorPresence) }

// AllPlayersAnchor is the base of the registered agent listing.
func AllPlayersAnchor() ledger.Hash { return ledger.AnchorHash(model.AnchorAllPlayers) }

// NormalizeName folds a player name for the case-insensitive registry.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NameAnchor is the registry base for a player name.
func NameAnchor(name string) ledger.Hash {
	return ledger.AnchorHash("player_name:" + NormalizeName(name))
}

// IndexGame lists a new game globally and under its participants.
func (d *Directory) IndexGame(ctx context.Context, game ledger.Hash, player1 ledger.Hash, player2 *ledger.Hash) error {
	if _, err := d.store.CreateLink(ctx, GamesAnchor(), game, model.LinkGameIdToGame, ""); err != nil {
		return fmt.Errorf("failed to link game to games anchor: %w", err)
	}
	if _, err := d.store.CreateLink(ctx, player1, game, model.LinkPlayer1ToGames, ""); err != nil {
		return fmt.Errorf("failed to link game to player 1: %w", err)
	}
	if player2 != nil {
		if err := d.IndexPlayer2(ctx, *player2, game); err != nil {
			return err
		}
	}
	return nil
}

// IndexPlayer2 lists game under agent's player 2 index.
func (d *Directory) IndexPlayer2(ctx context.Context, agent, game ledger.Hash) error {
	if _, err := d.store.CreateLink(ctx, agent, game, model.LinkPlayer2ToGames, ""); err != nil {
		return fmt.Errorf("failed to link game to player 2: %w", err)
	}
	return nil
}

// AllGames returns the original hashes of every listed game.
func (d *Directory) AllGames(ctx context.Context) ([]ledger.Hash, error) {
	return d.targets(ctx, GamesAnchor(), model.LinkGameIdToGame)
}

// HasGame reports whether game is listed on the games anchor.
func (d *Directory) HasGame(ctx context.Context, game ledger.Hash) (bool, error) {
	games, err := d.AllGames(ctx)
	if err != nil {
		return false, err
	}
	for _, g := range games {
		if g == game {
			return true, nil
		}
	}
	return false, nil
}

// GamesForPlayer returns the original hashes of games indexed under agent
// for the given role.
func (d *Directory) GamesForPlayer(ctx context.Context, agent ledger.Hash, role Role) ([]ledger.Hash, error) {
	switch role {
	case RolePlayer1:
		return d.targets(ctx, agent, model.LinkPlayer1ToGames)
	case RolePlayer2:
		return d.targets(ctx, agent, model.LinkPlayer2ToGames)
	default:
		return nil, apperrors.New(apperrors.CodeMalformedData, fmt.Sprintf("invalid player role %d", role))
	}
}

// GamesForAgent returns every game indexed under agent in either role.
func (d *Directory) GamesForAgent(ctx context.Context, agent ledger.Hash) ([]ledger.Hash, error) {
	p1, err := d.GamesForPlayer(ctx, agent, RolePlayer1)
	if err != nil {
		return nil, err
	}
	p2, err := d.GamesForPlayer(ctx, agent, RolePlayer2)
	if err != nil {
		return nil, err
	}
	return dedupe(append(p1, p2...)), nil
}

// RegisterPlayer indexes a new profile under its agent, its name and the
// all_players anchor.
func (d *Directory) RegisterPlayer(ctx context.Context, agent, profile ledger.Hash, name string) error {
	if _, err := d.store.CreateLink(ctx, agent, profile, model.LinkPlayerToPlayers, ""); err != nil {
		return fmt.Errorf("failed to link profile to agent: %w", err)
	}
	if err := d.RegisterName(ctx, name, profile); err != nil {
		return err
	}
	if _, err := d.store.CreateLink(ctx, AllPlayersAnchor(), agent, model.LinkAllPlayersToAgent, ""); err != nil {
		return fmt.Errorf("failed to link agent to all_players anchor: %w", err)
	}
	return nil
}

// RegisterName claims name for profile in the registry.
func (d *Directory) RegisterName(ctx context.Context, name string, profile ledger.Hash) error {
	if _, err := d.store.CreateLink(ctx, NameAnchor(name), profile, model.LinkPlayerNameToPlayer, NormalizeName(name)); err != nil {
		return fmt.Errorf("failed to link name to profile: %w", err)
	}
	return nil
}

// ReleaseName drops this agent's registry links from name to profile.
func (d *Directory) ReleaseName(ctx context.Context, name string, profile ledger.Hash) error {
	_, err := d.RemoveLinksTo(ctx, NameAnchor(name), model.LinkPlayerNameToPlayer, profile)
	return err
}

// NameOwner returns the original profile hash registered for name, or ""
// if the name is free. When racing registrations left several links, the
// oldest live one owns the name.
func (d *Directory) NameOwner(ctx context.Context, name string) (ledger.Hash, error) {
	profiles, err := d.targets(ctx, NameAnchor(name), model.LinkPlayerNameToPlayer)
	if err != nil {
		return "", err
	}
	live, err := d.store.GetMany(ctx, profiles)
	if err != nil {
		return "", err
	}
	if len(live) == 0 {
		return "", nil
	}
	return live[0].Hash, nil
}

// NameTaken reports whether any live profile holds name.
func (d *Directory) NameTaken(ctx context.Context, name string) (bool, error) {
	owner, err := d.NameOwner(ctx, name)
	if err != nil {
		return false, err
	}
	return owner != "", nil
}

// ProfileLinksForAgent returns the agent's PlayerToPlayers links.
func (d *Directory) ProfileLinksForAgent(ctx context.Context, agent ledger.Hash) ([]*ledger.Link, error) {
	links, err := d.store.GetLinks(ctx, agent, model.LinkPlayerToPlayers)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile links: %w", err)
	}
	return links, nil
}

// ProfileForAgent returns the original profile hash of agent, or "" when the
// agent has no live profile.
func (d *Directory) ProfileForAgent(ctx context.Context, agent ledger.Hash) (ledger.Hash, error) {
	links, err := d.ProfileLinksForAgent(ctx, agent)
	if err != nil {
		return "", err
	}
	live, err := d.store.GetMany(ctx, entity.Targets(links))
	if err != nil {
		return "", err
	}
	if len(live) == 0 {
		return "", nil
	}
	return live[0].Hash, nil
}

// AllPlayers returns every agent linked from the all_players anchor.
func (d *Directory) AllPlayers(ctx context.Context) ([]ledger.Hash, error) {
	return d.targets(ctx, AllPlayersAnchor(), model.LinkAllPlayersToAgent)
}

// RemoveLinksTo deletes this agent's links of linkType from base to target
// and returns how many were removed. Links authored by other agents are left
// alone.
func (d *Directory) RemoveLinksTo(ctx context.Context, base ledger.Hash, linkType ledger.LinkType, target ledger.Hash) (int, error) {
	links, err := d.store.GetLinks(ctx, base, linkType)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s links: %w", linkType, err)
	}
	removed := 0
	for _, l := range links {
		if l.Target != target || l.Author != d.store.Agent() {
			continue
		}
		if err := d.store.DeleteLink(ctx, l.CreateHash); err != nil && !ledger.IsNotFound(err) {
			return removed, fmt.Errorf("failed to remove %s link: %w", linkType, err)
		}
		removed++
	}
	return removed, nil
}

func (d *Directory) targets(ctx context.Context, base ledger.Hash, linkType ledger.LinkType) ([]ledger.Hash, error) {
	links, err := d.store.GetLinks(ctx, base, linkType)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s links: %w", linkType, err)
	}
	return entity.Targets(links), nil
}

func dedupe(hashes []ledger.Hash) []ledger.Hash {
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
