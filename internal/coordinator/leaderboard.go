package coordinator

import (
	"context"
	"sort"
	"strings"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// LeaderboardEntry is one player's aggregate record.
type LeaderboardEntry struct {
	Agent       ledger.Hash `json:"agent"`
	PlayerName  string      `json:"player_name"`
	TotalPoints uint64      `json:"total_points"`
	GamesPlayed int         `json:"games_played"`
	Wins        int         `json:"wins"`
}

// GetLeaderboardData aggregates scores for every registered player with a
// live profile, ordered by wins, then points, then name.
//
// A game counts as played when the player has a score for it, and as won
// when the player's best score beats the best score of every other player
// recorded for that game. A game with no opposing score is not a win.
func (s *Service) GetLeaderboardData(ctx context.Context) ([]LeaderboardEntry, error) {
	agents, err := s.dir.AllPlayers(ctx)
	if err != nil {
		return nil, err
	}

	gameScores := make(map[ledger.Hash]map[ledger.Hash]uint32)
	bestByPlayer := func(game ledger.Hash) (map[ledger.Hash]uint32, error) {
		if best, ok := gameScores[game]; ok {
			return best, nil
		}
		scores, err := linkedFacts[model.Score](ctx, s.store, game, model.LinkGameToScores)
		if err != nil {
			return nil, err
		}
		best := bestScores(scores)
		gameScores[game] = best
		return best, nil
	}

	board := make([]LeaderboardEntry, 0, len(agents))
	for _, agent := range agents {
		profile, err := s.GetProfile(ctx, agent)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeNotFound {
				continue
			}
			return nil, err
		}

		scores, err := s.GetScoresForPlayer(ctx, agent)
		if err != nil {
			return nil, err
		}

		entry := LeaderboardEntry{Agent: agent, PlayerName: profile.Latest.Value.PlayerName}
		played := make(map[ledger.Hash]bool)
		for _, sc := range scores {
			if sc.Value.Player != agent {
				continue
			}
			entry.TotalPoints += uint64(sc.Value.PlayerPoints)
			played[sc.Value.GameID] = true
		}
		entry.GamesPlayed = len(played)

		for game := range played {
			best, err := bestByPlayer(game)
			if err != nil {
				return nil, err
			}
			if wonGame(best, agent) {
				entry.Wins++
			}
		}
		board = append(board, entry)
	}

	sort.SliceStable(board, func(i, j int) bool {
		a, b := board[i], board[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		return strings.ToLower(a.PlayerName) < strings.ToLower(b.PlayerName)
	})
	return board, nil
}

func bestScores(scores []*entity.Revision[model.Score]) map[ledger.Hash]uint32 {
	best := make(map[ledger.Hash]uint32)
	for _, sc := range scores {
		if cur, ok := best[sc.Value.Player]; !ok || sc.Value.PlayerPoints > cur {
			best[sc.Value.Player] = sc.Value.PlayerPoints
		}
	}
	return best
}

func wonGame(best map[ledger.Hash]uint32, agent ledger.Hash) bool {
	mine, ok := best[agent]
	if !ok || len(best) < 2 {
		return false
	}
	for player, points := range best {
		if player != agent && points >= mine {
			return false
		}
	}
	return true
}
