package coordinator

import (
	"context"
	"fmt"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// CreateScore records points for player in a finished game and indexes the
// score under the game and the player.
//
// The validator cannot dereference the game, so the Finished and
// participant checks here are the only ones; they run on this peer's view.
func (s *Service) CreateScore(ctx context.Context, game, player ledger.Hash, points uint32) (*entity.Revision[model.Score], error) {
	if err := s.requireListed(ctx, game); err != nil {
		return nil, err
	}
	latest, err := entity.Latest[model.Game](ctx, s.games, game)
	if err != nil {
		return nil, err
	}
	if !latest.Value.IsParticipant(player) {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "scored player did not take part in the game")
	}
	if latest.Value.Status != model.StatusFinished {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidState,
			fmt.Sprintf("scores can only be recorded for Finished games, status is %s", latest.Value.Status),
			map[string]string{"status": string(latest.Value.Status)})
	}

	score := model.Score{
		GameID:       game,
		Player:       player,
		PlayerPoints: points,
		CreatedAt:    s.store.Now(),
	}
	rec, err := s.scores.Create(ctx, score)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.CreateLink(ctx, game, rec.Hash, model.LinkGameToScores, ""); err != nil {
		return nil, fmt.Errorf("score %s stored but game link failed: %w", rec.Hash.Short(), err)
	}
	if _, err := s.store.CreateLink(ctx, player, rec.Hash, model.LinkPlayerToScores, ""); err != nil {
		return nil, fmt.Errorf("score %s stored but player link failed: %w", rec.Hash.Short(), err)
	}

	s.logEvent("score_recorded", map[string]interface{}{
		"game_id": game.Short(),
		"player":  player.Short(),
		"points":  points,
	})
	return entity.Decode[model.Score](rec)
}

// GetScoresForGame returns every score linked from a listed game.
func (s *Service) GetScoresForGame(ctx context.Context, game ledger.Hash) ([]*entity.Revision[model.Score], error) {
	if err := s.requireListed(ctx, game); err != nil {
		return nil, err
	}
	return linkedFacts[model.Score](ctx, s.store, game, model.LinkGameToScores)
}

// GetScoresForPlayer returns every score recorded for agent.
func (s *Service) GetScoresForPlayer(ctx context.Context, agent ledger.Hash) ([]*entity.Revision[model.Score], error) {
	return linkedFacts[model.Score](ctx, s.store, agent, model.LinkPlayerToScores)
}

// GetLatestScore returns a score. Scores are immutable, so it is always the
// original.
func (s *Service) GetLatestScore(ctx context.Context, original ledger.Hash) (*entity.Revision[model.Score], error) {
	return entity.Latest[model.Score](ctx, s.scores, original)
}

// GetOriginalScore returns a score as created.
func (s *Service) GetOriginalScore(ctx context.Context, original ledger.Hash) (*entity.Revision[model.Score], error) {
	return entity.Original[model.Score](ctx, s.scores, original)
}

// GetAllRevisionsForScore returns the score's single revision.
func (s *Service) GetAllRevisionsForScore(ctx context.Context, original ledger.Hash) ([]*entity.Revision[model.Score], error) {
	return entity.History[model.Score](ctx, s.scores, original)
}

// GetAllDeletesForScore returns accepted delete records targeting the score.
// Validation rejects every score delete, so this is empty unless the rules
// change.
func (s *Service) GetAllDeletesForScore(ctx context.Context, original ledger.Hash) ([]*ledger.Record, error) {
	return s.scores.Deletes(ctx, original)
}

// GetOldestDeleteForScore returns the first accepted delete of the score.
func (s *Service) GetOldestDeleteForScore(ctx context.Context, original ledger.Hash) (*ledger.Record, error) {
	return s.scores.OldestDelete(ctx, original)
}

// CreateStatistics records network measurements for a finished game the
// caller took part in. A zero signal latency is filled from the relay's
// running mean.
func (s *Service) CreateStatistics(ctx context.Context, stats model.Statistics) (*entity.Revision[model.Statistics], error) {
	latest, err := entity.Latest[model.Game](ctx, s.games, stats.GameID)
	if err != nil {
		return nil, err
	}
	if !latest.Value.IsParticipant(s.store.Agent()) {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "only game participants can record statistics")
	}
	if latest.Value.Status != model.StatusFinished {
		return nil, apperrors.New(apperrors.CodeInvalidState, "statistics can only be recorded for Finished games")
	}

	if stats.SignalLatency == 0 {
		stats.SignalLatency = s.relay.Latency().MeanMillis()
	}
	stats.Timestamp = s.store.Now()

	rec, err := s.statistics.Create(ctx, stats)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.CreateLink(ctx, stats.GameID, rec.Hash, model.LinkGameToStatistics, ""); err != nil {
		return nil, fmt.Errorf("statistics %s stored but game link failed: %w", rec.Hash.Short(), err)
	}

	s.logEvent("statistics_recorded", map[string]interface{}{
		"game_id":        stats.GameID.Short(),
		"signal_latency": stats.SignalLatency,
	})
	return entity.Decode[model.Statistics](rec)
}

// GetStatisticsForGame returns every statistics record linked from a game.
func (s *Service) GetStatisticsForGame(ctx context.Context, game ledger.Hash) ([]*entity.Revision[model.Statistics], error) {
	return linkedFacts[model.Statistics](ctx, s.store, game, model.LinkGameToStatistics)
}

// GetLatestStatistics returns a statistics record, always the original.
func (s *Service) GetLatestStatistics(ctx context.Context, original ledger.Hash) (*entity.Revision[model.Statistics], error) {
	return entity.Latest[model.Statistics](ctx, s.statistics, original)
}

// GetOriginalStatistics returns a statistics record as created.
func (s *Service) GetOriginalStatistics(ctx context.Context, original ledger.Hash) (*entity.Revision[model.Statistics], error) {
	return entity.Original[model.Statistics](ctx, s.statistics, original)
}

// GetAllRevisionsForStatistics returns the statistics record's single revision.
func (s *Service) GetAllRevisionsForStatistics(ctx context.Context, original ledger.Hash) ([]*entity.Revision[model.Statistics], error) {
	return entity.History[model.Statistics](ctx, s.statistics, original)
}

// GetAllDeletesForStatistics returns accepted delete records targeting the
// statistics record.
func (s *Service) GetAllDeletesForStatistics(ctx context.Context, original ledger.Hash) ([]*ledger.Record, error) {
	return s.statistics.Deletes(ctx, original)
}

// GetOldestDeleteForStatistics returns the first accepted delete of the
// statistics record.
func (s *Service) GetOldestDeleteForStatistics(ctx context.Context, original ledger.Hash) (*ledger.Record, error) {
	return s.statistics.OldestDelete(ctx, original)
}

// PublishPresence writes a heartbeat for the caller.
func (s *Service) PublishPresence(ctx context.Context) (*entity.Revision[model.Presence], error) {
	rec, err := s.dir.PublishPresence(ctx)
	if err != nil {
		return nil, err
	}
	return entity.Decode[model.Presence](rec)
}

// GetOnlineUsers returns agents with a recent heartbeat.
func (s *Service) GetOnlineUsers(ctx context.Context) ([]ledger.Hash, error) {
	return s.dir.OnlineAgents(ctx, s.store.Now())
}

func (s *Service) requireListed(ctx context.Context, game ledger.Hash) error {
	listed, err := s.dir.HasGame(ctx, game)
	if err != nil {
		return err
	}
	if !listed {
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("game %s is not listed", game.Short()))
	}
	return nil
}

// linkedFacts resolves the targets of base's links and decodes them,
// skipping targets that are gone or malformed.
func linkedFacts[T any](ctx context.Context, store ledger.Store, base ledger.Hash, linkType ledger.LinkType) ([]*entity.Revision[T], error) {
	links, err := store.GetLinks(ctx, base, linkType)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s links: %w", linkType, err)
	}
	records, err := store.GetMany(ctx, entity.Targets(links))
	if err != nil {
		return nil, err
	}
	return entity.DecodeAll[T](records), nil
}
