package validation

import (
	"time"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// Scores, statistics and presence heartbeats are write-once facts.

func (e *Engine) validateScore(r *ledger.Record) error {
	if err := immutable(r); err != nil {
		return err
	}
	score, err := decode[model.Score](r)
	if err != nil {
		return err
	}
	return e.ValidateCreateScore(r.Timestamp, score)
}

// ValidateCreateScore checks the created_at skew and warns on unusually
// high points. Whether the game is finished and the player took part is
// checked by the writer.
func (e *Engine) ValidateCreateScore(at ledger.Timestamp, score *model.Score) error {
	if !score.GameID.IsRecord() {
		return reject(apperrors.CodeMalformedData, "score game_id must be a record hash")
	}
	if !score.Player.IsAgent() {
		return reject(apperrors.CodeMalformedData, "score player must be an agent key")
	}
	if score.PlayerPoints > model.PointsWarningThreshold {
		e.warn("recorded score %d for %s seems high", score.PlayerPoints, score.Player.Short())
	}
	if !e.withinSkew(score.CreatedAt, at) {
		return reject(apperrors.CodeMalformedData, "score created_at is too far from the record timestamp")
	}
	return nil
}

func (e *Engine) validateStatistics(r *ledger.Record) error {
	if err := immutable(r); err != nil {
		return err
	}
	stats, err := decode[model.Statistics](r)
	if err != nil {
		return err
	}
	return e.ValidateCreateStatistics(r.Timestamp, stats)
}

// ValidateCreateStatistics warns on implausible metrics and rejects a
// skewed timestamp.
func (e *Engine) ValidateCreateStatistics(at ledger.Timestamp, stats *model.Statistics) error {
	if !stats.GameID.IsRecord() {
		return reject(apperrors.CodeMalformedData, "statistics game_id must be a record hash")
	}
	if stats.SignalLatency > model.MaxSignalLatency {
		e.warn("reported signal latency %d exceeds max %d", stats.SignalLatency, model.MaxSignalLatency)
	}
	if stats.ScoreValidationTime > model.MaxScoreValidationTime {
		e.warn("reported score_validation_time %d exceeds max %d", stats.ScoreValidationTime, model.MaxScoreValidationTime)
	}
	if stats.DHTResponseTime > model.MaxDHTResponseTime {
		e.warn("reported dht_response_time %d exceeds max %d", stats.DHTResponseTime, model.MaxDHTResponseTime)
	}
	if stats.NetworkDelay > model.MaxNetworkDelay {
		e.warn("reported network_delay %d exceeds max %d", stats.NetworkDelay, model.MaxNetworkDelay)
	}
	if !e.withinSkew(stats.Timestamp, at) {
		return reject(apperrors.CodeMalformedData, "statistics timestamp is too far from the record timestamp")
	}
	return nil
}

func (e *Engine) validatePresence(r *ledger.Record) error {
	if err := immutable(r); err != nil {
		return err
	}
	presence, err := decode[model.Presence](r)
	if err != nil {
		return err
	}
	return e.ValidateCreatePresence(r.Author, r.Timestamp, presence)
}

// ValidateCreatePresence checks that a heartbeat is published by its own
// agent with a plausible millisecond timestamp.
func (e *Engine) ValidateCreatePresence(author ledger.Hash, at ledger.Timestamp, presence *model.Presence) error {
	if presence.Agent != author {
		return reject(apperrors.CodeUnauthorized, "presence author must match agent_pubkey")
	}
	delta := time.Duration(presence.Timestamp-at.Millis()) * time.Millisecond
	if delta < 0 {
		delta = -delta
	}
	if delta > e.maxSkew {
		return reject(apperrors.CodeMalformedData, "presence timestamp is too far from the record timestamp")
	}
	return nil
}
