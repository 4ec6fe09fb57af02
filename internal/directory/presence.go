package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// PresenceTTL is how long a heartbeat keeps an agent in the online set.
const PresenceTTL = 30 * time.Second

// PublishPresence writes a heartbeat for this agent and links it from the
// presence anchor.
func (d *Directory) PublishPresence(ctx context.Context) (*ledger.Record, error) {
	now := d.store.Now()
	rec, err := d.store.Create(ctx, model.EntryPresence, model.Presence{
		Agent:     d.store.Agent(),
		Timestamp: now.Millis(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create presence: %w", err)
	}
	if _, err := d.store.CreateLink(ctx, PresenceAnchor(), rec.Hash, model.LinkPresence, ""); err != nil {
		return rec, fmt.Errorf("presence stored but anchor link failed: %w", err)
	}
	return rec, nil
}

// OnlineAgents returns the agents with a heartbeat no older than PresenceTTL
// at now, in order of first sighting.
func (d *Directory) OnlineAgents(ctx context.Context, now ledger.Timestamp) ([]ledger.Hash, error) {
	links, err := d.store.GetLinks(ctx, PresenceAnchor(), model.LinkPresence)
	if err != nil {
		return nil, fmt.Errorf("failed to read presence links: %w", err)
	}
	records, err := d.store.GetMany(ctx, entity.Targets(links))
	if err != nil {
		return nil, err
	}

	presences := make([]model.Presence, 0, len(records))
	for _, rev := range entity.DecodeAll[model.Presence](records) {
		presences = append(presences, rev.Value)
	}
	return OnlineFilter(presences, now.Millis(), PresenceTTL), nil
}

// OnlineFilter keeps agents whose heartbeat timestamp (ms) is at or after
// nowMillis minus ttl. The cutoff is inclusive; duplicates are dropped.
func OnlineFilter(presences []model.Presence, nowMillis int64, ttl time.Duration) []ledger.Hash {
	cutoff := nowMillis - ttl.Milliseconds()
	seen := make(map[ledger.Hash]bool)
	online := make([]ledger.Hash, 0)
	for _, p := range presences {
		if p.Timestamp < cutoff || seen[p.Agent] {
			continue
		}
		seen[p.Agent] = true
		online = append(online, p.Agent)
	}
	return online
}
