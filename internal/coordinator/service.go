// Package coordinator is the operation surface of a rally peer: every
// command a client can issue, from registering a profile to sending a paddle
// update.
//
// Durable operations check the caller's view of shared state first (name
// registry, game status, participation), then write through the ledger,
// whose validator enforces the per-record rules, and finally maintain the
// directory indexes. Ephemeral operations go straight to the relay.
package coordinator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/dyluth/rally/internal/directory"
	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/internal/relay"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// Entry pairs an entity's stable identifier, the hash of its original
// record, with its latest resolved revision.
type Entry[T any] struct {
	ID     ledger.Hash         `json:"id"`
	Latest *entity.Revision[T] `json:"latest"`
}

// Options tunes a Service.
type Options struct {
	// Network names the rally network in structured logs.
	Network string

	// CallTimeout bounds each relay delivery. Zero uses the relay default.
	CallTimeout time.Duration
}

// Service executes rally operations on behalf of one agent.
type Service struct {
	store      ledger.Store
	games      *entity.Chain
	players    *entity.Chain
	scores     *entity.Chain
	statistics *entity.Chain
	dir        *directory.Directory
	relay      *relay.Relay
	network    string
}

// New creates a service writing through store and relaying signals over
// transport.
func New(store ledger.Store, transport ledger.Transport, opts Options) *Service {
	r := relay.New(store.Agent(), transport, store, relay.GameParticipants(store)).
		WithCallTimeout(opts.CallTimeout)

	return &Service{
		store:      store,
		games:      entity.NewChain(store, model.EntryGame, model.LinkGameUpdates),
		players:    entity.NewChain(store, model.EntryPlayer, model.LinkPlayerUpdates),
		scores:     entity.NewChain(store, model.EntryScore, ""),
		statistics: entity.NewChain(store, model.EntryStatistics, ""),
		dir:        directory.New(store),
		relay:      r,
		network:    opts.Network,
	}
}

// Agent returns the agent this service acts for.
func (s *Service) Agent() ledger.Hash {
	return s.store.Agent()
}

// Relay returns the signal relay, whose bus carries every signal this peer
// sends or receives.
func (s *Service) Relay() *relay.Relay {
	return s.relay
}

// Directory returns the shared index reader.
func (s *Service) Directory() *directory.Directory {
	return s.dir
}

// Ping checks the substrate.
func (s *Service) Ping(ctx context.Context) error {
	if l, ok := s.store.(*ledger.Ledger); ok {
		return l.Backend().Ping(ctx)
	}
	return nil
}

// logEvent logs a structured event as a single JSON line.
func (s *Service) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "coordinator"
	data["event_type"] = eventType
	data["network"] = s.network
	data["agent"] = s.store.Agent().Short()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Coordinator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
