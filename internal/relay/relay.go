package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/entity"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
	"github.com/google/uuid"
)

// FunctionReceiveSignal is the remote function name signals are delivered to.
const FunctionReceiveSignal = "receive_remote_signal"

// DefaultCallTimeout bounds a single delivery attempt.
const DefaultCallTimeout = 2 * time.Second

// ParticipantsFunc returns the agents taking part in a game.
type ParticipantsFunc func(ctx context.Context, game ledger.Hash) ([]ledger.Hash, error)

// GameParticipants resolves participants from the latest revision of the
// game entity in store.
func GameParticipants(store ledger.Store) ParticipantsFunc {
	games := entity.NewChain(store, model.EntryGame, model.LinkGameUpdates)
	return func(ctx context.Context, game ledger.Hash) ([]ledger.Hash, error) {
		rev, err := entity.Latest[model.Game](ctx, games, game)
		if err != nil {
			return nil, err
		}
		return rev.Value.Participants(), nil
	}
}

// Relay sends and receives signals for one agent.
type Relay struct {
	agent        ledger.Hash
	transport    ledger.Transport
	clock        ledger.Clock
	participants ParticipantsFunc
	bus          *Bus
	latency      *Tracker
	callTimeout  time.Duration
	inflight     sync.WaitGroup
}

// New creates a relay for agent. A nil clock uses the system clock.
func New(agent ledger.Hash, transport ledger.Transport, clock ledger.Clock, participants ParticipantsFunc) *Relay {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	return &Relay{
		agent:        agent,
		transport:    transport,
		clock:        clock,
		participants: participants,
		bus:          NewBus(),
		latency:      NewTracker(),
		callTimeout:  DefaultCallTimeout,
	}
}

// WithCallTimeout overrides the per-delivery timeout.
func (r *Relay) WithCallTimeout(d time.Duration) *Relay {
	if d > 0 {
		r.callTimeout = d
	}
	return r
}

// Agent returns the agent this relay speaks for.
func (r *Relay) Agent() ledger.Hash { return r.agent }

// Bus returns the local signal bus.
func (r *Relay) Bus() *Bus { return r.bus }

// Latency returns the receive-side latency tracker.
func (r *Relay) Latency() *Tracker { return r.latency }

// Send emits sig locally and delivers it to every other participant of its
// game. Delivery failures are logged and swallowed; only a failure to
// resolve the participants is returned.
func (r *Relay) Send(ctx context.Context, sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if !sig.Type.GameScoped() {
		return apperrors.New(apperrors.CodeMalformedData, fmt.Sprintf("%s signal has no game to route to", sig.Type))
	}
	if sig.Type.Tracked() {
		sig.SentAt = r.clock.Now()
	}

	// An abandonment notice is for the opponents only.
	if sig.Type != KindGameAbandoned {
		r.bus.Emit(sig)
	}

	if r.participants == nil {
		return apperrors.New(apperrors.CodeInvalidState, "relay has no participant resolver")
	}
	participants, err := r.participants(ctx, sig.GameID)
	if err != nil {
		return fmt.Errorf("failed to resolve participants of %s: %w", sig.GameID.Short(), err)
	}

	for _, p := range participants {
		if p == r.agent {
			continue
		}
		r.deliver(p, sig)
	}
	return nil
}

// Direct delivers sig to a single agent without emitting it locally.
func (r *Relay) Direct(to ledger.Hash, sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if sig.Type.Tracked() && sig.SentAt == 0 {
		sig.SentAt = r.clock.Now()
	}
	r.deliver(to, sig)
	return nil
}

// Broadcast delivers sig to every agent in recipients except this one.
func (r *Relay) Broadcast(recipients []ledger.Hash, sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	r.bus.Emit(sig)
	for _, to := range recipients {
		if to != r.agent {
			r.deliver(to, sig)
		}
	}
	return nil
}

// deliver sends sig to one agent from its own goroutine.
func (r *Relay) deliver(to ledger.Hash, sig Signal) {
	payload, err := json.Marshal(sig)
	if err != nil {
		log.Printf("[Relay] Failed to marshal %s signal: %v", sig.Type, err)
		return
	}
	call := &ledger.Call{
		ID:       uuid.Must(uuid.NewV7()).String(),
		From:     r.agent,
		Function: FunctionReceiveSignal,
		Payload:  payload,
		SentAt:   r.clock.Now(),
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
		defer cancel()

		if err := r.transport.CallRemote(ctx, to, call); err != nil {
			r.logEvent("relay_delivery_failed", map[string]interface{}{
				"call_id":     call.ID,
				"signal_type": string(sig.Type),
				"to":          to.Short(),
				"error":       err.Error(),
				"error_code":  string(apperrors.CodeOf(err)),
			})
			return
		}
		log.Printf("[Relay] [DEBUG] Delivered %s to %s (call_id=%s)", sig.Type, to.Short(), call.ID)
	}()
}

// Wait blocks until every delivery started so far has finished.
func (r *Relay) Wait() {
	r.inflight.Wait()
}

// Receive accounts for latency on tracked kinds and emits sig on the local
// bus.
func (r *Relay) Receive(sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if sig.Type.Tracked() && sig.SentAt != 0 {
		latency, anomaly := r.latency.Observe(sig.Type, sig.SentAt, r.clock.Now())
		if anomaly {
			r.logEvent("signal_latency_anomaly", map[string]interface{}{
				"signal_type": string(sig.Type),
				"game_id":     sig.GameID.Short(),
				"latency_ms":  latency,
			})
		}
	}
	r.bus.Emit(sig)
	return nil
}

// HandleCall decodes an incoming receive_remote_signal call and receives the
// signal it carries.
func (r *Relay) HandleCall(call *ledger.Call) error {
	if call.Function != FunctionReceiveSignal {
		return apperrors.New(apperrors.CodeMalformedData, fmt.Sprintf("relay cannot handle function '%s'", call.Function))
	}
	sig, err := DecodeSignal(call.Payload)
	if err != nil {
		return err
	}
	return r.Receive(*sig)
}

// logEvent logs a structured event as a single JSON line.
func (r *Relay) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "relay"
	data["event_type"] = eventType
	data["agent"] = r.agent.Short()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Relay] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
