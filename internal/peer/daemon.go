// Package peer runs a rally agent as a long-lived process: it listens for
// remote calls, keeps the agent's presence fresh and reports health.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/rally/internal/coordinator"
	"github.com/dyluth/rally/internal/relay"
	"github.com/dyluth/rally/pkg/ledger"
)

// Options tunes a Daemon.
type Options struct {
	// Network names the rally network in logs and health output.
	Network string

	// Heartbeat is the presence publish period. Zero disables heartbeats.
	Heartbeat time.Duration

	// HealthAddr is the /healthz bind address. Empty disables the endpoint.
	HealthAddr string

	// Pinger backs /healthz. Nil uses the service.
	Pinger Pinger

	// OnSignal, if set, is called for every signal on the local bus: the
	// ones this agent sends and the ones it receives. It runs on the
	// daemon goroutine and must not block.
	OnSignal func(relay.Signal)
}

// Daemon serves one agent.
type Daemon struct {
	svc       *coordinator.Service
	transport ledger.Transport
	opts      Options
	health    *HealthServer
	ready     chan struct{}
}

// New creates a daemon for svc receiving calls over transport.
func New(svc *coordinator.Service, transport ledger.Transport, opts Options) *Daemon {
	pinger := opts.Pinger
	if pinger == nil {
		pinger = svc
	}
	return &Daemon{
		svc:       svc,
		transport: transport,
		opts:      opts,
		health:    NewHealthServer(pinger, svc.Relay(), svc.Agent().String(), opts.Network),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once the daemon is listening for calls.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// HealthAddr returns the bound health address once Ready, or "".
func (d *Daemon) HealthAddr() string {
	return d.health.Addr()
}

// Run serves until ctx is cancelled or the inbox closes.
func (d *Daemon) Run(ctx context.Context) error {
	if d.opts.HealthAddr != "" {
		if err := d.health.Start(d.opts.HealthAddr); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer d.health.Shutdown(context.Background())
		log.Printf("[Peer] Health endpoint on http://%s/healthz", d.health.Addr())
	}

	agent := d.svc.Agent()
	log.Printf("[Peer] Starting agent %s on network '%s'", agent.Short(), d.opts.Network)

	inbox, err := d.transport.Listen(ctx, agent)
	if err != nil {
		return fmt.Errorf("failed to listen for calls: %w", err)
	}
	defer inbox.Close()

	bus := d.svc.Relay().Bus()
	signals := bus.Subscribe()
	defer bus.Unsubscribe(signals)

	var heartbeat <-chan time.Time
	if d.opts.Heartbeat > 0 {
		d.publishPresence(ctx)
		ticker := time.NewTicker(d.opts.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	close(d.ready)
	log.Printf("[Peer] Listening for calls")

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Peer] Shutting down...")
			d.svc.Relay().Wait()
			return nil

		case call, ok := <-inbox.Calls():
			if !ok {
				log.Printf("[Peer] Inbox closed")
				return nil
			}
			d.dispatch(call)

		case err, ok := <-inbox.Errors():
			if !ok {
				log.Printf("[Peer] Error channel closed")
				return nil
			}
			log.Printf("[Peer] [WARN] Inbox error: %v", err)

		case <-heartbeat:
			d.publishPresence(ctx)

		case sig := <-signals:
			if d.opts.OnSignal != nil {
				d.opts.OnSignal(sig)
			}
		}
	}
}

// dispatch routes a call by function name. Failures are logged; a bad call
// never stops the daemon.
func (d *Daemon) dispatch(call *ledger.Call) {
	switch call.Function {
	case relay.FunctionReceiveSignal:
		if err := d.svc.ReceiveRemoteSignal(call); err != nil {
			d.logEvent("call_rejected", map[string]interface{}{
				"call_id": call.ID,
				"from":    call.From.Short(),
				"error":   err.Error(),
			})
		}
	default:
		d.logEvent("unknown_function", map[string]interface{}{
			"call_id":  call.ID,
			"from":     call.From.Short(),
			"function": call.Function,
		})
	}
}

func (d *Daemon) publishPresence(ctx context.Context) {
	if _, err := d.svc.PublishPresence(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[Peer] [WARN] Failed to publish presence: %v", err)
	}
}

// logEvent logs a structured event as a single JSON line.
func (d *Daemon) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "peer"
	data["event_type"] = eventType
	data["network"] = d.opts.Network
	data["agent"] = d.svc.Agent().Short()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Peer] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
