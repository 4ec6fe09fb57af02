package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/rally/pkg/ledger"
	"github.com/google/uuid"
)

// CallRemote queues call for agent to. It returns ledger.ErrUnreachable when
// no listener for that agent has sent a heartbeat within the listener TTL.
func (s *Store) CallRemote(ctx context.Context, to ledger.Hash, call *ledger.Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}

	now := time.Now()
	var listeners int
	cutoff := now.Add(-s.listenerTTL).UnixMilli()
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listeners WHERE agent = ? AND heartbeat >= ?`,
		string(to), cutoff,
	).Scan(&listeners); err != nil {
		return fmt.Errorf("failed to check listeners: %w", err)
	}
	if listeners == 0 {
		return fmt.Errorf("%s: %w", to.Short(), ledger.ErrUnreachable)
	}

	if err := s.exec(ctx,
		`INSERT INTO calls (to_agent, body, created_at) VALUES (?, ?, ?)`,
		string(to), string(data), now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to queue call: %w", err)
	}
	return nil
}

// Listen registers a listener for agent and polls for calls queued after
// registration. Every listener for the same agent receives every call.
//
// Calls are delivered on a buffered channel (size 64).
func (s *Store) Listen(ctx context.Context, agent ledger.Hash) (*ledger.Inbox, error) {
	listenerID := uuid.NewString()

	var cursor int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM calls`).Scan(&cursor); err != nil {
		return nil, fmt.Errorf("failed to read call cursor: %w", err)
	}
	if err := s.heartbeat(ctx, agent, listenerID); err != nil {
		return nil, err
	}

	callsChan := make(chan *ledger.Call, 64)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(callsChan)
		defer close(errorsChan)
		defer s.unregister(agent, listenerID)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		lastBeat := time.Now()

		report := func(err error) bool {
			select {
			case errorsChan <- err:
				return true
			case <-subCtx.Done():
				return false
			}
		}

		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
			}

			if time.Since(lastBeat) >= s.listenerTTL/3 {
				if err := s.heartbeat(subCtx, agent, listenerID); err != nil && subCtx.Err() == nil {
					if !report(err) {
						return
					}
				}
				s.prune(subCtx)
				lastBeat = time.Now()
			}

			rows, next, err := s.pending(subCtx, agent, cursor)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				if !report(err) {
					return
				}
				continue
			}
			cursor = next

			for _, body := range rows {
				var call ledger.Call
				if err := json.Unmarshal([]byte(body), &call); err != nil {
					if !report(fmt.Errorf("failed to unmarshal call: %w", err)) {
						return
					}
					continue
				}
				select {
				case callsChan <- &call:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return ledger.NewInbox(callsChan, errorsChan, cancelFunc), nil
}

// pending returns call bodies for agent queued after cursor and the new
// cursor.
func (s *Store) pending(ctx context.Context, agent ledger.Hash, cursor int64) ([]string, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM calls WHERE to_agent = ? AND id > ? ORDER BY id ASC LIMIT 256`,
		string(agent), cursor,
	)
	if err != nil {
		return nil, cursor, fmt.Errorf("failed to poll calls: %w", err)
	}
	defer rows.Close()

	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&cursor, &body); err != nil {
			return nil, cursor, err
		}
		bodies = append(bodies, body)
	}
	return bodies, cursor, rows.Err()
}

func (s *Store) heartbeat(ctx context.Context, agent ledger.Hash, listenerID string) error {
	err := s.exec(ctx,
		`INSERT INTO listeners (agent, listener_id, heartbeat) VALUES (?, ?, ?)
		 ON CONFLICT(agent, listener_id) DO UPDATE SET heartbeat = excluded.heartbeat`,
		string(agent), listenerID, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to register listener: %w", err)
	}
	return nil
}

func (s *Store) unregister(agent ledger.Hash, listenerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.exec(ctx, `DELETE FROM listeners WHERE agent = ? AND listener_id = ?`, string(agent), listenerID); err != nil {
		log.Printf("[Ledger] [WARN] Failed to unregister listener for %s: %v", agent.Short(), err)
	}
}

// prune drops calls older than the retention window and listeners whose
// heartbeat has lapsed.
func (s *Store) prune(ctx context.Context) {
	now := time.Now()
	if err := s.exec(ctx, `DELETE FROM calls WHERE created_at < ?`, now.Add(-s.retention).UnixMilli()); err != nil && ctx.Err() == nil {
		log.Printf("[Ledger] [WARN] Failed to prune calls: %v", err)
	}
	if err := s.exec(ctx, `DELETE FROM listeners WHERE heartbeat < ?`, now.Add(-s.listenerTTL).UnixMilli()); err != nil && ctx.Err() == nil {
		log.Printf("[Ledger] [WARN] Failed to prune listeners: %v", err)
	}
}
