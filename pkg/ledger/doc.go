// Package ledger provides the content-addressed, append-only record log that
// every rally peer writes to and reads from.
//
// # Overview
//
// A record is an immutable, signed action by one agent: it creates an entry,
// supersedes a previous record with an update, or marks a record as deleted.
// Records are addressed by the SHA-256 of their content, so two peers that hold
// the same record agree on its hash without coordination.
//
// Links are the index layer on top of records. A link connects a base hash
// (a record, an agent or an anchor) to a target hash under a link type and is
// timestamped by its author. Links can be removed from the index but never
// mutated. Reading the links of a base always returns them in ascending
// timestamp order.
//
// # Substrates
//
// The Ledger type holds the write path: it builds and signs records, fetches
// the superseded record for updates and deletes, runs the Validator hook and
// only then hands the record to a Backend for persistence. Two backends ship
// with rally:
//
//   - Client: a shared Redis keyspace (this package)
//   - sqlitestore.Store: a shared SQLite file in WAL mode
//
// # Redis Schema
//
// All keys are namespaced by network name so several rally networks can share
// one Redis server.
//
// Records: rally:{network}:record:{hash}
// Update index: rally:{network}:record:{hash}:updates
// Delete index: rally:{network}:record:{hash}:deletes
// Link index: rally:{network}:links:{base}:{link_type}
// Link bodies: rally:{network}:link:{create_hash}
//
// Remote calls are published on rally:{network}:agent:{agent}:calls.
//
// # Usage Example
//
//	client, err := ledger.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	id, err := ledger.LoadOrCreateIdentity(".rally/agent.key")
//	if err != nil {
//		log.Fatal(err)
//	}
//	l := ledger.New(client, id, nil, validation.NewEngine())
//	rec, err := l.Create(ctx, "player", player)
package ledger
