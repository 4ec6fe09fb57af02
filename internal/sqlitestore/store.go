// Package sqlitestore implements the rally substrate on a single SQLite file.
//
// Peers on one machine open the same database in WAL mode and share it as
// both the record log and the call transport: remote calls are rows that each
// listening peer polls for. It trades the Redis backend's push delivery for
// zero infrastructure.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/rally/pkg/ledger"

	_ "modernc.org/sqlite"
)

// Store is a ledger backend and call transport over SQLite.
type Store struct {
	db           *sql.DB
	pollInterval time.Duration
	listenerTTL  time.Duration
	retention    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often listeners look for new calls.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithListenerTTL sets how long a listener stays reachable without a
// heartbeat.
func WithListenerTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.listenerTTL = d
		}
	}
}

// New opens (or creates) the database at path and applies the schema.
func New(path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:           db,
		pollInterval: 50 * time.Millisecond,
		listenerTTL:  5 * time.Second,
		retention:    time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		hash       TEXT PRIMARY KEY,
		action     TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		author     TEXT NOT NULL,
		ts         INTEGER NOT NULL,
		payload    TEXT NOT NULL DEFAULT '',
		prev       TEXT NOT NULL DEFAULT '',
		signature  BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_records_prev ON records(prev, action, ts, hash);

	CREATE TABLE IF NOT EXISTS links (
		create_hash TEXT PRIMARY KEY,
		base        TEXT NOT NULL,
		link_type   TEXT NOT NULL,
		target      TEXT NOT NULL,
		tag         TEXT NOT NULL DEFAULT '',
		author      TEXT NOT NULL,
		ts          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_links_base ON links(base, link_type, ts, create_hash);

	CREATE TABLE IF NOT EXISTS calls (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		to_agent   TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_agent ON calls(to_agent, id);

	CREATE TABLE IF NOT EXISTS listeners (
		agent       TEXT NOT NULL,
		listener_id TEXT NOT NULL,
		heartbeat   INTEGER NOT NULL,
		PRIMARY KEY (agent, listener_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// exec runs a write statement with contention retries.
func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return retry(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// PutRecord stores r. Updates and deletes are indexed by their prev column.
func (s *Store) PutRecord(ctx context.Context, r *ledger.Record) error {
	err := s.exec(ctx,
		`INSERT OR IGNORE INTO records (hash, action, entry_type, author, ts, payload, prev, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.Hash), string(r.Action), string(r.EntryType), string(r.Author),
		int64(r.Timestamp), string(r.Payload), string(r.Prev), r.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

const recordColumns = `hash, action, entry_type, author, ts, payload, prev, signature`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ledger.Record, error) {
	var (
		r                                   ledger.Record
		hash, action, entryType, author, pv string
		payload                             string
		ts                                  int64
	)
	if err := row.Scan(&hash, &action, &entryType, &author, &ts, &payload, &pv, &r.Signature); err != nil {
		return nil, err
	}
	r.Hash = ledger.Hash(hash)
	r.Action = ledger.Action(action)
	r.EntryType = ledger.EntryType(entryType)
	r.Author = ledger.Hash(author)
	r.Timestamp = ledger.Timestamp(ts)
	r.Prev = ledger.Hash(pv)
	if payload != "" {
		r.Payload = []byte(payload)
	}
	return &r, nil
}

// GetRecord retrieves a record by hash.
// Returns ledger.ErrNotFound if the record doesn't exist.
func (s *Store) GetRecord(ctx context.Context, hash ledger.Hash) (*ledger.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE hash = ?`, string(hash))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return r, nil
}

// GetRecords fetches several records in one query. The result is aligned
// with hashes; missing entries are nil.
func (s *Store) GetRecords(ctx context.Context, hashes []ledger.Hash) ([]*ledger.Record, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE hash IN (`+placeholders(len(hashes))+`)`,
		hashArgs(hashes)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	defer rows.Close()

	found := make(map[ledger.Hash]*ledger.Record, len(hashes))
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		found[r.Hash] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]*ledger.Record, len(hashes))
	for i, h := range hashes {
		records[i] = found[h]
	}
	return records, nil
}

// Deleted reports which of hashes have at least one delete record.
func (s *Store) Deleted(ctx context.Context, hashes []ledger.Hash) ([]bool, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	args := append([]any{string(ledger.ActionDelete)}, hashArgs(hashes)...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT prev FROM records WHERE action = ? AND prev IN (`+placeholders(len(hashes))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check deletes: %w", err)
	}
	defer rows.Close()

	targets := make(map[ledger.Hash]bool)
	for rows.Next() {
		var prev string
		if err := rows.Scan(&prev); err != nil {
			return nil, err
		}
		targets[ledger.Hash(prev)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deleted := make([]bool, len(hashes))
	for i, h := range hashes {
		deleted[i] = targets[h]
	}
	return deleted, nil
}

// Updates lists the hashes of records updating hash, ascending by timestamp.
func (s *Store) Updates(ctx context.Context, hash ledger.Hash) ([]ledger.Hash, error) {
	return s.superseding(ctx, hash, ledger.ActionUpdate)
}

// Deletes lists the hashes of delete records targeting hash.
func (s *Store) Deletes(ctx context.Context, hash ledger.Hash) ([]ledger.Hash, error) {
	return s.superseding(ctx, hash, ledger.ActionDelete)
}

func (s *Store) superseding(ctx context.Context, hash ledger.Hash, action ledger.Action) ([]ledger.Hash, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash FROM records WHERE prev = ? AND action = ? ORDER BY ts ASC, hash ASC`,
		string(hash), string(action),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s index: %w", action, err)
	}
	defer rows.Close()

	hashes := make([]ledger.Hash, 0)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, ledger.Hash(h))
	}
	return hashes, rows.Err()
}

// ---------------------------------------------------------------------------
// Links
// ---------------------------------------------------------------------------

const linkColumns = `create_hash, base, link_type, target, tag, author, ts`

func scanLink(row scanner) (*ledger.Link, error) {
	var (
		l                                     ledger.Link
		createHash, base, linkType, target, a string
		ts                                    int64
	)
	if err := row.Scan(&createHash, &base, &linkType, &target, &l.Tag, &a, &ts); err != nil {
		return nil, err
	}
	l.CreateHash = ledger.Hash(createHash)
	l.Base = ledger.Hash(base)
	l.Type = ledger.LinkType(linkType)
	l.Target = ledger.Hash(target)
	l.Author = ledger.Hash(a)
	l.Timestamp = ledger.Timestamp(ts)
	return &l, nil
}

// PutLink stores a link. Writes are idempotent.
func (s *Store) PutLink(ctx context.Context, l *ledger.Link) error {
	err := s.exec(ctx,
		`INSERT OR IGNORE INTO links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(l.CreateHash), string(l.Base), string(l.Type), string(l.Target),
		l.Tag, string(l.Author), int64(l.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to write link: %w", err)
	}
	return nil
}

// GetLink retrieves a link by its create hash.
// Returns ledger.ErrNotFound if the link doesn't exist or has been removed.
func (s *Store) GetLink(ctx context.Context, createHash ledger.Hash) (*ledger.Link, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE create_hash = ?`, string(createHash))
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read link: %w", err)
	}
	return l, nil
}

// ListLinks returns the links of a base and type ascending by timestamp,
// ties by create hash.
func (s *Store) ListLinks(ctx context.Context, base ledger.Hash, linkType ledger.LinkType) ([]*ledger.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE base = ? AND link_type = ? ORDER BY ts ASC, create_hash ASC`,
		string(base), string(linkType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read links: %w", err)
	}
	defer rows.Close()

	links := make([]*ledger.Link, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// RemoveLink deletes a link.
func (s *Store) RemoveLink(ctx context.Context, l *ledger.Link) error {
	if err := s.exec(ctx, `DELETE FROM links WHERE create_hash = ?`, string(l.CreateHash)); err != nil {
		return fmt.Errorf("failed to remove link: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func hashArgs(hashes []ledger.Hash) []any {
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = string(h)
	}
	return args
}

// Compile-time checks
var (
	_ ledger.Backend   = (*Store)(nil)
	_ ledger.Transport = (*Store)(nil)
)
