package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a record or link does not exist,
	// or when a record has been deleted.
	ErrNotFound = errors.New("not found")

	// ErrRejected marks a record that failed verification or validation when
	// read back. Rejected records count as not found.
	ErrRejected = fmt.Errorf("rejected by validation: %w", ErrNotFound)

	// ErrUnreachable is returned by CallRemote when no peer is listening
	// for the target agent.
	ErrUnreachable = errors.New("agent unreachable")
)

// IsNotFound returns true if err reports a missing record or link.
// Redis "key not found" errors (redis.Nil) count as not found too.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil)
}

// IsRejected returns true if err reports a record that failed validation.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// Backend persists records and links. It performs no validation; callers go
// through Ledger, which signs and validates before writing.
type Backend interface {
	// PutRecord stores a record and indexes it under its Prev record as an
	// update or delete.
	PutRecord(ctx context.Context, r *Record) error
	// GetRecord returns a record regardless of delete state.
	GetRecord(ctx context.Context, hash Hash) (*Record, error)
	// GetRecords returns records aligned with hashes; missing entries are nil.
	GetRecords(ctx context.Context, hashes []Hash) ([]*Record, error)
	// Deleted reports, aligned with hashes, whether a delete targets each record.
	Deleted(ctx context.Context, hashes []Hash) ([]bool, error)
	// Updates lists the update records superseding hash, ascending by timestamp.
	Updates(ctx context.Context, hash Hash) ([]Hash, error)
	// Deletes lists the delete records targeting hash, ascending by timestamp.
	Deletes(ctx context.Context, hash Hash) ([]Hash, error)

	PutLink(ctx context.Context, l *Link) error
	GetLink(ctx context.Context, createHash Hash) (*Link, error)
	// ListLinks returns links ascending by timestamp, ties by create hash.
	ListLinks(ctx context.Context, base Hash, linkType LinkType) ([]*Link, error)
	RemoveLink(ctx context.Context, l *Link) error

	Ping(ctx context.Context) error
	Close() error
}

// Call is a remote function invocation delivered to another agent.
// Calls are fire-and-forget: the sender never waits for a reply.
type Call struct {
	ID       string          `json:"id"`      // UUIDv7 correlation ID
	From     Hash            `json:"from"`    // Calling agent
	Function string          `json:"fn"`      // Remote function name
	Payload  json.RawMessage `json:"payload"` // Function argument
	SentAt   Timestamp       `json:"sent_at"` // Sender clock
}

// Transport delivers calls between agents.
type Transport interface {
	// CallRemote delivers call to agent to. It returns ErrUnreachable when
	// nobody is listening for that agent.
	CallRemote(ctx context.Context, to Hash, call *Call) error
	// Listen starts receiving calls addressed to agent.
	Listen(ctx context.Context, agent Hash) (*Inbox, error)
}

// Inbox is an active subscription to an agent's incoming calls.
// Caller must call Close() when done to clean up resources.
type Inbox struct {
	calls  <-chan *Call
	errors <-chan error
	cancel func()
	once   sync.Once
}

// NewInbox wraps channels fed by a transport goroutine. cancel must stop
// that goroutine, which then closes both channels.
func NewInbox(calls <-chan *Call, errs <-chan error, cancel func()) *Inbox {
	return &Inbox{calls: calls, errors: errs, cancel: cancel}
}

// Calls returns the channel of incoming calls.
// The channel is closed when the inbox is closed or the context is cancelled.
func (in *Inbox) Calls() <-chan *Call {
	return in.calls
}

// Errors returns the channel of non-fatal receive errors.
// The inbox keeps running after errors; the offending message is skipped.
func (in *Inbox) Errors() <-chan error {
	return in.errors
}

// Close stops the inbox. Implements io.Closer.
// Safe to call multiple times.
func (in *Inbox) Close() error {
	in.once.Do(in.cancel)
	return nil
}
