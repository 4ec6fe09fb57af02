package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Validator decides whether records and links may enter the ledger.
// Implementations must be pure: they see only the candidate and, for updates
// and deletes, the record it supersedes, which the ledger fetches beforehand.
//
// The ledger runs the validator on its own writes and again on every record
// and link it reads back, so entries written by a peer with a weaker
// validator never become visible.
type Validator interface {
	ValidateRecord(r *Record, prev *Record) error
	ValidateLink(l *Link) error
	ValidateLinkDelete(l *Link, author Hash) error
}

// AcceptAll is a Validator that accepts everything structurally sound.
type AcceptAll struct{}

// ValidateRecord implements Validator.
func (AcceptAll) ValidateRecord(r *Record, _ *Record) error { return r.Validate() }

// ValidateLink implements Validator.
func (AcceptAll) ValidateLink(l *Link) error { return l.Validate() }

// ValidateLinkDelete implements Validator.
func (AcceptAll) ValidateLinkDelete(*Link, Hash) error { return nil }

// Store is the ledger contract seen by one agent.
type Store interface {
	Agent() Hash
	Now() Timestamp

	Create(ctx context.Context, entryType EntryType, payload any) (*Record, error)
	Update(ctx context.Context, prev Hash, payload any) (*Record, error)
	Delete(ctx context.Context, target Hash) (*Record, error)
	Get(ctx context.Context, hash Hash) (*Record, error)
	GetMany(ctx context.Context, hashes []Hash) ([]*Record, error)
	GetDetails(ctx context.Context, hash Hash) (*Details, error)

	CreateLink(ctx context.Context, base, target Hash, linkType LinkType, tag string) (*Link, error)
	GetLinks(ctx context.Context, base Hash, linkType LinkType) ([]*Link, error)
	DeleteLink(ctx context.Context, createHash Hash) error
}

// Ledger is one agent's view of a shared backend.
// Several Ledgers with different identities may share one Backend.
type Ledger struct {
	backend   Backend
	id        *Identity
	clock     Clock
	validator Validator

	// verdicts caches validation results by record hash. Records are
	// immutable, so a verdict never changes.
	verdicts sync.Map
}

type verdict struct {
	err error
}

var _ Store = (*Ledger)(nil)

// New creates a Ledger. A nil clock uses the system clock; a nil validator
// accepts any structurally valid record.
func New(backend Backend, id *Identity, clock Clock, validator Validator) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	if validator == nil {
		validator = AcceptAll{}
	}
	return &Ledger{backend: backend, id: id, clock: clock, validator: validator}
}

// Agent returns the agent this ledger writes as.
func (l *Ledger) Agent() Hash {
	return l.id.Agent()
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() Timestamp {
	return l.clock.Now()
}

// Backend returns the underlying persistence backend.
func (l *Ledger) Backend() Backend {
	return l.backend
}

// Create signs, validates and stores a new entry.
func (l *Ledger) Create(ctx context.Context, entryType EntryType, payload any) (*Record, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	r := &Record{
		Action:    ActionCreate,
		EntryType: entryType,
		Author:    l.id.Agent(),
		Timestamp: l.clock.Now(),
		Payload:   data,
	}
	if err := l.commit(ctx, r, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// Update supersedes prev with a new payload of the same entry type.
// Returns ErrNotFound if prev does not exist.
func (l *Ledger) Update(ctx context.Context, prev Hash, payload any) (*Record, error) {
	prevRec, err := l.backend.GetRecord(ctx, prev)
	if err == nil {
		err = l.admit(ctx, prevRec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record to update: %w", err)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	r := &Record{
		Action:    ActionUpdate,
		EntryType: prevRec.EntryType,
		Author:    l.id.Agent(),
		Timestamp: l.clock.Now(),
		Payload:   data,
		Prev:      prev,
	}
	if err := l.commit(ctx, r, prevRec); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete marks target as deleted.
func (l *Ledger) Delete(ctx context.Context, target Hash) (*Record, error) {
	targetRec, err := l.backend.GetRecord(ctx, target)
	if err == nil {
		err = l.admit(ctx, targetRec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record to delete: %w", err)
	}

	r := &Record{
		Action:    ActionDelete,
		EntryType: targetRec.EntryType,
		Author:    l.id.Agent(),
		Timestamp: l.clock.Now(),
		Prev:      target,
	}
	if err := l.commit(ctx, r, targetRec); err != nil {
		return nil, err
	}
	return r, nil
}

func (l *Ledger) commit(ctx context.Context, r *Record, prev *Record) error {
	if err := r.Seal(l.id); err != nil {
		return fmt.Errorf("failed to seal record: %w", err)
	}
	if err := l.validator.ValidateRecord(r, prev); err != nil {
		return err
	}
	if err := l.backend.PutRecord(ctx, r); err != nil {
		return err
	}
	l.verdicts.Store(r.Hash, verdict{})
	return nil
}

// admit verifies and validates a record read from the backend. For updates
// and deletes the superseded record is fetched and must itself be admitted.
// The returned error wraps ErrRejected when the record is invalid; other
// errors are backend failures and are not cached.
func (l *Ledger) admit(ctx context.Context, r *Record) error {
	if v, ok := l.verdicts.Load(r.Hash); ok {
		return v.(verdict).err
	}
	if err := r.Verify(); err != nil {
		return l.remember(r.Hash, fmt.Errorf("record %s failed verification: %v: %w", r.Hash.Short(), err, ErrRejected))
	}

	var prev *Record
	if r.Action != ActionCreate {
		p, err := l.backend.GetRecord(ctx, r.Prev)
		switch {
		case IsNotFound(err):
			// Not cached: the superseded record may still arrive.
			return fmt.Errorf("record %s supersedes missing %s: %w", r.Hash.Short(), r.Prev.Short(), ErrRejected)
		case err != nil:
			return err
		}
		if err := l.admit(ctx, p); err != nil {
			if !IsRejected(err) {
				return err
			}
			return l.remember(r.Hash, fmt.Errorf("record %s supersedes rejected %s: %w", r.Hash.Short(), r.Prev.Short(), ErrRejected))
		}
		prev = p
	}

	if err := l.validator.ValidateRecord(r, prev); err != nil {
		return l.remember(r.Hash, fmt.Errorf("record %s: %v: %w", r.Hash.Short(), err, ErrRejected))
	}
	return l.remember(r.Hash, nil)
}

func (l *Ledger) remember(hash Hash, err error) error {
	l.verdicts.Store(hash, verdict{err: err})
	return err
}

// deleted reports whether an admitted delete record targets hash.
func (l *Ledger) deleted(ctx context.Context, hash Hash) (bool, error) {
	deletes, err := l.fetchIndexed(ctx, l.backend.Deletes, hash)
	if err != nil {
		return false, err
	}
	return len(deletes) > 0, nil
}

// Get returns a live record. Deleted records are reported as not found.
// Records that fail verification or validation are reported as rejected, which
// also counts as not found.
func (l *Ledger) Get(ctx context.Context, hash Hash) (*Record, error) {
	r, err := l.backend.GetRecord(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := l.admit(ctx, r); err != nil {
		return nil, err
	}
	marked, err := l.backend.Deleted(ctx, []Hash{hash})
	if err != nil {
		return nil, err
	}
	if marked[0] {
		deleted, err := l.deleted(ctx, hash)
		if err != nil {
			return nil, err
		}
		if deleted {
			return nil, fmt.Errorf("record %s is deleted: %w", hash.Short(), ErrNotFound)
		}
	}
	return r, nil
}

// GetMany returns the live, admitted records among hashes, preserving order.
// Missing, deleted and rejected records are skipped.
func (l *Ledger) GetMany(ctx context.Context, hashes []Hash) ([]*Record, error) {
	records, err := l.backend.GetRecords(ctx, hashes)
	if err != nil {
		return nil, err
	}
	marked, err := l.backend.Deleted(ctx, hashes)
	if err != nil {
		return nil, err
	}

	live := make([]*Record, 0, len(records))
	for i, r := range records {
		if r == nil {
			continue
		}
		if err := l.admit(ctx, r); err != nil {
			if IsRejected(err) {
				continue
			}
			return nil, err
		}
		if marked[i] {
			deleted, err := l.deleted(ctx, r.Hash)
			if err != nil {
				return nil, err
			}
			if deleted {
				continue
			}
		}
		live = append(live, r)
	}
	return live, nil
}

// GetDetails returns a record with its admitted update and delete history.
// Deleted records are still returned here.
func (l *Ledger) GetDetails(ctx context.Context, hash Hash) (*Details, error) {
	r, err := l.backend.GetRecord(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := l.admit(ctx, r); err != nil {
		return nil, err
	}

	updates, err := l.fetchIndexed(ctx, l.backend.Updates, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read updates: %w", err)
	}
	deletes, err := l.fetchIndexed(ctx, l.backend.Deletes, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read deletes: %w", err)
	}

	return &Details{Record: r, Updates: updates, Deletes: deletes}, nil
}

func (l *Ledger) fetchIndexed(ctx context.Context, index func(context.Context, Hash) ([]Hash, error), hash Hash) ([]*Record, error) {
	hashes, err := index(ctx, hash)
	if err != nil {
		return nil, err
	}
	records, err := l.backend.GetRecords(ctx, hashes)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		if err := l.admit(ctx, r); err != nil {
			if IsRejected(err) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// CreateLink writes a validated index link authored by this agent.
func (l *Ledger) CreateLink(ctx context.Context, base, target Hash, linkType LinkType, tag string) (*Link, error) {
	link := &Link{
		Base:      base,
		Target:    target,
		Type:      linkType,
		Tag:       tag,
		Author:    l.id.Agent(),
		Timestamp: l.clock.Now(),
	}
	if err := link.Seal(); err != nil {
		return nil, err
	}
	if err := l.validator.ValidateLink(link); err != nil {
		return nil, err
	}
	if err := l.backend.PutLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// GetLinks returns the links of a base and type in ascending timestamp order.
// Links the validator rejects are left out.
func (l *Ledger) GetLinks(ctx context.Context, base Hash, linkType LinkType) ([]*Link, error) {
	links, err := l.backend.ListLinks(ctx, base, linkType)
	if err != nil {
		return nil, err
	}
	valid := links[:0]
	for _, link := range links {
		if l.validator.ValidateLink(link) == nil {
			valid = append(valid, link)
		}
	}
	return valid, nil
}

// DeleteLink removes a link from the index after validating that this agent
// may remove it.
func (l *Ledger) DeleteLink(ctx context.Context, createHash Hash) error {
	link, err := l.backend.GetLink(ctx, createHash)
	if err != nil {
		return fmt.Errorf("failed to fetch link to delete: %w", err)
	}
	if err := l.validator.ValidateLinkDelete(link, l.id.Agent()); err != nil {
		return err
	}
	return l.backend.RemoveLink(ctx, link)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}
