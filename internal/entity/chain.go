// Package entity represents logically mutable objects on top of the
// append-only ledger.
//
// An entity is identified by the hash of its original create record. Each
// change is an update record superseding the previous tip, plus an index link
// from the original to the update. The current state is the target of the
// update link with the greatest timestamp; there is no locking, so concurrent
// updates both land and one of them shadows the other for a given reader.
package entity

import (
	"context"
	"fmt"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
)

// Chain manages entities of one entry type.
type Chain struct {
	store     ledger.Store
	entryType ledger.EntryType
	updates   ledger.LinkType
}

// NewChain creates a chain for entryType whose updates are indexed by the
// updates link type. An empty updates type makes a chain of write-once
// entries whose latest state is always the original.
func NewChain(store ledger.Store, entryType ledger.EntryType, updates ledger.LinkType) *Chain {
	return &Chain{store: store, entryType: entryType, updates: updates}
}

// EntryType returns the entry type managed by the chain.
func (c *Chain) EntryType() ledger.EntryType {
	return c.entryType
}

// Create writes the original record of a new entity.
func (c *Chain) Create(ctx context.Context, payload any) (*ledger.Record, error) {
	return c.store.Create(ctx, c.entryType, payload)
}

// Update supersedes previous with payload and links the result from original.
// If the index link fails the update record is already stored; the link
// error is returned so the caller can see the inconsistency.
func (c *Chain) Update(ctx context.Context, original, previous ledger.Hash, payload any) (*ledger.Record, error) {
	rec, err := c.store.Update(ctx, previous, payload)
	if err != nil {
		return nil, apperrors.FromStorage(err, fmt.Sprintf("previous %s record not found", c.entryType))
	}
	if _, err := c.store.CreateLink(ctx, original, rec.Hash, c.updates, ""); err != nil {
		return rec, fmt.Errorf("update %s stored but index link failed: %w", rec.Hash.Short(), err)
	}
	return rec, nil
}

// ResolveOriginal returns the original create record.
func (c *Chain) ResolveOriginal(ctx context.Context, original ledger.Hash) (*ledger.Record, error) {
	rec, err := c.store.Get(ctx, original)
	if err != nil {
		return nil, apperrors.FromStorage(err, fmt.Sprintf("%s not found", c.entryType))
	}
	if rec.EntryType != c.entryType || rec.Action != ledger.ActionCreate {
		return nil, apperrors.New(apperrors.CodeNotFound,
			fmt.Sprintf("%s is not an original %s record", original.Short(), c.entryType))
	}
	return rec, nil
}

// ResolveLatest returns the current state of an entity: the target of the
// update link with the greatest timestamp, or the original record when the
// entity has never been updated. Links whose target cannot be fetched, or
// which the ledger rejects on read, are passed over in favour of the next
// most recent one.
func (c *Chain) ResolveLatest(ctx context.Context, original ledger.Hash) (*ledger.Record, error) {
	orig, err := c.ResolveOriginal(ctx, original)
	if err != nil || c.updates == "" {
		return orig, err
	}

	links, err := c.store.GetLinks(ctx, original, c.updates)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s updates: %w", c.entryType, err)
	}

	for _, link := range SortLatestFirst(links) {
		rec, err := c.store.Get(ctx, link.Target)
		if err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		return rec, nil
	}
	return orig, nil
}

// ResolveAllRevisions returns the original followed by every update in
// ascending link order. Unresolvable and duplicate targets are skipped.
func (c *Chain) ResolveAllRevisions(ctx context.Context, original ledger.Hash) ([]*ledger.Record, error) {
	orig, err := c.ResolveOriginal(ctx, original)
	if err != nil {
		return nil, err
	}
	if c.updates == "" {
		return []*ledger.Record{orig}, nil
	}

	links, err := c.store.GetLinks(ctx, original, c.updates)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s updates: %w", c.entryType, err)
	}

	updates, err := c.store.GetMany(ctx, Targets(links))
	if err != nil {
		return nil, err
	}
	return append([]*ledger.Record{orig}, updates...), nil
}

// Delete writes a delete record for original and then removes the given
// index links. Whether the entity may be deleted is decided by the caller and
// the validator.
func (c *Chain) Delete(ctx context.Context, original ledger.Hash, links ...ledger.Hash) (*ledger.Record, error) {
	rec, err := c.store.Delete(ctx, original)
	if err != nil {
		return nil, apperrors.FromStorage(err, fmt.Sprintf("%s not found", c.entryType))
	}
	for _, l := range links {
		if err := c.store.DeleteLink(ctx, l); err != nil && !ledger.IsNotFound(err) {
			return rec, fmt.Errorf("delete %s stored but removing link %s failed: %w", rec.Hash.Short(), l.Short(), err)
		}
	}
	return rec, nil
}

// Deletes returns every delete record targeting original, oldest first.
func (c *Chain) Deletes(ctx context.Context, original ledger.Hash) ([]*ledger.Record, error) {
	details, err := c.store.GetDetails(ctx, original)
	if err != nil {
		return nil, apperrors.FromStorage(err, fmt.Sprintf("%s not found", c.entryType))
	}
	return details.Deletes, nil
}

// OldestDelete returns the first delete record targeting original.
func (c *Chain) OldestDelete(ctx context.Context, original ledger.Hash) (*ledger.Record, error) {
	deletes, err := c.Deletes(ctx, original)
	if err != nil {
		return nil, err
	}
	if len(deletes) == 0 {
		return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("%s has no deletes", c.entryType))
	}
	oldest := deletes[0]
	for _, d := range deletes[1:] {
		if d.Timestamp < oldest.Timestamp {
			oldest = d
		}
	}
	return oldest, nil
}
