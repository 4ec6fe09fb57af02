package entity

import (
	"context"
	"fmt"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
)

// Revision is one decoded record of an entity.
type Revision[T any] struct {
	Hash      ledger.Hash      `json:"hash"`
	Author    ledger.Hash      `json:"author"`
	Timestamp ledger.Timestamp `json:"timestamp"`
	Value     T                `json:"value"`
}

// Decode converts a record into a typed revision.
func Decode[T any](r *ledger.Record) (*Revision[T], error) {
	var v T
	if err := r.Decode(&v); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedData, fmt.Sprintf("record %s", r.Hash.Short()), err)
	}
	return &Revision[T]{Hash: r.Hash, Author: r.Author, Timestamp: r.Timestamp, Value: v}, nil
}

// DecodeAll decodes records, skipping any that fail to decode.
func DecodeAll[T any](records []*ledger.Record) []*Revision[T] {
	out := make([]*Revision[T], 0, len(records))
	for _, r := range records {
		rev, err := Decode[T](r)
		if err != nil {
			continue
		}
		out = append(out, rev)
	}
	return out
}

// Latest resolves and decodes the current state of an entity.
func Latest[T any](ctx context.Context, c *Chain, original ledger.Hash) (*Revision[T], error) {
	rec, err := c.ResolveLatest(ctx, original)
	if err != nil {
		return nil, err
	}
	return Decode[T](rec)
}

// Original resolves and decodes the original state of an entity.
func Original[T any](ctx context.Context, c *Chain, original ledger.Hash) (*Revision[T], error) {
	rec, err := c.ResolveOriginal(ctx, original)
	if err != nil {
		return nil, err
	}
	return Decode[T](rec)
}

// History resolves and decodes every revision of an entity.
func History[T any](ctx context.Context, c *Chain, original ledger.Hash) ([]*Revision[T], error) {
	records, err := c.ResolveAllRevisions(ctx, original)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](records), nil
}
