// Package validation holds the pure acceptance rules every peer applies
// before a record or link enters the ledger.
//
// Rules see only the candidate record and, for updates and deletes, the
// record it supersedes. They never read other entities, so a rule like
// "scores reference a finished game" is enforced by the writer, not here.
package validation

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
)

// DefaultMaxSkew is the largest accepted distance between a timestamp
// carried in a payload and the record's own timestamp.
const DefaultMaxSkew = 5 * time.Minute

// Engine implements ledger.Validator for the rally entry and link types.
type Engine struct {
	maxSkew time.Duration
	warn    func(format string, args ...any)
}

var _ ledger.Validator = (*Engine)(nil)

// NewEngine creates an engine with the default clock skew tolerance.
func NewEngine() *Engine {
	return &Engine{
		maxSkew: DefaultMaxSkew,
		warn: func(format string, args ...any) {
			log.Printf("[Validation] [WARN] "+format, args...)
		},
	}
}

// WithWarnFunc replaces the sink for non-fatal warnings.
func (e *Engine) WithWarnFunc(warn func(format string, args ...any)) *Engine {
	e.warn = warn
	return e
}

// ValidateRecord checks integrity first, then the entry type's rules.
func (e *Engine) ValidateRecord(r *ledger.Record, prev *ledger.Record) error {
	if err := r.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedData, "malformed record", err)
	}
	if err := r.Verify(); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedData, "record failed verification", err)
	}

	if r.Action != ledger.ActionCreate {
		if prev == nil || prev.Hash != r.Prev {
			return apperrors.New(apperrors.CodeMalformedData, "superseded record does not match prev")
		}
		if prev.EntryType != r.EntryType {
			return apperrors.New(apperrors.CodeMalformedData,
				fmt.Sprintf("cannot supersede a %s record with a %s record", prev.EntryType, r.EntryType))
		}
		if prev.Action == ledger.ActionDelete {
			return apperrors.New(apperrors.CodeInvalidState, "cannot supersede a delete record")
		}
	}

	switch r.EntryType {
	case model.EntryGame:
		return e.validateGame(r, prev)
	case model.EntryPlayer:
		return e.validatePlayer(r, prev)
	case model.EntryScore:
		return e.validateScore(r)
	case model.EntryStatistics:
		return e.validateStatistics(r)
	case model.EntryPresence:
		return e.validatePresence(r)
	default:
		return apperrors.New(apperrors.CodeMalformedData, fmt.Sprintf("unknown entry type %q", r.EntryType))
	}
}

func (e *Engine) withinSkew(payloadTime, recordTime ledger.Timestamp) bool {
	delta := time.Duration(payloadTime-recordTime) * time.Microsecond
	if delta < 0 {
		delta = -delta
	}
	return delta <= e.maxSkew
}

// decode unmarshals a record payload.
func decode[T any](r *ledger.Record) (*T, error) {
	var v T
	if err := json.Unmarshal(r.Payload, &v); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMalformedData, fmt.Sprintf("invalid %s payload", r.EntryType), err)
	}
	return &v, nil
}

func reject(code apperrors.Code, message string) error {
	return apperrors.New(code, message)
}

// immutable rejects updates and deletes of entry types that never change.
func immutable(r *ledger.Record) error {
	switch r.Action {
	case ledger.ActionUpdate:
		return reject(apperrors.CodeInvalidState, fmt.Sprintf("%s entries cannot be updated", r.EntryType))
	case ledger.ActionDelete:
		return reject(apperrors.CodeInvalidState, fmt.Sprintf("%s entries cannot be deleted", r.EntryType))
	}
	return nil
}
