// Package resolver expands abbreviated hashes, as printed by the CLI, back to
// full hashes.
package resolver

import (
	"fmt"
	"strings"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/pkg/ledger"
)

// MinShortIDLength is the minimum number of hex digits after the kind
// prefix. Set to 6 characters to balance usability with collision avoidance.
const MinShortIDLength = 6

// maxListedMatches caps the matches reported in an ambiguity error.
const maxListedMatches = 10

// Resolve expands arg, a full or abbreviated hash of the given kind, against
// candidates.
//
// A full-length hash is returned as-is without consulting candidates, so
// callers still get the store's NOT_FOUND for unknown entries. A prefix must
// match exactly one candidate: no match is NOT_FOUND and several are a
// CONFLICT listing the matches.
func Resolve(arg, kind string, candidates []ledger.Hash) (ledger.Hash, error) {
	arg = strings.TrimSpace(arg)
	prefix := kind + ":"
	if !strings.HasPrefix(arg, prefix) {
		// Bare hex is accepted for convenience
		if strings.Contains(arg, ":") {
			return "", apperrors.New(apperrors.CodeMalformedData, fmt.Sprintf("'%s' is not a %s hash", arg, prefix))
		}
		arg = prefix + arg
	}

	digits := len(arg) - len(prefix)
	if digits == ledger.HashHexLength {
		return ledger.Hash(arg), nil
	}
	if digits < MinShortIDLength {
		return "", apperrors.New(apperrors.CodeMalformedData,
			fmt.Sprintf("short hash must have at least %d hex digits (got %d)", MinShortIDLength, digits))
	}

	var matches []ledger.Hash
	for _, c := range candidates {
		if strings.HasPrefix(string(c), arg) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return "", apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("nothing matches '%s'", arg))
	case 1:
		return matches[0], nil
	default:
		return "", apperrors.WithMetadata(apperrors.CodeConflict,
			fmt.Sprintf("ambiguous short hash '%s' matches %d entries; use a longer prefix", arg, len(matches)),
			map[string]string{"matches": listMatches(matches)})
	}
}

// listMatches joins up to maxListedMatches hashes, then "...and N more".
func listMatches(matches []ledger.Hash) string {
	shown := matches
	if len(shown) > maxListedMatches {
		shown = shown[:maxListedMatches]
	}
	parts := make([]string, len(shown))
	for i, m := range shown {
		parts[i] = m.String()
	}
	out := strings.Join(parts, ", ")
	if len(matches) > maxListedMatches {
		out += fmt.Sprintf(", ...and %d more", len(matches)-maxListedMatches)
	}
	return out
}
