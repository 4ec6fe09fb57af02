package ledger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between records/links and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). The payload is kept as
// its canonical JSON text so that the content hash can be recomputed byte for
// byte on read. Signatures are base64 encoded.

// RecordToHash converts a Record to a Redis hash format.
func RecordToHash(r *Record) map[string]interface{} {
	return map[string]interface{}{
		"hash":       string(r.Hash),
		"action":     string(r.Action),
		"entry_type": string(r.EntryType),
		"author":     string(r.Author),
		"timestamp":  int64(r.Timestamp),
		"payload":    string(r.Payload),
		"prev":       string(r.Prev),
		"signature":  base64.StdEncoding.EncodeToString(r.Signature),
	}
}

// HashToRecord converts a Redis hash to a Record.
func HashToRecord(hash map[string]string) (*Record, error) {
	ts, err := strconv.ParseInt(hash["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp field: %w", err)
	}

	sig, err := base64.StdEncoding.DecodeString(hash["signature"])
	if err != nil {
		return nil, fmt.Errorf("invalid signature field: %w", err)
	}

	var payload json.RawMessage
	if p := hash["payload"]; p != "" {
		payload = json.RawMessage(p)
	}

	return &Record{
		Hash:      Hash(hash["hash"]),
		Action:    Action(hash["action"]),
		EntryType: EntryType(hash["entry_type"]),
		Author:    Hash(hash["author"]),
		Timestamp: Timestamp(ts),
		Payload:   payload,
		Prev:      Hash(hash["prev"]),
		Signature: sig,
	}, nil
}

// LinkToHash converts a Link to a Redis hash format.
func LinkToHash(l *Link) map[string]interface{} {
	return map[string]interface{}{
		"create_hash": string(l.CreateHash),
		"base":        string(l.Base),
		"target":      string(l.Target),
		"link_type":   string(l.Type),
		"tag":         l.Tag,
		"author":      string(l.Author),
		"timestamp":   int64(l.Timestamp),
	}
}

// HashToLink converts a Redis hash to a Link.
func HashToLink(hash map[string]string) (*Link, error) {
	ts, err := strconv.ParseInt(hash["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp field: %w", err)
	}

	return &Link{
		CreateHash: Hash(hash["create_hash"]),
		Base:       Hash(hash["base"]),
		Target:     Hash(hash["target"]),
		Type:       LinkType(hash["link_type"]),
		Tag:        hash["tag"],
		Author:     Hash(hash["author"]),
		Timestamp:  Timestamp(ts),
	}, nil
}
