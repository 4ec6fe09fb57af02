package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Hash is a kind-prefixed address in the ledger.
// The prefix tells record hashes, agent keys, anchors and link hashes apart.
type Hash string

// Hash kinds
const (
	KindRecord = "rec"
	KindAgent  = "agt"
	KindAnchor = "anc"
	KindLink   = "lnk"
)

// HashHexLength is the number of hex digits after the prefix of a record,
// anchor or link hash.
const HashHexLength = sha256.Size * 2

// Kind returns the prefix of the hash, or "" if it has none.
func (h Hash) Kind() string {
	kind, _, ok := strings.Cut(string(h), ":")
	if !ok {
		return ""
	}
	return kind
}

// IsRecord reports whether h addresses a record.
func (h Hash) IsRecord() bool { return h.Kind() == KindRecord }

// IsAgent reports whether h is an agent public key.
func (h Hash) IsAgent() bool { return h.Kind() == KindAgent }

// IsAnchor reports whether h addresses an anchor.
func (h Hash) IsAnchor() bool { return h.Kind() == KindAnchor }

// String implements fmt.Stringer.
func (h Hash) String() string { return string(h) }

// Short returns an abbreviated form for display.
func (h Hash) Short() string {
	s := string(h)
	if len(s) <= 16 {
		return s
	}
	return s[:16]
}

// AgentHash returns the agent address of an ed25519 public key.
func AgentHash(pub ed25519.PublicKey) Hash {
	return Hash(KindAgent + ":" + base64.RawURLEncoding.EncodeToString(pub))
}

// PublicKey decodes the ed25519 public key carried by an agent hash.
func (h Hash) PublicKey() (ed25519.PublicKey, error) {
	if !h.IsAgent() {
		return nil, fmt.Errorf("hash %q is not an agent key", h)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(string(h), KindAgent+":"))
	if err != nil {
		return nil, fmt.Errorf("invalid agent key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid agent key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// AnchorHash returns the address of a named anchor.
// Anchors are well-known bases that any peer can compute from the name alone.
func AnchorHash(name string) Hash {
	sum := sha256.Sum256([]byte("anchor:" + name))
	return Hash(KindAnchor + ":" + hex.EncodeToString(sum[:]))
}

// Action is the kind of change a record makes.
type Action string

const (
	// ActionCreate introduces a new entry
	ActionCreate Action = "Create"

	// ActionUpdate supersedes an existing record with a new payload
	ActionUpdate Action = "Update"

	// ActionDelete marks an existing record as deleted
	ActionDelete Action = "Delete"
)

// Validate checks if the action is one of the defined values.
func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return nil
	default:
		return fmt.Errorf("invalid action: %q", a)
	}
}

// EntryType names the application type carried in a record payload.
type EntryType string

// LinkType names the relationship an index link expresses.
type LinkType string

// Record is an immutable, signed action in the ledger.
type Record struct {
	Hash      Hash            `json:"hash"`              // Content address, KindRecord
	Action    Action          `json:"action"`            // Create, Update or Delete
	EntryType EntryType       `json:"entry_type"`        // Application entry type
	Author    Hash            `json:"author"`            // Agent that signed the record
	Timestamp Timestamp       `json:"timestamp"`         // Author's clock, microseconds
	Payload   json.RawMessage `json:"payload,omitempty"` // Canonical JSON of the entry, empty for deletes
	Prev      Hash            `json:"prev,omitempty"`    // Superseded record for updates and deletes
	Signature []byte          `json:"signature"`         // ed25519 signature over the content digest
}

// recordContent is the hashed portion of a record.
type recordContent struct {
	Action    Action          `json:"action"`
	EntryType EntryType       `json:"entry_type"`
	Author    Hash            `json:"author"`
	Timestamp Timestamp       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Prev      Hash            `json:"prev,omitempty"`
}

// Digest returns the SHA-256 of the record's canonical content encoding.
func (r *Record) Digest() ([]byte, error) {
	content, err := json.Marshal(recordContent{
		Action:    r.Action,
		EntryType: r.EntryType,
		Author:    r.Author,
		Timestamp: r.Timestamp,
		Payload:   r.Payload,
		Prev:      r.Prev,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record content: %w", err)
	}
	sum := sha256.Sum256(content)
	return sum[:], nil
}

// Seal computes the content hash and signs the record with id.
func (r *Record) Seal(id *Identity) error {
	digest, err := r.Digest()
	if err != nil {
		return err
	}
	r.Hash = Hash(KindRecord + ":" + hex.EncodeToString(digest))
	r.Signature = id.Sign(digest)
	return nil
}

// Verify checks that the hash matches the content and that the signature
// was produced by the author.
func (r *Record) Verify() error {
	digest, err := r.Digest()
	if err != nil {
		return err
	}
	if want := Hash(KindRecord + ":" + hex.EncodeToString(digest)); r.Hash != want {
		return fmt.Errorf("record hash %s does not match content", r.Hash.Short())
	}
	pub, err := r.Author.PublicKey()
	if err != nil {
		return fmt.Errorf("invalid record author: %w", err)
	}
	if !ed25519.Verify(pub, digest, r.Signature) {
		return fmt.Errorf("record %s has an invalid signature", r.Hash.Short())
	}
	return nil
}

// Validate checks the structural shape of the record.
// It does not verify the hash or signature, see Verify.
func (r *Record) Validate() error {
	if !r.Hash.IsRecord() {
		return fmt.Errorf("record hash %q is not a record hash", r.Hash)
	}
	if err := r.Action.Validate(); err != nil {
		return err
	}
	if r.EntryType == "" {
		return fmt.Errorf("entry_type is required")
	}
	if !r.Author.IsAgent() {
		return fmt.Errorf("author %q is not an agent key", r.Author)
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}
	switch r.Action {
	case ActionCreate:
		if r.Prev != "" {
			return fmt.Errorf("create records must not reference a previous record")
		}
		if len(r.Payload) == 0 {
			return fmt.Errorf("create records require a payload")
		}
	case ActionUpdate:
		if !r.Prev.IsRecord() {
			return fmt.Errorf("update records must reference a previous record")
		}
		if len(r.Payload) == 0 {
			return fmt.Errorf("update records require a payload")
		}
	case ActionDelete:
		if !r.Prev.IsRecord() {
			return fmt.Errorf("delete records must reference the deleted record")
		}
	}
	return nil
}

// Decode unmarshals the record payload into v.
func (r *Record) Decode(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("record %s has no payload", r.Hash.Short())
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", r.EntryType, err)
	}
	return nil
}

// Link is an index entry from a base to a target.
type Link struct {
	CreateHash Hash      `json:"create_hash"` // Content address of the link, KindLink
	Base       Hash      `json:"base"`        // Record, agent or anchor the link hangs from
	Target     Hash      `json:"target"`      // Linked record or agent
	Type       LinkType  `json:"link_type"`   // Relationship
	Tag        string    `json:"tag,omitempty"`
	Author     Hash      `json:"author"`    // Agent that wrote the link
	Timestamp  Timestamp `json:"timestamp"` // Author's clock, microseconds
}

// Seal computes the link create hash from its content.
func (l *Link) Seal() error {
	content, err := json.Marshal(struct {
		Base      Hash      `json:"base"`
		Target    Hash      `json:"target"`
		Type      LinkType  `json:"link_type"`
		Tag       string    `json:"tag,omitempty"`
		Author    Hash      `json:"author"`
		Timestamp Timestamp `json:"timestamp"`
	}{l.Base, l.Target, l.Type, l.Tag, l.Author, l.Timestamp})
	if err != nil {
		return fmt.Errorf("failed to encode link content: %w", err)
	}
	sum := sha256.Sum256(content)
	l.CreateHash = Hash(KindLink + ":" + hex.EncodeToString(sum[:]))
	return nil
}

// Validate checks the structural shape of the link.
func (l *Link) Validate() error {
	if l.CreateHash.Kind() != KindLink {
		return fmt.Errorf("link create hash %q is not a link hash", l.CreateHash)
	}
	if l.Base == "" {
		return fmt.Errorf("link base is required")
	}
	if l.Target == "" {
		return fmt.Errorf("link target is required")
	}
	if l.Type == "" {
		return fmt.Errorf("link type is required")
	}
	if !l.Author.IsAgent() {
		return fmt.Errorf("link author %q is not an agent key", l.Author)
	}
	return nil
}

// Details is the full history view of a record.
// Unlike Get, it is returned for deleted records too.
type Details struct {
	Record  *Record   `json:"record"`
	Updates []*Record `json:"updates"` // Records that superseded this one, ascending timestamp
	Deletes []*Record `json:"deletes"` // Delete records targeting this one, ascending timestamp
}

// Deleted reports whether any delete record targets the record.
func (d *Details) Deleted() bool {
	return len(d.Deletes) > 0
}
