package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Identity is an agent's signing key.
type Identity struct {
	key   ed25519.PrivateKey
	agent Hash
}

// NewIdentity derives an identity from a 32-byte ed25519 seed.
func NewIdentity(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		key:   key,
		agent: AgentHash(key.Public().(ed25519.PublicKey)),
	}, nil
}

// GenerateIdentity creates a fresh random identity.
func GenerateIdentity() (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate identity seed: %w", err)
	}
	return NewIdentity(seed)
}

// LoadOrCreateIdentity reads the hex-encoded seed at path, generating and
// saving a new one (mode 0600) if the file does not exist.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid key file %s: %w", path, err)
		}
		return NewIdentity(seed)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(id.key.Seed())+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	return id, nil
}

// Agent returns the agent hash of the identity.
func (i *Identity) Agent() Hash {
	return i.agent
}

// Sign signs a digest.
func (i *Identity) Sign(digest []byte) []byte {
	return ed25519.Sign(i.key, digest)
}
