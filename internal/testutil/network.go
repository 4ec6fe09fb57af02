package testutil

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/rally/internal/validation"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Epoch is the start time of every test network clock.
var Epoch = time.Unix(1700000000, 0)

// Network is an isolated rally network for tests: one miniredis server that
// every peer shares, and one manual clock that advances a millisecond per
// record or link so writes have a strict order.
type Network struct {
	T         *testing.T
	Name      string
	Miniredis *miniredis.Miniredis
	Client    *ledger.Client
	Clock     *ledger.ManualClock
}

// NewNetwork starts miniredis and connects a backend to it.
// Everything is cleaned up when the test ends.
func NewNetwork(t *testing.T) *Network {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "test-network")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &Network{
		T:         t,
		Name:      "test-network",
		Miniredis: mr,
		Client:    client,
		Clock:     ledger.NewManualClock(Epoch, time.Millisecond),
	}
}

// Identity returns a deterministic identity derived from seed.
func Identity(t *testing.T, seed byte) *ledger.Identity {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	id, err := ledger.NewIdentity(raw)
	require.NoError(t, err)
	return id
}

// Peer returns a ledger for the agent derived from seed, validated by the
// rally validation engine.
func (n *Network) Peer(seed byte) *ledger.Ledger {
	return n.PeerWith(seed, validation.NewEngine())
}

// PeerWith returns a ledger for the agent derived from seed using validator.
func (n *Network) PeerWith(seed byte, validator ledger.Validator) *ledger.Ledger {
	return ledger.New(n.Client, Identity(n.T, seed), n.Clock, validator)
}
