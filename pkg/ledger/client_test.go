package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-network")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func sealedRecord(t *testing.T, id *Identity, action Action, prev Hash, ts Timestamp, payload string) *Record {
	t.Helper()
	r := &Record{
		Action:    action,
		EntryType: "game",
		Author:    id.Agent(),
		Timestamp: ts,
		Prev:      prev,
	}
	if payload != "" {
		r.Payload = json.RawMessage(payload)
	}
	require.NoError(t, r.Seal(id))
	return r
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, "test-network", client.Network())
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects empty network name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.ErrorContains(t, err, "network name cannot be empty")
	})
}

func TestClientRecords(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	id := testIdentity(t, 7)

	orig := sealedRecord(t, id, ActionCreate, "", 100, `{"n":1}`)
	upd := sealedRecord(t, id, ActionUpdate, orig.Hash, 200, `{"n":2}`)
	require.NoError(t, client.PutRecord(ctx, orig))
	require.NoError(t, client.PutRecord(ctx, upd))

	t.Run("stores record as hash", func(t *testing.T) {
		assert.True(t, mr.Exists(RecordKey("test-network", orig.Hash)))
		assert.Equal(t, `{"n":1}`, mr.HGet(RecordKey("test-network", orig.Hash), "payload"))
	})

	t.Run("round trips with verifiable content", func(t *testing.T) {
		got, err := client.GetRecord(ctx, orig.Hash)
		require.NoError(t, err)
		assert.Equal(t, orig, got)
		assert.NoError(t, got.Verify())
	})

	t.Run("missing record is not found", func(t *testing.T) {
		_, err := client.GetRecord(ctx, "rec:missing")
		assert.True(t, IsNotFound(err))
	})

	t.Run("batch fetch keeps alignment", func(t *testing.T) {
		got, err := client.GetRecords(ctx, []Hash{upd.Hash, "rec:missing", orig.Hash})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, upd.Hash, got[0].Hash)
		assert.Nil(t, got[1])
		assert.Equal(t, orig.Hash, got[2].Hash)
	})

	t.Run("indexes updates under their predecessor", func(t *testing.T) {
		updates, err := client.Updates(ctx, orig.Hash)
		require.NoError(t, err)
		assert.Equal(t, []Hash{upd.Hash}, updates)
	})

	t.Run("indexes deletes", func(t *testing.T) {
		del := sealedRecord(t, id, ActionDelete, orig.Hash, 300, "")
		require.NoError(t, client.PutRecord(ctx, del))

		deleted, err := client.Deleted(ctx, []Hash{orig.Hash, upd.Hash})
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false}, deleted)

		deletes, err := client.Deletes(ctx, orig.Hash)
		require.NoError(t, err)
		assert.Equal(t, []Hash{del.Hash}, deletes)
	})
}

func TestClientLinks(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	id := testIdentity(t, 8)
	base := AnchorHash("games")

	mk := func(target Hash, ts Timestamp) *Link {
		l := &Link{Base: base, Target: target, Type: "GameIdToGame", Author: id.Agent(), Timestamp: ts}
		require.NoError(t, l.Seal())
		return l
	}

	late := mk("rec:b", 300)
	early := mk("rec:a", 100)
	mid := mk("rec:c", 200)
	for _, l := range []*Link{late, early, mid} {
		require.NoError(t, client.PutLink(ctx, l))
	}

	t.Run("lists ascending by timestamp", func(t *testing.T) {
		links, err := client.ListLinks(ctx, base, "GameIdToGame")
		require.NoError(t, err)
		require.Len(t, links, 3)
		assert.Equal(t, []Hash{"rec:a", "rec:c", "rec:b"}, []Hash{links[0].Target, links[1].Target, links[2].Target})
	})

	t.Run("empty index returns empty slice", func(t *testing.T) {
		links, err := client.ListLinks(ctx, base, "Presence")
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("remove drops index entry and body", func(t *testing.T) {
		require.NoError(t, client.RemoveLink(ctx, mid))
		_, err := client.GetLink(ctx, mid.CreateHash)
		assert.True(t, IsNotFound(err))

		links, err := client.ListLinks(ctx, base, "GameIdToGame")
		require.NoError(t, err)
		assert.Len(t, links, 2)
	})
}

func TestClientCalls(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	alice := testIdentity(t, 9).Agent()
	bob := testIdentity(t, 10).Agent()

	t.Run("call to absent agent is unreachable", func(t *testing.T) {
		err := client.CallRemote(ctx, bob, &Call{ID: "1", From: alice, Function: "ping"})
		assert.True(t, errors.Is(err, ErrUnreachable))
	})

	t.Run("listener receives call", func(t *testing.T) {
		inbox, err := client.Listen(ctx, bob)
		require.NoError(t, err)
		defer inbox.Close()

		call := &Call{ID: "2", From: alice, Function: "receive_remote_signal", Payload: json.RawMessage(`{"type":"BallUpdate"}`), SentAt: 5}
		require.NoError(t, client.CallRemote(ctx, bob, call))

		select {
		case got := <-inbox.Calls():
			assert.Equal(t, call, got)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for call")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		inbox, err := client.Listen(ctx, alice)
		require.NoError(t, err)
		assert.NoError(t, inbox.Close())
		assert.NoError(t, inbox.Close())
	})
}
