package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Text string `json:"text"`
}

// rejectingValidator refuses records whose payload text is "bad", deletes
// and link deletes by anyone but the original author, and links tagged "bad".
type rejectingValidator struct{}

func (rejectingValidator) ValidateRecord(r *Record, prev *Record) error {
	if r.Action == ActionDelete && prev.Author != r.Author {
		return errors.New("only the author may delete a note")
	}
	if r.Action != ActionDelete {
		var n note
		if err := r.Decode(&n); err != nil {
			return err
		}
		if n.Text == "bad" {
			return errors.New("bad note")
		}
	}
	return nil
}

func (rejectingValidator) ValidateLink(l *Link) error {
	if l.Tag == "bad" {
		return errors.New("bad link")
	}
	return l.Validate()
}

func (rejectingValidator) ValidateLinkDelete(l *Link, author Hash) error {
	if l.Author != author {
		return errors.New("only the link author may delete it")
	}
	return nil
}

func setupTestLedger(t *testing.T, seed byte) (*Ledger, *Client) {
	client, _ := setupTestClient(t)
	clock := NewManualClock(time.Unix(1700000000, 0), time.Millisecond)
	return New(client, testIdentity(t, seed), clock, rejectingValidator{}), client
}

func TestLedgerWritePath(t *testing.T) {
	l, _ := setupTestLedger(t, 20)
	ctx := context.Background()

	orig, err := l.Create(ctx, "note", note{Text: "one"})
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, orig.Action)
	assert.Equal(t, l.Agent(), orig.Author)

	t.Run("update inherits entry type", func(t *testing.T) {
		upd, err := l.Update(ctx, orig.Hash, note{Text: "two"})
		require.NoError(t, err)
		assert.Equal(t, EntryType("note"), upd.EntryType)
		assert.Equal(t, orig.Hash, upd.Prev)
		assert.Greater(t, upd.Timestamp, orig.Timestamp)
	})

	t.Run("update of missing record is not found", func(t *testing.T) {
		_, err := l.Update(ctx, "rec:missing", note{Text: "x"})
		assert.True(t, IsNotFound(err))
	})

	t.Run("rejected record is never stored", func(t *testing.T) {
		_, err := l.Create(ctx, "note", note{Text: "bad"})
		assert.ErrorContains(t, err, "bad note")

		details, err := l.GetDetails(ctx, orig.Hash)
		require.NoError(t, err)
		assert.Len(t, details.Updates, 1)
	})

	t.Run("deleted record is hidden from Get but kept in details", func(t *testing.T) {
		victim, err := l.Create(ctx, "note", note{Text: "temp"})
		require.NoError(t, err)
		del, err := l.Delete(ctx, victim.Hash)
		require.NoError(t, err)

		_, err = l.Get(ctx, victim.Hash)
		assert.True(t, IsNotFound(err))

		details, err := l.GetDetails(ctx, victim.Hash)
		require.NoError(t, err)
		assert.True(t, details.Deleted())
		assert.Equal(t, del.Hash, details.Deletes[0].Hash)

		live, err := l.GetMany(ctx, []Hash{victim.Hash, orig.Hash})
		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, orig.Hash, live[0].Hash)
	})
}

func TestLedgerLinks(t *testing.T) {
	client, _ := setupTestClient(t)
	clock := NewManualClock(time.Unix(1700000000, 0), time.Millisecond)
	alice := New(client, testIdentity(t, 21), clock, rejectingValidator{})
	bob := New(client, testIdentity(t, 22), clock, rejectingValidator{})
	ctx := context.Background()
	anchor := AnchorHash("notes")

	first, err := alice.CreateLink(ctx, anchor, "rec:1", "Notes", "")
	require.NoError(t, err)
	_, err = bob.CreateLink(ctx, anchor, "rec:2", "Notes", "tag")
	require.NoError(t, err)

	t.Run("links from different agents share one index", func(t *testing.T) {
		links, err := bob.GetLinks(ctx, anchor, "Notes")
		require.NoError(t, err)
		require.Len(t, links, 2)
		assert.Equal(t, Hash("rec:1"), links[0].Target)
		assert.Equal(t, "tag", links[1].Tag)
	})

	t.Run("only author may delete link", func(t *testing.T) {
		assert.Error(t, bob.DeleteLink(ctx, first.CreateHash))
		require.NoError(t, alice.DeleteLink(ctx, first.CreateHash))

		links, err := alice.GetLinks(ctx, anchor, "Notes")
		require.NoError(t, err)
		assert.Len(t, links, 1)
	})
}

func TestLedgerRevalidatesOnRead(t *testing.T) {
	client, _ := setupTestClient(t)
	clock := NewManualClock(time.Unix(1700000000, 0), time.Millisecond)
	reader := New(client, testIdentity(t, 23), clock, rejectingValidator{})
	forger := New(client, testIdentity(t, 24), clock, AcceptAll{})
	ctx := context.Background()

	good, err := reader.Create(ctx, "note", note{Text: "good"})
	require.NoError(t, err)
	bad, err := forger.Create(ctx, "note", note{Text: "bad"})
	require.NoError(t, err)
	badUpdate, err := forger.Update(ctx, good.Hash, note{Text: "bad"})
	require.NoError(t, err)
	chained, err := forger.Update(ctx, bad.Hash, note{Text: "fine"})
	require.NoError(t, err)

	t.Run("rejected records read as not found", func(t *testing.T) {
		_, err := reader.Get(ctx, bad.Hash)
		assert.True(t, IsRejected(err))
		assert.True(t, IsNotFound(err))

		_, err = reader.Get(ctx, chained.Hash)
		assert.True(t, IsRejected(err), "update of a rejected record is rejected")

		got, err := forger.Get(ctx, bad.Hash)
		require.NoError(t, err)
		assert.Equal(t, bad.Hash, got.Hash)
	})

	t.Run("GetMany and details skip rejected records", func(t *testing.T) {
		live, err := reader.GetMany(ctx, []Hash{bad.Hash, good.Hash, badUpdate.Hash})
		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, good.Hash, live[0].Hash)

		details, err := reader.GetDetails(ctx, good.Hash)
		require.NoError(t, err)
		assert.Empty(t, details.Updates)
	})

	t.Run("rejected delete does not hide its target", func(t *testing.T) {
		_, err := forger.Delete(ctx, good.Hash)
		require.NoError(t, err)

		got, err := reader.Get(ctx, good.Hash)
		require.NoError(t, err)
		assert.Equal(t, good.Hash, got.Hash)

		_, err = forger.Get(ctx, good.Hash)
		assert.True(t, IsNotFound(err))
	})

	t.Run("cannot build on a rejected record", func(t *testing.T) {
		_, err := reader.Update(ctx, bad.Hash, note{Text: "fixed"})
		assert.True(t, IsRejected(err))
	})

	t.Run("rejected links are left out", func(t *testing.T) {
		anchor := AnchorHash("forged")
		_, err := forger.CreateLink(ctx, anchor, good.Hash, "Notes", "bad")
		require.NoError(t, err)
		_, err = reader.CreateLink(ctx, anchor, good.Hash, "Notes", "ok")
		require.NoError(t, err)

		links, err := reader.GetLinks(ctx, anchor, "Notes")
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, "ok", links[0].Tag)

		all, err := forger.GetLinks(ctx, anchor, "Notes")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestLoadOrCreateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "agent.key")

	created, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	loaded, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, created.Agent(), loaded.Agent())
}
