package coordinator

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/dyluth/rally/internal/errors"
	"github.com/dyluth/rally/internal/relay"
	"github.com/dyluth/rally/internal/testutil"
	"github.com/dyluth/rally/pkg/ledger"
	"github.com/dyluth/rally/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, net *testutil.Network, seed byte) *Service {
	t.Helper()
	return New(net.Peer(seed), net.Client, Options{Network: net.Name, CallTimeout: time.Second})
}

// newPlayer returns a service whose agent has registered a profile.
func newPlayer(t *testing.T, net *testutil.Network, seed byte, name string) *Service {
	t.Helper()
	svc := newService(t, net, seed)
	_, err := svc.CreatePlayer(context.Background(), model.Player{PlayerName: name})
	require.NoError(t, err)
	return svc
}

func assertCode(t *testing.T, want apperrors.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, apperrors.CodeOf(err), "unexpected error: %v", err)
}

func TestGameLifecycleScenario(t *testing.T) {
	net := testutil.NewNetwork(t)
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")
	ctx := context.Background()

	adaInbox, err := net.Client.Listen(ctx, ada.Agent())
	require.NoError(t, err)
	defer adaInbox.Close()

	created, err := ada.CreateGame(ctx, ada.Agent(), nil)
	require.NoError(t, err)
	game := created.ID
	assert.Equal(t, model.StatusWaiting, created.Latest.Value.Status)
	assert.Nil(t, created.Latest.Value.Player2)

	joined, err := bob.JoinGame(ctx, game)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, joined.Latest.Value.Status)
	require.NotNil(t, joined.Latest.Value.Player2)
	assert.Equal(t, bob.Agent(), *joined.Latest.Value.Player2)

	updates, err := net.Client.ListLinks(ctx, game, model.LinkGameUpdates)
	require.NoError(t, err)
	assert.Len(t, updates, 1)
	p2Games, err := ada.GetGamesForPlayer2(ctx, bob.Agent())
	require.NoError(t, err)
	assert.Equal(t, []ledger.Hash{game}, p2Games)

	bob.Relay().Wait()
	select {
	case call := <-adaInbox.Calls():
		assert.Equal(t, relay.FunctionReceiveSignal, call.Function)
		sig, err := relay.DecodeSignal(call.Payload)
		require.NoError(t, err)
		assert.Equal(t, relay.KindGameStarted, sig.Type)
		assert.Equal(t, game, sig.GameID)
	case <-time.After(2 * time.Second):
		t.Fatal("join notification not delivered to player 1")
	}

	latest, err := ada.GetLatestGame(ctx, game)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, latest.Latest.Value.Status)

	_, err = ada.FinishGame(ctx, game)
	require.NoError(t, err)

	_, err = ada.CreateScore(ctx, game, ada.Agent(), 11)
	require.NoError(t, err)
	_, err = bob.CreateScore(ctx, game, bob.Agent(), 7)
	require.NoError(t, err)

	scores, err := bob.GetScoresForGame(ctx, game)
	require.NoError(t, err)
	assert.Len(t, scores, 2)

	history, err := ada.GetAllRevisionsForGame(ctx, game)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.StatusWaiting, history[0].Value.Status)
	assert.Equal(t, model.StatusFinished, history[2].Value.Status)

	board, err := ada.GetLeaderboardData(ctx)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "ada", board[0].PlayerName)
	assert.Equal(t, 1, board[0].Wins)
	assert.Equal(t, uint64(11), board[0].TotalPoints)
	assert.Equal(t, 1, board[1].GamesPlayed)
	assert.Equal(t, 0, board[1].Wins)
}

func TestCreatePlayer(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "Ada")

	t.Run("name lookup is case-insensitive", func(t *testing.T) {
		got, err := ada.GetPlayerByName(ctx, "  ADA ")
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.Latest.Value.PlayerName)
	})

	t.Run("second profile for the same agent", func(t *testing.T) {
		_, err := ada.CreatePlayer(ctx, model.Player{PlayerName: "other"})
		assertCode(t, apperrors.CodeConflict, err)
	})

	t.Run("name taken by another agent", func(t *testing.T) {
		bob := newService(t, net, 2)
		_, err := bob.CreatePlayer(ctx, model.Player{PlayerName: "ada"})
		assertCode(t, apperrors.CodeConflict, err)
	})

	t.Run("blank name", func(t *testing.T) {
		bob := newService(t, net, 2)
		_, err := bob.CreatePlayer(ctx, model.Player{PlayerName: "   "})
		assertCode(t, apperrors.CodeMalformedData, err)
	})

	t.Run("profile for someone else", func(t *testing.T) {
		bob := newService(t, net, 2)
		_, err := bob.CreatePlayer(ctx, model.Player{PlayerKey: ada.Agent(), PlayerName: "imposter"})
		assertCode(t, apperrors.CodeUnauthorized, err)
	})
}

func TestUpdateAndDeletePlayer(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")

	profile, err := ada.GetProfile(ctx, ada.Agent())
	require.NoError(t, err)

	_, err = ada.UpdatePlayer(ctx, profile.ID, "", model.Player{PlayerName: "bob"})
	assertCode(t, apperrors.CodeConflict, err)

	_, err = bob.UpdatePlayer(ctx, profile.ID, "", model.Player{PlayerName: "mallory"})
	assertCode(t, apperrors.CodeUnauthorized, err)

	renamed, err := ada.UpdatePlayer(ctx, profile.ID, "", model.Player{PlayerName: "lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "lovelace", renamed.Latest.Value.PlayerName)

	_, err = ada.GetPlayerByName(ctx, "ada")
	assertCode(t, apperrors.CodeNotFound, err)
	byName, err := bob.GetPlayerByName(ctx, "lovelace")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, byName.ID)

	revisions, err := ada.GetAllRevisionsForPlayer(ctx, profile.ID)
	require.NoError(t, err)
	assert.Len(t, revisions, 2)

	original, err := ada.GetOriginalPlayer(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", original.Value.PlayerName)

	delHash, err := ada.DeletePlayer(ctx, profile.ID)
	require.NoError(t, err)

	_, err = ada.GetProfile(ctx, ada.Agent())
	assertCode(t, apperrors.CodeNotFound, err)
	_, err = bob.GetPlayerByName(ctx, "lovelace")
	assertCode(t, apperrors.CodeNotFound, err)

	oldest, err := ada.GetOldestDeleteForPlayer(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, delHash, oldest.Hash)

	players, err := bob.GetAllPlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Hash{bob.Agent()}, players)
}

func TestJoinGameRules(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")
	cat := newPlayer(t, net, 3, "cat")

	created, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)
	game := created.ID

	t.Run("player 1 cannot join own game", func(t *testing.T) {
		_, err := ada.JoinGame(ctx, game)
		assertCode(t, apperrors.CodeInvalidState, err)
	})

	t.Run("agent without profile", func(t *testing.T) {
		stranger := newService(t, net, 9)
		_, err := stranger.JoinGame(ctx, game)
		assertCode(t, apperrors.CodeNotFound, err)
	})

	_, err = bob.JoinGame(ctx, game)
	require.NoError(t, err)

	t.Run("game already started", func(t *testing.T) {
		_, err := cat.JoinGame(ctx, game)
		assertCode(t, apperrors.CodeInvalidState, err)
	})

	t.Run("player already in an ongoing game", func(t *testing.T) {
		other, err := cat.CreateGame(ctx, "", nil)
		require.NoError(t, err)
		_, err = bob.JoinGame(ctx, other.ID)
		assertCode(t, apperrors.CodeConflict, err)
	})

	t.Run("creating while in an ongoing game", func(t *testing.T) {
		_, err := ada.CreateGame(ctx, "", nil)
		assertCode(t, apperrors.CodeConflict, err)
	})

	t.Run("unknown game", func(t *testing.T) {
		_, err := cat.JoinGame(ctx, "rec:missing")
		assertCode(t, apperrors.CodeNotFound, err)
	})

	status, err := cat.GetPlayerStatus(ctx, bob.Agent())
	require.NoError(t, err)
	assert.Equal(t, StatusInGame, status)
	status, err = ada.GetPlayerStatus(ctx, cat.Agent())
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, status)
}

func TestCreateGameRules(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")
	cat := newPlayer(t, net, 3, "cat")

	t.Run("outsider cannot create for others", func(t *testing.T) {
		bobAgent := bob.Agent()
		_, err := cat.CreateGame(ctx, ada.Agent(), &bobAgent)
		assertCode(t, apperrors.CodeUnauthorized, err)
	})

	t.Run("same agent twice", func(t *testing.T) {
		adaAgent := ada.Agent()
		_, err := ada.CreateGame(ctx, adaAgent, &adaAgent)
		assertCode(t, apperrors.CodeConflict, err)
	})

	t.Run("invited player without profile", func(t *testing.T) {
		stranger := newService(t, net, 9).Agent()
		_, err := ada.CreateGame(ctx, ada.Agent(), &stranger)
		assertCode(t, apperrors.CodeNotFound, err)
	})

	t.Run("named player 2 is indexed and can accept", func(t *testing.T) {
		bobAgent := bob.Agent()
		created, err := ada.CreateGame(ctx, ada.Agent(), &bobAgent)
		require.NoError(t, err)

		invited, err := bob.GetGamesForPlayer2(ctx, bobAgent)
		require.NoError(t, err)
		assert.Contains(t, invited, created.ID)

		accepted, err := bob.AcceptInvitation(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInProgress, accepted.Latest.Value.Status)

		mine, err := ada.GetGamesForPlayer1(ctx, ada.Agent())
		require.NoError(t, err)
		assert.Contains(t, mine, created.ID)
	})
}

func TestDeleteGame(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")
	cat := newPlayer(t, net, 3, "cat")

	waiting, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)

	_, err = cat.DeleteGame(ctx, waiting.ID)
	assertCode(t, apperrors.CodeUnauthorized, err)

	delHash, err := ada.DeleteGame(ctx, waiting.ID)
	require.NoError(t, err)

	games, err := bob.GetAllGames(ctx)
	require.NoError(t, err)
	assert.Empty(t, games)
	_, err = bob.GetLatestGame(ctx, waiting.ID)
	assertCode(t, apperrors.CodeNotFound, err)

	deletes, err := ada.GetAllDeletesForGame(ctx, waiting.ID)
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.Equal(t, delHash, deletes[0].Hash)

	started, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)
	_, err = bob.JoinGame(ctx, started.ID)
	require.NoError(t, err)

	_, err = ada.DeleteGame(ctx, started.ID)
	assertCode(t, apperrors.CodeInvalidState, err)

	games, err = cat.GetAllGames(ctx)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, started.ID, games[0].ID)
}

func TestJoinConflicts(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")
	cat := newPlayer(t, net, 3, "cat")

	created, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)
	game := created.ID

	// cat saw the game as Waiting and joins from the original record
	// after bob's join already landed.
	_, err = bob.JoinGame(ctx, game)
	require.NoError(t, err)

	catAgent := cat.Agent()
	stale := created.Latest.Value
	stale.Player2 = &catAgent
	stale.Status = model.StatusInProgress
	_, err = cat.UpdateGame(ctx, game, game, stale)
	require.NoError(t, err)

	joiners, err := ada.GetJoinConflicts(ctx, game)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ledger.Hash{bob.Agent(), catAgent}, joiners)

	latest, err := ada.GetLatestGame(ctx, game)
	require.NoError(t, err)
	assert.Equal(t, catAgent, *latest.Latest.Value.Player2, "later join shadows the earlier one")
}

func TestUpdateGameRejectsIllegalTransitions(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	newPlayer(t, net, 2, "bob")

	created, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)

	finished := created.Latest.Value
	finished.Status = model.StatusFinished
	_, err = ada.UpdateGame(ctx, created.ID, "", finished)
	assertCode(t, apperrors.CodeInvalidState, err)

	moved := created.Latest.Value
	moved.BallX = 1
	_, err = ada.UpdateGame(ctx, created.ID, "", moved)
	assertCode(t, apperrors.CodeInvalidState, err)
}

func TestCreateScoreRules(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")
	cat := newPlayer(t, net, 3, "cat")

	created, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)
	game := created.ID
	_, err = bob.JoinGame(ctx, game)
	require.NoError(t, err)

	_, err = ada.CreateScore(ctx, game, ada.Agent(), 3)
	assertCode(t, apperrors.CodeInvalidState, err)

	_, err = ada.FinishGame(ctx, game)
	require.NoError(t, err)

	_, err = ada.CreateScore(ctx, game, cat.Agent(), 3)
	assertCode(t, apperrors.CodeUnauthorized, err)

	_, err = ada.CreateScore(ctx, "rec:unlisted", ada.Agent(), 3)
	assertCode(t, apperrors.CodeNotFound, err)

	score, err := ada.CreateScore(ctx, game, ada.Agent(), 3)
	require.NoError(t, err)
	assert.Equal(t, game, score.Value.GameID)

	mine, err := cat.GetScoresForPlayer(ctx, ada.Agent())
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, uint32(3), mine[0].Value.PlayerPoints)

	t.Run("score getters resolve the immutable record", func(t *testing.T) {
		latest, err := cat.GetLatestScore(ctx, score.Hash)
		require.NoError(t, err)
		assert.Equal(t, score.Hash, latest.Hash)
		assert.Equal(t, ada.Agent(), latest.Author)

		original, err := cat.GetOriginalScore(ctx, score.Hash)
		require.NoError(t, err)
		assert.Equal(t, latest, original)

		revisions, err := cat.GetAllRevisionsForScore(ctx, score.Hash)
		require.NoError(t, err)
		require.Len(t, revisions, 1)
		assert.Equal(t, score.Hash, revisions[0].Hash)

		deletes, err := cat.GetAllDeletesForScore(ctx, score.Hash)
		require.NoError(t, err)
		assert.Empty(t, deletes)
		_, err = cat.GetOldestDeleteForScore(ctx, score.Hash)
		assertCode(t, apperrors.CodeNotFound, err)

		_, err = cat.GetLatestScore(ctx, game)
		assertCode(t, apperrors.CodeNotFound, err)
	})
}

func TestStatistics(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")
	cat := newPlayer(t, net, 3, "cat")

	created, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)
	game := created.ID
	_, err = bob.JoinGame(ctx, game)
	require.NoError(t, err)

	_, err = ada.CreateStatistics(ctx, model.Statistics{GameID: game})
	assertCode(t, apperrors.CodeInvalidState, err)

	_, err = ada.FinishGame(ctx, game)
	require.NoError(t, err)

	_, err = cat.CreateStatistics(ctx, model.Statistics{GameID: game})
	assertCode(t, apperrors.CodeUnauthorized, err)

	// Latency observed from incoming signals backs an unset signal_latency
	sentAt := net.Clock.Peek()
	net.Clock.Advance(40 * time.Millisecond)
	require.NoError(t, ada.Relay().Receive(relay.Signal{Type: relay.KindPaddleUpdate, GameID: game, SentAt: sentAt}))

	stats, err := ada.CreateStatistics(ctx, model.Statistics{GameID: game, NetworkDelay: 12})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Value.SignalLatency, uint32(40))
	assert.Equal(t, uint32(12), stats.Value.NetworkDelay)

	listed, err := bob.GetStatisticsForGame(ctx, game)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, stats.Hash, listed[0].Hash)

	t.Run("statistics getters resolve the immutable record", func(t *testing.T) {
		latest, err := bob.GetLatestStatistics(ctx, stats.Hash)
		require.NoError(t, err)
		assert.Equal(t, uint32(12), latest.Value.NetworkDelay)

		original, err := bob.GetOriginalStatistics(ctx, stats.Hash)
		require.NoError(t, err)
		assert.Equal(t, latest, original)

		revisions, err := bob.GetAllRevisionsForStatistics(ctx, stats.Hash)
		require.NoError(t, err)
		assert.Len(t, revisions, 1)

		deletes, err := bob.GetAllDeletesForStatistics(ctx, stats.Hash)
		require.NoError(t, err)
		assert.Empty(t, deletes)
		_, err = bob.GetOldestDeleteForStatistics(ctx, stats.Hash)
		assertCode(t, apperrors.CodeNotFound, err)

		_, err = bob.GetLatestStatistics(ctx, game)
		assertCode(t, apperrors.CodeNotFound, err)
	})
}

func TestPresenceAndChat(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")

	_, err := ada.PublishPresence(ctx)
	require.NoError(t, err)
	_, err = bob.PublishPresence(ctx)
	require.NoError(t, err)

	online, err := ada.GetOnlineUsers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ledger.Hash{ada.Agent(), bob.Agent()}, online)

	bobInbox, err := net.Client.Listen(ctx, bob.Agent())
	require.NoError(t, err)
	defer bobInbox.Close()
	adaLocal := ada.Relay().Bus().Subscribe()
	defer ada.Relay().Bus().Unsubscribe(adaLocal)

	require.NoError(t, ada.SendGlobalChatMessage(ctx, "  gg  "))
	ada.Relay().Wait()

	select {
	case sig := <-adaLocal:
		assert.Equal(t, relay.KindGlobalChatMessage, sig.Type)
		assert.Equal(t, "gg", sig.Content)
	case <-time.After(time.Second):
		t.Fatal("chat not emitted locally")
	}

	select {
	case call := <-bobInbox.Calls():
		require.NoError(t, bob.ReceiveRemoteSignal(call))
	case <-time.After(2 * time.Second):
		t.Fatal("chat not delivered")
	}

	err = ada.SendGlobalChatMessage(ctx, " ")
	assertCode(t, apperrors.CodeMalformedData, err)

	net.Clock.Advance(31 * time.Second)
	online, err = ada.GetOnlineUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestRealtimeSignals(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")
	cat := newPlayer(t, net, 3, "cat")

	created, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)
	game := created.ID

	catInbox, err := net.Client.Listen(ctx, cat.Agent())
	require.NoError(t, err)
	defer catInbox.Close()

	t.Run("invitation reaches the invitee and the sender's bus", func(t *testing.T) {
		local := ada.Relay().Bus().Subscribe()
		defer ada.Relay().Bus().Unsubscribe(local)

		require.NoError(t, ada.SendInvitation(ctx, game, cat.Agent(), "fancy a game?"))
		ada.Relay().Wait()

		select {
		case call := <-catInbox.Calls():
			sig, err := relay.DecodeSignal(call.Payload)
			require.NoError(t, err)
			assert.Equal(t, relay.KindGameInvitation, sig.Type)
			assert.Equal(t, ada.Agent(), sig.Inviter)
		case <-time.After(2 * time.Second):
			t.Fatal("invitation not delivered")
		}
		select {
		case sig := <-local:
			assert.Equal(t, relay.KindGameInvitation, sig.Type)
			assert.Equal(t, ada.Agent(), sig.Inviter)
			assert.Equal(t, "fancy a game?", sig.Message)
		case <-time.After(time.Second):
			t.Fatal("invitation not emitted locally")
		}
	})

	t.Run("outsider cannot invite", func(t *testing.T) {
		err := bob.SendInvitation(ctx, game, cat.Agent(), "")
		assertCode(t, apperrors.CodeUnauthorized, err)
	})

	_, err = bob.JoinGame(ctx, game)
	require.NoError(t, err)

	bobInbox, err := net.Client.Listen(ctx, bob.Agent())
	require.NoError(t, err)
	defer bobInbox.Close()
	bobLocal := bob.Relay().Bus().Subscribe()
	defer bob.Relay().Bus().Unsubscribe(bobLocal)

	require.NoError(t, ada.SendPaddleUpdate(ctx, game, 120))
	ada.Relay().Wait()

	select {
	case call := <-bobInbox.Calls():
		require.NoError(t, bob.ReceiveRemoteSignal(call))
	case <-time.After(2 * time.Second):
		t.Fatal("paddle update not delivered")
	}
	select {
	case sig := <-bobLocal:
		assert.Equal(t, relay.KindPaddleUpdate, sig.Type)
		assert.Equal(t, ada.Agent(), sig.Player)
		assert.Equal(t, uint32(120), sig.PaddleY)
		assert.NotZero(t, sig.SentAt)
	case <-time.After(time.Second):
		t.Fatal("paddle update not emitted on receiver bus")
	}
	assert.Equal(t, 1, bob.Relay().Latency().Stats(relay.KindPaddleUpdate).Count)

	t.Run("abandonment is not echoed locally", func(t *testing.T) {
		local := ada.Relay().Bus().Subscribe()
		defer ada.Relay().Bus().Unsubscribe(local)
		require.NoError(t, ada.SendGameAbandoned(ctx, game))
		ada.Relay().Wait()
		assert.Empty(t, local)
	})

	t.Run("other kinds go through", func(t *testing.T) {
		require.NoError(t, ada.SendBallUpdate(ctx, game, 10, 20, 1, -1))
		require.NoError(t, ada.SendScoreUpdate(ctx, game, 1, 0))
		winner := ada.Agent()
		require.NoError(t, ada.SendGameOver(ctx, game, &winner, 11, 7))
		ada.Relay().Wait()
	})

	t.Run("unknown game", func(t *testing.T) {
		err := ada.SendPaddleUpdate(ctx, "rec:missing", 1)
		assertCode(t, apperrors.CodeNotFound, err)
	})
}

func TestReadersIgnoreEntriesThatFailValidation(t *testing.T) {
	net := testutil.NewNetwork(t)
	ctx := context.Background()
	ada := newPlayer(t, net, 1, "ada")
	bob := newPlayer(t, net, 2, "bob")

	// mallory shares the backend but writes without the rally rules
	mallory := net.PeerWith(9, ledger.AcceptAll{})

	created, err := ada.CreateGame(ctx, "", nil)
	require.NoError(t, err)
	game := created.ID

	t.Run("illegal update is not the latest state", func(t *testing.T) {
		forged := created.Latest.Value
		forged.Player1 = mallory.Agent()
		forged.Status = model.StatusFinished
		rec, err := mallory.Update(ctx, game, forged)
		require.NoError(t, err)
		_, err = mallory.CreateLink(ctx, game, rec.Hash, model.LinkGameUpdates, "")
		require.NoError(t, err)

		latest, err := bob.GetLatestGame(ctx, game)
		require.NoError(t, err)
		assert.Equal(t, ada.Agent(), latest.Latest.Value.Player1)
		assert.Equal(t, model.StatusWaiting, latest.Latest.Value.Status)

		history, err := bob.GetAllRevisionsForGame(ctx, game)
		require.NoError(t, err)
		assert.Len(t, history, 1)

		_, err = bob.CreateScore(ctx, game, mallory.Agent(), 11)
		assertCode(t, apperrors.CodeUnauthorized, err)
	})

	t.Run("delete by an outsider does not hide the game", func(t *testing.T) {
		_, err := mallory.Delete(ctx, game)
		require.NoError(t, err)

		games, err := bob.GetAllGames(ctx)
		require.NoError(t, err)
		require.Len(t, games, 1)
		assert.Equal(t, game, games[0].ID)

		deletes, err := bob.GetAllDeletesForGame(ctx, game)
		require.NoError(t, err)
		assert.Empty(t, deletes)
	})

	t.Run("updates built on a rejected record are rejected too", func(t *testing.T) {
		links, err := net.Client.ListLinks(ctx, game, model.LinkGameUpdates)
		require.NoError(t, err)
		require.Len(t, links, 1)

		next := created.Latest.Value
		next.Player1 = mallory.Agent()
		next.Status = model.StatusFinished
		rec, err := mallory.Update(ctx, links[0].Target, next)
		require.NoError(t, err)
		_, err = mallory.CreateLink(ctx, game, rec.Hash, model.LinkGameUpdates, "")
		require.NoError(t, err)

		latest, err := bob.GetLatestGame(ctx, game)
		require.NoError(t, err)
		assert.Equal(t, model.StatusWaiting, latest.Latest.Value.Status)
	})

	t.Run("profile link authored for another agent is ignored", func(t *testing.T) {
		profile, err := mallory.Create(ctx, model.EntryPlayer, model.Player{PlayerName: "ada", PlayerKey: mallory.Agent()})
		require.NoError(t, err)
		_, err = mallory.CreateLink(ctx, ada.Agent(), profile.Hash, model.LinkPlayerToPlayers, "")
		require.NoError(t, err)

		links, err := bob.GetPlayerProfileForAgent(ctx, ada.Agent())
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, ada.Agent(), links[0].Author)

		got, err := bob.GetProfile(ctx, ada.Agent())
		require.NoError(t, err)
		assert.Equal(t, ada.Agent(), got.Latest.Value.PlayerKey)
	})
}
