// Package model defines the replicated entry types of a rally network and the
// entry and link type names that index them.
package model

import (
	"fmt"

	"github.com/dyluth/rally/pkg/ledger"
)

// Entry types
const (
	EntryGame       ledger.EntryType = "game"
	EntryPlayer     ledger.EntryType = "player"
	EntryScore      ledger.EntryType = "score"
	EntryStatistics ledger.EntryType = "statistics"
	EntryPresence   ledger.EntryType = "presence"
)

// Link types
const (
	LinkGameIdToGame       ledger.LinkType = "GameIdToGame"       // games anchor -> original game
	LinkPlayer1ToGames     ledger.LinkType = "Player1ToGames"     // player_1 agent -> original game
	LinkPlayer2ToGames     ledger.LinkType = "Player2ToGames"     // player_2 agent -> original game
	LinkGameUpdates        ledger.LinkType = "GameUpdates"        // original game -> game update
	LinkGameToScores       ledger.LinkType = "GameToScores"       // original game -> score
	LinkGameToStatistics   ledger.LinkType = "GameToStatistics"   // original game -> statistics
	LinkPlayerToPlayers    ledger.LinkType = "PlayerToPlayers"    // agent -> original player profile
	LinkPlayerNameToPlayer ledger.LinkType = "PlayerNameToPlayer" // name anchor -> original player profile
	LinkPlayerUpdates      ledger.LinkType = "PlayerUpdates"      // original player -> player update
	LinkPlayerToScores     ledger.LinkType = "PlayerToScores"     // agent -> score
	LinkPresence           ledger.LinkType = "Presence"           // presence anchor -> presence record
	LinkAllPlayersToAgent  ledger.LinkType = "AllPlayersToAgent"  // all_players anchor -> agent
)

// Anchor names
const (
	AnchorGames      = "games"
	AnchorPresence   = "presence"
	AnchorAllPlayers = "all_players"
)

// Board defaults for a new game.
const (
	DefaultPaddle = 250
	DefaultBallX  = 400
	DefaultBallY  = 300
)

// GameStatus is the lifecycle state of a game.
type GameStatus string

const (
	// StatusWaiting means the game is waiting for player 2 to join
	StatusWaiting GameStatus = "Waiting"

	// StatusInProgress means both players are present and the game is running
	StatusInProgress GameStatus = "InProgress"

	// StatusFinished means the game has concluded
	StatusFinished GameStatus = "Finished"
)

// Validate checks if the status is one of the defined values.
func (s GameStatus) Validate() error {
	switch s {
	case StatusWaiting, StatusInProgress, StatusFinished:
		return nil
	default:
		return fmt.Errorf("invalid game status: %q", s)
	}
}

// Game is a match between two agents. The original create record is the
// game's identity; every later state is an update chained from it.
type Game struct {
	Player1       ledger.Hash      `json:"player_1"`
	Player2       *ledger.Hash     `json:"player_2"` // Nil until someone joins
	Status        GameStatus       `json:"game_status"`
	CreatedAt     ledger.Timestamp `json:"created_at"`
	Player1Paddle uint32           `json:"player_1_paddle"` // Informational board state
	Player2Paddle uint32           `json:"player_2_paddle"`
	BallX         uint32           `json:"ball_x"`
	BallY         uint32           `json:"ball_y"`
}

// NewGame returns a Waiting game with the default board.
func NewGame(player1 ledger.Hash, player2 *ledger.Hash, createdAt ledger.Timestamp) Game {
	return Game{
		Player1:       player1,
		Player2:       player2,
		Status:        StatusWaiting,
		CreatedAt:     createdAt,
		Player1Paddle: DefaultPaddle,
		Player2Paddle: DefaultPaddle,
		BallX:         DefaultBallX,
		BallY:         DefaultBallY,
	}
}

// Validate checks field shapes.
func (g *Game) Validate() error {
	if !g.Player1.IsAgent() {
		return fmt.Errorf("player_1 %q is not an agent key", g.Player1)
	}
	if g.Player2 != nil && !g.Player2.IsAgent() {
		return fmt.Errorf("player_2 %q is not an agent key", *g.Player2)
	}
	return g.Status.Validate()
}

// HasPlayer2 reports whether the player_2 slot is filled.
func (g *Game) HasPlayer2() bool {
	return g.Player2 != nil
}

// IsPlayer2 reports whether agent holds the player_2 slot.
func (g *Game) IsPlayer2(agent ledger.Hash) bool {
	return g.Player2 != nil && *g.Player2 == agent
}

// IsParticipant reports whether agent is player 1 or player 2.
func (g *Game) IsParticipant(agent ledger.Hash) bool {
	return g.Player1 == agent || g.IsPlayer2(agent)
}

// Participants returns player 1 and, if present, player 2.
func (g *Game) Participants() []ledger.Hash {
	if g.Player2 == nil {
		return []ledger.Hash{g.Player1}
	}
	return []ledger.Hash{g.Player1, *g.Player2}
}

// SamePositions reports whether the informational board state matches.
func (g *Game) SamePositions(other *Game) bool {
	return g.Player1Paddle == other.Player1Paddle &&
		g.Player2Paddle == other.Player2Paddle &&
		g.BallX == other.BallX &&
		g.BallY == other.BallY
}

// MaxPlayerNameLength is the longest allowed player name after trimming.
const MaxPlayerNameLength = 50

// Player is an agent's public profile.
type Player struct {
	PlayerKey  ledger.Hash `json:"player_key"`
	PlayerName string      `json:"player_name"`
}

// Score is one player's points in one game. Scores are immutable.
type Score struct {
	GameID       ledger.Hash      `json:"game_id"` // Original game record
	Player       ledger.Hash      `json:"player"`
	PlayerPoints uint32           `json:"player_points"`
	CreatedAt    ledger.Timestamp `json:"created_at"`
}

// PointsWarningThreshold is the score above which validation logs a warning.
const PointsWarningThreshold = 100

// Statistics records network measurements for a finished game, in milliseconds.
type Statistics struct {
	GameID              ledger.Hash      `json:"game_id"`
	Timestamp           ledger.Timestamp `json:"timestamp"`
	SignalLatency       uint32           `json:"signal_latency"`
	ScoreValidationTime uint32           `json:"score_validation_time"`
	DHTResponseTime     uint32           `json:"dht_response_time"`
	NetworkDelay        uint32           `json:"network_delay"`
}

// Sanity maxima for statistics, in milliseconds. Exceeding them only warns.
const (
	MaxSignalLatency       = 30000
	MaxScoreValidationTime = 60000
	MaxDHTResponseTime     = 60000
	MaxNetworkDelay        = 30000
)

// Presence is a heartbeat announcing that an agent is online.
type Presence struct {
	Agent     ledger.Hash `json:"agent_pubkey"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds
}
