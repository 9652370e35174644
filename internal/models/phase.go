// internal/models/phase.go
package models

// LobbyPhase is the lobby's position in the game state machine. Transitions
// are owned exclusively by the engine.
type LobbyPhase string

const (
	PhaseWaitingRoom LobbyPhase = "waiting_room"
	PhaseStarting    LobbyPhase = "starting"
	PhaseScenario    LobbyPhase = "scenario_generation"
	PhasePlayerInput LobbyPhase = "player_input"
	PhaseJudging     LobbyPhase = "judging"
	PhaseResults     LobbyPhase = "results"
)

// RoundStatus is a player's per-round state: waiting for input, input
// locked in, then the outcome.
type RoundStatus string

const (
	StatusWaiting RoundStatus = "waiting"
	StatusReady   RoundStatus = "ready"
	StatusAlive   RoundStatus = "alive"
	StatusDead    RoundStatus = "dead"
)

// PlayerRank distinguishes the lobby captain from ordinary players.
type PlayerRank string

const (
	RankCaptain PlayerRank = "captain"
	RankPlayer  PlayerRank = "player"
)
