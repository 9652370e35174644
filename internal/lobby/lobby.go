// internal/lobby/lobby.go

// Package lobby owns the authoritative in-memory lobby state: the code->Lobby
// registry, player membership, multi-socket session tracking, the credential
// collection window, and redacted broadcast of state to clients.
package lobby

import (
	"fmt"
	"sync"
	"time"

	"laststand/internal/models"
)

// Lobby is one active game instance. All mutable fields are guarded by Mu;
// methods with the Unsafe suffix assume the caller holds it.
type Lobby struct {
	Code string

	// Players in join order. Order matters: credential collection prefers
	// earlier players (captain always first).
	Players []*models.Player

	Phase    models.LobbyPhase
	Settings models.Settings

	Scenario         *models.Scenario
	ScenarioImageURL string
	ScenarioAudioURL string
	RoundResult      *models.RoundResult
	ResultsRevealed  bool

	// Per-round collected credentials. Never serialized to clients.
	PrimaryKeys   []string
	SecondaryKeys []string

	// PlayerSecrets maps player id -> private twist text. Delivered by
	// unicast only.
	PlayerSecrets map[string]string

	// Epoch increments on every game start and reset. Async work captures
	// it at launch and re-validates before applying results, so a stale
	// generation response cannot resurrect a finished round.
	Epoch int

	// RoundTimer is the armed player-input countdown, nil outside PlayerInput.
	RoundTimer *time.Timer

	collection *CollectWindow
	sessions   map[string]map[*Session]struct{}

	Mu sync.Mutex
}

func newLobby(code string, captain *models.Player, settings models.Settings) *Lobby {
	captain.Rank = models.RankCaptain
	captain.Status = models.StatusWaiting
	return &Lobby{
		Code:          code,
		Players:       []*models.Player{captain},
		Phase:         models.PhaseWaitingRoom,
		Settings:      settings,
		PlayerSecrets: map[string]string{},
		sessions:      map[string]map[*Session]struct{}{},
	}
}

// PlayerByIDUnsafe returns the player with the given id, or nil.
func (l *Lobby) PlayerByIDUnsafe(id string) *models.Player {
	for _, p := range l.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// CaptainUnsafe returns the lobby's captain. Exactly one always exists.
func (l *Lobby) CaptainUnsafe() *models.Player {
	for _, p := range l.Players {
		if p.Rank == models.RankCaptain {
			return p
		}
	}
	return nil
}

// IsCaptainUnsafe reports whether id belongs to the captain. Evaluated at
// call time, never cached.
func (l *Lobby) IsCaptainUnsafe(id string) bool {
	c := l.CaptainUnsafe()
	return c != nil && c.ID == id
}

// IsMemberUnsafe reports whether id belongs to any player in the lobby.
func (l *Lobby) IsMemberUnsafe(id string) bool {
	return l.PlayerByIDUnsafe(id) != nil
}

// AddSessionUnsafe attaches a transport session to its player and marks the
// player online.
func (l *Lobby) AddSessionUnsafe(s *Session) {
	set, ok := l.sessions[s.PlayerID]
	if !ok {
		set = map[*Session]struct{}{}
		l.sessions[s.PlayerID] = set
	}
	set[s] = struct{}{}
	if p := l.PlayerByIDUnsafe(s.PlayerID); p != nil {
		p.Online = true
	}
}

// RemoveSession detaches a session. When it was the player's last one the
// player flips offline (the player entry itself is never removed). Reports
// whether the player just went offline. Acquires the lock.
func (l *Lobby) RemoveSession(s *Session) bool {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	return l.RemoveSessionUnsafe(s)
}

// RemoveSessionUnsafe is RemoveSession for callers already holding the lock.
func (l *Lobby) RemoveSessionUnsafe(s *Session) bool {
	set, ok := l.sessions[s.PlayerID]
	if !ok {
		return false
	}
	delete(set, s)
	if len(set) > 0 {
		return false
	}
	delete(l.sessions, s.PlayerID)
	if p := l.PlayerByIDUnsafe(s.PlayerID); p != nil && p.Online {
		p.Online = false
		return true
	}
	return false
}

// OnlineCountUnsafe counts players with at least one active session.
func (l *Lobby) OnlineCountUnsafe() int {
	n := 0
	for _, p := range l.Players {
		if p.Online {
			n++
		}
	}
	return n
}

// BroadcastUnsafe fans an event out to every session in the lobby room.
// Sends happen under the lobby lock into per-session buffered queues, so
// broadcast order always matches mutation order.
func (l *Lobby) BroadcastUnsafe(ev Event) {
	for _, p := range l.Players {
		for s := range l.sessions[p.ID] {
			s.Write(ev)
		}
	}
}

// EmitToPlayerUnsafe sends an event to one player's sessions only.
func (l *Lobby) EmitToPlayerUnsafe(playerID string, ev Event) {
	for s := range l.sessions[playerID] {
		s.Write(ev)
	}
}

// EmitErrorUnsafe broadcasts a typed error event to the room.
func (l *Lobby) EmitErrorUnsafe(code, message string) {
	l.BroadcastUnsafe(Event{
		"type":      "error",
		"errorCode": code,
		"message":   message,
	})
}

// EmitUpdateUnsafe broadcasts the redacted lobby state to the room.
func (l *Lobby) EmitUpdateUnsafe() {
	l.BroadcastUnsafe(Event{
		"type":  "game_state",
		"lobby": l.StatePayloadUnsafe(),
	})
}

// StatePayloadUnsafe builds the client-safe projection of the lobby. It
// must never include credential lists or scenario GM notes.
func (l *Lobby) StatePayloadUnsafe() map[string]interface{} {
	players := make([]map[string]interface{}, 0, len(l.Players))
	for _, p := range l.Players {
		players = append(players, map[string]interface{}{
			"id":              p.ID,
			"name":            p.Name,
			"avatarUrl":       p.AvatarURL,
			"rank":            p.Rank,
			"roundStatus":     p.Status,
			"actionText":      p.Action,
			"online":          p.Online,
			"credentialCount": p.CredentialCount,
		})
	}

	payload := map[string]interface{}{
		"code":            l.Code,
		"phase":           l.Phase,
		"settings":        l.Settings,
		"players":         players,
		"resultsRevealed": l.ResultsRevealed,
	}
	if l.Scenario != nil {
		// Narrative only; GM notes stay server-side.
		payload["scenario"] = map[string]interface{}{"narrative": l.Scenario.Narrative}
	}
	if l.ScenarioImageURL != "" {
		payload["scenarioImage"] = l.ScenarioImageURL
	}
	if l.ScenarioAudioURL != "" {
		payload["scenarioAudio"] = l.ScenarioAudioURL
	}
	if l.RoundResult != nil {
		payload["roundResult"] = l.RoundResult
	}
	return payload
}

// StopRoundTimerUnsafe cancels a pending input countdown, if any.
func (l *Lobby) StopRoundTimerUnsafe() {
	if l.RoundTimer != nil {
		l.RoundTimer.Stop()
		l.RoundTimer = nil
	}
}

// CollectWindow is an open credential-collection round: a bounded wait for
// every online player to submit their keys.
type CollectWindow struct {
	Expected int
	entries  map[string]models.ProvidedKeys

	// Done is closed the instant the Expected-th submission arrives, so
	// waiters wake immediately instead of polling.
	Done   chan struct{}
	closed bool
}

// OpenCollectionUnsafe opens a collection window for the given number of
// expected submissions. Only one window may be open per lobby: a concurrent
// opener must abort rather than interleave.
func (l *Lobby) OpenCollectionUnsafe(expected int) (*CollectWindow, error) {
	if l.collection != nil {
		return nil, fmt.Errorf("a credential collection is already in progress for lobby %s", l.Code)
	}
	w := &CollectWindow{
		Expected: expected,
		entries:  map[string]models.ProvidedKeys{},
		Done:     make(chan struct{}),
	}
	l.collection = w
	return w, nil
}

// CollectionOpenUnsafe reports whether a window is currently open.
func (l *Lobby) CollectionOpenUnsafe() bool {
	return l.collection != nil
}

// SubmitKeysUnsafe records one player's submission into the open window.
// Submissions outside a window, from non-members, or after quorum are
// dropped. Also refreshes the player's public credential count.
func (l *Lobby) SubmitKeysUnsafe(playerID string, keys models.ProvidedKeys) bool {
	p := l.PlayerByIDUnsafe(playerID)
	if p == nil {
		return false
	}
	p.CredentialCount = keys.Count()

	w := l.collection
	if w == nil || w.closed {
		return false
	}
	w.entries[playerID] = keys
	if len(w.entries) >= w.Expected {
		w.closed = true
		close(w.Done)
	}
	return true
}

// AbortCollectionUnsafe tears down an open window without collecting,
// waking any waiter. Used by reset racing an in-flight start.
func (l *Lobby) AbortCollectionUnsafe() {
	w := l.collection
	if w == nil {
		return
	}
	l.collection = nil
	if !w.closed {
		w.closed = true
		close(w.Done)
	}
}

// CloseCollectionUnsafe shuts the window and partitions the collected
// entries into ordered primary/secondary key lists: captain's keys first,
// then the rest in player join order.
func (l *Lobby) CloseCollectionUnsafe(w *CollectWindow) (primary, secondary []string) {
	if l.collection == w {
		l.collection = nil
	}
	w.closed = true

	ordered := make([]*models.Player, 0, len(l.Players))
	if c := l.CaptainUnsafe(); c != nil {
		ordered = append(ordered, c)
	}
	for _, p := range l.Players {
		if p.Rank != models.RankCaptain {
			ordered = append(ordered, p)
		}
	}
	for _, p := range ordered {
		keys, ok := w.entries[p.ID]
		if !ok {
			continue
		}
		if keys.Primary != "" {
			primary = append(primary, keys.Primary)
		}
		if keys.Secondary != "" {
			secondary = append(secondary, keys.Secondary)
		}
	}
	return primary, secondary
}
