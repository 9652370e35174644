// internal/engine/engine.go

// Package engine drives lobbies through the round state machine: phase
// transitions, credential collection, generative calls in order, and
// mutation of authoritative lobby state. Phase guards are applied
// synchronously under the lobby lock before any asynchronous work begins;
// async completions re-validate the lobby epoch before applying results.
package engine

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"laststand/internal/cache"
	"laststand/internal/genai"
	"laststand/internal/lobby"
	"laststand/internal/models"
)

// Generator is the slice of the generative task client the engine needs.
type Generator interface {
	ValidateKey(ctx context.Context, key string) (bool, error)
	GenerateScenario(ctx context.Context, keys []string, req genai.ScenarioRequest) (*models.Scenario, error)
	GenerateSecrets(ctx context.Context, keys []string, req genai.SecretsRequest) (map[string]string, error)
	CheckInjection(ctx context.Context, keys []string, action string) (bool, error)
	// JudgeRound never fails; it falls back to a safe outcome internally.
	JudgeRound(ctx context.Context, keys []string, req genai.JudgeRequest) *models.RoundResult
}

// MediaService is the slice of the media pipeline the engine needs.
type MediaService interface {
	ImageFromPrompt(ctx context.Context, keys []string, prompt string) (string, error)
	VoiceFromText(ctx context.Context, keys []string, text string) (string, error)
	QuotaFor(ctx context.Context, key string) (int64, error)
}

// Engine owns no lobby state itself; everything lives on the lobbies in Store.
type Engine struct {
	Store *lobby.Store
	Gen   Generator
	Media MediaService

	// History, when non-nil, receives a record of every resolved round.
	History *cache.Publisher

	// StartCollectTimeout bounds the key-collection window at game start.
	StartCollectTimeout time.Duration
	// UsageCollectTimeout bounds the window for usage aggregation queries.
	UsageCollectTimeout time.Duration
	// TimeScale converts settings.TimeLimitSeconds into a timer duration.
	// Production: one second. Tests shrink it.
	TimeScale time.Duration

	// PickTwist rolls the per-round private twist. Swappable in tests.
	PickTwist func(players []genai.RosterEntry) *genai.SecretsRequest
}

// New builds an Engine with production timings.
func New(store *lobby.Store, gen Generator, media MediaService) *Engine {
	return &Engine{
		Store:               store,
		Gen:                 gen,
		Media:               media,
		StartCollectTimeout: 5 * time.Second,
		UsageCollectTimeout: 3 * time.Second,
		TimeScale:           time.Second,
		PickTwist:           genai.PickTwist,
	}
}

// CreateLobby validates the settings patch and registers a new lobby with
// the creator as captain.
func (e *Engine) CreateLobby(player *models.Player, patch models.SettingsPatch) (*lobby.Lobby, error) {
	settings := models.DefaultSettings()
	if err := settings.Apply(patch); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return e.Store.CreateLobby(player, settings), nil
}

// Join adds a player to a waiting-room lobby. A player id already present is
// a reconnect: display fields refresh in any phase and no duplicate entry is
// added.
func (e *Engine) Join(code string, player *models.Player) (*lobby.Lobby, error) {
	l, ok := e.Store.Get(code)
	if !ok {
		return nil, fmt.Errorf("lobby %s not found", code)
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()

	if existing := l.PlayerByIDUnsafe(player.ID); existing != nil {
		existing.Name = player.Name
		existing.AvatarURL = player.AvatarURL
		l.EmitUpdateUnsafe()
		return l, nil
	}
	if l.Phase != models.PhaseWaitingRoom {
		return nil, fmt.Errorf("lobby %s is already in game", code)
	}
	player.Rank = models.RankPlayer
	player.Status = models.StatusWaiting
	l.Players = append(l.Players, player)
	l.EmitUpdateUnsafe()
	return l, nil
}

// UpdateSettings applies a captain's validated settings patch.
func (e *Engine) UpdateSettings(code, callerID string, patch models.SettingsPatch) error {
	l, ok := e.Store.Get(code)
	if !ok {
		return fmt.Errorf("lobby %s not found", code)
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if !l.IsCaptainUnsafe(callerID) {
		return fmt.Errorf("only the captain can change settings")
	}
	if err := l.Settings.Apply(patch); err != nil {
		return err
	}
	l.EmitUpdateUnsafe()
	return nil
}

// ProvideKeys records a player's submission into the lobby's open collection
// window. Submissions with no window open are dropped silently: the window
// closed before they arrived.
func (e *Engine) ProvideKeys(code, playerID string, keys models.ProvidedKeys) error {
	l, ok := e.Store.Get(code)
	if !ok {
		return fmt.Errorf("lobby %s not found", code)
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if !l.IsMemberUnsafe(playerID) {
		return fmt.Errorf("player %s is not a member of lobby %s", playerID, code)
	}
	l.SubmitKeysUnsafe(playerID, keys)
	l.EmitUpdateUnsafe() // credential counts changed
	return nil
}

// Disconnect deregisters a session; when it was the player's last one the
// room learns the player went offline.
func (e *Engine) Disconnect(code string, s *lobby.Session) {
	l, ok := e.Store.Get(code)
	if !ok {
		return
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if l.RemoveSessionUnsafe(s) {
		l.EmitUpdateUnsafe()
	}
}

// rosterUnsafe snapshots player identities for prompt building.
func rosterUnsafe(l *lobby.Lobby) []genai.RosterEntry {
	roster := make([]genai.RosterEntry, 0, len(l.Players))
	for _, p := range l.Players {
		roster = append(roster, genai.RosterEntry{ID: p.ID, Name: p.Name})
	}
	return roster
}

// waitWindow blocks until the window reaches quorum or the timeout elapses,
// whichever comes first.
func (e *Engine) waitWindow(w *lobby.CollectWindow, timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.Done:
	case <-t.C:
	}
}

func logStale(code string, op string) {
	log.WithFields(log.Fields{"lobby": code, "op": op}).
		Info("engine: discarding stale async result")
}
