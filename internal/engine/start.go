// internal/engine/start.go
package engine

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"laststand/internal/genai"
	"laststand/internal/lobby"
	"laststand/internal/models"
)

// StartGame begins the start sequence for a lobby. The phase check-and-set
// happens synchronously under the lock before any broadcast or await, so a
// second concurrent start (or a start racing a reset) sees Starting and is
// rejected as a no-op. Everything after the guard runs asynchronously.
func (e *Engine) StartGame(code, callerID string) error {
	l, ok := e.Store.Get(code)
	if !ok {
		return fmt.Errorf("lobby %s not found", code)
	}
	l.Mu.Lock()
	if !l.IsCaptainUnsafe(callerID) {
		l.Mu.Unlock()
		return fmt.Errorf("only the captain can start the game")
	}
	if l.Phase != models.PhaseWaitingRoom {
		// Duplicate/concurrent start: deliberate silent no-op.
		l.Mu.Unlock()
		return nil
	}
	l.Phase = models.PhaseStarting
	l.Epoch++
	epoch := l.Epoch

	w, err := l.OpenCollectionUnsafe(l.OnlineCountUnsafe())
	if err != nil {
		l.Phase = models.PhaseWaitingRoom
		l.Mu.Unlock()
		return err
	}
	l.EmitUpdateUnsafe()
	l.BroadcastUnsafe(lobby.Event{"type": "request_keys"})
	l.Mu.Unlock()

	go e.runStartSequence(l, w, epoch)
	return nil
}

// runStartSequence performs the awaitable part of startGame: key collection,
// scenario generation, scenario media, then the first round. Every failure
// reverts the lobby to WaitingRoom with an error event; the lobby is never
// left stuck in a transient phase.
func (e *Engine) runStartSequence(l *lobby.Lobby, w *lobby.CollectWindow, epoch int) {
	ctx := context.Background()
	e.waitWindow(w, e.StartCollectTimeout)

	l.Mu.Lock()
	primary, secondary := l.CloseCollectionUnsafe(w)
	if l.Epoch != epoch || l.Phase != models.PhaseStarting {
		logStale(l.Code, "start")
		l.Mu.Unlock()
		return
	}
	if len(primary) == 0 {
		l.Phase = models.PhaseWaitingRoom
		l.EmitErrorUnsafe(models.ErrCodeMissingAPIKey, "no API key was provided by any player")
		l.EmitUpdateUnsafe()
		l.Mu.Unlock()
		return
	}
	l.PrimaryKeys = primary
	l.SecondaryKeys = secondary
	l.Phase = models.PhaseScenario
	roster := rosterUnsafe(l)
	settings := l.Settings
	l.EmitUpdateUnsafe()
	l.Mu.Unlock()

	scenario, err := e.Gen.GenerateScenario(ctx, primary, genai.ScenarioRequest{
		Players:  roster,
		Settings: settings,
	})
	if err != nil {
		log.WithField("lobby", l.Code).Errorf("engine: scenario generation failed: %v", err)
		e.revertToWaiting(l, epoch)
		return
	}

	// Scenario media is best-effort: an empty secondary pool or a provider
	// failure skips the asset with a warning and never blocks progression.
	var imageURL, audioURL string
	if settings.Mode != models.ModeText {
		if len(secondary) == 0 {
			log.WithField("lobby", l.Code).Warn("engine: no secondary keys, skipping scenario image")
		} else if imageURL, err = e.Media.ImageFromPrompt(ctx, secondary, scenario.Narrative); err != nil {
			log.WithField("lobby", l.Code).Warnf("engine: scenario image failed: %v", err)
			imageURL = ""
		}
	}
	if settings.VoiceEnabled {
		if len(secondary) == 0 {
			log.WithField("lobby", l.Code).Warn("engine: no secondary keys, skipping scenario voice")
		} else if audioURL, err = e.Media.VoiceFromText(ctx, secondary, scenario.Narrative); err != nil {
			log.WithField("lobby", l.Code).Warnf("engine: scenario voice failed: %v", err)
			audioURL = ""
		}
	}

	l.Mu.Lock()
	if l.Epoch != epoch {
		logStale(l.Code, "scenario")
		l.Mu.Unlock()
		return
	}
	l.Scenario = scenario
	l.ScenarioImageURL = imageURL
	l.ScenarioAudioURL = audioURL
	l.Mu.Unlock()

	e.startRound(l, epoch)
}

// revertToWaiting returns a lobby to WaitingRoom after a start failure,
// unless a reset already superseded this attempt.
func (e *Engine) revertToWaiting(l *lobby.Lobby, epoch int) {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if l.Epoch != epoch {
		logStale(l.Code, "revert")
		return
	}
	l.Phase = models.PhaseWaitingRoom
	l.EmitErrorUnsafe(models.ErrCodeGeneration, "the game could not be started, please try again")
	l.EmitUpdateUnsafe()
}

// startRound moves the lobby into PlayerInput, resets per-round player state
// and arms the input countdown.
func (e *Engine) startRound(l *lobby.Lobby, epoch int) {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if l.Epoch != epoch {
		logStale(l.Code, "startRound")
		return
	}
	l.Phase = models.PhasePlayerInput
	for _, p := range l.Players {
		p.Status = models.StatusWaiting
		p.Action = ""
	}
	l.ResultsRevealed = false
	l.RoundResult = nil
	l.EmitUpdateUnsafe()

	l.StopRoundTimerUnsafe()
	d := time.Duration(l.Settings.TimeLimitSeconds) * e.TimeScale
	l.RoundTimer = time.AfterFunc(d, func() { e.onRoundTimeout(l, epoch) })
}
