// internal/engine/round.go
package engine

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"laststand/internal/genai"
	"laststand/internal/lobby"
	"laststand/internal/models"
)

// SubmitAction records a player's action for the current round. Text over
// the configured character limit is truncated, not rejected. When the last
// waiting player submits, the countdown is cancelled and the round resolves
// early.
func (e *Engine) SubmitAction(code, playerID, text string) error {
	l, ok := e.Store.Get(code)
	if !ok {
		return fmt.Errorf("lobby %s not found", code)
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()

	if l.Phase != models.PhasePlayerInput {
		return fmt.Errorf("actions are only accepted during player input")
	}
	p := l.PlayerByIDUnsafe(playerID)
	if p == nil {
		return fmt.Errorf("player %s is not a member of lobby %s", playerID, code)
	}

	runes := []rune(text)
	if len(runes) > l.Settings.CharLimit {
		runes = runes[:l.Settings.CharLimit]
	}
	p.Action = string(runes)
	p.Status = models.StatusReady
	l.EmitUpdateUnsafe()

	for _, other := range l.Players {
		if other.Status != models.StatusReady {
			return nil
		}
	}
	l.StopRoundTimerUnsafe()
	epoch := l.Epoch
	go e.resolveRound(l, epoch)
	return nil
}

// onRoundTimeout fires when the input countdown elapses. Players who never
// submitted get a language-appropriate default action so the judge always
// sees a full roster.
func (e *Engine) onRoundTimeout(l *lobby.Lobby, epoch int) {
	l.Mu.Lock()
	if l.Epoch != epoch || l.Phase != models.PhasePlayerInput {
		logStale(l.Code, "timeout")
		l.Mu.Unlock()
		return
	}
	l.RoundTimer = nil
	for _, p := range l.Players {
		if p.Status != models.StatusReady {
			p.Action = models.DefaultAction(l.Settings.Language)
			p.Status = models.StatusReady
		}
	}
	l.Mu.Unlock()
	e.resolveRound(l, epoch)
}

// resolveRound judges the current round and applies the outcome. The
// PlayerInput->Judging transition under the lock is what makes resolution
// exactly-once when the timeout and a final submission race.
func (e *Engine) resolveRound(l *lobby.Lobby, epoch int) {
	ctx := context.Background()

	l.Mu.Lock()
	if l.Epoch != epoch || l.Phase != models.PhasePlayerInput {
		logStale(l.Code, "resolve")
		l.Mu.Unlock()
		return
	}
	if len(l.PrimaryKeys) == 0 {
		l.EmitErrorUnsafe(models.ErrCodeMissingAPIKey, "no API key available to judge the round")
		l.Mu.Unlock()
		return
	}
	l.Phase = models.PhaseJudging

	actions := make([]genai.PlayerAction, 0, len(l.Players))
	for _, p := range l.Players {
		actions = append(actions, genai.PlayerAction{ID: p.ID, Name: p.Name, Action: p.Action})
	}
	roster := rosterUnsafe(l)
	scenario := l.Scenario
	primary := append([]string(nil), l.PrimaryKeys...)
	secondary := append([]string(nil), l.SecondaryKeys...)
	settings := l.Settings
	scenarioImage := l.ScenarioImageURL
	l.EmitUpdateUnsafe()
	l.Mu.Unlock()

	for _, a := range actions {
		if flagged, err := e.Gen.CheckInjection(ctx, primary, a.Action); err == nil && flagged {
			log.WithFields(log.Fields{"lobby": l.Code, "player": a.ID}).
				Warn("engine: action flagged by injection check")
		}
	}

	result := e.Gen.JudgeRound(ctx, primary, genai.JudgeRequest{
		Scenario: scenario,
		Actions:  actions,
		Settings: settings,
	})

	// Private twist: best-effort, a failure only loses the flavor text.
	secrets := map[string]string{}
	if req := e.PickTwist(roster); req != nil {
		req.Scenario = scenario
		req.Settings = settings
		got, err := e.Gen.GenerateSecrets(ctx, primary, *req)
		if err != nil {
			log.WithField("lobby", l.Code).Warnf("engine: secrets generation failed: %v", err)
		} else {
			secrets = got
		}
	}

	var imageURL, voiceURL string
	var err error
	switch settings.Mode {
	case models.ModeFull:
		if len(secondary) > 0 {
			if imageURL, err = e.Media.ImageFromPrompt(ctx, secondary, result.Narrative); err != nil {
				log.WithField("lobby", l.Code).Warnf("engine: round image failed: %v", err)
				imageURL = ""
			}
		}
	case models.ModeScenario:
		// Reuse the scenario illustration rather than spending image quota
		// on every round.
		imageURL = scenarioImage
	}
	if settings.VoiceEnabled && len(secondary) > 0 {
		if voiceURL, err = e.Media.VoiceFromText(ctx, secondary, result.Narrative); err != nil {
			log.WithField("lobby", l.Code).Warnf("engine: round voice failed: %v", err)
			voiceURL = ""
		}
	}
	result.ImageURL = imageURL
	result.VoiceURL = voiceURL

	l.Mu.Lock()
	if l.Epoch != epoch || l.Phase != models.PhaseJudging {
		logStale(l.Code, "judge")
		l.Mu.Unlock()
		return
	}
	for _, p := range l.Players {
		if result.Survived(p.ID) {
			p.Status = models.StatusAlive
		} else {
			p.Status = models.StatusDead
		}
	}
	l.RoundResult = result
	l.ResultsRevealed = false
	l.Phase = models.PhaseResults
	for id, secret := range secrets {
		l.PlayerSecrets[id] = secret
		l.EmitToPlayerUnsafe(id, lobby.Event{"type": "secret_data", "secret": secret})
	}
	l.EmitUpdateUnsafe()
	l.Mu.Unlock()

	if e.History != nil {
		e.History.PublishRound(ctx, l.Code, epoch, result)
	}
}

// RevealResults flips the captain's reveal flag in the results phase.
// Repeat calls are no-ops.
func (e *Engine) RevealResults(code, callerID string) error {
	l, ok := e.Store.Get(code)
	if !ok {
		return fmt.Errorf("lobby %s not found", code)
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if !l.IsCaptainUnsafe(callerID) {
		return fmt.Errorf("only the captain can reveal results")
	}
	if l.Phase != models.PhaseResults {
		return fmt.Errorf("no results to reveal")
	}
	if l.ResultsRevealed {
		return nil
	}
	l.ResultsRevealed = true
	l.EmitUpdateUnsafe()
	return nil
}

// ResetGame returns a lobby to the waiting room. Bumping the epoch orphans
// every in-flight async task from the previous game, and aborting the
// collection window wakes a start sequence blocked on it.
func (e *Engine) ResetGame(code, callerID string) error {
	l, ok := e.Store.Get(code)
	if !ok {
		return fmt.Errorf("lobby %s not found", code)
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if !l.IsCaptainUnsafe(callerID) {
		return fmt.Errorf("only the captain can reset the game")
	}

	l.Epoch++
	l.StopRoundTimerUnsafe()
	l.AbortCollectionUnsafe()

	l.Scenario = nil
	l.ScenarioImageURL = ""
	l.ScenarioAudioURL = ""
	l.RoundResult = nil
	l.ResultsRevealed = false
	l.PrimaryKeys = nil
	l.SecondaryKeys = nil
	l.PlayerSecrets = map[string]string{}
	for _, p := range l.Players {
		p.Status = models.StatusWaiting
		p.Action = ""
		p.CredentialCount = 0
	}
	l.Phase = models.PhaseWaitingRoom
	l.EmitUpdateUnsafe()
	return nil
}
