// internal/engine/engine_test.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laststand/internal/genai"
	"laststand/internal/lobby"
	"laststand/internal/models"
)

type fakeGen struct {
	mu            sync.Mutex
	scenarioCalls int
	scenarioKeys  []string
	scenarioErr   error
	judgeCalls    int
	judgeActions  []genai.PlayerAction
	judgeDelay    time.Duration
	judge         func(req genai.JudgeRequest) *models.RoundResult
}

func (g *fakeGen) ValidateKey(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (g *fakeGen) GenerateScenario(ctx context.Context, keys []string, req genai.ScenarioRequest) (*models.Scenario, error) {
	g.mu.Lock()
	g.scenarioCalls++
	g.scenarioKeys = append([]string(nil), keys...)
	err := g.scenarioErr
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &models.Scenario{Narrative: "the bunker is flooding", GMNotes: "pumps are broken"}, nil
}

func (g *fakeGen) GenerateSecrets(ctx context.Context, keys []string, req genai.SecretsRequest) (map[string]string, error) {
	return map[string]string{req.Target.ID: "you are the " + req.Archetype}, nil
}

func (g *fakeGen) CheckInjection(ctx context.Context, keys []string, action string) (bool, error) {
	return false, nil
}

func (g *fakeGen) JudgeRound(ctx context.Context, keys []string, req genai.JudgeRequest) *models.RoundResult {
	g.mu.Lock()
	g.judgeCalls++
	g.judgeActions = append([]genai.PlayerAction(nil), req.Actions...)
	delay := g.judgeDelay
	fn := g.judge
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fn != nil {
		return fn(req)
	}
	ids := make([]string, len(req.Actions))
	for i, a := range req.Actions {
		ids[i] = a.ID
	}
	return models.FallbackResult("en", ids)
}

type fakeMedia struct {
	mu     sync.Mutex
	quota  map[string]int64
	images int
}

func (m *fakeMedia) ImageFromPrompt(ctx context.Context, keys []string, prompt string) (string, error) {
	m.mu.Lock()
	m.images++
	m.mu.Unlock()
	return "/media/fake.png", nil
}

func (m *fakeMedia) VoiceFromText(ctx context.Context, keys []string, text string) (string, error) {
	return "/media/fake.mp3", nil
}

func (m *fakeMedia) QuotaFor(ctx context.Context, key string) (int64, error) {
	q, ok := m.quota[key]
	if !ok {
		return 0, fmt.Errorf("unknown key")
	}
	return q, nil
}

func newTestEngine(gen *fakeGen, media *fakeMedia) *Engine {
	e := New(lobby.NewStore(), gen, media)
	e.StartCollectTimeout = 100 * time.Millisecond
	e.UsageCollectTimeout = 100 * time.Millisecond
	e.TimeScale = 5 * time.Millisecond
	e.PickTwist = func([]genai.RosterEntry) *genai.SecretsRequest { return nil }
	return e
}

// newTestLobby creates a lobby with an online captain and one online player,
// returning their attached sessions.
func newTestLobby(t *testing.T, e *Engine) (*lobby.Lobby, *lobby.Session, *lobby.Session) {
	t.Helper()
	l, err := e.CreateLobby(&models.Player{ID: "cap", Name: "Captain"}, models.SettingsPatch{})
	require.NoError(t, err)
	_, err = e.Join(l.Code, &models.Player{ID: "p2", Name: "Second"})
	require.NoError(t, err)
	return l, attach(t, l, "cap"), attach(t, l, "p2")
}

func attach(t *testing.T, l *lobby.Lobby, playerID string) *lobby.Session {
	t.Helper()
	s := lobby.NewSession(playerID, func() {})
	l.Mu.Lock()
	l.AddSessionUnsafe(s)
	l.Mu.Unlock()
	return s
}

func currentPhase(l *lobby.Lobby) models.LobbyPhase {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	return l.Phase
}

func waitPhase(t *testing.T, l *lobby.Lobby, want models.LobbyPhase) {
	t.Helper()
	require.Eventually(t, func() bool { return currentPhase(l) == want },
		2*time.Second, 2*time.Millisecond, "lobby never reached phase %s", want)
}

// findEvent drains a session's queue until an event of the wanted type
// arrives.
func findEvent(t *testing.T, s *lobby.Session, evType string) lobby.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Out:
			if ev["type"] == evType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", evType)
			return nil
		}
	}
}

func startToPlayerInput(t *testing.T, e *Engine, l *lobby.Lobby) {
	t.Helper()
	require.NoError(t, e.StartGame(l.Code, "cap"))
	require.NoError(t, e.ProvideKeys(l.Code, "cap", models.ProvidedKeys{Primary: "cap-key", Secondary: "cap-navy"}))
	require.NoError(t, e.ProvideKeys(l.Code, "p2", models.ProvidedKeys{Primary: "p2-key"}))
	waitPhase(t, l, models.PhasePlayerInput)
}

func TestStartGame_TransitionsThroughScenarioToPlayerInput(t *testing.T) {
	gen := &fakeGen{}
	e := newTestEngine(gen, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)

	startToPlayerInput(t, e, l)

	l.Mu.Lock()
	defer l.Mu.Unlock()
	require.NotNil(t, l.Scenario)
	assert.Equal(t, "the bunker is flooding", l.Scenario.Narrative)
	assert.Equal(t, []string{"cap-key", "p2-key"}, l.PrimaryKeys)
	assert.Equal(t, []string{"cap-navy"}, l.SecondaryKeys)
	for _, p := range l.Players {
		assert.Equal(t, models.StatusWaiting, p.Status)
		assert.Empty(t, p.Action)
	}
}

func TestStartGame_DoubleStartSingleTransition(t *testing.T) {
	gen := &fakeGen{}
	e := newTestEngine(gen, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)

	require.NoError(t, e.StartGame(l.Code, "cap"))
	// Second press races the first; it must be a silent no-op.
	require.NoError(t, e.StartGame(l.Code, "cap"))

	require.NoError(t, e.ProvideKeys(l.Code, "cap", models.ProvidedKeys{Primary: "cap-key"}))
	require.NoError(t, e.ProvideKeys(l.Code, "p2", models.ProvidedKeys{Primary: "p2-key"}))
	waitPhase(t, l, models.PhasePlayerInput)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.Equal(t, 1, gen.scenarioCalls)
}

func TestStartGame_NonCaptainRejected(t *testing.T) {
	e := newTestEngine(&fakeGen{}, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)

	err := e.StartGame(l.Code, "p2")
	require.Error(t, err)
	assert.Equal(t, models.PhaseWaitingRoom, currentPhase(l))
	l.Mu.Lock()
	defer l.Mu.Unlock()
	assert.False(t, l.CollectionOpenUnsafe())
}

func TestStartGame_NoPrimaryKeysReverts(t *testing.T) {
	e := newTestEngine(&fakeGen{}, &fakeMedia{})
	l, capSess, _ := newTestLobby(t, e)

	require.NoError(t, e.StartGame(l.Code, "cap"))
	// Nobody submits; the window times out empty.
	waitPhase(t, l, models.PhaseWaitingRoom)

	ev := findEvent(t, capSess, "error")
	assert.Equal(t, models.ErrCodeMissingAPIKey, ev["errorCode"])
}

func TestStartGame_CaptainKeysOrderedFirst(t *testing.T) {
	gen := &fakeGen{}
	e := newTestEngine(gen, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)

	require.NoError(t, e.StartGame(l.Code, "cap"))
	// The captain submits last but their key must still lead the pool.
	require.NoError(t, e.ProvideKeys(l.Code, "p2", models.ProvidedKeys{Primary: "p2-key"}))
	require.NoError(t, e.ProvideKeys(l.Code, "cap", models.ProvidedKeys{Primary: "cap-key"}))
	waitPhase(t, l, models.PhasePlayerInput)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.Equal(t, []string{"cap-key", "p2-key"}, gen.scenarioKeys)
}

func TestStartGame_ScenarioFailureReverts(t *testing.T) {
	gen := &fakeGen{scenarioErr: fmt.Errorf("provider down")}
	e := newTestEngine(gen, &fakeMedia{})
	l, capSess, _ := newTestLobby(t, e)

	require.NoError(t, e.StartGame(l.Code, "cap"))
	require.NoError(t, e.ProvideKeys(l.Code, "cap", models.ProvidedKeys{Primary: "cap-key"}))
	require.NoError(t, e.ProvideKeys(l.Code, "p2", models.ProvidedKeys{Primary: "p2-key"}))
	waitPhase(t, l, models.PhaseWaitingRoom)

	ev := findEvent(t, capSess, "error")
	assert.Equal(t, models.ErrCodeGeneration, ev["errorCode"])
}

func TestSubmitAction_AllReadyResolvesEarly(t *testing.T) {
	gen := &fakeGen{}
	e := newTestEngine(gen, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)
	startToPlayerInput(t, e, l)

	require.NoError(t, e.SubmitAction(l.Code, "cap", "barricade the door"))
	require.NoError(t, e.SubmitAction(l.Code, "p2", "search for supplies"))
	waitPhase(t, l, models.PhaseResults)

	l.Mu.Lock()
	assert.Nil(t, l.RoundTimer)
	assert.False(t, l.ResultsRevealed)
	l.Mu.Unlock()

	gen.mu.Lock()
	defer gen.mu.Unlock()
	require.Len(t, gen.judgeActions, 2)
	assert.Equal(t, "barricade the door", gen.judgeActions[0].Action)
}

func TestSubmitAction_TruncatesToCharLimit(t *testing.T) {
	e := newTestEngine(&fakeGen{}, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)
	require.NoError(t, e.UpdateSettings(l.Code, "cap", models.SettingsPatch{CharLimit: intPtr(5)}))
	startToPlayerInput(t, e, l)

	require.NoError(t, e.SubmitAction(l.Code, "cap", "a very long action"))
	l.Mu.Lock()
	defer l.Mu.Unlock()
	assert.Equal(t, "a ver", l.PlayerByIDUnsafe("cap").Action)
}

func TestSubmitAction_RejectedOutsidePlayerInput(t *testing.T) {
	e := newTestEngine(&fakeGen{}, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)

	err := e.SubmitAction(l.Code, "cap", "jump the gun")
	require.Error(t, err)
}

func TestRoundTimeout_AutoFillsMissingActions(t *testing.T) {
	gen := &fakeGen{}
	e := newTestEngine(gen, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)
	startToPlayerInput(t, e, l)

	// Only the captain acts; p2 rides out the countdown.
	require.NoError(t, e.SubmitAction(l.Code, "cap", "hide in the cellar"))
	waitPhase(t, l, models.PhaseResults)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	require.Len(t, gen.judgeActions, 2)
	assert.Equal(t, "hide in the cellar", gen.judgeActions[0].Action)
	assert.Equal(t, models.DefaultAction("en"), gen.judgeActions[1].Action)
}

func TestResolveRound_AppliesSurvivorsAndDeaths(t *testing.T) {
	gen := &fakeGen{
		judge: func(req genai.JudgeRequest) *models.RoundResult {
			return &models.RoundResult{
				Narrative: "only one made it out",
				Survivors: []string{"cap"},
				Deaths:    []models.Death{{PlayerID: "p2", Reason: "caught in the collapse"}},
			}
		},
	}
	e := newTestEngine(gen, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)
	startToPlayerInput(t, e, l)

	require.NoError(t, e.SubmitAction(l.Code, "cap", "run"))
	require.NoError(t, e.SubmitAction(l.Code, "p2", "freeze"))
	waitPhase(t, l, models.PhaseResults)

	l.Mu.Lock()
	defer l.Mu.Unlock()
	assert.Equal(t, models.StatusAlive, l.PlayerByIDUnsafe("cap").Status)
	assert.Equal(t, models.StatusDead, l.PlayerByIDUnsafe("p2").Status)
	require.NotNil(t, l.RoundResult)
	assert.Equal(t, "only one made it out", l.RoundResult.Narrative)
	assert.False(t, l.ResultsRevealed)
}

func TestRevealResults_CaptainOnlyAndIdempotent(t *testing.T) {
	e := newTestEngine(&fakeGen{}, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)
	startToPlayerInput(t, e, l)
	require.NoError(t, e.SubmitAction(l.Code, "cap", "act"))
	require.NoError(t, e.SubmitAction(l.Code, "p2", "act"))
	waitPhase(t, l, models.PhaseResults)

	require.Error(t, e.RevealResults(l.Code, "p2"))
	require.NoError(t, e.RevealResults(l.Code, "cap"))
	require.NoError(t, e.RevealResults(l.Code, "cap")) // repeat is a no-op

	l.Mu.Lock()
	defer l.Mu.Unlock()
	assert.True(t, l.ResultsRevealed)
}

func TestResetGame_ClearsStateAndOrphansStaleJudgment(t *testing.T) {
	gen := &fakeGen{judgeDelay: 150 * time.Millisecond}
	e := newTestEngine(gen, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)
	startToPlayerInput(t, e, l)

	require.NoError(t, e.SubmitAction(l.Code, "cap", "act"))
	require.NoError(t, e.SubmitAction(l.Code, "p2", "act"))
	waitPhase(t, l, models.PhaseJudging)

	// Reset while the judge call is still in flight.
	require.NoError(t, e.ResetGame(l.Code, "cap"))
	assert.Equal(t, models.PhaseWaitingRoom, currentPhase(l))

	// Give the stale judgment time to land; it must be discarded.
	time.Sleep(250 * time.Millisecond)
	l.Mu.Lock()
	defer l.Mu.Unlock()
	assert.Equal(t, models.PhaseWaitingRoom, l.Phase)
	assert.Nil(t, l.RoundResult)
	assert.Nil(t, l.Scenario)
	assert.Empty(t, l.PrimaryKeys)
	for _, p := range l.Players {
		assert.Equal(t, models.StatusWaiting, p.Status)
		assert.Empty(t, p.Action)
		assert.Zero(t, p.CredentialCount)
	}
}

func TestJoin_ReconnectRefreshesAnyPhase_NewJoinWaitingOnly(t *testing.T) {
	e := newTestEngine(&fakeGen{}, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)
	startToPlayerInput(t, e, l)

	_, err := e.Join(l.Code, &models.Player{ID: "p3", Name: "Late"})
	require.Error(t, err, "fresh joins are waiting-room only")

	_, err = e.Join(l.Code, &models.Player{ID: "p2", Name: "Renamed"})
	require.NoError(t, err, "reconnects are allowed in any phase")
	l.Mu.Lock()
	defer l.Mu.Unlock()
	assert.Equal(t, "Renamed", l.PlayerByIDUnsafe("p2").Name)
	assert.Len(t, l.Players, 2)
}

func TestAggregateUsage_SumsQuotaForCaptainOnly(t *testing.T) {
	media := &fakeMedia{quota: map[string]int64{"navy-a": 40000, "navy-b": 25000}}
	e := newTestEngine(&fakeGen{}, media)
	l, capSess, _ := newTestLobby(t, e)

	require.NoError(t, e.AggregateUsage(l.Code, "cap"))
	require.NoError(t, e.ProvideKeys(l.Code, "cap", models.ProvidedKeys{Secondary: "navy-a"}))
	require.NoError(t, e.ProvideKeys(l.Code, "p2", models.ProvidedKeys{Secondary: "navy-b"}))

	ev := findEvent(t, capSess, "navy_aggregate_stats")
	assert.Equal(t, int64(65000), ev["totalTokens"])
	assert.Equal(t, 2, ev["contributors"])

	l.Mu.Lock()
	defer l.Mu.Unlock()
	assert.Empty(t, l.SecondaryKeys, "aggregation must not store keys on the lobby")
}

func TestAggregateUsage_RejectsWhileCollectionOpen(t *testing.T) {
	e := newTestEngine(&fakeGen{}, &fakeMedia{})
	l, _, _ := newTestLobby(t, e)

	require.NoError(t, e.StartGame(l.Code, "cap"))
	err := e.AggregateUsage(l.Code, "cap")
	require.Error(t, err)
}

func intPtr(v int) *int { return &v }
