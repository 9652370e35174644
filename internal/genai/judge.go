// internal/genai/judge.go
package genai

import (
	"context"
	"encoding/json"
	"math/rand"

	log "github.com/sirupsen/logrus"

	"laststand/internal/keypool"
	"laststand/internal/models"
)

// PlayerAction is one submitted (or auto-filled) action for judgment.
type PlayerAction struct {
	ID     string
	Name   string
	Action string
}

// JudgeRequest carries a full round for adjudication.
type JudgeRequest struct {
	Scenario *models.Scenario
	Actions  []PlayerAction
	Settings models.Settings
}

type judgeSchema struct {
	Narrative string   `json:"narrative"`
	Survivors []string `json:"survivors"`
	Deaths    []struct {
		PlayerID string `json:"playerId"`
		Reason   string `json:"reason"`
	} `json:"deaths"`
}

// JudgeRound adjudicates a round. It never returns an error: when the model
// output is unusable or every credential is exhausted, the deterministic
// language-appropriate fallback marks all players survivors.
func (c *Client) JudgeRound(ctx context.Context, keys []string, req JudgeRequest) *models.RoundResult {
	ids := make([]string, len(req.Actions))
	for i, a := range req.Actions {
		ids[i] = a.ID
	}

	raw, err := keypool.ExecuteWithRetry(ctx, c.Exec, keys, func(ctx context.Context, key string) (string, error) {
		return c.generate(ctx, key, modelFor(req.Settings.Quality),
			judgeSystemPrompt(req.Settings), judgeUserPrompt(req), true)
	})
	if err != nil {
		log.Warnf("genai: judgment failed after exhausting credentials, applying fallback: %v", err)
		return models.FallbackResult(req.Settings.Language, ids)
	}

	var parsed judgeSchema
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil || parsed.Narrative == "" {
		logSchemaFallback("judge", err)
		return models.FallbackResult(req.Settings.Language, ids)
	}

	return normalizeJudgment(parsed, ids)
}

// normalizeJudgment reconciles the model's verdict with the actual roster:
// ids the model invented are dropped, ids it forgot are marked survivors.
func normalizeJudgment(parsed judgeSchema, roster []string) *models.RoundResult {
	known := make(map[string]bool, len(roster))
	for _, id := range roster {
		known[id] = true
	}

	res := &models.RoundResult{Narrative: parsed.Narrative, Deaths: []models.Death{}}
	decided := make(map[string]bool, len(roster))
	for _, d := range parsed.Deaths {
		if known[d.PlayerID] && !decided[d.PlayerID] {
			res.Deaths = append(res.Deaths, models.Death{PlayerID: d.PlayerID, Reason: d.Reason})
			decided[d.PlayerID] = true
		}
	}
	for _, id := range parsed.Survivors {
		if known[id] && !decided[id] {
			res.Survivors = append(res.Survivors, id)
			decided[id] = true
		}
	}
	for _, id := range roster {
		if !decided[id] {
			res.Survivors = append(res.Survivors, id)
		}
	}
	return res
}

// twistArchetypes are the private-hook flavors a twisted player can receive.
var twistArchetypes = []string{
	"secret saboteur",
	"hidden guardian",
	"cursed knowledge",
	"double life",
	"debt to the dead",
}

// TwistProbability is the per-round chance that one player receives a secret.
const TwistProbability = 0.2

// PickTwist rolls the per-round twist: with probability TwistProbability it
// selects one random player and one random archetype, else returns nil.
func PickTwist(players []RosterEntry) *SecretsRequest {
	if len(players) == 0 || rand.Float64() >= TwistProbability {
		return nil
	}
	return &SecretsRequest{
		Target:    players[rand.Intn(len(players))],
		Archetype: twistArchetypes[rand.Intn(len(twistArchetypes))],
	}
}
