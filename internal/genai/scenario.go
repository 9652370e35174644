// internal/genai/scenario.go
package genai

import (
	"context"
	"encoding/json"
	"fmt"

	"laststand/internal/keypool"
	"laststand/internal/models"
)

// RosterEntry is the minimal player identity fed into prompts.
type RosterEntry struct {
	ID   string
	Name string
}

// ScenarioRequest carries everything scenario generation needs.
type ScenarioRequest struct {
	Players  []RosterEntry
	Settings models.Settings
}

type scenarioSchema struct {
	Narrative string `json:"narrative"`
	GMNotes   string `json:"gmNotes"`
}

// GenerateScenario produces a new survival scenario for the roster. When the
// model ignores the JSON schema the raw text is wrapped into a Scenario with
// empty GM notes rather than failing the start sequence.
func (c *Client) GenerateScenario(ctx context.Context, keys []string, req ScenarioRequest) (*models.Scenario, error) {
	raw, err := keypool.ExecuteWithRetry(ctx, c.Exec, keys, func(ctx context.Context, key string) (string, error) {
		return c.generate(ctx, key, modelFor(req.Settings.Quality),
			scenarioSystemPrompt(req.Settings), scenarioUserPrompt(req), true)
	})
	if err != nil {
		return nil, fmt.Errorf("scenario generation failed: %w", err)
	}

	var parsed scenarioSchema
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil || parsed.Narrative == "" {
		logSchemaFallback("scenario", err)
		return &models.Scenario{Narrative: raw}, nil
	}
	return &models.Scenario{Narrative: parsed.Narrative, GMNotes: parsed.GMNotes}, nil
}

// SecretsRequest asks for one private twist hook per listed player.
type SecretsRequest struct {
	Scenario  *models.Scenario
	Target    RosterEntry
	Archetype string
	Settings  models.Settings
}

type secretsSchema struct {
	Secrets map[string]string `json:"secrets"`
}

// GenerateSecrets produces private secret texts keyed by player id. Failure
// here is non-critical: callers log and carry on without secrets.
func (c *Client) GenerateSecrets(ctx context.Context, keys []string, req SecretsRequest) (map[string]string, error) {
	raw, err := keypool.ExecuteWithRetry(ctx, c.Exec, keys, func(ctx context.Context, key string) (string, error) {
		return c.generate(ctx, key, modelFor(req.Settings.Quality),
			secretsSystemPrompt(req.Settings), secretsUserPrompt(req), true)
	})
	if err != nil {
		return nil, fmt.Errorf("secret generation failed: %w", err)
	}

	var parsed secretsSchema
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("secret generation returned unusable output: %w", err)
	}
	if len(parsed.Secrets) == 0 {
		return nil, fmt.Errorf("secret generation returned no secrets")
	}
	return parsed.Secrets, nil
}
