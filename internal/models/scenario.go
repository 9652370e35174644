// internal/models/scenario.go
package models

// Scenario is one AI-generated survival situation. GMNotes are the model's
// private reasoning about hidden dangers and must never be serialized to
// clients; only Narrative leaves the server.
type Scenario struct {
	Narrative string `json:"narrative"`
	GMNotes   string `json:"-"`
}

// Death is one casualty in a round outcome.
type Death struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason"`
}

// RoundResult is the adjudicated outcome of one round.
type RoundResult struct {
	Narrative string   `json:"narrative"`
	Survivors []string `json:"survivors"`
	Deaths    []Death  `json:"deaths"`
	ImageURL  string   `json:"imageUrl,omitempty"`
	VoiceURL  string   `json:"voiceUrl,omitempty"`
}

// Survived reports whether the given player id is in the survivor list.
func (r *RoundResult) Survived(playerID string) bool {
	for _, id := range r.Survivors {
		if id == playerID {
			return true
		}
	}
	return false
}
