// internal/models/settings.go
package models

import "fmt"

// GameMode controls how much media a round produces.
type GameMode string

const (
	// ModeFull generates a fresh image for the scenario and for every round result.
	ModeFull GameMode = "full"
	// ModeScenario generates one scenario image and recycles it for results.
	ModeScenario GameMode = "scenario"
	// ModeText generates no images at all.
	ModeText GameMode = "text"
)

// Settings is a lobby's game configuration. Mutable only by the captain and
// only meaningfully before a game has consumed them.
type Settings struct {
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
	CharLimit        int      `json:"charLimit"`
	Mode             GameMode `json:"gameMode"`
	Genre            string   `json:"genre"`
	Quality          string   `json:"quality"` // "flash" or "pro"
	VoiceEnabled     bool     `json:"voiceEnabled"`
	Language         string   `json:"language"` // "en", "ru", ...
}

// DefaultSettings are applied at lobby creation before any captain patch.
func DefaultSettings() Settings {
	return Settings{
		TimeLimitSeconds: 60,
		CharLimit:        200,
		Mode:             ModeScenario,
		Genre:            "post-apocalyptic",
		Quality:          "flash",
		VoiceEnabled:     false,
		Language:         "en",
	}
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
// It replaces open-ended map merging with named, typed, validated fields.
type SettingsPatch struct {
	TimeLimitSeconds *int      `json:"timeLimitSeconds,omitempty"`
	CharLimit        *int      `json:"charLimit,omitempty"`
	Mode             *GameMode `json:"gameMode,omitempty"`
	Genre            *string   `json:"genre,omitempty"`
	Quality          *string   `json:"quality,omitempty"`
	VoiceEnabled     *bool     `json:"voiceEnabled,omitempty"`
	Language         *string   `json:"language,omitempty"`
}

// Apply validates the patch against allowed ranges and merges it into s.
// The receiver is untouched when validation fails.
func (s *Settings) Apply(p SettingsPatch) error {
	next := *s
	if p.TimeLimitSeconds != nil {
		if *p.TimeLimitSeconds < 30 || *p.TimeLimitSeconds > 600 {
			return fmt.Errorf("timeLimitSeconds %d out of range [30,600]", *p.TimeLimitSeconds)
		}
		next.TimeLimitSeconds = *p.TimeLimitSeconds
	}
	if p.CharLimit != nil {
		if *p.CharLimit < 1 || *p.CharLimit > 500 {
			return fmt.Errorf("charLimit %d out of range [1,500]", *p.CharLimit)
		}
		next.CharLimit = *p.CharLimit
	}
	if p.Mode != nil {
		switch *p.Mode {
		case ModeFull, ModeScenario, ModeText:
			next.Mode = *p.Mode
		default:
			return fmt.Errorf("unknown game mode %q", *p.Mode)
		}
	}
	if p.Genre != nil {
		next.Genre = *p.Genre
	}
	if p.Quality != nil {
		if *p.Quality != "flash" && *p.Quality != "pro" {
			return fmt.Errorf("unknown quality tier %q", *p.Quality)
		}
		next.Quality = *p.Quality
	}
	if p.VoiceEnabled != nil {
		next.VoiceEnabled = *p.VoiceEnabled
	}
	if p.Language != nil {
		next.Language = *p.Language
	}
	*s = next
	return nil
}
