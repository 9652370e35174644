// internal/models/lang.go
package models

// Language-dependent server-side texts. Only the strings the server itself
// must synthesize live here: the default action for players who ran out the
// clock, and the judgment narrative used when the model output is unusable.

var defaultActions = map[string]string{
	"en": "did nothing and hoped for the best",
	"ru": "ничего не предпринял и понадеялся на лучшее",
}

var fallbackJudgments = map[string]string{
	"en": "The dust settles. Against all odds, everyone is still breathing. Whatever was out there has moved on — for now.",
	"ru": "Пыль оседает. Вопреки всему, все ещё дышат. Что бы там ни было, оно ушло — пока что.",
}

// DefaultAction returns the synthesized "did nothing" action text for a language.
func DefaultAction(lang string) string {
	if s, ok := defaultActions[lang]; ok {
		return s
	}
	return defaultActions["en"]
}

// FallbackJudgment returns the safe all-survivors narrative for a language.
func FallbackJudgment(lang string) string {
	if s, ok := fallbackJudgments[lang]; ok {
		return s
	}
	return fallbackJudgments["en"]
}

// FallbackResult builds the deterministic safe outcome: everyone survives.
func FallbackResult(lang string, playerIDs []string) *RoundResult {
	survivors := make([]string, len(playerIDs))
	copy(survivors, playerIDs)
	return &RoundResult{
		Narrative: FallbackJudgment(lang),
		Survivors: survivors,
		Deaths:    []Death{},
	}
}
