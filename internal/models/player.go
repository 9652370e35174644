// internal/models/player.go
package models

// Player is one participant in a lobby. Identity is stable across
// reconnects: the same external user id always maps to the same Player, so a
// disconnect only flips Online rather than removing the entry.
type Player struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	AvatarURL string      `json:"avatarUrl,omitempty"`
	Rank      PlayerRank  `json:"rank"`
	Status    RoundStatus `json:"roundStatus"`
	Action    string      `json:"actionText,omitempty"`
	Online    bool        `json:"online"`

	// CredentialCount is how many of {primary, secondary} key types the
	// player has configured client-side. Lobby UI only; never a key value.
	CredentialCount int `json:"credentialCount"`
}

// ProvidedKeys is one player's submission into an open key-collection
// window. Either field may be empty.
type ProvidedKeys struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
}

// Count reports how many key types are present, for Player.CredentialCount.
func (k ProvidedKeys) Count() int {
	n := 0
	if k.Primary != "" {
		n++
	}
	if k.Secondary != "" {
		n++
	}
	return n
}
