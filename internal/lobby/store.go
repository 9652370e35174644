// internal/lobby/store.go
package lobby

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
	"sync"

	log "github.com/sirupsen/logrus"

	"laststand/internal/models"
)

// CodeLength is the fixed lobby code length.
const CodeLength = 6

// codeAlphabet avoids visually ambiguous characters (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Store manages all active lobbies in memory, keyed by code. State is
// ephemeral: a process restart loses every lobby.
type Store struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby
}

// NewStore initializes an empty Store.
func NewStore() *Store {
	return &Store{lobbies: make(map[string]*Lobby)}
}

// generateCode produces one random candidate code.
func generateCode() string {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			// fallback to math/rand if crypto fails
			code[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
			continue
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code)
}

// CreateLobby allocates a lobby under a fresh unique code with the given
// player as captain and registers it.
func (s *Store) CreateLobby(captain *models.Player, settings models.Settings) *Lobby {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := generateCode()
	for s.lobbies[code] != nil {
		code = generateCode()
	}
	l := newLobby(code, captain, settings)
	s.lobbies[code] = l
	log.WithField("code", code).Info("lobby created")
	return l
}

// Get retrieves a lobby by code.
func (s *Store) Get(code string) (*Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[code]
	return l, ok
}

// Delete removes a lobby from the registry (idle reaping hook).
func (s *Store) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[code]; ok {
		delete(s.lobbies, code)
		log.WithField("code", code).Info("lobby deleted")
	}
}

// Len reports how many lobbies are active.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobbies)
}
