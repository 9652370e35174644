// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"laststand/internal/auth"
)

// LoginHandler exchanges a Telegram Mini App initData blob for a signed JWT.
// The initData signature is the proof of identity; no user store is
// involved.
func LoginHandler(botToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			InitData string `json:"initData"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.InitData == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		user, err := auth.VerifyInitData(body.InitData, botToken)
		if err != nil {
			log.Warnf("login rejected: %v", err)
			http.Error(w, "invalid init data", http.StatusForbidden)
			return
		}

		token, err := auth.CreateJWT(fmt.Sprint(user.ID), user.FirstName, user.PhotoURL)
		if err != nil {
			http.Error(w, "failed to issue token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

// HealthzHandler reports liveness.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
