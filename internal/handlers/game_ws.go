// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"laststand/internal/auth"
	"laststand/internal/engine"
	"laststand/internal/lobby"
	"laststand/internal/middleware"
	"laststand/internal/models"
)

// wsClient is the per-connection state of the gateway: the authenticated
// identity, the outbound session and the lobby the connection is currently
// attached to (empty until create/join).
type wsClient struct {
	identity  *auth.Identity
	session   *lobby.Session
	lobbyCode string
}

// GameWSHandler upgrades the connection, authenticates the JWT from the
// query string and runs the read loop that dispatches game commands to the
// engine. One connection maps to exactly one player in at most one lobby.
func GameWSHandler(logger *logrus.Logger, e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"game"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "game" {
			c.Close(BadSubprotocolError, "client must speak the game subprotocol")
			return
		}

		identity, err := auth.AuthenticateJWT(r.URL.Query().Get("token"))
		if err != nil {
			logger.Warnf("ws auth failed from %s: %v", remoteAddr, err)
			c.Close(InvalidAuthTokenError, "authentication failed")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		client := &wsClient{
			identity: identity,
			session:  lobby.NewSession(identity.PlayerID, cancel),
		}

		middleware.LogWebSocketConnect(logger, remoteAddr, identity.PlayerID)

		go writePump(ctx, c, client.session, logger)
		readErr := readPump(ctx, c, e, client, logger)

		// Cleanup after the read loop exits.
		if client.lobbyCode != "" {
			e.Disconnect(client.lobbyCode, client.session)
		}
		cancel()
		middleware.LogWebSocketDisconnect(logger, remoteAddr, identity.PlayerID, readErr)
	}
}

// readPump reads client packets until the connection drops and dispatches
// each one. Returns the terminal read error, nil for a normal closure.
func readPump(ctx context.Context, c *websocket.Conn, e *engine.Engine, client *wsClient, logger *logrus.Logger) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			logger.Warnf("player %s: ignoring non-text message type %d", client.identity.PlayerID, typ)
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			logger.Warnf("player %s: invalid json: %v", client.identity.PlayerID, err)
			writeClientError(client.session, "", "invalid JSON format")
			continue
		}

		dispatch(e, client, packet, logger)
	}
}

// dispatch interprets the "type" field of one client packet.
func dispatch(e *engine.Engine, client *wsClient, packet map[string]interface{}, logger *logrus.Logger) {
	action, _ := packet["type"].(string)
	playerID := client.identity.PlayerID

	switch action {
	case "create_lobby":
		patch, err := parseSettingsPatch(packet["settings"])
		if err != nil {
			writeClientError(client.session, models.ErrCodeBadSettings, err.Error())
			return
		}
		l, err := e.CreateLobby(newPlayer(client.identity), patch)
		if err != nil {
			writeClientError(client.session, models.ErrCodeBadSettings, err.Error())
			return
		}
		attachTo(e, client, l)

	case "join_lobby":
		code, _ := packet["code"].(string)
		l, err := e.Join(strings.ToUpper(strings.TrimSpace(code)), newPlayer(client.identity))
		if err != nil {
			writeClientError(client.session, models.ErrCodeLobbyNotFound, err.Error())
			return
		}
		attachTo(e, client, l)

	case "update_settings":
		patch, err := parseSettingsPatch(packet["settings"])
		if err != nil {
			writeClientError(client.session, models.ErrCodeBadSettings, err.Error())
			return
		}
		if err := e.UpdateSettings(client.lobbyCode, playerID, patch); err != nil {
			writeClientError(client.session, models.ErrCodeBadSettings, err.Error())
		}

	case "start_game":
		if err := e.StartGame(client.lobbyCode, playerID); err != nil {
			writeClientError(client.session, models.ErrCodeNotCaptain, err.Error())
		}

	case "provide_keys":
		gemini, _ := packet["geminiKey"].(string)
		navy, _ := packet["navyKey"].(string)
		keys := models.ProvidedKeys{
			Primary:   strings.TrimSpace(gemini),
			Secondary: strings.TrimSpace(navy),
		}
		if err := e.ProvideKeys(client.lobbyCode, playerID, keys); err != nil {
			writeClientError(client.session, models.ErrCodeNotMember, err.Error())
		}

	case "submit_action":
		text, _ := packet["text"].(string)
		if err := e.SubmitAction(client.lobbyCode, playerID, text); err != nil {
			writeClientError(client.session, models.ErrCodeBadPhase, err.Error())
		}

	case "reveal_results":
		if err := e.RevealResults(client.lobbyCode, playerID); err != nil {
			writeClientError(client.session, models.ErrCodeBadPhase, err.Error())
		}

	case "reset_game":
		if err := e.ResetGame(client.lobbyCode, playerID); err != nil {
			writeClientError(client.session, models.ErrCodeNotCaptain, err.Error())
		}

	case "get_aggregate_navy_usage":
		if err := e.AggregateUsage(client.lobbyCode, playerID); err != nil {
			writeClientError(client.session, models.ErrCodeCollectionBusy, err.Error())
		}

	case "validate_api_key":
		key, _ := packet["key"].(string)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			valid, err := e.Gen.ValidateKey(ctx, strings.TrimSpace(key))
			client.session.Write(lobby.Event{
				"type":  "api_key_status",
				"valid": valid && err == nil,
			})
		}()

	case "validate_navy_key":
		key, _ := packet["key"].(string)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			quota, err := e.Media.QuotaFor(ctx, strings.TrimSpace(key))
			ev := lobby.Event{"type": "navy_key_status", "valid": err == nil}
			if err == nil {
				ev["remainingTokens"] = quota
			}
			client.session.Write(ev)
		}()

	default:
		logger.Warnf("player %s: unknown action %q", playerID, action)
		writeClientError(client.session, "", "unknown action")
	}
}

// attachTo moves the connection's session onto a lobby, detaching from the
// previous one first.
func attachTo(e *engine.Engine, client *wsClient, l *lobby.Lobby) {
	if client.lobbyCode != "" && client.lobbyCode != l.Code {
		e.Disconnect(client.lobbyCode, client.session)
	}
	client.lobbyCode = l.Code
	l.Mu.Lock()
	l.AddSessionUnsafe(client.session)
	l.EmitUpdateUnsafe()
	l.Mu.Unlock()
}

func newPlayer(id *auth.Identity) *models.Player {
	return &models.Player{
		ID:        id.PlayerID,
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
	}
}

// parseSettingsPatch round-trips the loose packet field through JSON into
// the typed patch so field validation lives in one place.
func parseSettingsPatch(v interface{}) (models.SettingsPatch, error) {
	var patch models.SettingsPatch
	if v == nil {
		return patch, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return patch, err
	}
	if err := json.Unmarshal(data, &patch); err != nil {
		return patch, err
	}
	return patch, nil
}

func writeClientError(s *lobby.Session, code, message string) {
	ev := lobby.Event{"type": "error", "message": message}
	if code != "" {
		ev["errorCode"] = code
	}
	s.Write(ev)
}

// writePump drains the session queue onto the wire and keeps the connection
// alive with periodic pings.
func writePump(ctx context.Context, c *websocket.Conn, s *lobby.Session, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.Out:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Warnf("session %s: failed to marshal outgoing msg: %v", s.ID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("session %s: websocket write failed: %v", s.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("session %s: ping failed, assuming disconnect: %v", s.ID, err)
				return
			}
		}
	}
}
