// Package feed streams a room's session event log to websocket observers.
package feed

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	ws "nhooyr.io/websocket"

	"sipbridge/relay/internal/auth"
	"sipbridge/relay/internal/config"
	"sipbridge/relay/internal/store"
	"sipbridge/relay/internal/types"
)

type Message struct {
	Type      string      `json:"type"`
	RoomID    string      `json:"room_id,omitempty"`
	SessionID string      `json:"session_id"`
	Backlog   bool        `json:"backlog,omitempty"`
	Event     types.Event `json:"event"`
}

type Server struct {
	Cfg   config.Config
	Store *store.Store
	Reg   *Registry
}

// NewServer subscribes the registry to the store's event log.
func NewServer(cfg config.Config, st *store.Store, reg *Registry) *Server {
	s := &Server{Cfg: cfg, Store: st, Reg: reg}
	st.OnEvent(s.publish)
	return s
}

func (s *Server) publish(sessionID string, evt types.Event) {
	if s.Reg.Count(sessionID) == 0 {
		return
	}
	roomID, _ := s.Store.RoomForSession(sessionID)
	s.Reg.Broadcast(sessionID, Message{
		Type:      evt.Type,
		RoomID:    roomID,
		SessionID: sessionID,
		Event:     evt,
	})
}

// HandleEventsWS upgrades GET /ws/events?room_id=... and streams the room's
// backlog followed by live events until the observer disconnects.
func (s *Server) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("room_id")
	if roomID == "" {
		http.Error(w, "missing room_id", http.StatusBadRequest)
		return
	}
	sessionID, ok := s.Store.SessionForRoom(roomID)
	if !ok {
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}
	if s.Cfg.Feed.TokenSecret != "" {
		token := q.Get("token")
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			token = strings.TrimPrefix(authz, "Bearer ")
		}
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, _, err := auth.ValidateViewerToken(s.Cfg.Feed.TokenSecret, token, roomID, time.Now(), s.Cfg.Feed.TokenSkewSecs); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "feed").Err(err).Msg("ws accept")
		return
	}
	logger := log.With().Str("module", "feed").Str("room_id", roomID).Str("session_id", sessionID).Logger()

	ctx := c.CloseRead(r.Context())

	// Subscribe before reading the backlog so nothing appended in between is
	// lost; live copies of backlog events are skipped by id.
	sub := s.Reg.Add(sessionID, c)
	defer s.Reg.Remove(sessionID, sub)

	backlog := s.Store.ListEvents(sessionID)
	sent := make(map[string]struct{}, len(backlog))
	for _, evt := range backlog {
		err := sub.write(ctx, Message{Type: evt.Type, RoomID: roomID, SessionID: sessionID, Backlog: true, Event: evt})
		if err != nil {
			logger.Debug().Err(err).Msg("backlog write failed")
			_ = c.Close(ws.StatusInternalError, "backlog")
			return
		}
		sent[evt.ID] = struct{}{}
	}

	logger.Info().Msg("observer connected")
	switch err := sub.Pump(ctx, sent); {
	case errors.Is(err, errBackpressure):
		logger.Warn().Msg("observer dropped, too slow")
		_ = c.Close(ws.StatusPolicyViolation, "too slow")
	case err != nil:
		logger.Debug().Err(err).Msg("feed write failed")
		_ = c.Close(ws.StatusInternalError, "write failed")
	default:
		_ = c.Close(ws.StatusNormalClosure, "done")
	}
	logger.Info().Msg("observer disconnected")
}
