// Package bridge correlates video sessions with the voice provider's call
// legs: it owns the pin flow, places the single SIP leg per session, relays
// call lifecycle signals into the session and tears the leg down once the last
// phone caller has left.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"sipbridge/relay/internal/auth"
	"sipbridge/relay/internal/config"
	"sipbridge/relay/internal/opentok"
	"sipbridge/relay/internal/store"
	"sipbridge/relay/internal/types"
	"sipbridge/relay/internal/vonage"
)

var (
	ErrMissingRoom               = errors.New("missing room")
	ErrDialFailed                = errors.New("dial out failed")
	ErrSessionCreateFailed       = errors.New("session create failed")
	ErrPinNotFound               = errors.New("pin not found")
	ErrTeardownMissingConnection = errors.New("teardown requested for session without sip connection")
)

// Signal types relayed into the video session.
const (
	SignalSipCallCreated              = "SipCallCreated"
	SignalSipVideoConnectionCreated   = "SipVideoConnectionCreated"
	SignalSipVideoConnectionDestroyed = "SipVideoConnectionDestroyed"
	SignalNexmoSipCallEnded           = "NexmoSipCallEnded"
	SignalNexmoSipCallReport          = "NexmoSipCallReport"
)

// Service is the relay's call-control core. It is safe for concurrent use.
type Service struct {
	store *store.Store
	video opentok.Client
	voice vonage.Client
	cfg   config.Config
	now   func() time.Time
}

func New(st *store.Store, video opentok.Client, voice vonage.Client, cfg config.Config) *Service {
	return &Service{store: st, video: video, voice: voice, cfg: cfg, now: time.Now}
}

func (s *Service) Store() *store.Store { return s.store }

func (s *Service) APIKey() string { return s.video.APIKey() }

func (s *Service) ConferenceNumber() string { return s.cfg.Voice.ConferenceNumber }

// RoomView is what the room page needs to join a session.
type RoomView struct {
	types.Room
	Token string `json:"token"`
	IsNew bool   `json:"is_new"`
}

// GetOrCreateSession returns the room bound to roomID, creating a routed video
// session and pin on first visit.
func (s *Service) GetOrCreateSession(ctx context.Context, roomID string) (RoomView, error) {
	if roomID == "" {
		return RoomView{}, ErrMissingRoom
	}
	room, ok := s.store.Room(roomID)
	created := false
	if !ok {
		var err error
		room, created, err = s.createRoom(ctx, roomID)
		if err != nil {
			return RoomView{}, err
		}
	}
	tok, err := s.ClientToken(room.SessionID, "")
	if err != nil {
		return RoomView{}, fmt.Errorf("room %s token: %w", roomID, err)
	}
	return RoomView{Room: room, Token: tok, IsNew: created}, nil
}

func (s *Service) createRoom(ctx context.Context, roomID string) (types.Room, bool, error) {
	unlock := s.store.LockRoom(roomID)
	defer unlock()
	if room, ok := s.store.Room(roomID); ok {
		return room, false, nil
	}
	sess, err := s.video.CreateSession(ctx, opentok.MediaRouted)
	if err != nil {
		metricProviderErrors.WithLabelValues("video", "create_session").Inc()
		log.Error().Str("module", "bridge").Str("room_id", roomID).Err(err).Msg("session create failed")
		return types.Room{}, false, fmt.Errorf("%w: %w", ErrSessionCreateFailed, err)
	}
	room, created, err := s.store.BindRoom(roomID, sess.SessionID)
	if err != nil {
		return types.Room{}, false, err
	}
	log.Info().Str("module", "bridge").Str("room_id", roomID).Str("session_id", room.SessionID).
		Int("pin", room.Pin).Msg("room created")
	s.store.AppendEvent(room.SessionID, "room_created", map[string]any{"room_id": roomID, "pin": room.Pin})
	return room, created, nil
}

// ClientToken mints a moderator token for sessionID carrying data as its
// connection data.
func (s *Service) ClientToken(sessionID, data string) (string, error) {
	return s.video.GenerateToken(sessionID, auth.RoleModerator, data)
}

// known reports whether sessionID belongs to a room this relay created.
// Session ids arriving on webhooks are not trusted until checked here.
func (s *Service) known(sessionID string) bool {
	_, ok := s.store.RoomForSession(sessionID)
	return ok
}

// relay sends a signal into the session. Failures are logged and recorded,
// never returned.
func (s *Service) relay(ctx context.Context, sessionID, typ string, data map[string]any) {
	err := s.video.Signal(ctx, sessionID, opentok.Signal{Type: typ, Data: data})
	payload := map[string]any{"signal": typ, "data": data}
	if err != nil {
		metricSignals.WithLabelValues(typ, "error").Inc()
		log.Warn().Str("module", "bridge").Str("session_id", sessionID).Str("signal", typ).Err(err).Msg("signal relay failed")
		payload["error"] = err.Error()
		s.store.AppendEvent(sessionID, "signal_failed", payload)
		return
	}
	metricSignals.WithLabelValues(typ, "ok").Inc()
	s.store.AppendEvent(sessionID, "signal_sent", payload)
}
