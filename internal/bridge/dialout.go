package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog/log"

	"sipbridge/relay/internal/config"
	"sipbridge/relay/internal/opentok"
)

// SIP headers the video provider forwards on the leg it places. The voice
// provider hands them to the answer webhook as SipHeader_<name> query params.
const (
	HeaderSessionID     = "X-OpenTok-SessionId"
	HeaderDialoutNumber = "X-Dialout-Number"
)

// sipTokenData is the connection data of the SIP participant's token. The
// stream callbacks use the sip flag to tell the phone leg from browsers.
type sipTokenData struct {
	SIP    bool   `json:"sip"`
	Role   string `json:"role"`
	Callee string `json:"callee"`
}

func (s *Service) conferenceURI() string {
	u := sip.Uri{
		User:      s.cfg.Voice.ConferenceNumber,
		Host:      s.cfg.Voice.SIPDomain,
		UriParams: sip.HeaderParams{"transport": "tls"},
	}
	return u.String()
}

// DialOut asks the video provider to place the SIP leg for roomID's session
// into the conference number and records the resulting connection. Callers
// must hold the session lock and check IsDialedOut first.
func (s *Service) DialOut(ctx context.Context, roomID string) (opentok.SipCall, error) {
	if roomID == "" {
		return opentok.SipCall{}, ErrMissingRoom
	}
	sessionID, ok := s.store.SessionForRoom(roomID)
	if !ok {
		return opentok.SipCall{}, fmt.Errorf("%w: %s", ErrMissingRoom, roomID)
	}
	call, err := s.dial(ctx, "conference", sessionID, s.cfg.Voice.ConferenceNumber, nil)
	if err != nil {
		return opentok.SipCall{}, err
	}
	s.store.MarkDialedOut(sessionID, call.ConnectionID)
	s.store.AppendEvent(sessionID, "sip_dialed", map[string]any{
		"room_id":       roomID,
		"connection_id": call.ConnectionID,
		"call_id":       call.ID,
	})
	return call, nil
}

// ensureDialedOut places the conference leg for sessionID unless one is
// already up. Concurrent callers for one session produce a single leg.
func (s *Service) ensureDialedOut(ctx context.Context, sessionID string) (opentok.SipCall, error) {
	unlock := s.store.LockSession(sessionID)
	defer unlock()
	if s.store.IsDialedOut(sessionID) {
		connID, _ := s.store.ConnectionID(sessionID)
		return opentok.SipCall{ConnectionID: connID}, nil
	}
	roomID, ok := s.store.RoomForSession(sessionID)
	if !ok {
		return opentok.SipCall{}, fmt.Errorf("%w: no room for session %s", ErrMissingRoom, sessionID)
	}
	return s.DialOut(ctx, roomID)
}

// DialNumber places a SIP leg from sessionID to number without the pin flow.
// An empty number or the conference number runs the guarded conference dial;
// any other number is forwarded to the PSTN by the answer webhook and is not
// tracked for teardown.
func (s *Service) DialNumber(ctx context.Context, sessionID, number string) (opentok.SipCall, error) {
	if sessionID == "" {
		return opentok.SipCall{}, fmt.Errorf("%w: session id is required", ErrMissingRoom)
	}
	if !s.known(sessionID) {
		return opentok.SipCall{}, fmt.Errorf("%w: no room for session %s", ErrMissingRoom, sessionID)
	}
	number = config.NormalizeNumber(number, s.cfg.Voice.ConferenceCountry)
	if number == "" || number == s.cfg.Voice.ConferenceNumber {
		return s.ensureDialedOut(ctx, sessionID)
	}
	call, err := s.dial(ctx, "number", sessionID, number, map[string]string{HeaderDialoutNumber: number})
	if err != nil {
		return opentok.SipCall{}, err
	}
	s.store.AppendEvent(sessionID, "sip_dialed_number", map[string]any{
		"number":        number,
		"connection_id": call.ConnectionID,
		"call_id":       call.ID,
	})
	return call, nil
}

func (s *Service) dial(ctx context.Context, kind, sessionID, callee string, extra map[string]string) (opentok.SipCall, error) {
	data, err := json.Marshal(sipTokenData{SIP: true, Role: "client", Callee: callee})
	if err != nil {
		return opentok.SipCall{}, err
	}
	tok, err := s.ClientToken(sessionID, string(data))
	if err != nil {
		return opentok.SipCall{}, fmt.Errorf("%w: token: %w", ErrDialFailed, err)
	}
	headers := map[string]string{HeaderSessionID: sessionID}
	for k, v := range extra {
		headers[k] = v
	}
	logger := log.With().Str("module", "bridge").Str("session_id", sessionID).Str("kind", kind).Logger()

	start := time.Now()
	call, err := s.video.Dial(ctx, opentok.DialRequest{
		SessionID: sessionID,
		Token:     tok,
		URI:       s.conferenceURI(),
		Headers:   headers,
		Username:  s.cfg.Voice.APIKey,
		Password:  s.cfg.Voice.APISecret,
	})
	metricDialLatency.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metricDialOuts.WithLabelValues(kind, "error").Inc()
		metricProviderErrors.WithLabelValues("video", "dial").Inc()
		logger.Error().Err(err).Msg("dial out failed")
		return opentok.SipCall{}, fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	metricDialOuts.WithLabelValues(kind, "ok").Inc()
	logger.Info().Str("connection_id", call.ConnectionID).Str("call_id", call.ID).Msg("sip call created")

	s.relay(ctx, sessionID, SignalSipCallCreated, map[string]any{
		"connectionId": call.ConnectionID,
		"streamId":     call.StreamID,
		"callee":       callee,
	})
	return call, nil
}
