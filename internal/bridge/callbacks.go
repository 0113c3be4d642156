package bridge

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"sipbridge/relay/internal/store"
)

// Video session monitoring event names.
const (
	EventStreamCreated   = "streamCreated"
	EventStreamDestroyed = "streamDestroyed"
	EventCallDestroyed   = "callDestroyed"
)

// StreamEvent is a session monitoring callback from the video provider.
type StreamEvent struct {
	SessionID string          `json:"sessionId"`
	ProjectID string          `json:"projectId"`
	Event     string          `json:"event"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Stream    *CallbackStream `json:"stream,omitempty"`
}

type CallbackStream struct {
	ID         string             `json:"id"`
	Name       string             `json:"name,omitempty"`
	VideoType  string             `json:"videoType,omitempty"`
	CreatedAt  int64              `json:"createdAt"`
	Connection CallbackConnection `json:"connection"`
}

type CallbackConnection struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Data      string `json:"data"`
}

// SipEvent is a SIP call monitoring callback from the video provider.
type SipEvent struct {
	SessionID string       `json:"sessionId"`
	ProjectID string       `json:"projectId"`
	Event     string       `json:"event"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp int64        `json:"timestamp"`
	Call      CallbackCall `json:"call"`
}

type CallbackCall struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
	CreatedAt    int64  `json:"createdAt"`
}

// isSIPConnection reports whether the connection's token data flags it as
// the phone leg.
func isSIPConnection(data string) bool {
	var d struct {
		SIP bool `json:"sip"`
	}
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return false
	}
	return d.SIP
}

// rawData passes SIP connection data through as JSON so clients read it as
// an object.
func rawData(data string) json.RawMessage {
	return json.RawMessage(data)
}

// HandleStreamEvent relays SIP stream lifecycle into the session for display.
// Streams of browser connections are ignored.
func (s *Service) HandleStreamEvent(ctx context.Context, ev StreamEvent) {
	if ev.Stream == nil || !isSIPConnection(ev.Stream.Connection.Data) {
		return
	}
	conn := ev.Stream.Connection
	logger := log.With().Str("module", "bridge").Str("session_id", ev.SessionID).Str("connection_id", conn.ID).Logger()
	if !s.known(ev.SessionID) {
		logger.Warn().Str("event", ev.Event).Msg("stream event for unknown session")
		return
	}

	switch ev.Event {
	case EventStreamCreated:
		created := ev.Stream.CreatedAt
		if created == 0 {
			created = ev.Timestamp
		}
		s.store.PutSnapshot(store.Snapshot{
			SessionID:      ev.SessionID,
			ConnectionID:   conn.ID,
			StreamID:       ev.Stream.ID,
			ConnectionData: conn.Data,
			CreatedAt:      created,
			SeenAt:         s.now().UTC(),
		})
		logger.Info().Msg("sip stream created")
		s.relay(ctx, ev.SessionID, SignalSipVideoConnectionCreated, map[string]any{
			"connectionData": rawData(conn.Data),
		})

	case EventStreamDestroyed:
		started := ev.Stream.CreatedAt
		data := conn.Data
		if snap, ok := s.store.Snapshot(ev.SessionID, conn.ID); ok {
			started = snap.CreatedAt
			data = snap.ConnectionData
		} else {
			logger.Warn().Msg("no snapshot for destroyed sip stream")
		}
		length := float64(ev.Timestamp-started) / 1000
		logger.Info().Float64("length_seconds", length).Msg("sip stream destroyed")
		s.relay(ctx, ev.SessionID, SignalSipVideoConnectionDestroyed, map[string]any{
			"lengthSeconds":  length,
			"connectionData": rawData(data),
		})
	}
}

// HandleSipEvent fetches the call record of the session's bridge leg once the
// video provider reports the SIP call gone and relays its cost and duration.
func (s *Service) HandleSipEvent(ctx context.Context, ev SipEvent) {
	logger := log.With().Str("module", "bridge").Str("session_id", ev.SessionID).Str("event", ev.Event).Logger()
	if ev.Event != EventCallDestroyed {
		logger.Debug().Msg("sip event")
		return
	}
	if !s.known(ev.SessionID) {
		logger.Warn().Msg("sip event for unknown session")
		return
	}
	s.forgetDroppedLeg(ev.SessionID, ev.Call.ConnectionID)

	callUUID, ok := s.store.TakeBridgeCall(ev.SessionID)
	if !ok {
		logger.Warn().Msg("no bridge call recorded for session")
		return
	}
	rec, err := s.voice.CallRecord(ctx, callUUID)
	if err != nil {
		metricProviderErrors.WithLabelValues("voice", "call_record").Inc()
		logger.Error().Err(err).Str("call_uuid", callUUID).Msg("call record lookup failed")
		return
	}
	s.relay(ctx, ev.SessionID, SignalNexmoSipCallReport, map[string]any{
		"callData": map[string]any{
			"id":       callUUID,
			"duration": atoi(rec.Duration),
			"price":    atof(rec.Price),
		},
	})
}

// forgetDroppedLeg clears dial-out state when the tracked SIP connection went
// away without a teardown, so the next pin entry dials again.
func (s *Service) forgetDroppedLeg(sessionID, connectionID string) {
	if connectionID == "" {
		return
	}
	unlock := s.store.LockSession(sessionID)
	defer unlock()
	if cur, ok := s.store.ConnectionID(sessionID); ok && cur == connectionID {
		s.store.ClearDialOut(sessionID)
		s.store.AppendEvent(sessionID, "sip_leg_dropped", map[string]any{"connection_id": connectionID})
		log.Info().Str("module", "bridge").Str("session_id", sessionID).Str("connection_id", connectionID).Msg("sip leg dropped by provider")
	}
}
