package bridge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"sipbridge/relay/internal/vonage"
)

const StatusCompleted = "completed"

// CallStatus is a call-status event from the voice provider.
type CallStatus struct {
	Status           string
	UUID             string
	ConversationUUID string
	Direction        string
	From             string
	To               string
	Duration         string
	Price            string
	Timestamp        string
}

// HandleCallStatus reacts to a completed leg: it reports the leg's duration
// and cost into the session named by the conversation and tears the SIP leg
// down when the bridge leg is the only member left.
func (s *Service) HandleCallStatus(ctx context.Context, ev CallStatus) {
	logger := log.With().Str("module", "bridge").Str("call_uuid", ev.UUID).Str("status", ev.Status).Logger()
	if ev.Status != StatusCompleted {
		logger.Debug().Msg("call status")
		return
	}
	conv, err := s.voice.GetConversation(ctx, ev.ConversationUUID)
	if err != nil {
		metricProviderErrors.WithLabelValues("voice", "get_conversation").Inc()
		logger.Error().Err(err).Str("conversation_uuid", ev.ConversationUUID).Msg("conversation lookup failed")
		return
	}
	sessionID := conv.Name
	logger = logger.With().Str("session_id", sessionID).Logger()
	if _, known := s.store.RoomForSession(sessionID); !known {
		logger.Debug().Msg("completed leg outside a relayed session")
		return
	}

	s.relay(ctx, sessionID, SignalNexmoSipCallEnded, map[string]any{
		"lengthSeconds": atoi(ev.Duration),
		"cost":          atof(ev.Price),
		"uuid":          ev.UUID,
	})

	joined := conv.JoinedMembers()
	logger.Info().Int("remaining", len(joined)).Msg("leg completed")
	if !s.onlyBridgeLegLeft(joined) {
		return
	}
	if err := s.Teardown(ctx, sessionID); err != nil {
		logger.Warn().Err(err).Msg("teardown skipped")
	}
}

func (s *Service) onlyBridgeLegLeft(joined []vonage.Member) bool {
	if len(joined) != 1 {
		return false
	}
	from := joined[0].Channel.From
	return from.Type == vonage.ChannelPhone && from.Number == s.cfg.Voice.BridgeCallerID
}

// Teardown force-disconnects the session's SIP connection and clears its
// dial-out state. A session without a tracked connection yields
// ErrTeardownMissingConnection and is otherwise left alone.
func (s *Service) Teardown(ctx context.Context, sessionID string) error {
	unlock := s.store.LockSession(sessionID)
	defer unlock()

	connID, ok := s.store.ConnectionID(sessionID)
	if !ok {
		metricTeardowns.WithLabelValues("missing").Inc()
		return fmt.Errorf("%w: %s", ErrTeardownMissingConnection, sessionID)
	}
	if err := s.video.ForceDisconnect(ctx, sessionID, connID); err != nil {
		metricTeardowns.WithLabelValues("error").Inc()
		metricProviderErrors.WithLabelValues("video", "force_disconnect").Inc()
		return fmt.Errorf("disconnect %s: %w", connID, err)
	}
	s.store.ClearDialOut(sessionID)
	metricTeardowns.WithLabelValues("ok").Inc()
	s.store.AppendEvent(sessionID, "sip_teardown", map[string]any{"connection_id": connID})
	log.Info().Str("module", "bridge").Str("session_id", sessionID).Str("connection_id", connID).Msg("sip leg disconnected")
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
