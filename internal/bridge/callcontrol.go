package bridge

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"sipbridge/relay/internal/ncco"
)

// AnswerQuery is the voice provider's answer webhook for a new call leg.
type AnswerQuery struct {
	UUID             string
	ConversationUUID string
	From             string
	To               string
	// SessionID is set only on the leg the video provider dialed in.
	SessionID string
	// DialoutNumber is set when that leg was placed for an ad-hoc number.
	DialoutNumber string
}

// DTMF is a pin submission from the input action.
type DTMF struct {
	Digits           string
	MSISDN           string
	UUID             string
	ConversationUUID string
}

// HandleAnswer returns the script for a new call leg. The leg the video
// provider placed joins the conversation named after its session; any other
// caller is asked for a pin.
func (s *Service) HandleAnswer(q AnswerQuery) ncco.NCCO {
	logger := log.With().Str("module", "bridge").Str("call_uuid", q.UUID).Logger()
	if q.SessionID == "" {
		logger.Info().Str("from", q.From).Msg("inbound call, awaiting pin")
		return ncco.PromptForPin(s.cfg.Voice.PinPrompt, s.cfg.DTMFURL())
	}
	logger = logger.With().Str("session_id", q.SessionID).Logger()
	// Unknown sessions still get their script but leave no state behind.
	known := s.known(q.SessionID)
	if !known {
		logger.Warn().Msg("sip leg for unknown session")
	}
	if q.DialoutNumber != "" && q.DialoutNumber != s.cfg.Voice.ConferenceNumber {
		logger.Info().Str("number", q.DialoutNumber).Msg("forwarding sip leg to number")
		if known {
			s.store.AppendEvent(q.SessionID, "sip_leg_forwarded", map[string]any{"number": q.DialoutNumber, "call_uuid": q.UUID})
		}
		return ncco.NCCO{ncco.ConnectPhone(q.DialoutNumber, s.cfg.Voice.ConferenceNumber)}
	}
	logger.Info().Msg("sip leg joining conversation")
	if known {
		if q.UUID != "" {
			s.store.SetBridgeCall(q.SessionID, q.UUID)
		}
		s.store.AppendEvent(q.SessionID, "sip_leg_answered", map[string]any{"call_uuid": q.UUID})
	}
	return ncco.Join(q.SessionID, "")
}

// HandleDTMF advances a caller from AwaitingPin. An unknown pin re-prompts
// without touching state; a known pin dials the session out once and joins
// the caller to its conversation.
func (s *Service) HandleDTMF(ctx context.Context, in DTMF) ncco.NCCO {
	logger := log.With().Str("module", "bridge").Str("msisdn", in.MSISDN).Logger()
	retry := ncco.PromptForPin(s.cfg.Voice.PinRetryPrompt, s.cfg.DTMFURL())

	sessionID, ok := s.resolvePin(in.Digits)
	if !ok {
		metricPinEntries.WithLabelValues("not_found").Inc()
		logger.Warn().Err(ErrPinNotFound).Str("digits", in.Digits).Msg("pin rejected")
		return ncco.PromptForPin(s.cfg.Voice.PinNotFoundPrompt, s.cfg.DTMFURL())
	}
	logger = logger.With().Str("session_id", sessionID).Logger()

	if !s.store.IsDialedOut(sessionID) {
		if _, err := s.ensureDialedOut(ctx, sessionID); err != nil {
			metricPinEntries.WithLabelValues("dial_failed").Inc()
			logger.Error().Err(err).Msg("dial out for pin failed")
			return retry
		}
		metricPinEntries.WithLabelValues("dialed").Inc()
	} else {
		metricPinEntries.WithLabelValues("joined").Inc()
	}

	tok, err := s.ClientToken(sessionID, "")
	if err != nil {
		logger.Error().Err(err).Msg("join token failed")
		return retry
	}
	s.store.AppendEvent(sessionID, "caller_joined", map[string]any{"msisdn": in.MSISDN, "call_uuid": in.UUID})
	logger.Info().Msg("caller bridged")
	return ncco.Join(sessionID, tok)
}

func (s *Service) resolvePin(digits string) (string, bool) {
	pin, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(digits), "#"))
	if err != nil {
		return "", false
	}
	return s.store.ResolvePin(pin)
}
