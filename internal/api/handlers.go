package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"sipbridge/relay/internal/bridge"
	"sipbridge/relay/internal/health"
	"sipbridge/relay/internal/store"
	"sipbridge/relay/internal/web"
)

// Query params the voice provider uses to forward SIP headers of the leg the
// video provider placed.
const (
	sipHeaderSessionID = "SipHeader_" + bridge.HeaderSessionID
	sipHeaderDialout   = "SipHeader_" + bridge.HeaderDialoutNumber
)

// ReadinessFunc reports whether the relay's providers are usable.
type ReadinessFunc func(ctx context.Context) health.HealthStatus

type Handlers struct {
	svc   *bridge.Service
	store *store.Store
	ready ReadinessFunc
}

func NewHandlers(svc *bridge.Service, ready ReadinessFunc) *Handlers {
	return &Handlers{svc: svc, store: svc.Store(), ready: ready}
}

// RoomPage is rendered into the room template or returned as JSON.
type RoomPage struct {
	APIKey           string `json:"apiKey"`
	SessionID        string `json:"sessionId"`
	Token            string `json:"token"`
	Pin              int    `json:"pin"`
	RoomID           string `json:"roomId"`
	ConferenceNumber string `json:"conferenceNumber"`
}

func (h *Handlers) HandleRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	view, err := h.svc.GetOrCreateSession(c.Request.Context(), roomID)
	if err != nil {
		log.Error().Str("module", "api").Str("room_id", roomID).Err(err).Msg("room unavailable")
		c.String(http.StatusInternalServerError, "There was an error")
		return
	}
	c.Negotiate(http.StatusOK, gin.Negotiate{
		Offered:  []string{gin.MIMEHTML, gin.MIMEJSON},
		HTMLName: web.RoomTemplate,
		Data: RoomPage{
			APIKey:           h.svc.APIKey(),
			SessionID:        view.SessionID,
			Token:            view.Token,
			Pin:              view.Pin,
			RoomID:           view.ID,
			ConferenceNumber: h.svc.ConferenceNumber(),
		},
	})
}

func (h *Handlers) HandleAnswer(c *gin.Context) {
	f := webhookFields(c)
	c.JSON(http.StatusOK, h.svc.HandleAnswer(bridge.AnswerQuery{
		UUID:             f["uuid"],
		ConversationUUID: f["conversation_uuid"],
		From:             f["from"],
		To:               f["to"],
		SessionID:        f[sipHeaderSessionID],
		DialoutNumber:    f[sipHeaderDialout],
	}))
}

func (h *Handlers) HandleDTMF(c *gin.Context) {
	f := webhookFields(c)
	msisdn := f["msisdn"]
	if msisdn == "" {
		msisdn = f["from"]
	}
	c.JSON(http.StatusOK, h.svc.HandleDTMF(c.Request.Context(), bridge.DTMF{
		Digits:           dtmfDigits(f["dtmf"]),
		MSISDN:           msisdn,
		UUID:             f["uuid"],
		ConversationUUID: f["conversation_uuid"],
	}))
}

func (h *Handlers) HandleCallEvents(c *gin.Context) {
	f := webhookFields(c)
	h.svc.HandleCallStatus(c.Request.Context(), bridge.CallStatus{
		Status:           f["status"],
		UUID:             f["uuid"],
		ConversationUUID: f["conversation_uuid"],
		Direction:        f["direction"],
		From:             f["from"],
		To:               f["to"],
		Duration:         f["duration"],
		Price:            f["price"],
		Timestamp:        f["timestamp"],
	})
	c.Status(http.StatusOK)
}

func (h *Handlers) HandleSipEvents(c *gin.Context) {
	var ev bridge.SipEvent
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&ev); err != nil {
			log.Warn().Str("module", "api").Err(err).Msg("sip event ignored")
			c.Status(http.StatusOK)
			return
		}
	}
	if ev.SessionID != "" {
		h.svc.HandleSipEvent(c.Request.Context(), ev)
	}
	c.Status(http.StatusOK)
}

func (h *Handlers) HandleSessionCallbacks(c *gin.Context) {
	var ev bridge.StreamEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		log.Warn().Str("module", "api").Err(err).Msg("session callback ignored")
		c.Status(http.StatusOK)
		return
	}
	h.svc.HandleStreamEvent(c.Request.Context(), ev)
	c.Status(http.StatusOK)
}

type dialoutRequest struct {
	DialoutNumber string `json:"dialoutNumber" form:"dialoutNumber"`
	SessionID     string `json:"sessionId" form:"sessionId"`
}

func (h *Handlers) HandleDialout(c *gin.Context) {
	var req dialoutRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid request body"})
		return
	}
	call, err := h.svc.DialNumber(c.Request.Context(), req.SessionID, req.DialoutNumber)
	if err != nil {
		log.Error().Str("module", "api").Str("session_id", req.SessionID).Err(err).Msg("dialout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *Handlers) HandleListRooms(c *gin.Context) {
	rooms := h.store.ListRooms()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handlers) HandleRoomEvents(c *gin.Context) {
	roomID := c.Param("roomId")
	sessionID, ok := h.store.SessionForRoom(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":    roomID,
		"session_id": sessionID,
		"events":     h.store.ListEvents(sessionID),
	})
}

func (h *Handlers) HandleReady(c *gin.Context) {
	if h.ready == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	status := h.ready(ctx)
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
