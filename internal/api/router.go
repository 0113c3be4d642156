package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sipbridge/relay/internal/feed"
	"sipbridge/relay/internal/web"
)

// NewRouter wires the provider webhooks, the room page and the operational
// endpoints. fs may be nil when the live feed is disabled.
func NewRouter(mode string, h *Handlers, fs *feed.Server) *gin.Engine {
	if mode == gin.ReleaseMode || mode == gin.DebugMode || mode == gin.TestMode {
		gin.SetMode(mode)
	}

	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery())
	r.SetHTMLTemplate(web.Templates())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", h.HandleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/room/:roomId", h.HandleRoom)

	// voice provider
	r.GET("/nexmo-answer", h.HandleAnswer)
	r.POST("/nexmo-answer", h.HandleAnswer)
	r.POST("/nexmo-dtmf", h.HandleDTMF)
	r.Any("/nexmo-events", h.HandleCallEvents)

	// video provider
	r.Any("/tokbox-sip-events", h.HandleSipEvents)
	r.POST("/video-session-callbacks", h.HandleSessionCallbacks)
	r.POST("/dialout", h.HandleDialout)

	r.GET("/rooms", h.HandleListRooms)
	r.GET("/rooms/:roomId/events", h.HandleRoomEvents)
	if fs != nil {
		r.GET("/ws/events", gin.WrapF(fs.HandleEventsWS))
	}
	return r
}
