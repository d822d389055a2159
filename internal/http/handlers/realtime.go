package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/realtime"
)

var defaultChannels = []string{realtime.ChannelReleases, realtime.ChannelPanels, realtime.ChannelJobs}

type RealtimeHandler struct {
	Log *logger.Logger
	Hub *realtime.Hub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{Log: log.With("handler", "RealtimeHandler"), Hub: hub}
}

// GET /api/events?channel=releases&channel=release:12
func (h *RealtimeHandler) Stream(c *gin.Context) {
	channels := queryList(c, "channel")
	if len(channels) == 0 {
		channels = defaultChannels
	}

	client := h.Hub.NewClient()
	for _, ch := range channels {
		h.Hub.AddChannel(client, ch)
	}
	h.Log.Debug("SSE stream open",
		"client_id", client.ID.String(),
		"user", ctxutil.User(c.Request.Context()),
		"channels", channels,
	)

	h.Hub.Serve(c.Writer, c.Request, client)
	h.Hub.CloseClient(client)
}
