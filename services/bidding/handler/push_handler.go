package handler

import (
	"net/http"
	"time"

	"table-bidding/internal/realtime"
	"table-bidding/internal/session"
	"table-bidding/utils"

	"github.com/gin-gonic/gin"
)

type PushHandler struct {
	hub *realtime.Hub
}

func NewPushHandler(hub *realtime.Hub) *PushHandler {
	return &PushHandler{hub: hub}
}

// ServeWSHandler handles GET /ws. The upgrader writes its own error response.
func (h *PushHandler) ServeWSHandler(c *gin.Context) {
	identity := session.FromContext(c)
	if err := h.hub.ServeWS(c.Writer, c.Request, identity); err != nil {
		utils.Warn("ServeWSHandler: upgrade failed", map[string]any{"role": identity.Role, "error": err.Error()})
	}
}

// HealthHandler handles GET /health
func (h *PushHandler) HealthHandler(c *gin.Context) {
	payload := gin.H{"time": time.Now().UTC().Format(time.RFC3339)}
	if h.hub != nil {
		payload["push"] = h.hub.Stats()
	}
	utils.JSONResponse(c, http.StatusOK, "ok", payload)
}
