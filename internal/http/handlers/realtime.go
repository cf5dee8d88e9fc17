package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/sse"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *sse.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub}
}

// Stream holds the connection open and pushes the user's notification
// channel over SSE until the client disconnects.
func (rh *RealtimeHandler) Stream(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	client := rh.hub.NewSSEClient(userID)
	rh.hub.AddChannel(client, sse.UserChannel(userID))
	defer rh.hub.RemoveClient(client)

	rh.hub.ServeHTTP(c.Writer, c.Request, client)
}
