package handlers

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/shared-terminal/backend/internal/ws"
)

// WebSocketHandler exposes the transport gateway on a gin route.
type WebSocketHandler struct {
	gateway *ws.Gateway
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(gateway *ws.Gateway) *WebSocketHandler {
	return &WebSocketHandler{gateway: gateway}
}

// RegisterRoutes registers the WebSocket route on the given router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Handle)
}

// Handle upgrades the request and hands the connection to the gateway.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	if err := h.gateway.HandleConnection(c.Writer, c.Request); err != nil {
		log.Printf("websocket upgrade failed: %v", err)
	}
}
