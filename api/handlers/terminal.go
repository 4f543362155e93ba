// Package handlers provides HTTP API request handlers. Dashboards and
// orchestration consume the registry through these routes; they get no
// access the wire protocol does not also have.
package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shared-terminal/backend/internal/model"
	"github.com/shared-terminal/backend/internal/registry"
	"github.com/shared-terminal/backend/internal/router"
)

// TerminalHandler handles HTTP requests for terminal management.
type TerminalHandler struct {
	reg *registry.Registry
	rtr *router.Router
}

// NewTerminalHandler creates a new TerminalHandler.
func NewTerminalHandler(reg *registry.Registry, rtr *router.Router) *TerminalHandler {
	return &TerminalHandler{reg: reg, rtr: rtr}
}

// RegisterRoutes registers terminal routes on the given router group.
func (h *TerminalHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/terminals", h.List)
	rg.GET("/terminals/:id", h.Get)
	rg.POST("/terminals", h.Spawn)
	rg.DELETE("/terminals/:id", h.Close)
}

// List returns all terminals in creation order plus the live count.
func (h *TerminalHandler) List(c *gin.Context) {
	terminals := h.reg.List()
	c.JSON(http.StatusOK, gin.H{
		"terminals":   terminals,
		"activeCount": h.reg.ActiveCount(),
	})
}

// Get returns one terminal by id.
func (h *TerminalHandler) Get(c *gin.Context) {
	t, err := h.reg.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "terminal not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

// SpawnRequest is the request body for creating a terminal over HTTP.
type SpawnRequest struct {
	model.SpawnConfig
	RequestID string `json:"requestId"`
}

// Spawn creates a terminal.
func (h *TerminalHandler) Spawn(c *gin.Context) {
	var req SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.reg.Spawn(c.Request.Context(), req.SpawnConfig, req.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrKindRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, model.ErrLaunchFailure):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	// Start the output pump so output is buffered before any owner
	// attaches over the WebSocket.
	if ad, err := h.reg.Adapter(t.ID); err == nil {
		h.rtr.StartPump(t.ID, ad)
	} else {
		log.Printf("spawned terminal %s has no adapter: %v", t.ID, err)
	}

	c.JSON(http.StatusCreated, t)
}

// Close destroys a terminal. Unknown and already-closed ids succeed, so
// retries are harmless.
func (h *TerminalHandler) Close(c *gin.Context) {
	if err := h.rtr.ForceClose(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}
