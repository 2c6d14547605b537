package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SettingsService defines the settings operations the handler needs.
type SettingsService interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	UpdateSettings(ctx context.Context, settings map[string]string) (map[string]string, error)
}

// SettingsHandler exposes the key/value settings store.
type SettingsHandler struct {
	svc    SettingsService
	logger zerolog.Logger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(svc SettingsService, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		svc:    svc,
		logger: logger.With().Str("component", "settings_handler").Logger(),
	}
}

// RegisterRoutes registers settings routes on the given router group.
func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.Get)
	r.PUT("/settings", h.Update)
}

// Get returns all settings.
// GET /api/v1/settings
func (h *SettingsHandler) Get(c *gin.Context) {
	settings, err := h.svc.GetSettings(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "failed to get settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// Update upserts the given settings and returns the full set.
// PUT /api/v1/settings
func (h *SettingsHandler) Update(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	settings, err := h.svc.UpdateSettings(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "failed to update settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}
