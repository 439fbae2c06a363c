package handlers

import (
	"context"
	"net/http"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PreferenceService interface {
	Get(ctx context.Context, userID string) (*models.UserPreference, error)
	Update(ctx context.Context, userID string, patch models.PreferenceUpdate) (*models.UserPreference, error)
	Reset(ctx context.Context, userID string) (*models.UserPreference, error)
	ToggleCategoryChannel(ctx context.Context, userID string, category models.Category, channel models.Channel, enabled bool) (*models.UserPreference, error)
	PreferredChannels(ctx context.Context, userID string, category models.Category) ([]models.Channel, error)
}

// PreferenceHandler lets users manage their own delivery settings.
type PreferenceHandler struct {
	service PreferenceService
	logger  *zap.Logger
}

func NewPreferenceHandler(service PreferenceService, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{service: service, logger: logger.Named("handlers")}
}

func (h *PreferenceHandler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), callerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Preferences retrieved", p)
}

func (h *PreferenceHandler) Update(c *gin.Context) {
	var patch models.PreferenceUpdate
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.service.Update(c.Request.Context(), callerID(c), patch)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Preferences updated", p)
}

func (h *PreferenceHandler) Reset(c *gin.Context) {
	p, err := h.service.Reset(c.Request.Context(), callerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Preferences reset", p)
}

type channelsResponse struct {
	Category models.Category  `json:"category"`
	Channels []models.Channel `json:"channels"`
}

// Channels reports where a notification of the given category would go.
func (h *PreferenceHandler) Channels(c *gin.Context) {
	category := models.Category(c.DefaultQuery("category", string(models.CategorySystem)))
	if !category.Valid() {
		fail(c, h.logger, apperr.Validation("unknown category %q", category))
		return
	}
	chans, err := h.service.PreferredChannels(c.Request.Context(), callerID(c), category)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if chans == nil {
		chans = []models.Channel{}
	}
	respond(c, http.StatusOK, "Preferred channels retrieved", channelsResponse{Category: category, Channels: chans})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *PreferenceHandler) ToggleCategoryChannel(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	category := models.Category(c.Param("category"))
	channel := models.Channel(c.Param("channel"))
	if !category.Valid() {
		fail(c, h.logger, apperr.Validation("unknown category %q", category))
		return
	}
	if !channel.Valid() {
		fail(c, h.logger, errUnknownChannel(channel))
		return
	}
	p, err := h.service.ToggleCategoryChannel(c.Request.Context(), callerID(c), category, channel, *req.Enabled)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Preference updated", p)
}
