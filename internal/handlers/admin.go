package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/franzego/notifyhub/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type QueueAdmin interface {
	GetQueueStats(ctx context.Context) (models.QueueStats, error)
	CleanOldJobs(ctx context.Context, days int) (int64, error)
}

type ChannelStatus interface {
	Availability() map[models.Channel]bool
}

// AdminHandler exposes operator endpoints: statistics, queue maintenance,
// manual retry and cancel, and provider delivery receipts.
type AdminHandler struct {
	service  NotificationService
	queue    QueueAdmin
	channels ChannelStatus
	logger   *zap.Logger
}

func NewAdminHandler(service NotificationService, queue QueueAdmin, channels ChannelStatus, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{service: service, queue: queue, channels: channels, logger: logger.Named("handlers")}
}

func (h *AdminHandler) List(c *gin.Context) {
	var filter models.NotificationFilter
	var page models.PageRequest
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err)
		return
	}
	if err := c.ShouldBindQuery(&page); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.service.Query(c.Request.Context(), filter, page)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Notifications retrieved", result)
}

func (h *AdminHandler) Get(c *gin.Context) {
	n, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Notification retrieved", n)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	var filter models.NotificationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err)
		return
	}
	stats, err := h.service.GetStats(c.Request.Context(), filter)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Statistics retrieved", stats)
}

func (h *AdminHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.GetQueueStats(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Queue statistics retrieved", stats)
}

// CleanJobs drops finished jobs older than ?days= (default 7).
func (h *AdminHandler) CleanJobs(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil {
		badRequest(c, err)
		return
	}
	removed, err := h.queue.CleanOldJobs(c.Request.Context(), days)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Old jobs cleaned", gin.H{"removed": removed})
}

func (h *AdminHandler) Channels(c *gin.Context) {
	respond(c, http.StatusOK, "Channel availability retrieved", h.channels.Availability())
}

func (h *AdminHandler) Retry(c *gin.Context) {
	n, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusAccepted, "Notification requeued", models.ToStatus(n))
}

func (h *AdminHandler) Cancel(c *gin.Context) {
	n, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Notification cancelled", models.ToStatus(n))
}

// Receipt records a provider delivery report for a sent notification.
func (h *AdminHandler) Receipt(c *gin.Context) {
	var req models.DeliveryReceipt
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.service.ApplyReceipt(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Receipt recorded", models.ToStatus(n))
}
