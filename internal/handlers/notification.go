package handlers

import (
	"context"
	"net/http"

	"github.com/franzego/notifyhub/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type NotificationService interface {
	Send(ctx context.Context, req models.SendRequest) (*models.Notification, error)
	SendFromTemplate(ctx context.Context, req models.SendTemplateRequest) (*models.Notification, error)
	SendBatch(ctx context.Context, userIDs []string, msg models.SendRequest) []*models.Notification
	Broadcast(ctx context.Context, msg models.SendRequest) ([]*models.Notification, error)
	Get(ctx context.Context, id string) (*models.Notification, error)
	GetForUser(ctx context.Context, id, userID string) (*models.Notification, error)
	Query(ctx context.Context, filter models.NotificationFilter, page models.PageRequest) (models.Page[*models.Notification], error)
	MarkAsRead(ctx context.Context, id, userID string) (*models.Notification, error)
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	UnreadCount(ctx context.Context, userID string, channel models.Channel) (int, error)
	Retry(ctx context.Context, id string) (*models.Notification, error)
	Cancel(ctx context.Context, id string) (*models.Notification, error)
	ApplyReceipt(ctx context.Context, id string, receipt models.DeliveryReceipt) (*models.Notification, error)
	GetStats(ctx context.Context, filter models.NotificationFilter) (models.NotificationStats, error)
}

// NotificationHandler serves sending for internal callers and the inbox for
// end users.
type NotificationHandler struct {
	service NotificationService
	logger  *zap.Logger
}

func NewNotificationHandler(service NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, logger: logger.Named("handlers")}
}

func (h *NotificationHandler) Send(c *gin.Context) {
	var req models.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.service.Send(c.Request.Context(), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusAccepted, "Notification accepted", models.ToStatus(n))
}

func (h *NotificationHandler) SendFromTemplate(c *gin.Context) {
	var req models.SendTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.service.SendFromTemplate(c.Request.Context(), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusAccepted, "Notification accepted", models.ToStatus(n))
}

func (h *NotificationHandler) SendBatch(c *gin.Context) {
	var req models.BatchSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	created := h.service.SendBatch(c.Request.Context(), req.UserIDs, req.Message)
	respond(c, http.StatusAccepted, "Batch accepted", gin.H{
		"requested":     len(req.UserIDs),
		"created":       len(created),
		"notifications": statuses(created),
	})
}

func (h *NotificationHandler) Broadcast(c *gin.Context) {
	var req models.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	created, err := h.service.Broadcast(c.Request.Context(), req.Message)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusAccepted, "Broadcast accepted", gin.H{
		"created":       len(created),
		"notifications": statuses(created),
	})
}

func statuses(ns []*models.Notification) []models.NotificationStatus {
	out := make([]models.NotificationStatus, 0, len(ns))
	for _, n := range ns {
		out = append(out, models.ToStatus(n))
	}
	return out
}

// List returns the caller's own notifications.
func (h *NotificationHandler) List(c *gin.Context) {
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
	filter.UserID = callerID(c)
	result, err := h.service.Query(c.Request.Context(), filter, page)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Notifications retrieved", models.Page[models.NotificationView]{
		Items:      models.ToViews(result.Items),
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalPages: result.TotalPages,
	})
}

func (h *NotificationHandler) Get(c *gin.Context) {
	n, err := h.service.GetForUser(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Notification retrieved", models.ToView(n))
}

func (h *NotificationHandler) GetStatus(c *gin.Context) {
	n, err := h.service.GetForUser(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Notification status retrieved", models.ToStatus(n))
}

func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	n, err := h.service.MarkAsRead(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Notification marked as read", models.ToView(n))
}

func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	updated, err := h.service.MarkAllAsRead(c.Request.Context(), callerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Notifications marked as read", gin.H{"updated": updated})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	channel := models.Channel(c.Query("channel"))
	if channel != "" && !channel.Valid() {
		badRequest(c, errUnknownChannel(channel))
		return
	}
	count, err := h.service.UnreadCount(c.Request.Context(), callerID(c), channel)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Unread count retrieved", gin.H{"count": count})
}
