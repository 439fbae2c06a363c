package handlers

import (
	"context"
	"net/http"

	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/internal/templates"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TemplateService interface {
	Get(ctx context.Context, code string) (*models.NotificationTemplate, error)
	List(ctx context.Context) ([]*models.NotificationTemplate, error)
	Create(ctx context.Context, req models.CreateTemplateRequest) (*models.NotificationTemplate, error)
	Update(ctx context.Context, code string, req models.UpdateTemplateRequest) (*models.NotificationTemplate, error)
	Delete(ctx context.Context, code string) error
	Clone(ctx context.Context, code, newCode, name string) (*models.NotificationTemplate, error)
	Render(ctx context.Context, code string, variables map[string]any) (*models.NotificationTemplate, models.RenderedTemplate, error)
}

type TemplateHandler struct {
	service TemplateService
	logger  *zap.Logger
}

func NewTemplateHandler(service TemplateService, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{service: service, logger: logger.Named("handlers")}
}

func (h *TemplateHandler) List(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Templates retrieved", list)
}

func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.service.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Template retrieved", tpl)
}

func (h *TemplateHandler) Create(c *gin.Context) {
	var req models.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "Template created", tpl)
}

func (h *TemplateHandler) Update(c *gin.Context) {
	var req models.UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.service.Update(c.Request.Context(), c.Param("code"), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Template updated", tpl)
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("code")); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Template deleted", nil)
}

func (h *TemplateHandler) Clone(c *gin.Context) {
	var req models.CloneTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.service.Clone(c.Request.Context(), c.Param("code"), req.Code, req.Name)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, "Template cloned", tpl)
}

type previewRequest struct {
	Variables map[string]any `json:"variables"`
}

// Preview renders a template without sending anything. It does count as a use.
func (h *TemplateHandler) Preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, out, err := h.service.Render(c.Request.Context(), c.Param("code"), req.Variables)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "Template rendered", models.TemplatePreview{
		RenderedTemplate: out,
		Unresolved:       templates.Placeholders(out.Subject + "\n" + out.Body + "\n" + out.BodyHTML),
	})
}
