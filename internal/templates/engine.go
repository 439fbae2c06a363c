package templates

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	Create(ctx context.Context, t *models.NotificationTemplate) error
	Get(ctx context.Context, code string) (*models.NotificationTemplate, error)
	Save(ctx context.Context, t *models.NotificationTemplate) error
	Delete(ctx context.Context, code string) error
	List(ctx context.Context) ([]*models.NotificationTemplate, error)
	RecordUsage(ctx context.Context, code string, at time.Time) error
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger.Named("templates"), now: time.Now}
}

// Render fills the template identified by code. Every required variable must
// be supplied; optional ones fall back to their defaults. Placeholders with no
// value are left as written.
func (e *Engine) Render(ctx context.Context, code string, variables map[string]any) (*models.NotificationTemplate, models.RenderedTemplate, error) {
	tpl, err := e.store.Get(ctx, code)
	if err != nil {
		return nil, models.RenderedTemplate{}, err
	}
	if !tpl.IsActive {
		return nil, models.RenderedTemplate{}, apperr.Validation("template %s is inactive", code)
	}

	values := make(map[string]string, len(variables)+len(tpl.Variables))
	for k, v := range variables {
		values[k] = stringify(v)
	}

	var missing []string
	for _, v := range tpl.Variables {
		if _, ok := variables[v.Name]; ok {
			continue
		}
		if v.Required {
			missing = append(missing, v.Name)
			continue
		}
		values[v.Name] = v.DefaultValue
	}
	if len(missing) > 0 {
		return nil, models.RenderedTemplate{}, apperr.MissingVariables(missing)
	}

	out := models.RenderedTemplate{
		Subject:  Substitute(tpl.Subject, values),
		Body:     Substitute(tpl.Body, values),
		BodyHTML: Substitute(tpl.BodyHTML, values),
	}

	if err := e.store.RecordUsage(ctx, code, e.now().UTC()); err != nil {
		e.logger.Warn("failed to record template usage", zap.String("code", code), zap.Error(err))
	}
	return tpl, out, nil
}

// Substitute replaces every {{name}} occurrence that has a value.
func Substitute(text string, values map[string]string) string {
	if text == "" {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
}

// Placeholders lists the distinct variable names referenced by text.
func Placeholders(text string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func (e *Engine) Get(ctx context.Context, code string) (*models.NotificationTemplate, error) {
	return e.store.Get(ctx, code)
}

func (e *Engine) List(ctx context.Context) ([]*models.NotificationTemplate, error) {
	return e.store.List(ctx)
}

func (e *Engine) Create(ctx context.Context, req models.CreateTemplateRequest) (*models.NotificationTemplate, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, apperr.Validation("template code is required")
	}
	if !req.Channel.Valid() {
		return nil, apperr.Validation("unknown channel %q", req.Channel)
	}
	if !req.Category.Valid() {
		return nil, apperr.Validation("unknown category %q", req.Category)
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, apperr.Validation("template body is required")
	}
	if err := validateVariables(req.Variables); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	tpl := &models.NotificationTemplate{
		ID:        uuid.New().String(),
		Code:      code,
		Name:      req.Name,
		Channel:   req.Channel,
		Category:  req.Category,
		Subject:   req.Subject,
		Body:      req.Body,
		BodyHTML:  req.BodyHTML,
		Variables: req.Variables,
		IsActive:  true,
		Locale:    req.Locale,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.IsActive != nil {
		tpl.IsActive = *req.IsActive
	}
	if tpl.Locale == "" {
		tpl.Locale = "en"
	}
	if err := e.store.Create(ctx, tpl); err != nil {
		return nil, err
	}
	e.logger.Info("template created", zap.String("code", code))
	return tpl, nil
}

func (e *Engine) Update(ctx context.Context, code string, req models.UpdateTemplateRequest) (*models.NotificationTemplate, error) {
	tpl, err := e.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if tpl.IsSystem {
		return nil, apperr.Forbidden("system template %s cannot be modified, clone it instead", code)
	}
	if req.Channel != nil {
		if !req.Channel.Valid() {
			return nil, apperr.Validation("unknown channel %q", *req.Channel)
		}
		tpl.Channel = *req.Channel
	}
	if req.Category != nil {
		if !req.Category.Valid() {
			return nil, apperr.Validation("unknown category %q", *req.Category)
		}
		tpl.Category = *req.Category
	}
	if req.Name != nil {
		tpl.Name = *req.Name
	}
	if req.Subject != nil {
		tpl.Subject = *req.Subject
	}
	if req.Body != nil {
		if strings.TrimSpace(*req.Body) == "" {
			return nil, apperr.Validation("template body is required")
		}
		tpl.Body = *req.Body
	}
	if req.BodyHTML != nil {
		tpl.BodyHTML = *req.BodyHTML
	}
	if req.Variables != nil {
		if err := validateVariables(req.Variables); err != nil {
			return nil, err
		}
		tpl.Variables = req.Variables
	}
	if req.Locale != nil {
		tpl.Locale = *req.Locale
	}
	if req.IsActive != nil {
		tpl.IsActive = *req.IsActive
	}
	tpl.UpdatedAt = e.now().UTC()
	if err := e.store.Save(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (e *Engine) Delete(ctx context.Context, code string) error {
	tpl, err := e.store.Get(ctx, code)
	if err != nil {
		return err
	}
	if tpl.IsSystem {
		return apperr.Forbidden("system template %s cannot be deleted", code)
	}
	return e.store.Delete(ctx, code)
}

// Clone copies the content of an existing template under newCode. The copy is
// never a system template and starts with no usage history.
func (e *Engine) Clone(ctx context.Context, code, newCode, name string) (*models.NotificationTemplate, error) {
	src, err := e.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	newCode = strings.TrimSpace(newCode)
	if newCode == "" {
		return nil, apperr.Validation("clone code is required")
	}
	if name == "" {
		name = src.Name
	}
	now := e.now().UTC()
	vars := make([]models.TemplateVariable, len(src.Variables))
	copy(vars, src.Variables)
	clone := &models.NotificationTemplate{
		ID:        uuid.New().String(),
		Code:      newCode,
		Name:      name,
		Channel:   src.Channel,
		Category:  src.Category,
		Subject:   src.Subject,
		Body:      src.Body,
		BodyHTML:  src.BodyHTML,
		Variables: vars,
		IsSystem:  false,
		IsActive:  src.IsActive,
		Locale:    src.Locale,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

func validateVariables(vars []models.TemplateVariable) error {
	seen := map[string]bool{}
	for _, v := range vars {
		if strings.TrimSpace(v.Name) == "" {
			return apperr.Validation("template variable name is required")
		}
		if seen[v.Name] {
			return apperr.Validation("duplicate template variable %q", v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}
