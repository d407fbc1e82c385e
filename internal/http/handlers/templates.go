package handlers

import (
	"context"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/service"
)

// TemplateHandler handles task template CRUD endpoints.
type TemplateHandler struct {
	templates *service.TemplateService
}

// NewTemplateHandler creates a new template handler.
func NewTemplateHandler(templates *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// CreateTemplateInput is the template creation request.
type CreateTemplateInput struct {
	Body service.TemplateInput
}

// TemplateOutput wraps a single template.
type TemplateOutput struct {
	Body Envelope[*models.Template]
}

// CreateTemplate stores a reusable task payload. Scheduled tasks reference
// it by id in their task_payload.
func (h *TemplateHandler) CreateTemplate(ctx context.Context, input *CreateTemplateInput) (*TemplateOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	tmpl, err := h.templates.Create(ctx, claims.APIKeyID, claims.UserID, input.Body)
	if err != nil {
		return nil, errFromService(err, "create template")
	}
	return &TemplateOutput{Body: envelope(tmpl)}, nil
}

// ListTemplatesOutput is the template list response.
type ListTemplatesOutput struct {
	Body Envelope[[]*models.Template]
}

// ListTemplates returns the caller's templates.
func (h *TemplateHandler) ListTemplates(ctx context.Context, input *struct{}) (*ListTemplatesOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	templates, err := h.templates.List(ctx, claims.APIKeyID)
	if err != nil {
		return nil, errInternal("list templates", err)
	}
	if templates == nil {
		templates = []*models.Template{}
	}
	return &ListTemplatesOutput{Body: envelope(templates)}, nil
}

// TemplateIDInput addresses a single template.
type TemplateIDInput struct {
	ID string `path:"id" doc:"Template ID"`
}

// GetTemplate returns one template.
func (h *TemplateHandler) GetTemplate(ctx context.Context, input *TemplateIDInput) (*TemplateOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	tmpl, err := h.templates.Get(ctx, claims.APIKeyID, input.ID)
	if err != nil {
		return nil, errInternal("load template", err)
	}
	if tmpl == nil {
		return nil, errNotFound("template")
	}
	return &TemplateOutput{Body: envelope(tmpl)}, nil
}

// UpdateTemplateInput is the template update request.
type UpdateTemplateInput struct {
	ID   string `path:"id" doc:"Template ID"`
	Body service.TemplateInput
}

// UpdateTemplate replaces the template's contents. Tasks resolve the
// template at dispatch, so updates apply to future executions.
func (h *TemplateHandler) UpdateTemplate(ctx context.Context, input *UpdateTemplateInput) (*TemplateOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	tmpl, err := h.templates.Update(ctx, claims.APIKeyID, input.ID, input.Body)
	if err != nil {
		return nil, errFromService(err, "update template")
	}
	if tmpl == nil {
		return nil, errNotFound("template")
	}
	return &TemplateOutput{Body: envelope(tmpl)}, nil
}

// DeleteTemplate removes a template and deactivates the scheduled tasks
// that reference it.
func (h *TemplateHandler) DeleteTemplate(ctx context.Context, input *TemplateIDInput) (*DeletedOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	deleted, err := h.templates.Delete(ctx, claims.APIKeyID, input.ID)
	if err != nil {
		return nil, errInternal("delete template", err)
	}
	if !deleted {
		return nil, errNotFound("template")
	}
	return &DeletedOutput{Body: envelope(DeletedData{Deleted: true})}, nil
}
