package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// TemplateService manages reusable task payloads. Scheduled tasks with
// task_type=template resolve type and payload from here at dispatch, so a
// template edit takes effect on the next firing without touching the task.
type TemplateService struct {
	repos  *repository.Repositories
	tasks  *TaskService
	logger *slog.Logger
}

// NewTemplateService creates the template service. tasks is used to stop
// scheduled tasks when their template is deleted; it may be nil in tests.
func NewTemplateService(repos *repository.Repositories, tasks *TaskService, logger *slog.Logger) *TemplateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateService{repos: repos, tasks: tasks, logger: logger}
}

// TemplateInput carries the writable fields of a template.
type TemplateInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	TaskType    models.TaskType `json:"task_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

// Create stores a new template.
func (s *TemplateService) Create(ctx context.Context, apiKeyID, userID string, input TemplateInput) (*models.Template, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	// Templates resolve to a concrete dispatchable type; nesting templates is
	// not allowed.
	if !validTaskType(input.TaskType) || input.TaskType == models.TaskTypeTemplate {
		return nil, fmt.Errorf("invalid template task type %q", input.TaskType)
	}
	payloadJSON, err := normalizePayload(input.Payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tmpl := &models.Template{
		ID:          ulid.Make().String(),
		APIKeyID:    apiKeyID,
		UserID:      userID,
		Name:        input.Name,
		Description: input.Description,
		TaskType:    input.TaskType,
		PayloadJSON: payloadJSON,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.IsActive != nil {
		tmpl.IsActive = *input.IsActive
	}
	if err := s.repos.Template.Create(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return tmpl, nil
}

// Get returns the template when it belongs to the key, nil otherwise.
func (s *TemplateService) Get(ctx context.Context, apiKeyID, templateID string) (*models.Template, error) {
	tmpl, err := s.repos.Template.GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil || tmpl.APIKeyID != apiKeyID {
		return nil, nil
	}
	return tmpl, nil
}

// List returns the key's templates.
func (s *TemplateService) List(ctx context.Context, apiKeyID string) ([]*models.Template, error) {
	return s.repos.Template.ListByAPIKey(ctx, apiKeyID)
}

// Update replaces the template's writable fields.
func (s *TemplateService) Update(ctx context.Context, apiKeyID, templateID string, input TemplateInput) (*models.Template, error) {
	tmpl, err := s.Get(ctx, apiKeyID, templateID)
	if err != nil || tmpl == nil {
		return nil, err
	}
	if input.Name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if !validTaskType(input.TaskType) || input.TaskType == models.TaskTypeTemplate {
		return nil, fmt.Errorf("invalid template task type %q", input.TaskType)
	}
	payloadJSON, err := normalizePayload(input.Payload)
	if err != nil {
		return nil, err
	}

	tmpl.Name = input.Name
	tmpl.Description = input.Description
	tmpl.TaskType = input.TaskType
	tmpl.PayloadJSON = payloadJSON
	if input.IsActive != nil {
		tmpl.IsActive = *input.IsActive
	}
	tmpl.UpdatedAt = time.Now().UTC()
	if err := s.repos.Template.Update(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return tmpl, nil
}

// Delete removes the template and stops every scheduled task that resolves
// through it. Returns false when the template does not exist for this key.
func (s *TemplateService) Delete(ctx context.Context, apiKeyID, templateID string) (bool, error) {
	tmpl, err := s.Get(ctx, apiKeyID, templateID)
	if err != nil || tmpl == nil {
		return false, err
	}

	if err := s.stopDependentTasks(ctx, templateID); err != nil {
		s.logger.Warn("failed to stop tasks for deleted template", "template_id", templateID, "error", err)
	}

	if err := s.repos.Template.Delete(ctx, templateID); err != nil {
		return false, fmt.Errorf("failed to delete template: %w", err)
	}
	return true, nil
}

// stopDependentTasks deactivates tasks whose payload points at the template.
func (s *TemplateService) stopDependentTasks(ctx context.Context, templateID string) error {
	tasks, err := s.repos.Task.ListByTaskType(ctx, models.TaskTypeTemplate)
	if err != nil {
		return fmt.Errorf("failed to list template tasks: %w", err)
	}
	for _, task := range tasks {
		parsed, err := models.ParseTaskPayload(task.TaskPayloadJSON)
		if err != nil || parsed.TemplateID != templateID {
			continue
		}
		if err := s.repos.Task.Stop(ctx, task.ID, models.PauseReasonTemplateMissing); err != nil {
			s.logger.Warn("failed to stop task", "task_id", task.ID, "error", err)
			continue
		}
		if s.tasks != nil {
			s.tasks.unregister(task.ID)
		}
		s.logger.Info("task stopped, template deleted", "task_id", task.ID, "template_id", templateID)
	}
	return nil
}
