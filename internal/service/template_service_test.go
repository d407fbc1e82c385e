package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/trawlhq/trawl-api/internal/models"
)

func newTemplateEnv(t *testing.T) (*TemplateService, *TaskService, *fakeTriggerRegistry) {
	t.Helper()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	triggers := &fakeTriggerRegistry{}
	tasks := NewTaskService(repos, triggers, nil)
	return NewTemplateService(repos, tasks, nil), tasks, triggers
}

func TestTemplateCRUD(t *testing.T) {
	templates, _, _ := newTemplateEnv(t)
	ctx := context.Background()

	tmpl, err := templates.Create(ctx, "key-1", "user-1", TemplateInput{
		Name:     "product scrape",
		TaskType: models.TaskTypeScrape,
		Payload:  json.RawMessage(`{"url":"https://example.com/products"}`),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !tmpl.IsActive {
		t.Error("new template should be active")
	}

	updated, err := templates.Update(ctx, "key-1", tmpl.ID, TemplateInput{
		Name:     "product crawl",
		TaskType: models.TaskTypeCrawl,
		Payload:  json.RawMessage(`{"url":"https://example.com","limit":10}`),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.TaskType != models.TaskTypeCrawl {
		t.Errorf("task type: got %q", updated.TaskType)
	}

	list, err := templates.List(ctx, "key-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("List: got %d, %v", len(list), err)
	}

	deleted, err := templates.Delete(ctx, "key-1", tmpl.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete: got %v, %v", deleted, err)
	}
	if got, _ := templates.Get(ctx, "key-1", tmpl.ID); got != nil {
		t.Error("template still present after delete")
	}
}

func TestTemplateRejectsNestedTemplates(t *testing.T) {
	templates, _, _ := newTemplateEnv(t)

	_, err := templates.Create(context.Background(), "key-1", "user-1", TemplateInput{
		Name:     "inception",
		TaskType: models.TaskTypeTemplate,
	})
	if err == nil {
		t.Fatal("expected error for template task type")
	}
}

func TestDeleteTemplateStopsDependentTasks(t *testing.T) {
	templates, tasks, triggers := newTemplateEnv(t)
	ctx := context.Background()

	tmpl, err := templates.Create(ctx, "key-1", "user-1", TemplateInput{
		Name:     "shared payload",
		TaskType: models.TaskTypeScrape,
		Payload:  json.RawMessage(`{"url":"https://example.com"}`),
	})
	if err != nil {
		t.Fatalf("Create template failed: %v", err)
	}

	task, err := tasks.Create(ctx, "key-1", "user-1", CreateTaskInput{
		Name:           "templated",
		CronExpression: "0 * * * *",
		TaskType:       models.TaskTypeTemplate,
		TaskPayload:    json.RawMessage(fmt.Sprintf(`{"template_id":%q}`, tmpl.ID)),
	})
	if err != nil {
		t.Fatalf("Create task failed: %v", err)
	}

	if _, err := templates.Delete(ctx, "key-1", tmpl.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := tasks.Get(ctx, "key-1", task.ID)
	if err != nil || got == nil {
		t.Fatalf("Get task: %v, %v", got, err)
	}
	if got.IsActive || !got.IsPaused || got.PauseReason != models.PauseReasonTemplateMissing {
		t.Errorf("task state after template delete: %+v", got)
	}
	if len(triggers.removed) == 0 {
		t.Error("dependent task trigger not removed")
	}
}
