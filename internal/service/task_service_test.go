package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/trawlhq/trawl-api/internal/models"
)

type fakeTriggerRegistry struct {
	mu        sync.Mutex
	added     []string
	removed   []string
	triggered []string
	cancelled []string
}

func (f *fakeTriggerRegistry) AddTask(task *models.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, task.ID)
	return nil
}

func (f *fakeTriggerRegistry) RemoveTask(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, taskID)
}

func (f *fakeTriggerRegistry) TriggerManually(ctx context.Context, taskID string) (*models.TaskExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, taskID)
	return &models.TaskExecution{ID: "exec-manual", ScheduledTaskID: taskID, TriggeredBy: models.TriggeredByManual}, nil
}

func (f *fakeTriggerRegistry) CancelExecution(ctx context.Context, executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, executionID)
	return nil
}

func newTaskEnv(t *testing.T) (*TaskService, *fakeTriggerRegistry) {
	t.Helper()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	triggers := &fakeTriggerRegistry{}
	return NewTaskService(repos, triggers, nil), triggers
}

func TestCreateTaskRegistersTrigger(t *testing.T) {
	tasks, triggers := newTaskEnv(t)

	task, err := tasks.Create(context.Background(), "key-1", "user-1", CreateTaskInput{
		Name:           "nightly crawl",
		CronExpression: "0 2 * * *",
		Timezone:       "Europe/London",
		TaskType:       models.TaskTypeCrawl,
		TaskPayload:    json.RawMessage(`{"url":"https://example.com","limit":50}`),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if task.ConcurrencyMode != models.ConcurrencySkip {
		t.Errorf("concurrency mode: got %q, want skip", task.ConcurrencyMode)
	}
	if task.NextExecutionAt == nil {
		t.Error("next_execution_at not computed")
	}
	if !task.IsActive || task.IsPaused {
		t.Errorf("state: active=%v paused=%v", task.IsActive, task.IsPaused)
	}
	if len(triggers.added) != 1 || triggers.added[0] != task.ID {
		t.Errorf("trigger registrations: %v", triggers.added)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	tasks, _ := newTaskEnv(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateTaskInput
	}{
		{"missing name", CreateTaskInput{CronExpression: "* * * * *", TaskType: models.TaskTypeScrape}},
		{"bad cron", CreateTaskInput{Name: "t", CronExpression: "not a cron", TaskType: models.TaskTypeScrape}},
		{"bad timezone", CreateTaskInput{Name: "t", CronExpression: "* * * * *", Timezone: "Mars/Olympus", TaskType: models.TaskTypeScrape}},
		{"bad type", CreateTaskInput{Name: "t", CronExpression: "* * * * *", TaskType: "extract"}},
		{"bad mode", CreateTaskInput{Name: "t", CronExpression: "* * * * *", TaskType: models.TaskTypeScrape, ConcurrencyMode: "parallel"}},
		{"template without id", CreateTaskInput{Name: "t", CronExpression: "* * * * *", TaskType: models.TaskTypeTemplate, TaskPayload: json.RawMessage(`{}`)}},
	}
	for _, tc := range cases {
		if _, err := tasks.Create(ctx, "key-1", "user-1", tc.input); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestCreateTaskTierLimit(t *testing.T) {
	tasks, _ := newTaskEnv(t)
	ctx := context.Background()

	// Free tier allows two active tasks.
	for i := 0; i < 2; i++ {
		_, err := tasks.Create(ctx, "key-1", "user-1", CreateTaskInput{
			Name:           "task",
			CronExpression: "* * * * *",
			TaskType:       models.TaskTypeScrape,
		})
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}

	_, err := tasks.Create(ctx, "key-1", "user-1", CreateTaskInput{
		Name:           "one too many",
		CronExpression: "* * * * *",
		TaskType:       models.TaskTypeScrape,
	})
	var limitErr *TaskLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err: got %v, want TaskLimitError", err)
	}
	if limitErr.Tier != "free" || limitErr.Limit != 2 || limitErr.Count != 2 {
		t.Errorf("limit error: %+v", limitErr)
	}
}

func TestUpdateTaskReRegisters(t *testing.T) {
	tasks, triggers := newTaskEnv(t)
	ctx := context.Background()

	task, err := tasks.Create(ctx, "key-1", "user-1", CreateTaskInput{
		Name:           "hourly",
		CronExpression: "0 * * * *",
		TaskType:       models.TaskTypeScrape,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	expr := "*/30 * * * *"
	updated, err := tasks.Update(ctx, "key-1", task.ID, UpdateTaskInput{CronExpression: &expr})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.CronExpression != expr {
		t.Errorf("cron: got %q", updated.CronExpression)
	}
	if len(triggers.added) != 2 {
		t.Errorf("expected re-registration, got %v", triggers.added)
	}

	inactive := false
	if _, err := tasks.Update(ctx, "key-1", task.ID, UpdateTaskInput{IsActive: &inactive}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(triggers.removed) != 1 {
		t.Errorf("deactivation should unregister, got %v", triggers.removed)
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	tasks, triggers := newTaskEnv(t)
	ctx := context.Background()

	task, err := tasks.Create(ctx, "key-1", "user-1", CreateTaskInput{
		Name:           "daily map",
		CronExpression: "0 6 * * *",
		TaskType:       models.TaskTypeMap,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	paused, err := tasks.Pause(ctx, "key-1", task.ID)
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if !paused.IsPaused || paused.PauseReason != "user_requested" {
		t.Errorf("paused state: %+v", paused)
	}
	if len(triggers.removed) != 1 {
		t.Errorf("pause should unregister, got %v", triggers.removed)
	}

	resumed, err := tasks.Resume(ctx, "key-1", task.ID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.IsPaused || resumed.PauseReason != "" {
		t.Errorf("resumed state: %+v", resumed)
	}
	if resumed.NextExecutionAt == nil {
		t.Error("resume should recompute next_execution_at")
	}
	if len(triggers.added) != 2 {
		t.Errorf("resume should re-register, got %v", triggers.added)
	}
}

func TestTaskOwnershipScoping(t *testing.T) {
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertAPIKey(t, db, "key-2", 100)
	tasks := NewTaskService(repos, &fakeTriggerRegistry{}, nil)
	ctx := context.Background()

	task, err := tasks.Create(ctx, "key-1", "user-1", CreateTaskInput{
		Name:           "private",
		CronExpression: "* * * * *",
		TaskType:       models.TaskTypeScrape,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := tasks.Get(ctx, "key-2", task.ID)
	if err != nil || got != nil {
		t.Errorf("cross-key Get: got %+v, %v", got, err)
	}
	deleted, err := tasks.Delete(ctx, "key-2", task.ID)
	if err != nil || deleted {
		t.Errorf("cross-key Delete: got %v, %v", deleted, err)
	}
}

func TestTriggerManual(t *testing.T) {
	tasks, triggers := newTaskEnv(t)
	ctx := context.Background()

	task, err := tasks.Create(ctx, "key-1", "user-1", CreateTaskInput{
		Name:           "on demand",
		CronExpression: "0 0 1 * *",
		TaskType:       models.TaskTypeSearch,
		TaskPayload:    json.RawMessage(`{"query":"example"}`),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	execution, err := tasks.Trigger(ctx, "key-1", task.ID)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if execution == nil || execution.TriggeredBy != models.TriggeredByManual {
		t.Errorf("execution: %+v", execution)
	}
	if len(triggers.triggered) != 1 || triggers.triggered[0] != task.ID {
		t.Errorf("manual triggers: %v", triggers.triggered)
	}
}

func TestDeleteTaskUnregisters(t *testing.T) {
	tasks, triggers := newTaskEnv(t)
	ctx := context.Background()

	task, err := tasks.Create(ctx, "key-1", "user-1", CreateTaskInput{
		Name:           "short lived",
		CronExpression: "* * * * *",
		TaskType:       models.TaskTypeScrape,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deleted, err := tasks.Delete(ctx, "key-1", task.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete: got %v, %v", deleted, err)
	}
	if got, _ := tasks.Get(ctx, "key-1", task.ID); got != nil {
		t.Error("task still present after delete")
	}
	if len(triggers.removed) != 1 {
		t.Errorf("delete should unregister, got %v", triggers.removed)
	}
}
