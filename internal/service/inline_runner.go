package service

import (
	"context"
	"log/slog"

	"github.com/trawlhq/trawl-api/internal/models"
)

// InlineExecutor runs search and map jobs created by the scheduler. Those
// types have no worker fleet; the scheduler hands the job straight here.
type InlineExecutor struct {
	search *SearchService
	maps   *MapService
	logger *slog.Logger
}

// NewInlineExecutor creates the inline runner.
func NewInlineExecutor(search *SearchService, maps *MapService, logger *slog.Logger) *InlineExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineExecutor{search: search, maps: maps, logger: logger}
}

// RunInline executes the job by type. Failures land on the job row; there is
// no retry for inline types.
func (e *InlineExecutor) RunInline(ctx context.Context, job *models.Job) {
	var err error
	switch job.Type {
	case models.TaskTypeSearch:
		err = e.search.RunJob(ctx, job)
	case models.TaskTypeMap:
		err = e.maps.RunJob(ctx, job)
	default:
		e.logger.Error("inline runner got unexpected job type", "job_id", job.ID, "type", job.Type)
		return
	}
	if err != nil {
		e.logger.Error("inline job failed", "job_id", job.ID, "type", job.Type, "error", err)
	}
}
