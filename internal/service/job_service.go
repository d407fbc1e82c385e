package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// JobService provides ownership-scoped read access to jobs and their
// results. Every accessor returns (nil, nil) when the job exists but belongs
// to a different key, so the HTTP layer answers 404 without leaking ids.
type JobService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewJobService creates the job read service.
func NewJobService(repos *repository.Repositories, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{repos: repos, logger: logger}
}

// Get returns the job when it belongs to the key, nil otherwise.
func (s *JobService) Get(ctx context.Context, apiKeyID, jobID string) (*models.Job, error) {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil || job.APIKeyID != apiKeyID {
		return nil, nil
	}
	return job, nil
}

// List returns the key's jobs, newest first.
func (s *JobService) List(ctx context.Context, apiKeyID string, limit, offset int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repos.Job.GetByAPIKeyID(ctx, apiKeyID, limit, offset)
}

// Results returns a page of the job's results plus the total count.
func (s *JobService) Results(ctx context.Context, apiKeyID, jobID string, limit, offset int) ([]*models.JobResult, int, error) {
	job, err := s.Get(ctx, apiKeyID, jobID)
	if err != nil || job == nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	total, err := s.repos.JobResult.CountByJobID(ctx, jobID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count results: %w", err)
	}
	results, err := s.repos.JobResult.GetByJobID(ctx, jobID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list results: %w", err)
	}
	return results, total, nil
}
