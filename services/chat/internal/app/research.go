package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"copysensei/internal/util"
	"copysensei/pkg/domain"
	"copysensei/pkg/functions"
	"copysensei/pkg/queue"
)

const researchUpdatedMessage = "Website research updated."

// RefreshResearch fetches website research for a project and stores it.
func (a *App) RefreshResearch(ctx context.Context, userID, projectID string) (domain.Project, error) {
	if a.research == nil {
		return domain.Project{}, fmt.Errorf("%w: fetch-research client not configured", ErrResearchFailed)
	}
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	logger := util.LoggerFromContext(ctx).With("user_id", userID, "project_id", project.ID)

	start := time.Now()
	data, err := a.research.FetchResearch(ctx, functions.ResearchRequest{
		WebsiteURL:  project.WebsiteURL,
		ProjectName: project.Name,
	})
	if err != nil {
		logger.Warn("fetch-research failed", "err", err)
		return domain.Project{}, fmt.Errorf("%w: %w", ErrResearchFailed, err)
	}
	data = strings.TrimSpace(data)
	if err := a.store.SetResearch(project.ID, data); err != nil {
		return domain.Project{}, fmt.Errorf("save research: %w", err)
	}
	project.ResearchData = data
	project.UpdatedAt = time.Now().UTC()
	a.cacheProject(logger, project)
	a.appendSystemMessage(logger, userID, project.ID, researchUpdatedMessage)
	logger.Info("research stored", "bytes", len(data), "duration_ms", time.Since(start).Milliseconds())
	return project, nil
}

// EnqueueResearch schedules research for a project on the job queue.
func (a *App) EnqueueResearch(ctx context.Context, userID, projectID string) (queue.Job, error) {
	if a.queue == nil {
		return queue.Job{}, ErrQueueDisabled
	}
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return queue.Job{}, err
	}
	job, err := a.queue.Enqueue(ctx, project.ID, userID)
	if err != nil {
		return queue.Job{}, fmt.Errorf("enqueue research: %w", err)
	}
	return job, nil
}

// ResearchJob returns a job owned by the user.
func (a *App) ResearchJob(ctx context.Context, userID, jobID string) (queue.Job, error) {
	if a.queue == nil {
		return queue.Job{}, ErrQueueDisabled
	}
	job, ok, err := a.queue.GetJob(ctx, jobID)
	if err != nil {
		return queue.Job{}, fmt.Errorf("load research job: %w", err)
	}
	if !ok || job.UserID != userID {
		return queue.Job{}, ErrJobNotFound
	}
	return job, nil
}

// StartResearchWorker consumes research jobs until ctx is cancelled.
// A job whose project has since been deleted completes without retry.
func (a *App) StartResearchWorker(ctx context.Context, concurrency int) error {
	if a.queue == nil {
		return ErrQueueDisabled
	}
	if a.research == nil {
		return fmt.Errorf("%w: fetch-research client not configured", ErrResearchFailed)
	}
	a.queue.Start(ctx, concurrency, a.handleResearchJob)
	return nil
}

func (a *App) handleResearchJob(ctx context.Context, job queue.Job) error {
	_, err := a.RefreshResearch(ctx, job.UserID, job.ProjectID)
	if errors.Is(err, ErrProjectNotFound) || errors.Is(err, ErrProjectForbidden) || errors.Is(err, ErrUserNotFound) {
		util.LoggerFromContext(ctx).Info("research job dropped", "job_id", job.ID, "project_id", job.ProjectID, "reason", err.Error())
		return nil
	}
	return err
}
