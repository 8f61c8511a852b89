package job

import (
	"context"
	"errors"
	"log/slog"
)

// CreateInput contains the parameters of a new trim job.
type CreateInput struct {
	SessionID string
	Start     float64
	End       float64
	Publish   bool
}

// Service is the job use case layer shared by the trim controller and the
// HTTP handlers. It scopes every lookup to the owning session.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// CreateJob creates a new job and persists it to the repository.
// The job is created in IN_QUEUE status, ready for processing.
func (s *Service) CreateJob(ctx context.Context, input CreateInput) (*Job, error) {
	job := New(input.SessionID, input.Start, input.End)
	job.Publish = input.Publish

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("session_id", input.SessionID),
		slog.Float64("start", input.Start),
		slog.Float64("end", input.End),
		slog.Bool("publish", input.Publish),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// Update persists the current state of a job.
func (s *Service) Update(ctx context.Context, job *Job) error {
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to update job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// GetJob retrieves a job of the session. Jobs of other sessions are
// reported as not found.
func (s *Service) GetJob(ctx context.Context, sessionID, id string) (*Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.SessionID != sessionID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns the session's jobs, oldest first.
func (s *Service) ListJobs(ctx context.Context, sessionID string) ([]*Job, error) {
	return s.repo.ListBySession(ctx, sessionID)
}

// PurgeSession deletes every job of the session and returns them so the
// caller can release their outputs.
func (s *Service) PurgeSession(ctx context.Context, sessionID string) ([]*Job, error) {
	jobs, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if err := s.repo.Delete(ctx, j.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	}
	if len(jobs) > 0 {
		s.logger.Debug("purged session jobs",
			slog.String("session_id", sessionID),
			slog.Int("count", len(jobs)),
		)
	}
	return jobs, nil
}
