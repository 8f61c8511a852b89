// Package job provides the Job aggregate for video trim jobs.
// It includes the Job entity with its state machine transitions,
// as well as repository interfaces for persistence.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/vbeats/vbeats-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted and waits for the engine.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the engine is trimming.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the trimmed clip is ready for download.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the trim failed.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one trim request of a session.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string `json:"id"`
	// SessionID is the editing session that submitted the job.
	SessionID string `json:"session_id"`
	// Status is the current job state.
	Status Status `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// Start and End bound the trimmed range in seconds.
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	// Publish indicates whether to upload the result to S3.
	Publish bool `json:"publish"`
	// Filename is the download name of the trimmed clip.
	Filename string `json:"filename,omitempty"`
	// OutputPath is the local path of the trimmed clip.
	OutputPath string `json:"output_path,omitempty"`
	// OutputURL is the presigned URL if Publish was true.
	OutputURL string `json:"output_url,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time `json:"updated_at"`
	// StartedAt is when processing started.
	StartedAt time.Time `json:"started_at,omitzero"`
	// CompletedAt is when processing finished.
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New(sessionID string, start, end float64) *Job {
	return NewWithID(id.Generate(), sessionID, start, end)
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID, sessionID string, start, end float64) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		SessionID: sessionID,
		Status:    StatusInQueue,
		Start:     start,
		End:       end,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Begin transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Begin() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the output and transitions the job to COMPLETED.
func (j *Job) Complete(filename, outputPath, outputURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Filename = filename
	j.OutputPath = outputPath
	j.OutputURL = outputURL
	return nil
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = min(100, max(0, progress))
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		Start:       j.Start,
		End:         j.End,
		Publish:     j.Publish,
		Filename:    j.Filename,
		OutputPath:  j.OutputPath,
		OutputURL:   j.OutputURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
