// Package server provides the HTTP surface of the media editor.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/vbeats/vbeats-api/internal/compositor"
	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/session"
	"github.com/vbeats/vbeats-api/internal/trim"
)

// SessionResponse describes a session and its visible panel.
type SessionResponse struct {
	ID        string         `json:"id"`
	Tab       string         `json:"tab"`
	Panels    session.Panels `json:"panels"`
	CreatedAt time.Time      `json:"created_at"`
}

// SwitchTabRequest is the body of PUT /sessions/{id}/tab.
type SwitchTabRequest struct {
	Tab string `json:"tab" validate:"required,oneof=photo video"`
}

// FiltersRequest carries the four slider values.
type FiltersRequest struct {
	Brightness *float64 `json:"brightness" validate:"required,min=0,max=200"`
	Contrast   *float64 `json:"contrast" validate:"required,min=0,max=200"`
	Grayscale  *float64 `json:"grayscale" validate:"required,min=0,max=100"`
	Invert     *float64 `json:"invert" validate:"required,min=0,max=100"`
}

// AddTextRequest is the body of POST /sessions/{id}/photo/layers.
// Size and Color are raw field values; blank or unparseable sizes fall
// back to the editor default.
type AddTextRequest struct {
	Text  string `json:"text"`
	Size  string `json:"size" validate:"max=32"`
	Color string `json:"color" validate:"max=32"`
}

// SelectLayerRequest is the body of PUT /sessions/{id}/photo/selection.
type SelectLayerRequest struct {
	Index *int `json:"index" validate:"required,min=0"`
}

// ClickRequest is a pointer click in client coordinates.
type ClickRequest struct {
	ClientX float64         `json:"client_x"`
	ClientY float64         `json:"client_y"`
	Rect    compositor.Rect `json:"rect"`
}

// ClickResponse reports whether the selected layer moved.
type ClickResponse struct {
	Moved bool `json:"moved"`
}

// FitRequest is the body of POST /sessions/{id}/photo/fit.
type FitRequest struct {
	WindowWidth int `json:"window_width" validate:"min=0,max=32768"`
}

// PhotoResponse is the photo editor state.
type PhotoResponse struct {
	compositor.State
}

// PublishResponse is returned when an artifact was uploaded to S3.
type PublishResponse struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// TrimRequest is the body of POST /sessions/{id}/video/trim. Start and
// End are raw field values; blank fields take their defaults.
type TrimRequest struct {
	Start   string `json:"start" validate:"max=32"`
	End     string `json:"end" validate:"max=32"`
	Publish bool   `json:"publish"`
}

// TrimResponse is returned once a trim job is queued.
type TrimResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// VideoResponse is the trim controller state.
type VideoResponse struct {
	trim.Status
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string  `json:"error,omitempty"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	// Filename is the download name of the trimmed clip once completed.
	Filename string `json:"filename,omitempty"`
	// DownloadURL is the local download route once completed.
	DownloadURL string `json:"download_url,omitempty"`
	// URL is the presigned S3 URL when the clip was published.
	URL string `json:"url,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Tab:       string(s.Tab()),
		Panels:    s.Panels(),
		CreatedAt: s.CreatedAt,
	}
}

func toJobResponse(sessionID string, j *job.Job) JobResponse {
	resp := JobResponse{
		ID:       j.ID,
		Status:   string(j.Status),
		Progress: j.Progress,
		Error:    j.Error,
		Start:    j.Start,
		End:      j.End,
	}
	if j.Status == job.StatusCompleted {
		resp.Filename = j.Filename
		resp.URL = j.OutputURL
		if j.OutputPath != "" {
			resp.DownloadURL = "/sessions/" + sessionID + "/video/jobs/" + j.ID + "/download"
		}
	}
	return resp
}
