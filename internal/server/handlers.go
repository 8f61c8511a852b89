package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vbeats/vbeats-api/internal/compositor"
	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/session"
	"github.com/vbeats/vbeats-api/internal/storage"
	"github.com/vbeats/vbeats-api/internal/trim"
)

// DefaultMaxUpload caps multipart uploads when no limit is configured.
const DefaultMaxUpload int64 = 512 << 20

// multipartMemory is the part of an upload kept in memory before
// spilling to disk.
const multipartMemory = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	sessions           *session.Manager
	jobs               *job.Service
	store              storage.Storage
	validator          *validator.Validate
	logger             *slog.Logger
	maxUpload          int64
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background trimming.
// When disabled, Trim processes the job before responding.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUpload sets the upload size limit in bytes.
func WithMaxUpload(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sessions *session.Manager, jobs *job.Service, store storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		sessions:           sessions,
		jobs:               jobs,
		store:              store,
		validator:          validator.New(),
		logger:             logger,
		maxUpload:          DefaultMaxUpload,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Sessions: h.sessions.Len()})
}

// CreateSession handles POST /sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create()
	if err != nil {
		h.logger.Error("failed to create session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create session", "SESSION_CREATION_FAILED")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

// GetSession handles GET /sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// DeleteSession handles DELETE /sessions/{id}.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, trim.ErrTrimInProgress) {
			h.fail(w, r, err)
			return
		}
		// The session is gone; leftover files are only logged.
		h.logger.Warn("session deleted with errors", slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// SwitchTab handles PUT /sessions/{id}/tab.
func (h *Handlers) SwitchTab(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SwitchTabRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := s.SwitchTab(session.Tab(req.Tab)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// GetPhoto handles GET /sessions/{id}/photo.
func (h *Handlers) GetPhoto(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, PhotoResponse{s.Photo.State()})
}

// UploadImage handles POST /sessions/{id}/photo/image.
func (h *Handlers) UploadImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	file, name, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer func() { _ = file.Close() }()

	var vp compositor.Viewport
	if raw := r.FormValue("window_width"); raw != "" {
		ww, err := strconv.Atoi(raw)
		if err != nil || ww < 0 {
			writeError(w, http.StatusBadRequest, "window_width must be a non-negative integer", "VALIDATION_ERROR")
			return
		}
		vp.WindowWidth = ww
	}

	if err := s.Photo.LoadImage(r.Context(), name, file, vp); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PhotoResponse{s.Photo.State()})
}

// SetFilters handles PUT /sessions/{id}/photo/filters.
func (h *Handlers) SetFilters(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req FiltersRequest
	if !h.decode(w, r, &req) {
		return
	}
	f := compositor.Filters{
		Brightness: *req.Brightness,
		Contrast:   *req.Contrast,
		Grayscale:  *req.Grayscale,
		Invert:     *req.Invert,
	}
	if err := s.Photo.SetFilters(f); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PhotoResponse{s.Photo.State()})
}

// AddText handles POST /sessions/{id}/photo/layers.
func (h *Handlers) AddText(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req AddTextRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := s.Photo.AddText(compositor.TextInput{Text: req.Text, Size: req.Size, Color: req.Color})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PhotoResponse{s.Photo.State()})
}

// ClearText handles DELETE /sessions/{id}/photo/layers.
func (h *Handlers) ClearText(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Photo.ClearText(); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PhotoResponse{s.Photo.State()})
}

// SelectLayer handles PUT /sessions/{id}/photo/selection.
func (h *Handlers) SelectLayer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SelectLayerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := s.Photo.SelectLayer(*req.Index); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PhotoResponse{s.Photo.State()})
}

// Click handles POST /sessions/{id}/photo/click.
func (h *Handlers) Click(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ClickRequest
	if !h.decode(w, r, &req) {
		return
	}
	moved, err := s.Photo.Click(compositor.ClickEvent{
		ClientX: req.ClientX,
		ClientY: req.ClientY,
		Rect:    req.Rect,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClickResponse{Moved: moved})
}

// Fit handles POST /sessions/{id}/photo/fit.
func (h *Handlers) Fit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req FitRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := s.Photo.Fit(compositor.Viewport{WindowWidth: req.WindowWidth}); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PhotoResponse{s.Photo.State()})
}

// ResetPhoto handles POST /sessions/{id}/photo/reset.
func (h *Handlers) ResetPhoto(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Photo.Reset()
	writeJSON(w, http.StatusOK, PhotoResponse{s.Photo.State()})
}

// Canvas handles GET /sessions/{id}/photo/canvas.
func (h *Handlers) Canvas(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := s.Photo.Snapshot()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ExportPhoto handles POST /sessions/{id}/photo/export. With
// ?publish=true the PNG is uploaded and a presigned URL returned.
func (h *Handlers) ExportPhoto(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	publish, _ := strconv.ParseBool(r.URL.Query().Get("publish"))

	art, err := s.Photo.Export()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if publish {
		url, err := h.store.Publish(r.Context(), storage.Object{
			Key:         art.Filename,
			ContentType: art.ContentType,
			Filename:    art.Filename,
		}, bytes.NewReader(art.Data))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, PublishResponse{Filename: art.Filename, URL: url})
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", attachment(art.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

// GetVideo handles GET /sessions/{id}/video.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, VideoResponse{s.Video.Status()})
}

// LoadEngine handles POST /sessions/{id}/video/engine.
func (h *Handlers) LoadEngine(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Video.LoadEngine(r.Context()); err != nil {
		h.logger.Error("engine load failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "transcoding engine could not be loaded", "ENGINE_LOAD_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, VideoResponse{s.Video.Status()})
}

// UploadVideo handles POST /sessions/{id}/video/file.
func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	file, name, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer func() { _ = file.Close() }()

	if err := s.Video.SelectFile(r.Context(), name, file); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VideoResponse{s.Video.Status()})
}

// Trim handles POST /sessions/{id}/video/trim.
func (h *Handlers) Trim(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req TrimRequest
	if !h.decode(w, r, &req) {
		return
	}

	j, err := s.Video.Submit(r.Context(), trim.TrimInput{
		Start:   req.Start,
		End:     req.End,
		Publish: req.Publish,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("trim job created",
		slog.String("session_id", s.ID),
		slog.String("job_id", j.ID),
		slog.Float64("start", j.Start),
		slog.Float64("end", j.End),
	)

	// Use context.WithoutCancel so the trim outlives the request
	ctx := context.WithoutCancel(r.Context())
	status := j.GetStatus()
	if h.enableAsyncProcess {
		go h.process(ctx, s, j.ID)
	} else {
		h.process(ctx, s, j.ID)
		if done, err := h.jobs.GetJob(ctx, s.ID, j.ID); err == nil {
			status = done.GetStatus()
		}
	}

	writeJSON(w, http.StatusAccepted, TrimResponse{JobID: j.ID, Status: string(status)})
}

func (h *Handlers) process(ctx context.Context, s *session.Session, jobID string) {
	if err := s.Video.Process(ctx, jobID); err != nil {
		h.logger.Error("background trim failed",
			slog.String("session_id", s.ID),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// ListJobs handles GET /sessions/{id}/video/jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	jobs, err := h.jobs.ListJobs(r.Context(), s.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(s.ID, j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /sessions/{id}/video/jobs/{jobID}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	j, err := h.jobs.GetJob(r.Context(), s.ID, chi.URLParam(r, "jobID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(s.ID, j))
}

// DownloadJob handles GET /sessions/{id}/video/jobs/{jobID}/download.
func (h *Handlers) DownloadJob(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	j, err := h.jobs.GetJob(r.Context(), s.ID, chi.URLParam(r, "jobID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if j.Status != job.StatusCompleted || j.OutputPath == "" {
		writeError(w, http.StatusConflict, "trim is not completed", "JOB_NOT_COMPLETED")
		return
	}

	rc, err := h.store.LoadTemp(r.Context(), j.OutputPath)
	if err != nil {
		h.logger.Error("failed to open trim output",
			slog.String("job_id", j.ID),
			slog.String("path", j.OutputPath),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGone, "trimmed file is no longer available", "OUTPUT_GONE")
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", attachment(j.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("download interrupted",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// session resolves the {id} path parameter.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return s, true
}

// decode reads and validates a JSON body.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// formFile returns the "file" part of a size-limited multipart upload.
func (h *Handlers) formFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, err)
			return nil, "", false
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form", "INVALID_MULTIPART")
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", "MISSING_FILE")
		return nil, "", false
	}
	return file, header.Filename, true
}

// fail writes the response for a domain error.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := errorResponse(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, msg, code)
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
