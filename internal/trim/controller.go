// Package trim implements the video trim controller: it loads the
// transcoding engine on demand, holds the selected source file and runs
// one trim at a time through the engine.
package trim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/media"
	"github.com/vbeats/vbeats-api/internal/storage"
)

// Static errors for trim operations.
var (
	// ErrNoFile is returned when a trim is requested before a file is chosen.
	ErrNoFile = errors.New("please choose a video file first")
	// ErrInvalidRange is returned when the end time is not after the start time.
	ErrInvalidRange = errors.New("end time must be greater than start time")
	// ErrTrimInProgress is returned while another trim of the session runs.
	ErrTrimInProgress = errors.New("a trim is already in progress")
	// ErrUnsupportedVideo is returned when the selected file is not a video.
	ErrUnsupportedVideo = errors.New("file is not a video")
)

// Messages shown to the user.
const (
	MessageTrimming = "Trimming... this may take a while..."
	MessageDone     = "Trim done, click Download Trimmed"
	MessageFailed   = "Error during trimming. Try reloading or use a different file."
)

// Engine file names used for every trim.
const (
	inputName  = "input.mp4"
	outputName = "out.mp4"
)

// sniffLen is the number of leading bytes inspected to detect the file type.
const sniffLen = 3072

// EngineState is the lifecycle state of the transcoding engine.
type EngineState string

const (
	// EngineUnloaded means the engine has not been loaded, or its last load failed.
	EngineUnloaded EngineState = "unloaded"
	// EngineLoading means a load is in flight.
	EngineLoading EngineState = "loading"
	// EngineReady means the engine accepts commands.
	EngineReady EngineState = "ready"
)

// StatusText returns the engine status line.
func (s EngineState) StatusText() string {
	switch s {
	case EngineLoading:
		return "FFmpeg: loading..."
	case EngineReady:
		return "FFmpeg: ready"
	default:
		return "FFmpeg: not loaded"
	}
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Engine  media.Engine
	Prober  media.Prober
	Storage storage.Storage
	Jobs    *job.Service
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the clock used for output file names.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type sourceFile struct {
	name string
	path string
	mime string
	size int64
}

// Controller drives the trim flow of one session.
type Controller struct {
	deps      Deps
	sessionID string
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         EngineState
	loadDone      chan struct{}
	loadErr       error
	file          *sourceFile
	defaultEnd    float64
	hasDefaultEnd bool
	trimming      bool
	trimDone      chan struct{}
	showProgress  bool
	progress      int
	message       string
	lastJobID     string
}

// NewController creates a controller for the given session.
func NewController(sessionID string, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		deps:      deps,
		sessionID: sessionID,
		logger:    slog.Default(),
		now:       time.Now,
		state:     EngineUnloaded,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("session_id", sessionID))
	if deps.Engine.IsLoaded() {
		c.state = EngineReady
	}
	return c
}

// LoadEngine brings the engine to the ready state. Concurrent callers
// share a single in-flight load; a failed load returns to unloaded so a
// later call can retry.
func (c *Controller) LoadEngine(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case EngineReady:
		c.mu.Unlock()
		return nil
	case EngineLoading:
		done := c.loadDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("wait for engine: %w", ctx.Err())
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.loadErr
	}

	done := make(chan struct{})
	c.state = EngineLoading
	c.loadDone = done
	c.loadErr = nil
	c.mu.Unlock()

	c.logger.Info("loading ffmpeg engine")
	err := c.deps.Engine.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = EngineUnloaded
		c.loadErr = fmt.Errorf("load engine: %w", err)
		c.logger.Error("ffmpeg engine failed to load", slog.String("error", err.Error()))
	} else {
		c.state = EngineReady
		c.logger.Info("ffmpeg engine ready")
	}
	close(done)
	return c.loadErr
}

// SelectFile stores an uploaded video as the trim source, replacing any
// previous one, and reads its duration to preset the end time.
func (c *Controller) SelectFile(ctx context.Context, name string, r io.Reader) error {
	c.mu.Lock()
	busy := c.trimming
	c.mu.Unlock()
	if busy {
		return ErrTrimInProgress
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read video: %w", err)
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	if !acceptedVideo(mt) {
		return fmt.Errorf("%w: detected %s", ErrUnsupportedVideo, mt.String())
	}

	counter := &countingReader{r: io.MultiReader(bytes.NewReader(head), r)}
	path, err := c.deps.Storage.SaveTemp(ctx, name, counter)
	if err != nil {
		return fmt.Errorf("save video: %w", err)
	}

	duration, probeErr := c.deps.Prober.ProbeDuration(ctx, path)
	if probeErr != nil {
		c.logger.Warn("could not read video duration",
			slog.String("file", name),
			slog.String("error", probeErr.Error()),
		)
	}

	c.mu.Lock()
	if c.trimming {
		c.mu.Unlock()
		_ = c.deps.Storage.CleanupTemp(context.WithoutCancel(ctx), []string{path})
		return ErrTrimInProgress
	}
	previous := c.file
	c.file = &sourceFile{name: name, path: path, mime: mt.String(), size: counter.n}
	if probeErr == nil && duration > 0 {
		// A clip shorter than a second has no usable default end.
		c.defaultEnd = math.Floor(duration)
		c.hasDefaultEnd = c.defaultEnd > 0
	}
	c.message = ""
	c.mu.Unlock()

	if previous != nil {
		if err := c.deps.Storage.CleanupTemp(ctx, []string{previous.path}); err != nil {
			c.logger.Warn("failed to remove previous video", slog.String("error", err.Error()))
		}
	}

	c.logger.Info("video selected",
		slog.String("file", name),
		slog.String("mime", mt.String()),
		slog.String("size", humanize.Bytes(uint64(counter.n))),
		slog.Float64("duration", duration),
	)
	return nil
}

func acceptedVideo(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") || m.Is("audio/mp4") {
			return true
		}
	}
	return false
}

// Submit validates a trim request and queues a job for it. The engine is
// not touched.
func (c *Controller) Submit(ctx context.Context, in TrimInput) (*job.Job, error) {
	c.mu.Lock()
	if c.file == nil {
		c.mu.Unlock()
		return nil, ErrNoFile
	}
	rng, err := resolveRange(in, c.defaultEnd, c.hasDefaultEnd)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.trimming {
		c.mu.Unlock()
		return nil, ErrTrimInProgress
	}
	c.trimming = true
	c.trimDone = make(chan struct{})
	c.mu.Unlock()

	j, err := c.deps.Jobs.CreateJob(ctx, job.CreateInput{
		SessionID: c.sessionID,
		Start:     rng.Start,
		End:       rng.End,
		Publish:   in.Publish,
	})
	if err != nil {
		c.mu.Lock()
		c.endTrimLocked()
		c.mu.Unlock()
		return nil, fmt.Errorf("create job: %w", err)
	}

	c.mu.Lock()
	c.lastJobID = j.ID
	c.mu.Unlock()
	return j, nil
}

// Process runs a submitted job to completion. Whatever the outcome, the
// progress indicator is hidden and reset afterwards.
func (c *Controller) Process(ctx context.Context, jobID string) error {
	logger := c.logger.With(slog.String("job_id", jobID))

	c.mu.Lock()
	c.message = MessageTrimming
	c.showProgress = true
	c.progress = 0
	file := c.file
	c.mu.Unlock()

	defer func() {
		c.deps.Engine.SetProgress(nil)
		c.mu.Lock()
		c.endTrimLocked()
		c.showProgress = false
		c.progress = 0
		c.mu.Unlock()
	}()

	j, err := c.deps.Jobs.GetJob(ctx, c.sessionID, jobID)
	if err != nil {
		c.setMessage(MessageFailed)
		return fmt.Errorf("load job: %w", err)
	}

	if err := c.run(ctx, j, file, logger); err != nil {
		logger.Error("trim failed", slog.String("error", err.Error()))
		// Engine errors carry args, stderr and host paths; they stay in the log.
		if failErr := j.Fail(MessageFailed); failErr != nil {
			logger.Warn("could not mark job failed", slog.String("error", failErr.Error()))
		}
		_ = c.deps.Jobs.Update(ctx, j)
		c.setMessage(MessageFailed)
		return err
	}

	c.setMessage(MessageDone)
	return nil
}

func (c *Controller) endTrimLocked() {
	c.trimming = false
	if c.trimDone != nil {
		close(c.trimDone)
		c.trimDone = nil
	}
}

// Wait blocks until no trim is submitted or running.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.trimDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, j *job.Job, file *sourceFile, logger *slog.Logger) error {
	if file == nil {
		return ErrNoFile
	}
	if err := c.LoadEngine(ctx); err != nil {
		return err
	}

	if err := j.Begin(); err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if err := c.deps.Jobs.Update(ctx, j); err != nil {
		return err
	}

	c.deps.Engine.SetProgress(func(ratio float64) {
		pct := min(100, max(0, int(math.Round(ratio*100))))
		c.mu.Lock()
		changed := pct != c.progress
		c.progress = pct
		c.mu.Unlock()
		if changed {
			j.UpdateProgress(pct)
			_ = c.deps.Jobs.Update(ctx, j)
		}
	})

	data, err := c.readSource(ctx, file)
	if err != nil {
		return err
	}
	if err := c.deps.Engine.WriteFile(inputName, data); err != nil {
		return fmt.Errorf("write input: %w", err)
	}

	args := []string{
		"-i", inputName,
		"-ss", formatSeconds(j.Start),
		"-to", formatSeconds(j.End),
		"-c", "copy",
		outputName,
	}
	logger.Info("trimming", slog.Float64("start", j.Start), slog.Float64("end", j.End))
	if err := c.deps.Engine.Run(ctx, args...); err != nil {
		return fmt.Errorf("run engine: %w", err)
	}

	out, err := c.deps.Engine.ReadFile(outputName)
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}

	filename := fmt.Sprintf("vbeats-trim-%d.mp4", c.now().UnixMilli())
	path, err := c.deps.Storage.SaveTemp(ctx, filename, bytes.NewReader(out))
	if err != nil {
		return fmt.Errorf("save output: %w", err)
	}

	var url string
	if j.Publish {
		url, err = c.deps.Storage.Publish(ctx, storage.Object{
			Key:         filename,
			ContentType: "video/mp4",
			Filename:    filename,
		}, bytes.NewReader(out))
		if err != nil {
			// The local download stays available.
			logger.Warn("publish failed", slog.String("error", err.Error()))
			url = ""
		}
	}

	if err := j.Complete(filename, path, url); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	j.UpdateProgress(100)
	if err := c.deps.Jobs.Update(ctx, j); err != nil {
		return err
	}

	logger.Info("trim completed",
		slog.String("file", filename),
		slog.String("size", humanize.Bytes(uint64(len(out)))),
		slog.Bool("published", url != ""),
	)
	return nil
}

func (c *Controller) readSource(ctx context.Context, file *sourceFile) ([]byte, error) {
	rc, err := c.deps.Storage.LoadTemp(ctx, file.path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return data, nil
}

// Trim submits and processes a trim synchronously and returns the final job.
func (c *Controller) Trim(ctx context.Context, in TrimInput) (*job.Job, error) {
	j, err := c.Submit(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := c.Process(ctx, j.ID); err != nil {
		return nil, err
	}
	return c.deps.Jobs.GetJob(ctx, c.sessionID, j.ID)
}

func (c *Controller) setMessage(msg string) {
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
}

// Status is a read-only view of the controller.
type Status struct {
	Engine       EngineState `json:"engine"`
	EngineStatus string      `json:"engine_status"`
	FileName     string      `json:"file_name,omitempty"`
	FileSize     int64       `json:"file_size,omitempty"`
	DefaultEnd   *float64    `json:"default_end,omitempty"`
	Trimming     bool        `json:"trimming"`
	ShowProgress bool        `json:"show_progress"`
	Progress     int         `json:"progress"`
	Message      string      `json:"message,omitempty"`
	LastJobID    string      `json:"last_job_id,omitempty"`
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Engine:       c.state,
		EngineStatus: c.state.StatusText(),
		Trimming:     c.trimming,
		ShowProgress: c.showProgress,
		Progress:     c.progress,
		Message:      c.message,
		LastJobID:    c.lastJobID,
	}
	if c.file != nil {
		st.FileName = c.file.name
		st.FileSize = c.file.size
	}
	if c.hasDefaultEnd {
		end := c.defaultEnd
		st.DefaultEnd = &end
	}
	return st
}

// Close releases the engine and the selected file.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	file := c.file
	c.file = nil
	c.state = EngineUnloaded
	c.mu.Unlock()

	var errs []error
	if err := c.deps.Engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if file != nil {
		if err := c.deps.Storage.CleanupTemp(ctx, []string{file.path}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
