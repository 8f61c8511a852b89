package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Static errors for media operations.
var (
	// ErrEngineNotLoaded is returned when the engine is used before Load.
	ErrEngineNotLoaded = errors.New("ffmpeg engine not loaded")
	// ErrInvalidFileName is returned for engine file names that are not flat.
	ErrInvalidFileName = errors.New("invalid engine file name")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// FFmpegEngine implements Engine and Prober using the ffmpeg and ffprobe CLIs.
// Its filesystem is a private working directory created by Load.
type FFmpegEngine struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	logger      *slog.Logger

	mu       sync.Mutex
	workDir  string
	progress func(float64)
}

// NewFFmpegEngine creates a new FFmpegEngine.
// Empty binary paths default to "ffmpeg" and "ffprobe" (found via PATH);
// an empty tempDir uses the system temp directory.
func NewFFmpegEngine(ffmpegPath, ffprobePath, tempDir string, logger *slog.Logger) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegEngine{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		tempDir:     tempDir,
		logger:      logger,
	}
}

// IsLoaded reports whether the engine has a working directory.
func (e *FFmpegEngine) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workDir != ""
}

// Load checks that the ffmpeg binary runs and creates the working directory.
func (e *FFmpegEngine) Load(ctx context.Context) error {
	if e.IsLoaded() {
		return nil
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, "-hide_banner", "-version")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg load cancelled: %w", ctx.Err())
		}
		return &FFmpegError{Args: []string{"-version"}, Stderr: out.String(), Err: err}
	}

	if e.tempDir != "" {
		if err := os.MkdirAll(e.tempDir, 0750); err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(e.tempDir, "engine-*")
	if err != nil {
		return fmt.Errorf("create engine dir: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workDir != "" {
		// Lost a race with a concurrent Load.
		_ = os.RemoveAll(dir)
		return nil
	}
	e.workDir = dir

	version, _, _ := strings.Cut(out.String(), "\n")
	e.logger.Debug("ffmpeg engine loaded",
		slog.String("version", strings.TrimSpace(version)),
		slog.String("dir", dir),
	)
	return nil
}

// SetProgress registers the progress callback.
func (e *FFmpegEngine) SetProgress(fn func(ratio float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = fn
}

// WriteFile writes data into the working directory.
func (e *FFmpegEngine) WriteFile(name string, data []byte) error {
	path, err := e.resolve(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// ReadFile reads a file from the working directory.
func (e *FFmpegEngine) ReadFile(name string) ([]byte, error) {
	path, err := e.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - name is validated to stay inside the working directory
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Run executes ffmpeg in the working directory. Existing outputs are
// overwritten. Progress is reported from ffmpeg's stderr and finishes at 1
// on success.
func (e *FFmpegEngine) Run(ctx context.Context, args ...string) error {
	e.mu.Lock()
	dir := e.workDir
	report := e.progress
	e.mu.Unlock()

	if dir == "" {
		return ErrEngineNotLoaded
	}
	if report == nil {
		report = func(float64) {}
	}

	full := append([]string{"-y", "-hide_banner", "-nostdin"}, args...)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, full...)
	cmd.Dir = dir

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return &FFmpegError{Args: args, Err: err}
	}

	var stderr bytes.Buffer
	tracker := newProgressTracker(args, report)
	scanner := bufio.NewScanner(io.TeeReader(stderrPipe, &stderr))
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		tracker.observe(scanner.Text())
	}
	// Drain anything left if the scanner stopped early.
	_, _ = io.Copy(&stderr, stderrPipe)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	report(1)
	return nil
}

// Close removes the working directory.
func (e *FFmpegEngine) Close() error {
	e.mu.Lock()
	dir := e.workDir
	e.workDir = ""
	e.mu.Unlock()

	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove engine dir: %w", err)
	}
	return nil
}

func (e *FFmpegEngine) resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	e.mu.Lock()
	dir := e.workDir
	e.mu.Unlock()
	if dir == "" {
		return "", ErrEngineNotLoaded
	}
	return filepath.Join(dir, name), nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// ProbeDuration returns the duration in seconds of a media file.
// It uses ffprobe to extract the duration metadata.
func (e *FFmpegEngine) ProbeDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+:\d+:\d+(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=\s*(\d+:\d+:\d+(?:\.\d+)?)`)
)

// progressTracker turns ffmpeg stderr lines into completion ratios.
type progressTracker struct {
	start  float64
	end    float64 // zero until known
	report func(float64)
}

func newProgressTracker(args []string, report func(float64)) *progressTracker {
	t := &progressTracker{report: report}
	for i := 0; i+1 < len(args); i++ {
		v, err := parseTimestamp(args[i+1])
		if err != nil {
			continue
		}
		switch args[i] {
		case "-ss":
			t.start = v
		case "-to":
			t.end = v
		}
	}
	return t
}

func (t *progressTracker) observe(line string) {
	if m := durationRe.FindStringSubmatch(line); m != nil {
		if d, err := parseTimestamp(m[1]); err == nil && t.end == 0 {
			t.end = d
		}
		return
	}
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	elapsed, err := parseTimestamp(m[1])
	if err != nil {
		return
	}
	span := t.end - t.start
	if span <= 0 {
		return
	}
	t.report(min(1, max(0, elapsed/span)))
}

// parseTimestamp accepts seconds ("12.5") or ffmpeg clock time ("00:00:12.50").
func parseTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		total = total*60 + v
	}
	return total, nil
}

// scanLinesOrCR splits on '\n' or '\r'; ffmpeg rewrites its status line
// with carriage returns.
func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
