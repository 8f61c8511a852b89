// Package media wraps the external transcoding engine used for video trims.
package media

import "context"

// Engine is a transcoding engine with a private, flat filesystem. Files
// are addressed by bare names such as "input.mp4"; Run executes one
// command against them.
type Engine interface {
	// IsLoaded reports whether Load has completed successfully.
	IsLoaded() bool

	// Load prepares the engine. Calling Load on a loaded engine is a no-op.
	Load(ctx context.Context) error

	// SetProgress registers a callback receiving a completion ratio in
	// [0,1] while Run executes. A nil callback disables reporting.
	SetProgress(fn func(ratio float64))

	// WriteFile stores data under name in the engine filesystem.
	WriteFile(name string, data []byte) error

	// Run executes the engine with the given command-line arguments.
	Run(ctx context.Context, args ...string) error

	// ReadFile returns the contents of name from the engine filesystem.
	ReadFile(name string) ([]byte, error)

	// Close releases the engine filesystem. The engine must be loaded
	// again before further use.
	Close() error
}

// Prober extracts container metadata from a media file on disk.
type Prober interface {
	// ProbeDuration returns the duration of the file in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)
}
