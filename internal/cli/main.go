// Package cli implements the vbeats command line: offline photo rendering
// and video trimming with the same editor components the server uses.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vbeats/vbeats-api/internal/bootstrap"
	"github.com/vbeats/vbeats-api/internal/config"
	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/storage"
	"github.com/vbeats/vbeats-api/internal/trim"
)

// controllerFunc builds the trim controller for a command run.
type controllerFunc func(cfg *config.Config, sessionID string, store storage.Storage, jobs *job.Service, logger *slog.Logger) *trim.Controller

type app struct {
	newTrimController controllerFunc
}

// Main runs the CLI and exits non-zero on failure.
func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// NewRootCommand returns the vbeats command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(app{newTrimController: bootstrap.NewTrimController})
}

func newRootCommand(a app) *cobra.Command {
	root := &cobra.Command{
		Use:           "vbeats",
		Short:         "Edit photos and trim videos from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPhotoCommand(), newTrimCommand(a))
	return root
}

// loadConfig reads the environment configuration. Logs go to stderr so
// stdout only carries results.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfg.NewLoggerTo(cmd.ErrOrStderr()), nil
}
