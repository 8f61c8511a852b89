package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/storage"
	"github.com/vbeats/vbeats-api/internal/trim"
)

func newTrimCommand(a app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim <video>",
		Short: "Cut a time range out of a video without re-encoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTrim(cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.String("start", "", "Start time in seconds (default 0)")
	f.String("end", "", "End time in seconds (default: whole seconds of the video)")
	f.String("out", "", "Output MP4 path (default: generated name in the current directory)")
	return cmd
}

func (a app) runTrim(cmd *cobra.Command, input string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return err
	}
	jobs := job.NewService(job.NewMemoryRepository(), logger)
	ctrl := a.newTrimController(cfg, "cli-"+uuid.NewString(), store, jobs, logger)
	defer func() { _ = ctrl.Close(context.WithoutCancel(ctx)) }()

	if err := ctrl.LoadEngine(ctx); err != nil {
		return fmt.Errorf("load engine: %w", err)
	}

	file, err := os.Open(input) // #nosec G304 - path is given by the user
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := ctrl.SelectFile(ctx, filepath.Base(input), file); err != nil {
		return err
	}

	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	j, err := ctrl.Trim(ctx, trim.TrimInput{Start: start, End: end})
	if err != nil {
		return err
	}
	defer func() { _ = store.CleanupTemp(context.WithoutCancel(ctx), []string{j.OutputPath}) }()

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = j.Filename
	}
	if err := copyOut(ctx, store, j.OutputPath, out); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%gs to %gs)\n", out, j.Start, j.End)
	return nil
}

func copyOut(ctx context.Context, store storage.Storage, src, dst string) error {
	rc, err := store.LoadTemp(ctx, src)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	f, err := os.Create(dst) // #nosec G304 - path is given by the user
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
