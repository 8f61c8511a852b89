package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vbeats/vbeats-api/internal/bootstrap"
	"github.com/vbeats/vbeats-api/internal/compositor"
	"github.com/vbeats/vbeats-api/internal/config"
)

func newPhotoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photo <image>",
		Short: "Apply filters and text to an image and write a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhoto(cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.String("out", "", "Output PNG path (default: generated name in the current directory)")
	f.Float64("brightness", 100, "Brightness percent, 0-200")
	f.Float64("contrast", 100, "Contrast percent, 0-200")
	f.Float64("grayscale", 0, "Grayscale percent, 0-100")
	f.Float64("invert", 0, "Invert percent, 0-100")
	f.StringArray("text", nil, "Text layer to add (repeatable)")
	f.String("size", "", "Text size in pixels")
	f.String("color", "", "Text color, e.g. #ffcc00")
	f.Float64("x", 0.5, "Horizontal text position, 0-1")
	f.Float64("y", 0.85, "Vertical text position, 0-1")
	f.Int("window-width", 0, "Window width the canvas is fitted to")
	return cmd
}

func runPhoto(cmd *cobra.Command, input string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defaults, err := config.LoadEditorDefaults(cfg.EditorDefaultsFile)
	if err != nil {
		return err
	}

	editor, err := compositor.NewEditor(bootstrap.EditorSettings(cfg, defaults), logger)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	windowWidth, _ := flags.GetInt("window-width")

	file, err := os.Open(input) // #nosec G304 - path is given by the user
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := editor.LoadImage(cmd.Context(), filepath.Base(input), file, compositor.Viewport{WindowWidth: windowWidth}); err != nil {
		return err
	}

	filters := editor.State().Filters
	overrideFloat(cmd, "brightness", &filters.Brightness)
	overrideFloat(cmd, "contrast", &filters.Contrast)
	overrideFloat(cmd, "grayscale", &filters.Grayscale)
	overrideFloat(cmd, "invert", &filters.Invert)
	if err := editor.SetFilters(filters); err != nil {
		return err
	}

	texts, _ := flags.GetStringArray("text")
	size, _ := flags.GetString("size")
	color, _ := flags.GetString("color")
	for _, text := range texts {
		if err := editor.AddText(compositor.TextInput{Text: text, Size: size, Color: color}); err != nil {
			return err
		}
		if err := placeSelected(cmd, editor); err != nil {
			return err
		}
	}

	art, err := editor.Export()
	if err != nil {
		return err
	}

	out, _ := flags.GetString("out")
	if out == "" {
		out = art.Filename
	}
	if err := os.WriteFile(out, art.Data, 0o644); err != nil { // #nosec G306 - user output
		return fmt.Errorf("write output: %w", err)
	}

	st := editor.State()
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%dx%d, %s)\n", out, st.Width, st.Height, humanize.Bytes(uint64(len(art.Data))))
	return nil
}

// placeSelected moves the newest layer when --x or --y was given, the
// same way a click on the canvas does.
func placeSelected(cmd *cobra.Command, editor *compositor.Editor) error {
	if !cmd.Flags().Changed("x") && !cmd.Flags().Changed("y") {
		return nil
	}
	st := editor.State()
	layer := st.Layers[st.Selected]
	x, y := layer.X, layer.Y
	overrideFloat(cmd, "x", &x)
	overrideFloat(cmd, "y", &y)

	_, err := editor.Click(compositor.ClickEvent{
		ClientX: x,
		ClientY: y,
		Rect:    compositor.Rect{Width: 1, Height: 1},
	})
	return err
}

func overrideFloat(cmd *cobra.Command, name string, dst *float64) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetFloat64(name)
	}
}
