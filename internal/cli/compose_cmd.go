package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"photobooth/internal/fsutil"
	"photobooth/internal/pipeline"
)

func newComposeCmd(root *Root) *cobra.Command {
	var (
		template string
		output   string
		copies   int
		latest   bool
	)

	cmd := &cobra.Command{
		Use:   "compose [photos... | session_dir]",
		Short: "Place photos into a template and write the final composite",
		Long: `Fit each photo into a template slot with a centre cover crop and write a PNG
that keeps the first photo's DPI. Photos wrap around when the template has more
slots than photos; a photo that cannot be decoded leaves its slot blank.

Examples:
  photobooth compose --template templateup3 session_20240101_120000
  photobooth compose --template wedding --copies 2 a.png b.png c.png d.png
  photobooth compose --template wedding --latest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if template == "" {
				return fmt.Errorf("--template is required")
			}
			if copies < 1 {
				return fmt.Errorf("--copies must be at least 1")
			}
			session, photos, err := root.resolveInput(args, latest)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Join(sessionDir(session, photos), root.cfg.Compose.FinalName)
			}

			job := pipeline.Job{
				ID:        pipeline.NewID("composite"),
				Type:      pipeline.JobComposite,
				InputPath: session,
				Output:    output,
				Options: photosOption(map[string]any{
					"template": template,
					"copies":   copies,
					"source":   "cli",
				}, photos),
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Composite written: %v (%vx%v @ %v dpi, %v copies)\n",
				res.Meta["output"], res.Meta["width"], res.Meta["height"], res.Meta["dpi_x"], res.Meta["copies"])
			if warn, ok := res.Meta["warnings"].(string); ok && warn != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Some slots were left blank: %s\n", warn)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "template id or asset path")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <session>/final_composite.png)")
	cmd.Flags().IntVar(&copies, "copies", 1, "number of prints to record for this composite")
	cmd.Flags().BoolVar(&latest, "latest", false, "use the newest session directory")
	return cmd
}

func newStripCmd(root *Root) *cobra.Command {
	var (
		template string
		output   string
		prefix   string
		latest   bool
	)

	cmd := &cobra.Command{
		Use:   "strip [photos... | session_dir]",
		Short: "Render the half-template preview strip",
		RunE: func(cmd *cobra.Command, args []string) error {
			if template == "" {
				return fmt.Errorf("--template is required")
			}
			session, photos, err := root.resolveInput(args, latest)
			if err != nil {
				return err
			}
			if output == "" {
				output = sessionDir(session, photos)
			}
			if prefix == "" {
				prefix = root.cfg.Compose.StripPrefix
			}

			job := pipeline.Job{
				ID:        pipeline.NewID("strip"),
				Type:      pipeline.JobStrip,
				InputPath: session,
				Output:    output,
				Options: photosOption(map[string]any{
					"template": template,
					"prefix":   prefix,
					"source":   "cli",
				}, photos),
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preview strip written: %v\n", res.Meta["output"])
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "template id or asset path")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default: session directory)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "file name prefix (default from config)")
	cmd.Flags().BoolVar(&latest, "latest", false, "use the newest session directory")
	return cmd
}

func newAllCmd(root *Root) *cobra.Command {
	var (
		output string
		prefix string
		latest bool
	)

	cmd := &cobra.Command{
		Use:   "all [photos... | session_dir]",
		Short: "Compose the photos into every template that has enough slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, photos, err := root.resolveInput(args, latest)
			if err != nil {
				return err
			}
			if output == "" {
				output = root.cfg.Paths.OutputDir
			}
			if prefix == "" {
				prefix = root.cfg.Compose.CompositePrefix
			}

			job := pipeline.Job{
				ID:        pipeline.NewID("all"),
				Type:      pipeline.JobAll,
				InputPath: session,
				Output:    output,
				Options: photosOption(map[string]any{
					"prefix": prefix,
					"source": "cli",
				}, photos),
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}

			outputs, _ := res.Meta["outputs"].(map[string]string)
			ids := make([]string, 0, len(outputs))
			for id := range outputs {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			out := cmd.OutOrStdout()
			for _, id := range ids {
				fmt.Fprintf(out, "%s\t%s\n", id, outputs[id])
			}
			fmt.Fprintf(out, "%d composites written to %s\n", len(outputs), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "file name prefix (default from config)")
	cmd.Flags().BoolVar(&latest, "latest", false, "use the newest session directory")
	return cmd
}

func newBlendCmd(root *Root) *cobra.Command {
	var (
		overlayPath string
		output      string
		flip        bool
	)

	cmd := &cobra.Command{
		Use:   "blend <frame | directory>",
		Short: "Alpha-blend an overlay onto a frame or every image in a directory",
		Long: `Stretch the overlay to each frame and alpha-blend it on top. The overlay may be
a PNG path or a template id. With a directory, every image in it is blended and
written next to the source as <name>_preview.png.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if overlayPath == "" {
				overlayPath = root.cfg.Preview.OverlayPath
			}
			if overlayPath == "" {
				return fmt.Errorf("--overlay is required")
			}

			frames := []string{args[0]}
			if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
				if output != "" {
					return fmt.Errorf("--output cannot be used with a directory")
				}
				found, err := fsutil.ListImages(args[0])
				if err != nil {
					return err
				}
				frames = frames[:0]
				for _, f := range found {
					if !root.isEngineOutput(f) {
						frames = append(frames, f)
					}
				}
				if len(frames) == 0 {
					return fmt.Errorf("no images found in %s", args[0])
				}
			}

			out := cmd.OutOrStdout()
			for _, frame := range frames {
				job := pipeline.Job{
					ID:        pipeline.NewID("blend"),
					Type:      pipeline.JobBlend,
					InputPath: frame,
					Output:    output,
					Options: map[string]any{
						"overlay": overlayPath,
						"flip":    flip,
						"source":  "cli",
					},
				}
				res, err := root.enqueueAndWait(cmd.Context(), job)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Blended: %v\n", res.Meta["output"])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&overlayPath, "overlay", "", "overlay PNG or template id (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file for a single frame")
	cmd.Flags().BoolVar(&flip, "flip", false, "mirror the result horizontally")
	return cmd
}

// isEngineOutput reports whether path was written by the engine under the
// configured names, so directory inputs never feed outputs back in.
func (r *Root) isEngineOutput(path string) bool {
	c := r.cfg.Compose
	return fsutil.IsEngineOutput(filepath.Base(path), c.FinalName, c.StripPrefix, c.CompositePrefix)
}
