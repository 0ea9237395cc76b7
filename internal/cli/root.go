// Package cli wires the cobra command tree to the compositing engine.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"photobooth/internal/compose"
	"photobooth/internal/config"
	"photobooth/internal/fsutil"
	"photobooth/internal/overlay"
	"photobooth/internal/pipeline"
	"photobooth/internal/storage"
	"photobooth/internal/templates"
)

// Version is reported by `photobooth version` and fang's --version flag.
const Version = "0.1.0"

// Components are the long-lived engine parts built by main.
type Components struct {
	Store      *storage.Store
	Pipeline   pipeline.Runner
	Registry   *templates.Registry
	Compositor *compose.Compositor
	Blender    *overlay.Blender
}

// Root wires CLI commands to the pipeline.
type Root struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *storage.Store
	pipeline   pipeline.Runner
	registry   *templates.Registry
	compositor *compose.Compositor
	blender    *overlay.Blender
	serveFn    serveFunc
}

// NewRoot constructs the CLI root.
func NewRoot(cfg *config.Config, logger *slog.Logger, c Components) *Root {
	return &Root{
		cfg:        cfg,
		log:        logger,
		store:      c.Store,
		pipeline:   c.Pipeline,
		registry:   c.Registry,
		compositor: c.Compositor,
		blender:    c.Blender,
		serveFn:    runServe,
	}
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "photobooth",
		Short: "Photobooth template compositing engine",
		Long: `photobooth places captured photos into template slots, builds preview strips,
blends overlays onto live frames and serves the same operations over HTTP and gRPC.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newComposeCmd(root))
	rootCmd.AddCommand(newStripCmd(root))
	rootCmd.AddCommand(newAllCmd(root))
	rootCmd.AddCommand(newBlendCmd(root))
	rootCmd.AddCommand(newTemplatesCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// enqueueAndWait submits job and blocks until the pipeline reports it.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	start := time.Now()
	res, err := pipeline.SubmitAndWait(ctx, r.pipeline, job)
	if err != nil {
		return res, fmt.Errorf("%s job %s: %w", job.Type, job.ID, err)
	}
	r.log.Debug("job finished", "id", job.ID, "elapsed", time.Since(start))
	return res, nil
}

// resolveInput turns command arguments into either a session directory or an
// explicit photo list. --latest picks the newest session_* directory under
// the configured sessions dir.
func (r *Root) resolveInput(args []string, latest bool) (session string, photos []string, err error) {
	if latest {
		if len(args) > 0 {
			return "", nil, fmt.Errorf("--latest cannot be combined with explicit inputs")
		}
		session, err = fsutil.LatestSession(r.cfg.Paths.SessionsDir)
		return session, nil, err
	}
	switch len(args) {
	case 0:
		return "", nil, fmt.Errorf("no photos given; pass photo files, a session directory or --latest")
	case 1:
		if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
			return args[0], nil, nil
		}
	}
	return "", args, nil
}

// sessionDir is where a compose-style job writes by default.
func sessionDir(session string, photos []string) string {
	if session != "" {
		return session
	}
	return filepath.Dir(photos[0])
}

func photosOption(opts map[string]any, photos []string) map[string]any {
	if len(photos) > 0 {
		opts["photos"] = photos
	}
	return opts
}
