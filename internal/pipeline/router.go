package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"photobooth/internal/compose"
	"photobooth/internal/fsutil"
	"photobooth/internal/imageio"
	"photobooth/internal/overlay"
	"photobooth/internal/storage"
	"photobooth/internal/templates"
)

// Deps are the engine components jobs run against.
type Deps struct {
	Templates  TemplateSource
	Compositor Compositor
	Blender    Blender

	StripPrefix     string
	CompositePrefix string
	FinalName       string
}

// TemplateSource resolves template ids or asset paths.
type TemplateSource interface {
	Get(key string) (*templates.Descriptor, bool)
	List() []*templates.Descriptor
}

// Compositor renders composites and strips.
type Compositor interface {
	Compose(photoPaths []string, d *templates.Descriptor) (*compose.Composite, error)
	PreviewStrip(photoPaths []string, d *templates.Descriptor, dir, prefix string) (string, error)
	ComposeAll(photoPaths []string, ds []*templates.Descriptor, dir, prefix string) (map[string]string, error)
}

// Blender supplies cached overlays. Jobs never change the current overlay;
// that belongs to the live preview.
type Blender interface {
	Overlay(path string) (*image.NRGBA, error)
	Current() string
}

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log   *slog.Logger
	store *storage.Store
	deps  Deps
}

func newRouter(logger *slog.Logger, store *storage.Store, deps Deps) Processor {
	if deps.StripPrefix == "" {
		deps.StripPrefix = "preview_strip"
	}
	if deps.CompositePrefix == "" {
		deps.CompositePrefix = "composite"
	}
	if deps.FinalName == "" {
		deps.FinalName = "final_composite.png"
	}
	return &router{log: logger, store: store, deps: deps}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	if err := ctx.Err(); err != nil {
		return Result{Job: job, Error: err}
	}
	switch job.Type {
	case JobComposite:
		return r.handleComposite(ctx, job)
	case JobStrip:
		return r.handleStrip(ctx, job)
	case JobAll:
		return r.handleAll(ctx, job)
	case JobBlend:
		return r.handleBlend(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// photos returns the explicit "photos" option, or the photos found in the
// session directory named by InputPath.
func (r *router) photos(job Job) ([]string, error) {
	if photos := getStringsOption(job.Options, "photos"); len(photos) > 0 {
		return photos, nil
	}
	if job.InputPath == "" {
		return nil, fmt.Errorf("job %s: no photos and no session directory", job.ID)
	}
	photos, err := fsutil.SessionPhotos(job.InputPath, r.outputNames(job)...)
	if err != nil {
		return nil, fmt.Errorf("list session photos: %w", err)
	}
	if len(photos) == 0 {
		return nil, fmt.Errorf("no photos in session %s", job.InputPath)
	}
	return photos, nil
}

// outputNames are the stems and prefixes of files jobs write into a session.
func (r *router) outputNames(job Job) []string {
	names := []string{r.deps.FinalName, r.deps.StripPrefix, r.deps.CompositePrefix}
	if prefix := getStringOption(job.Options, "prefix"); prefix != "" {
		names = append(names, prefix)
	}
	return names
}

func (r *router) template(job Job) (*templates.Descriptor, error) {
	key := getStringOption(job.Options, "template")
	if key == "" {
		return nil, fmt.Errorf("job %s: template option is required", job.ID)
	}
	d, ok := r.deps.Templates.Get(key)
	if !ok {
		return nil, fmt.Errorf("unknown template %q", key)
	}
	return d, nil
}

func (r *router) handleComposite(ctx context.Context, job Job) Result {
	photos, err := r.photos(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	d, err := r.template(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	c, err := r.deps.Compositor.Compose(photos, d)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	out := job.Output
	if out == "" {
		out = filepath.Join(filepath.Dir(photos[0]), r.deps.FinalName)
	}
	copies := getIntOption(job.Options, "copies")
	if copies == 0 {
		copies = 1
	}
	rec, err := compose.Export(c, out, copies)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	if r.store != nil {
		if _, err := r.store.RecordComposite(storage.CompositeRecord{
			JobID:      job.ID,
			OutputPath: rec.Path,
			TemplateID: rec.Template,
			DPIX:       rec.DPI.X,
			DPIY:       rec.DPI.Y,
			Width:      rec.Width,
			Height:     rec.Height,
			Copies:     rec.Copies,
			Skipped:    rec.Skipped,
		}); err != nil {
			r.log.Warn("failed to record composite", "job", job.ID, "error", err)
		}
	}

	meta := map[string]any{
		"output":   rec.Path,
		"template": rec.Template,
		"dpi_x":    rec.DPI.X,
		"dpi_y":    rec.DPI.Y,
		"width":    rec.Width,
		"height":   rec.Height,
		"copies":   rec.Copies,
		"photos":   len(photos),
		"skipped":  rec.Skipped,
	}
	if skipErr := c.Err(); skipErr != nil {
		meta["warnings"] = skipErr.Error()
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleStrip(ctx context.Context, job Job) Result {
	photos, err := r.photos(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	d, err := r.template(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	dir := r.outputDir(job, photos)
	prefix := getStringOption(job.Options, "prefix")
	if prefix == "" {
		prefix = r.deps.StripPrefix
	}

	path, err := r.deps.Compositor.PreviewStrip(photos, d, dir, prefix)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: map[string]any{
		"output":   path,
		"template": d.ID,
		"photos":   len(photos),
	}}
}

func (r *router) handleAll(ctx context.Context, job Job) Result {
	photos, err := r.photos(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	dir := r.outputDir(job, photos)
	prefix := getStringOption(job.Options, "prefix")
	if prefix == "" {
		prefix = r.deps.CompositePrefix
	}

	results, err := r.deps.Compositor.ComposeAll(photos, r.deps.Templates.List(), dir, prefix)
	meta := map[string]any{
		"outputs": results,
		"count":   len(results),
		"photos":  len(photos),
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleBlend(ctx context.Context, job Job) Result {
	if job.InputPath == "" {
		return Result{Job: job, Error: fmt.Errorf("job %s: blend needs an input frame", job.ID)}
	}
	path := getStringOption(job.Options, "overlay")
	if path == "" {
		path = r.deps.Blender.Current()
	} else if d, ok := r.deps.Templates.Get(path); ok {
		path = d.AssetPath
	}
	var fg *image.NRGBA
	if path != "" {
		var err error
		if fg, err = r.deps.Blender.Overlay(path); err != nil {
			return Result{Job: job, Error: err}
		}
	}

	frame, err := imageio.Open(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	out := overlay.Blend(frame, fg, getBoolOption(job.Options, "flip"))

	dest := job.Output
	if dest == "" {
		ext := filepath.Ext(job.InputPath)
		dest = strings.TrimSuffix(job.InputPath, ext) + fsutil.PreviewSuffix + ".png"
	}
	c := &compose.Composite{Image: out, DPI: imageio.FileDPI(job.InputPath)}
	if err := compose.Save(c, dest); err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: map[string]any{
		"output":  dest,
		"overlay": path,
		"width":   out.Bounds().Dx(),
		"height":  out.Bounds().Dy(),
	}}
}

func (r *router) outputDir(job Job, photos []string) string {
	if job.Output != "" {
		return job.Output
	}
	if info, err := os.Stat(job.InputPath); err == nil && info.IsDir() {
		return job.InputPath
	}
	return filepath.Dir(photos[0])
}

func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func getStringOption(options map[string]any, key string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return ""
}

// getIntOption accepts ints and the float64 values JSON decoding produces.
func getIntOption(options map[string]any, key string) int {
	switch val := options[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	}
	return 0
}

func getStringsOption(options map[string]any, key string) []string {
	switch val := options[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
