package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"photobooth/internal/compose"
	"photobooth/internal/imageio"
	"photobooth/internal/logging"
	"photobooth/internal/overlay"
	"photobooth/internal/storage"
	"photobooth/internal/templates"
)

type stubTemplates struct {
	items map[string]*templates.Descriptor
}

func (s *stubTemplates) Get(key string) (*templates.Descriptor, bool) {
	d, ok := s.items[key]
	return d, ok
}

func (s *stubTemplates) List() []*templates.Descriptor {
	var out []*templates.Descriptor
	for _, d := range s.items {
		out = append(out, d)
	}
	return out
}

type stubCompositor struct {
	lastPhotos []string
	lastDir    string
	lastPrefix string
	skipped    []*compose.PhotoDecodeError
	err        error
}

func (s *stubCompositor) Compose(photoPaths []string, d *templates.Descriptor) (*compose.Composite, error) {
	s.lastPhotos = photoPaths
	if s.err != nil {
		return nil, s.err
	}
	return &compose.Composite{
		Image:    image.NewNRGBA(image.Rect(0, 0, 30, 20)),
		DPI:      imageio.DPI{X: 600, Y: 600},
		Template: d.ID,
		Skipped:  s.skipped,
	}, nil
}

func (s *stubCompositor) PreviewStrip(photoPaths []string, d *templates.Descriptor, dir, prefix string) (string, error) {
	s.lastPhotos, s.lastDir, s.lastPrefix = photoPaths, dir, prefix
	return filepath.Join(dir, prefix+"_2photos.png"), s.err
}

func (s *stubCompositor) ComposeAll(photoPaths []string, ds []*templates.Descriptor, dir, prefix string) (map[string]string, error) {
	s.lastPhotos, s.lastDir, s.lastPrefix = photoPaths, dir, prefix
	out := map[string]string{}
	for _, d := range ds {
		out[d.ID] = filepath.Join(dir, prefix+"_"+d.ID+".png")
	}
	return out, s.err
}

type stubBlender struct {
	requested string
	current   string
}

func (s *stubBlender) Overlay(path string) (*image.NRGBA, error) {
	s.requested = path
	return image.NewNRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (s *stubBlender) Current() string { return s.current }

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := imageio.EncodePNG(f, img, imageio.DPI{}); err != nil {
		t.Fatal(err)
	}
}

func filled(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func grid() *templates.Descriptor {
	return &templates.Descriptor{ID: "grid", AssetPath: "/templates/grid.png", RequiredPhotos: 4}
}

func newTestRouter(t *testing.T, comp *stubCompositor, blend *stubBlender, store *storage.Store) *router {
	t.Helper()
	return newRouter(logging.Discard(), store, Deps{
		Templates:  &stubTemplates{items: map[string]*templates.Descriptor{"grid": grid()}},
		Compositor: comp,
		Blender:    blend,
	}).(*router)
}

func TestRouterCompositeExportsAndRecords(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	comp := &stubCompositor{skipped: []*compose.PhotoDecodeError{{Slot: 2, Photo: "b.png", Err: errors.New("bad")}}}
	r := newTestRouter(t, comp, &stubBlender{}, store)

	out := filepath.Join(t.TempDir(), "final_composite.png")
	res := r.Process(context.Background(), Job{
		ID:     "composite-1",
		Type:   JobComposite,
		Output: out,
		Options: map[string]any{
			"photos":   []any{"a.png", "b.png"},
			"template": "grid",
			"copies":   float64(3),
		},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if len(comp.lastPhotos) != 2 {
		t.Fatalf("expected photos passed through, got %v", comp.lastPhotos)
	}
	if res.Meta["copies"] != 3 || res.Meta["dpi_x"] != 600 {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
	if _, ok := res.Meta["warnings"]; !ok {
		t.Fatalf("skipped slot should surface as a warning")
	}
	if got := imageio.FileDPI(out); got.X != 600 {
		t.Fatalf("exported file lost dpi: %v", got)
	}

	recs, err := store.RecentComposites(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Copies != 3 || recs[0].JobID != "composite-1" || len(recs[0].Skipped) != 1 {
		t.Fatalf("unexpected composite records %+v", recs)
	}
}

func TestRouterUsesSessionDirectory(t *testing.T) {
	session := t.TempDir()
	for _, name := range []string{"photo_1.png", "photo_2.png", "final_composite.png"} {
		if err := os.WriteFile(filepath.Join(session, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	comp := &stubCompositor{}
	r := newTestRouter(t, comp, &stubBlender{}, nil)

	res := r.Process(context.Background(), Job{
		ID:        "strip-1",
		Type:      JobStrip,
		InputPath: session,
		Options:   map[string]any{"template": "grid"},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if len(comp.lastPhotos) != 2 {
		t.Fatalf("expected 2 session photos, got %v", comp.lastPhotos)
	}
	if comp.lastDir != session || comp.lastPrefix != "preview_strip" {
		t.Fatalf("strip should default into the session with the default prefix, got %s %s", comp.lastDir, comp.lastPrefix)
	}
}

func TestRouterRejectsUnknownTemplate(t *testing.T) {
	r := newTestRouter(t, &stubCompositor{}, &stubBlender{}, nil)
	res := r.Process(context.Background(), Job{
		ID:      "composite-2",
		Type:    JobComposite,
		Options: map[string]any{"photos": []string{"a.png"}, "template": "nope"},
	})
	if res.Error == nil {
		t.Fatalf("expected unknown template error")
	}
}

func TestRouterAllUsesEveryTemplate(t *testing.T) {
	comp := &stubCompositor{}
	r := newTestRouter(t, comp, &stubBlender{}, nil)
	dir := t.TempDir()

	res := r.Process(context.Background(), Job{
		ID:      "all-1",
		Type:    JobAll,
		Output:  dir,
		Options: map[string]any{"photos": []string{"a.png", "b.png", "c.png", "d.png"}, "prefix": "session"},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Meta["count"] != 1 || comp.lastPrefix != "session" {
		t.Fatalf("unexpected result %v (prefix %s)", res.Meta, comp.lastPrefix)
	}
}

func TestRouterBlendResolvesTemplateOverlay(t *testing.T) {
	dir := t.TempDir()
	frame := filepath.Join(dir, "frame.png")
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	img.SetNRGBA(0, 0, color.NRGBA{R: 9, A: 255})
	writeImage(t, frame, img)

	blend := &stubBlender{}
	r := newTestRouter(t, &stubCompositor{}, blend, nil)
	res := r.Process(context.Background(), Job{
		ID:        "blend-1",
		Type:      JobBlend,
		InputPath: frame,
		Options:   map[string]any{"overlay": "grid", "flip": true},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if blend.requested != "/templates/grid.png" {
		t.Fatalf("expected template asset as overlay, got %q", blend.requested)
	}
	if res.Meta["output"] != filepath.Join(dir, "frame_preview.png") {
		t.Fatalf("unexpected output %v", res.Meta["output"])
	}

	out, err := imageio.Open(filepath.Join(dir, "frame_preview.png"))
	if err != nil {
		t.Fatal(err)
	}
	// transparent overlay, so only the mirror shows: the marked pixel moves right
	if c := color.NRGBAModel.Convert(out.At(7, 0)).(color.NRGBA); c.R != 9 {
		t.Fatalf("expected mirrored pixel at (7,0), got %v", c)
	}
}

func TestRouterBlendFallsBackToCurrentOverlay(t *testing.T) {
	dir := t.TempDir()
	frame := filepath.Join(dir, "frame.png")
	writeImage(t, frame, filled(4, 4, color.NRGBA{A: 255}))

	blend := &stubBlender{current: "/overlays/live.png"}
	r := newTestRouter(t, &stubCompositor{}, blend, nil)
	res := r.Process(context.Background(), Job{ID: "blend-2", Type: JobBlend, InputPath: frame})
	if res.Error != nil {
		t.Fatal(res.Error)
	}
	if blend.requested != "/overlays/live.png" || res.Meta["overlay"] != "/overlays/live.png" {
		t.Fatalf("expected current overlay to be used, got %q", blend.requested)
	}
}

func TestRouterBlendJobsKeepPreviewOverlay(t *testing.T) {
	dir := t.TempDir()
	red := filepath.Join(dir, "red.png")
	blue := filepath.Join(dir, "blue.png")
	green := filepath.Join(dir, "green.png")
	writeImage(t, red, filled(4, 4, color.NRGBA{R: 255, A: 255}))
	writeImage(t, blue, filled(4, 4, color.NRGBA{B: 255, A: 255}))
	writeImage(t, green, filled(4, 4, color.NRGBA{G: 255, A: 255}))
	frame := filepath.Join(dir, "frame.png")
	writeImage(t, frame, filled(6, 6, color.NRGBA{A: 255}))

	blender := overlay.NewBlender()
	if err := blender.Load(green); err != nil {
		t.Fatal(err)
	}
	r := newRouter(logging.Discard(), nil, Deps{
		Templates:  &stubTemplates{items: map[string]*templates.Descriptor{}},
		Compositor: &stubCompositor{},
		Blender:    blender,
	})

	const jobs = 40
	errs := make(chan error, jobs)
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ov := red
			if i%2 == 1 {
				ov = blue
			}
			res := r.Process(context.Background(), Job{
				ID:        fmt.Sprintf("blend-%d", i),
				Type:      JobBlend,
				InputPath: frame,
				Output:    filepath.Join(dir, fmt.Sprintf("out_%d.png", i)),
				Options:   map[string]any{"overlay": ov},
			})
			errs <- res.Error
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("blend job failed: %v", err)
		}
	}

	for i := 0; i < jobs; i++ {
		out, err := imageio.Open(filepath.Join(dir, fmt.Sprintf("out_%d.png", i)))
		if err != nil {
			t.Fatal(err)
		}
		c := color.NRGBAModel.Convert(out.At(3, 3)).(color.NRGBA)
		if i%2 == 0 && (c.R != 255 || c.B != 0) {
			t.Fatalf("job %d expected red overlay, got %v", i, c)
		}
		if i%2 == 1 && (c.B != 255 || c.R != 0) {
			t.Fatalf("job %d expected blue overlay, got %v", i, c)
		}
	}
	if cur := blender.Current(); cur != green {
		t.Fatalf("blend jobs changed the preview overlay to %s", cur)
	}
}

func TestRouterSessionIgnoresEngineOutputs(t *testing.T) {
	session := t.TempDir()
	for _, name := range []string{"photo_1.png", "photo_2.png"} {
		writeImage(t, filepath.Join(session, name), filled(2, 2, color.NRGBA{A: 255}))
	}

	comp := &stubCompositor{}
	r := newRouter(logging.Discard(), nil, Deps{
		Templates:  &stubTemplates{items: map[string]*templates.Descriptor{"grid": grid()}},
		Compositor: comp,
		Blender:    &stubBlender{},
		FinalName:  "print.png",
	}).(*router)

	res := r.Process(context.Background(), Job{
		ID:        "strip-1",
		Type:      JobStrip,
		InputPath: session,
		Options:   map[string]any{"template": "grid"},
	})
	if res.Error != nil {
		t.Fatal(res.Error)
	}
	// the outputs the strip, all, blend and composite jobs leave behind
	outputs := []string{
		res.Meta["output"].(string),
		filepath.Join(session, "composite_grid.png"),
		filepath.Join(session, "photo_1_preview.png"),
		filepath.Join(session, "print.png"),
	}
	for _, p := range outputs {
		writeImage(t, p, filled(2, 2, color.NRGBA{R: 255, A: 255}))
	}

	res = r.Process(context.Background(), Job{
		ID:        "composite-2",
		Type:      JobComposite,
		InputPath: session,
		Output:    filepath.Join(t.TempDir(), "final.png"),
		Options:   map[string]any{"template": "grid"},
	})
	if res.Error != nil {
		t.Fatal(res.Error)
	}
	if len(comp.lastPhotos) != 2 {
		t.Fatalf("engine output leaked into the session photos: %v", comp.lastPhotos)
	}
}

func TestRouterUnknownType(t *testing.T) {
	r := newTestRouter(t, &stubCompositor{}, &stubBlender{}, nil)
	if res := r.Process(context.Background(), Job{ID: "x", Type: "bogus"}); res.Error == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

type stubProcessor struct{}

func (stubProcessor) Process(ctx context.Context, job Job) Result {
	if job.Type == "fail" {
		return Result{Job: job, Error: errors.New("boom")}
	}
	return Result{Job: job, Meta: map[string]any{"ok": true}}
}

func TestPipelineBroadcastsAndRecords(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	p := NewWithProcessor(context.Background(), 2, 4, logging.Discard(), store, stubProcessor{})
	defer p.Stop()
	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "ok-1", Type: JobComposite}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(Job{ID: "fail-1", Type: "fail"}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]error{}
	for len(seen) < 2 {
		select {
		case res := <-results:
			seen[res.Job.ID] = res.Error
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for results, got %v", seen)
		}
	}
	if seen["ok-1"] != nil || seen["fail-1"] == nil {
		t.Fatalf("unexpected results %v", seen)
	}

	// results are broadcast after the store write, so both rows are final
	jobs, err := store.RecentJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	statuses := map[string]string{}
	for _, j := range jobs {
		statuses[j.ID] = j.Status
	}
	if statuses["ok-1"] != "completed" || statuses["fail-1"] != "failed" {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestSubmitAndWait(t *testing.T) {
	p := NewWithProcessor(context.Background(), 1, 2, logging.Discard(), nil, stubProcessor{})
	defer p.Stop()

	res, err := SubmitAndWait(context.Background(), p, Job{ID: NewID("composite"), Type: JobComposite})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if res.Meta["ok"] != true {
		t.Fatalf("unexpected meta %v", res.Meta)
	}

	if _, err := SubmitAndWait(context.Background(), p, Job{ID: NewID("fail"), Type: "fail"}); err == nil {
		t.Fatalf("expected job error")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewWithProcessor(context.Background(), 1, 1, logging.Discard(), nil, stubProcessor{})
	results, _ := p.Subscribe()
	p.Stop()

	if err := p.Submit(Job{ID: "late", Type: JobComposite}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if _, ok := <-results; ok {
		t.Fatalf("expected subscriber channel closed on stop")
	}
	// a second Stop is a no-op
	p.Stop()
}
