package compose

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"photobooth/internal/imageio"
	"photobooth/internal/logging"
	"photobooth/internal/templates"
)

func TestPreviewStripKeepsLeftHalf(t *testing.T) {
	dir := t.TempDir()
	tpl := writeImage(t, filepath.Join(dir, "grid.png"), fill(180, 120, gray), imageio.DPI{})
	d := &templates.Descriptor{
		ID:        "grid",
		AssetPath: tpl,
		Slots: []templates.SlotRect{
			{X: 4, Y: 4, Width: 84, Height: 54},
			{X: 4, Y: 62, Width: 84, Height: 54},
			{X: 92, Y: 4, Width: 84, Height: 54},
			{X: 92, Y: 62, Width: 84, Height: 54},
		},
		RequiredPhotos: 4,
		Strip:          templates.StripLeft,
		Bounds:         image.Rect(0, 0, 180, 120),
	}
	p1 := writeImage(t, filepath.Join(dir, "p1.png"), fill(84, 54, red), imageio.DPI{X: 600, Y: 600})
	p2 := writeImage(t, filepath.Join(dir, "p2.png"), fill(84, 54, blue), imageio.DPI{})

	out := filepath.Join(dir, "session")
	path, err := New(logging.Discard()).PreviewStrip([]string{p1, p2}, d, out, "preview_strip")
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if filepath.Base(path) != "preview_strip_2photos.png" {
		t.Fatalf("unexpected strip name %s", path)
	}

	img, err := imaging.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 90 || img.Bounds().Dy() != 120 {
		t.Fatalf("expected 90x120 strip, got %v", img.Bounds())
	}
	if r, _, _, _ := img.At(40, 30).RGBA(); r>>8 != 255 {
		t.Fatalf("expected first photo in top slot")
	}
	if _, _, b, _ := img.At(40, 90).RGBA(); b>>8 != 255 {
		t.Fatalf("expected second photo in bottom slot")
	}
	if got := imageio.FileDPI(path); got != (imageio.DPI{X: 600, Y: 600}) {
		t.Fatalf("strip lost dpi: %v", got)
	}
}

func TestStripTopHalf(t *testing.T) {
	dir := t.TempDir()
	d := fourUp(t, dir)
	d.Strip = templates.StripTop
	p := writeImage(t, filepath.Join(dir, "p.png"), fill(40, 40, red), imageio.DPI{})

	s, n, err := New(logging.Discard()).Strip([]string{p}, d)
	if err != nil {
		t.Fatal(err)
	}
	// slots span y 30..70, so none fit in the top 50 rows
	if n != 0 {
		t.Fatalf("expected no whole slots in the top half, got %d", n)
	}
	if s.Image.Bounds().Dx() != 200 || s.Image.Bounds().Dy() != 50 {
		t.Fatalf("unexpected strip bounds %v", s.Image.Bounds())
	}
}

func TestComposeAllSkipsTemplatesNeedingMorePhotos(t *testing.T) {
	dir := t.TempDir()
	four := fourUp(t, dir)
	eight := &templates.Descriptor{
		ID:             "eight",
		AssetPath:      four.AssetPath,
		Slots:          append(append([]templates.SlotRect{}, four.Slots...), four.Slots...),
		RequiredPhotos: 8,
		Bounds:         four.Bounds,
	}
	broken := &templates.Descriptor{
		ID:             "broken",
		AssetPath:      filepath.Join(dir, "missing.png"),
		Slots:          four.Slots,
		RequiredPhotos: 4,
	}

	var photos []string
	for i := 0; i < 5; i++ {
		photos = append(photos, writeImage(t, filepath.Join(dir, "p"+string(rune('a'+i))+".png"), fill(40, 40, red), imageio.DPI{}))
	}

	out := filepath.Join(dir, "all")
	results, err := New(logging.Discard()).ComposeAll(photos, []*templates.Descriptor{four, eight, broken}, out, "composite")
	var tde *TemplateDecodeError
	if !errors.As(err, &tde) {
		t.Fatalf("expected the broken template reported, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one composite, got %v", results)
	}
	if results["four"] != filepath.Join(out, "composite_four.png") {
		t.Fatalf("unexpected output path %s", results["four"])
	}
	if _, err := os.Stat(results["four"]); err != nil {
		t.Fatalf("composite not written: %v", err)
	}
}

func TestSaveReportsEncodeError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	c := &Composite{Image: fill(4, 4, red), DPI: imageio.DefaultDPI}

	err := Save(c, filepath.Join(blocker, "out.png"))
	var ee *EncodeError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EncodeError, got %v", err)
	}
}

func TestExportRecordsCopies(t *testing.T) {
	dir := t.TempDir()
	c := &Composite{Image: fill(6, 4, red), DPI: imageio.DPI{X: 600, Y: 600}, Template: "grid"}

	if _, err := Export(c, filepath.Join(dir, "x.png"), 0); err == nil {
		t.Fatalf("expected error for zero copies")
	}
	rec, err := Export(c, filepath.Join(dir, "final_composite.png"), 2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Copies != 2 || rec.Width != 6 || rec.Height != 4 || rec.DPI.X != 600 || rec.Template != "grid" {
		t.Fatalf("unexpected record %+v", rec)
	}
}
