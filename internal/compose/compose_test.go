package compose

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"photobooth/internal/imageio"
	"photobooth/internal/logging"
	"photobooth/internal/templates"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	gray  = color.NRGBA{R: 90, G: 90, B: 90, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
	green = color.NRGBA{G: 255, A: 255}
)

func fill(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func writeImage(t *testing.T, path string, img image.Image, dpi imageio.DPI) string {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := imageio.EncodePNG(f, img, dpi); err != nil {
		t.Fatal(err)
	}
	return path
}

// fourUp is a 200x100 template with four 40x40 slots in a row.
func fourUp(t *testing.T, dir string) *templates.Descriptor {
	t.Helper()
	path := writeImage(t, filepath.Join(dir, "four.png"), fill(200, 100, gray), imageio.DPI{})
	return &templates.Descriptor{
		ID:        "four",
		AssetPath: path,
		Slots: []templates.SlotRect{
			{X: 5, Y: 30, Width: 40, Height: 40},
			{X: 55, Y: 30, Width: 40, Height: 40},
			{X: 105, Y: 30, Width: 40, Height: 40},
			{X: 155, Y: 30, Width: 40, Height: 40},
		},
		RequiredPhotos: 4,
		Strip:          templates.StripLeft,
		Bounds:         image.Rect(0, 0, 200, 100),
	}
}

func slotCentre(img *image.NRGBA, s templates.SlotRect) color.NRGBA {
	return img.NRGBAAt(s.X+s.Width/2, s.Y+s.Height/2)
}

func TestComposeWrapsPhotosAroundSlots(t *testing.T) {
	dir := t.TempDir()
	d := fourUp(t, dir)
	p1 := writeImage(t, filepath.Join(dir, "p1.png"), fill(80, 80, red), imageio.DPI{})
	p2 := writeImage(t, filepath.Join(dir, "p2.png"), fill(80, 80, blue), imageio.DPI{})

	c, err := New(logging.Discard()).Compose([]string{p1, p2}, d)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(c.Skipped) != 0 {
		t.Fatalf("unexpected skipped slots %v", c.SkippedSlots())
	}
	want := []color.NRGBA{red, blue, red, blue}
	for i, s := range d.Slots {
		if got := slotCentre(c.Image, s); got != want[i] {
			t.Fatalf("slot %d: expected %v, got %v", i, want[i], got)
		}
	}
	if got := c.Image.NRGBAAt(1, 1); got != gray {
		t.Fatalf("background outside slots changed: %v", got)
	}
	if c.Image.Bounds() != d.Bounds {
		t.Fatalf("expected canvas %v, got %v", d.Bounds, c.Image.Bounds())
	}
}

func TestComposeSkipsUndecodablePhoto(t *testing.T) {
	dir := t.TempDir()
	d := fourUp(t, dir)
	good := writeImage(t, filepath.Join(dir, "good.png"), fill(60, 60, red), imageio.DPI{})
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte("truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := New(logging.Discard()).Compose([]string{good, good, bad, good}, d)
	if err != nil {
		t.Fatalf("a bad photo must not fail the composite: %v", err)
	}
	for i, s := range d.Slots {
		want := red
		if i == 2 {
			want = gray
		}
		if got := slotCentre(c.Image, s); got != want {
			t.Fatalf("slot %d: expected %v, got %v", i, want, got)
		}
	}

	if len(c.Skipped) != 1 || c.Skipped[0].Slot != 2 || c.Skipped[0].Photo != bad {
		t.Fatalf("expected slot 2 reported, got %+v", c.Skipped)
	}
	var ale *imageio.AssetLoadError
	if !errors.As(c.Err(), &ale) {
		t.Fatalf("expected AssetLoadError under the skip, got %v", c.Err())
	}
	var pde *PhotoDecodeError
	if !errors.As(c.Err(), &pde) {
		t.Fatalf("expected PhotoDecodeError, got %v", c.Err())
	}
}

func TestComposeTemplateFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	d := fourUp(t, dir)
	if err := os.WriteFile(d.AssetPath, []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	photo := writeImage(t, filepath.Join(dir, "p.png"), fill(40, 40, red), imageio.DPI{})

	c, err := New(logging.Discard()).Compose([]string{photo}, d)
	if c != nil {
		t.Fatalf("expected no partial result")
	}
	var tde *TemplateDecodeError
	if !errors.As(err, &tde) {
		t.Fatalf("expected TemplateDecodeError, got %v", err)
	}
}

func TestComposeRejectsEmptyInput(t *testing.T) {
	d := fourUp(t, t.TempDir())
	if _, err := New(nil).Compose(nil, d); err == nil {
		t.Fatalf("expected error for no photos")
	}
	if _, err := New(nil).Compose([]string{"x"}, nil); err == nil {
		t.Fatalf("expected error for nil template")
	}
}

func TestComposeDoesNotMutateCachedBackground(t *testing.T) {
	dir := t.TempDir()
	d := fourUp(t, dir)
	photo := writeImage(t, filepath.Join(dir, "p.png"), fill(40, 40, red), imageio.DPI{})
	comp := New(logging.Discard())

	if _, err := comp.Compose([]string{photo}, d); err != nil {
		t.Fatal(err)
	}
	c, err := comp.ComposeImages([]image.Image{nil}, imageio.DPI{}, d)
	if err != nil {
		t.Fatal(err)
	}
	if got := slotCentre(c.Image, d.Slots[0]); got != gray {
		t.Fatalf("cached background was drawn on: %v", got)
	}
	if len(c.Skipped) != 4 {
		t.Fatalf("nil image should skip every slot, got %d", len(c.Skipped))
	}
	if c.DPI != imageio.DefaultDPI {
		t.Fatalf("invalid dpi should fall back to default, got %v", c.DPI)
	}
}

func TestDPIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := fourUp(t, dir)
	comp := New(logging.Discard())

	cases := []struct {
		name string
		in   imageio.DPI
		want imageio.DPI
	}{
		{"carried", imageio.DPI{X: 600, Y: 600}, imageio.DPI{X: 600, Y: 600}},
		{"absent", imageio.DPI{}, imageio.DPI{X: 300, Y: 300}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeImage(t, filepath.Join(dir, tc.name+".png"), fill(50, 50, blue), tc.in)
			c, err := comp.Compose([]string{p, p}, d)
			if err != nil {
				t.Fatal(err)
			}
			out := filepath.Join(dir, "out", tc.name+"_composite.png")
			if err := Save(c, out); err != nil {
				t.Fatalf("save: %v", err)
			}
			if got := imageio.FileDPI(out); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// striped draws a white photo with a green band across the top tenth and a
// black band down the left tenth.
func striped(w, h int) *image.NRGBA {
	img := fill(w, h, white)
	for y := 0; y < h/10; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, green)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w/10; x++ {
			img.SetNRGBA(x, y, black)
		}
	}
	return img
}

func TestMixedResolutionsAreCroppedNotStretched(t *testing.T) {
	dir := t.TempDir()
	tpl := writeImage(t, filepath.Join(dir, "grid_horizontal.png"), fill(1800, 1200, gray), imageio.DPI{})
	grid := templates.BuiltinLayouts()[templates.LayoutGrid2x2]
	d := &templates.Descriptor{
		ID:             "grid",
		AssetPath:      tpl,
		Slots:          grid.Slots,
		RequiredPhotos: grid.RequiredPhotos,
		Bounds:         image.Rect(0, 0, 1800, 1200),
	}

	photos := []image.Image{
		striped(4000, 3000),
		striped(1920, 1080),
		striped(3000, 4000),
		striped(800, 600),
	}
	// band sizes after cover-crop into 840x540; a stretch would give 84 and 54 everywhere
	wantLeft := []int{84, 36, 84, 84}
	wantTop := []int{18, 54, 0, 18}

	c, err := New(logging.Discard()).ComposeImages(photos, imageio.DPI{X: 300, Y: 300}, d)
	if err != nil {
		t.Fatal(err)
	}
	if c.Image.Bounds().Dx() != 1800 || c.Image.Bounds().Dy() != 1200 {
		t.Fatalf("canvas resized to %v", c.Image.Bounds())
	}

	for i, s := range d.Slots {
		midY := s.Y + s.Height/2
		left := 0
		for x := s.X; x < s.X+s.Width && c.Image.NRGBAAt(x, midY).R < 128; x++ {
			left++
		}
		midX := s.X + s.Width/2
		top := 0
		for y := s.Y; y < s.Y+s.Height; y++ {
			p := c.Image.NRGBAAt(midX, y)
			if p.G < 128 || p.R > 128 {
				break
			}
			top++
		}
		if abs(left-wantLeft[i]) > 2 {
			t.Fatalf("slot %d: left band %d px, expected about %d", i, left, wantLeft[i])
		}
		if abs(top-wantTop[i]) > 2 {
			t.Fatalf("slot %d: top band %d px, expected about %d", i, top, wantTop[i])
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
