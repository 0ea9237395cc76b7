// Package compose places session photos into template slots and writes the
// result with its print resolution.
package compose

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/disintegration/imaging"

	"photobooth/internal/fit"
	"photobooth/internal/imageio"
	"photobooth/internal/logging"
	"photobooth/internal/templates"
)

// Composite is a finished, fully opaque composite owned by the caller.
type Composite struct {
	Image    *image.NRGBA
	DPI      imageio.DPI
	Template string
	Skipped  []*PhotoDecodeError
}

// Err joins the per-slot failures, or returns nil when every slot was filled.
func (c *Composite) Err() error {
	if len(c.Skipped) == 0 {
		return nil
	}
	errs := make([]error, len(c.Skipped))
	for i, s := range c.Skipped {
		errs[i] = s
	}
	return errors.Join(errs...)
}

// SkippedSlots lists the slot indexes left unfilled.
func (c *Composite) SkippedSlots() []int {
	out := make([]int, len(c.Skipped))
	for i, s := range c.Skipped {
		out[i] = s.Slot
	}
	return out
}

// Compositor renders templates. Decoded backgrounds are cached per asset
// path and copied before every render.
type Compositor struct {
	backgrounds *imageio.Cache[*image.NRGBA]
	logger      *slog.Logger
}

// New returns a compositor with an empty background cache.
func New(logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Compositor{
		backgrounds: imageio.NewCache(func(path string) (*image.NRGBA, error) {
			img, err := imageio.Open(path)
			if err != nil {
				return nil, err
			}
			return imageio.Opaque(img), nil
		}),
		logger: logger,
	}
}

// InvalidateTemplate drops a cached background, e.g. after the asset changed on disk.
func (c *Compositor) InvalidateTemplate(path string) {
	c.backgrounds.Invalidate(path)
}

// Compose fills every slot of d with photoPaths[i % len(photoPaths)]. Photos
// that fail to decode leave their slot blank and are reported in
// Composite.Skipped. The resolution comes from the first photo.
func (c *Compositor) Compose(photoPaths []string, d *templates.Descriptor) (*Composite, error) {
	if len(photoPaths) == 0 {
		return nil, fmt.Errorf("compose: no photos")
	}

	decoded := make(map[string]image.Image, len(photoPaths))
	failed := make(map[string]error)
	source := func(i int) (image.Image, string, error) {
		p := photoPaths[i%len(photoPaths)]
		if img, ok := decoded[p]; ok {
			return img, p, nil
		}
		if err, ok := failed[p]; ok {
			return nil, p, err
		}
		img, err := imageio.Open(p)
		if err != nil {
			failed[p] = err
			return nil, p, err
		}
		decoded[p] = img
		return img, p, nil
	}

	return c.render(d, imageio.FileDPI(photoPaths[0]), source)
}

// ComposeImages is Compose for photos already in memory. A nil entry leaves
// its slots blank.
func (c *Compositor) ComposeImages(photos []image.Image, dpi imageio.DPI, d *templates.Descriptor) (*Composite, error) {
	if len(photos) == 0 {
		return nil, fmt.Errorf("compose: no photos")
	}
	if !dpi.Valid() {
		dpi = imageio.DefaultDPI
	}

	source := func(i int) (image.Image, string, error) {
		n := i % len(photos)
		name := fmt.Sprintf("photo[%d]", n)
		if photos[n] == nil {
			return nil, name, errors.New("no image data")
		}
		return photos[n], name, nil
	}

	return c.render(d, dpi, source)
}

func (c *Compositor) render(d *templates.Descriptor, dpi imageio.DPI, source func(int) (image.Image, string, error)) (*Composite, error) {
	if d == nil {
		return nil, fmt.Errorf("compose: nil template")
	}

	bg, err := c.backgrounds.Get(d.AssetPath)
	if err != nil {
		return nil, &TemplateDecodeError{Template: d.AssetPath, Err: err}
	}
	canvas := imaging.Clone(bg)
	bounds := canvas.Bounds()

	out := &Composite{Image: canvas, DPI: dpi, Template: d.ID}
	for i, slot := range d.Slots {
		photo, name, err := source(i)
		if err == nil {
			err = place(canvas, bounds, slot, photo)
		}
		if err != nil {
			skip := &PhotoDecodeError{Slot: i, Photo: name, Err: err}
			out.Skipped = append(out.Skipped, skip)
			logging.LogSlotSkipped(c.logger, d.ID, i, name, err)
		}
	}
	return out, nil
}

func place(canvas *image.NRGBA, bounds image.Rectangle, slot templates.SlotRect, photo image.Image) error {
	fitted, err := fit.Cover(photo, slot.Width, slot.Height)
	if err != nil {
		return err
	}
	// photos with transparency must not punch holes through the print
	for i := 3; i < len(fitted.Pix); i += 4 {
		fitted.Pix[i] = 0xff
	}
	r := slot.Rect().Intersect(bounds)
	draw.Draw(canvas, r, fitted, r.Min.Sub(slot.Rect().Min), draw.Src)
	return nil
}
