package compose

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"

	"photobooth/internal/templates"
)

// Strip composes photoPaths into the full template, wrapping photos around
// the slots, then keeps one half of it (d.Strip, left when unset). It
// returns the cropped composite and how many slots lie wholly inside it.
func (c *Compositor) Strip(photoPaths []string, d *templates.Descriptor) (*Composite, int, error) {
	full, err := c.Compose(photoPaths, d)
	if err != nil {
		return nil, 0, err
	}

	region := stripRegion(full.Image.Bounds(), d.Strip)
	n := 0
	var skipped []*PhotoDecodeError
	for i, s := range d.Slots {
		if !s.Rect().In(region) {
			continue
		}
		n++
		for _, sk := range full.Skipped {
			if sk.Slot == i {
				skipped = append(skipped, sk)
			}
		}
	}

	return &Composite{
		Image:    imaging.Crop(full.Image, region),
		DPI:      full.DPI,
		Template: full.Template,
		Skipped:  skipped,
	}, n, nil
}

func stripRegion(b image.Rectangle, half string) image.Rectangle {
	if half == templates.StripTop {
		return image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+b.Dy()/2)
	}
	return image.Rect(b.Min.X, b.Min.Y, b.Min.X+b.Dx()/2, b.Max.Y)
}

// PreviewStrip renders a strip and writes it to dir as <prefix>_<n>photos.png.
func (c *Compositor) PreviewStrip(photoPaths []string, d *templates.Descriptor, dir, prefix string) (string, error) {
	strip, n, err := c.Strip(photoPaths, d)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%dphotos.png", prefix, n))
	if err := Save(strip, path); err != nil {
		return "", err
	}
	c.logger.Info("preview strip written", "template", d.ID, "photos", n, "path", path)
	return path, nil
}

// ComposeAll renders every template that len(photoPaths) can fill, using
// the first RequiredPhotos photos, and writes <prefix>_<id>.png into dir.
// Failing templates are reported in the joined error; the rest still run.
func (c *Compositor) ComposeAll(photoPaths []string, ds []*templates.Descriptor, dir, prefix string) (map[string]string, error) {
	results := make(map[string]string, len(ds))
	var errs []error
	for _, d := range ds {
		if d.RequiredPhotos > len(photoPaths) {
			c.logger.Info("not enough photos for template, skipping",
				"template", d.ID,
				"required", d.RequiredPhotos,
				"have", len(photoPaths),
			)
			continue
		}

		comp, err := c.Compose(photoPaths[:d.RequiredPhotos], d)
		if err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", d.ID, err))
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", prefix, d.ID))
		if err := Save(comp, path); err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", d.ID, err))
			continue
		}
		results[d.ID] = path
	}
	return results, errors.Join(errs...)
}
