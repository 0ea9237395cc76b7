// Package fit scales photos so they exactly fill a slot.
package fit

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Filter is the resampling kernel used for every resize.
var Filter = imaging.Lanczos

// Cover resizes img so it covers a w×h box, preserving aspect ratio, then
// centre-crops the overflow. The result is always exactly w×h; the image is
// never letterboxed.
func Cover(img image.Image, w, h int) (*image.NRGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("fit: invalid target size %dx%d", w, h)
	}
	if img == nil {
		return nil, fmt.Errorf("fit: nil image")
	}
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("fit: empty source image")
	}

	if srcW == w && srcH == h {
		return imaging.Clone(img), nil
	}

	scale := Scale(srcW, srcH, w, h)
	sw := int(math.Round(float64(srcW) * scale))
	sh := int(math.Round(float64(srcH) * scale))
	scaled := imaging.Resize(img, sw, sh, Filter)

	x := max((sw-w)/2, 0)
	y := max((sh-h)/2, 0)
	cropped := imaging.Crop(scaled, image.Rect(x, y, x+w, y+h))

	// rounding can leave the scaled image a pixel short on one axis
	if cb := cropped.Bounds(); cb.Dx() != w || cb.Dy() != h {
		cropped = imaging.Resize(cropped, w, h, Filter)
	}
	return cropped, nil
}

// Scale reports the uniform scale factor Cover applies to a srcW×srcH image.
func Scale(srcW, srcH, w, h int) float64 {
	return math.Max(float64(w)/float64(srcW), float64(h)/float64(srcH))
}
