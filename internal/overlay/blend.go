// Package overlay decorates live preview frames with a transparent
// template overlay.
package overlay

import (
	"image"

	"github.com/disintegration/imaging"
)

// Filter is used to stretch overlays to the frame size.
var Filter = imaging.Linear

// Blend draws fg over bg using fg's straight alpha and returns a new image
// the size of bg. fg is stretched to bg's dimensions, ignoring its aspect
// ratio. A nil fg returns a copy of bg. flip mirrors the result left-right.
// The background alpha channel is carried through untouched.
func Blend(bg image.Image, fg *image.NRGBA, flip bool) *image.NRGBA {
	if fg == nil {
		if flip {
			return imaging.FlipH(bg)
		}
		return imaging.Clone(bg)
	}

	base := imaging.Clone(bg)
	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	return blendSized(base, stretch(fg, w, h), flip)
}

func stretch(fg *image.NRGBA, w, h int) *image.NRGBA {
	if fg.Bounds().Dx() == w && fg.Bounds().Dy() == h && fg.Bounds().Min == (image.Point{}) {
		return fg
	}
	return imaging.Resize(fg, w, h, Filter)
}

// blendSized blends an fg already sized to base into base. When flip is
// set the output is written mirrored into a fresh buffer.
func blendSized(base, fg *image.NRGBA, flip bool) *image.NRGBA {
	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	out := base
	if flip {
		out = image.NewNRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		brow := base.Pix[y*base.Stride : y*base.Stride+w*4]
		frow := fg.Pix[y*fg.Stride : y*fg.Stride+w*4]
		orow := out.Pix[y*out.Stride : y*out.Stride+w*4]
		for x := 0; x < w; x++ {
			i := x * 4
			j := i
			if flip {
				j = (w - 1 - x) * 4
			}
			a := uint32(frow[i+3])
			inv := 255 - a
			orow[j+0] = uint8((uint32(frow[i+0])*a + uint32(brow[i+0])*inv + 127) / 255)
			orow[j+1] = uint8((uint32(frow[i+1])*a + uint32(brow[i+1])*inv + 127) / 255)
			orow[j+2] = uint8((uint32(frow[i+2])*a + uint32(brow[i+2])*inv + 127) / 255)
			orow[j+3] = brow[i+3]
		}
	}
	return out
}
