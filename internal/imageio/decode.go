// Package imageio decodes photos and templates, reads and writes print
// resolution metadata and caches decoded assets.
package imageio

import (
	"image"
	"io"

	"github.com/disintegration/imaging"

	// extra camera and export formats
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Open decodes the image at path, applying the EXIF orientation tag so
// portrait camera shots come out upright.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &AssetLoadError{Path: path, Err: err}
	}
	return img, nil
}

// Decode is Open for an in-memory stream. name is only used in errors.
func Decode(r io.Reader, name string) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &AssetLoadError{Path: name, Err: err}
	}
	return img, nil
}

// Opaque returns an NRGBA copy of img with every alpha value forced to 255.
// Colour channels are kept as stored, matching how a colour-only decoder
// would read a template with transparent regions.
func Opaque(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
