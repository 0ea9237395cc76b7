package imageio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
)

const inchesPerMetre = 0.0254

// DPI is a print resolution in dots per inch.
type DPI struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DefaultDPI is used when a photo carries no resolution metadata.
var DefaultDPI = DPI{X: 300, Y: 300}

// Valid reports whether both axes are positive.
func (d DPI) Valid() bool { return d.X > 0 && d.Y > 0 }

var (
	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

	errNoDensity = errors.New("no density metadata")
)

// ReadDPI returns the resolution recorded in a PNG pHYs chunk or a JPEG
// JFIF header. ok is false when the stream has no usable density.
func ReadDPI(r io.Reader) (DPI, bool) {
	br := bufio.NewReader(r)
	head, err := br.Peek(8)
	if err != nil {
		return DPI{}, false
	}

	var d DPI
	switch {
	case bytes.Equal(head, pngSignature):
		d, err = readPNGDensity(br)
	case head[0] == 0xff && head[1] == 0xd8:
		d, err = readJFIFDensity(br)
	default:
		err = errNoDensity
	}
	if err != nil || !d.Valid() {
		return DPI{}, false
	}
	return d, true
}

// FileDPI reads the resolution of the file at path, falling back to
// DefaultDPI when it is missing or unreadable.
func FileDPI(path string) DPI {
	f, err := os.Open(path)
	if err != nil {
		return DefaultDPI
	}
	defer f.Close()

	if d, ok := ReadDPI(f); ok {
		return d
	}
	return DefaultDPI
}

func readPNGDensity(r io.Reader) (DPI, error) {
	if _, err := io.CopyN(io.Discard, r, int64(len(pngSignature))); err != nil {
		return DPI{}, err
	}

	var hdr [8]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return DPI{}, err
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		typ := string(hdr[4:8])

		switch typ {
		case "pHYs":
			if length != 9 {
				return DPI{}, errNoDensity
			}
			var body [9]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return DPI{}, err
			}
			// unit 0 is an aspect ratio only
			if body[8] != 1 {
				return DPI{}, errNoDensity
			}
			return DPI{
				X: ppmToDPI(binary.BigEndian.Uint32(body[0:4])),
				Y: ppmToDPI(binary.BigEndian.Uint32(body[4:8])),
			}, nil
		case "IDAT", "IEND":
			// pHYs must precede the image data
			return DPI{}, errNoDensity
		}

		if _, err := io.CopyN(io.Discard, r, int64(length)+4); err != nil {
			return DPI{}, err
		}
	}
}

func readJFIFDensity(r io.Reader) (DPI, error) {
	var soi [2]byte
	if _, err := io.ReadFull(r, soi[:]); err != nil {
		return DPI{}, err
	}

	var seg [4]byte
	for {
		if _, err := io.ReadFull(r, seg[:]); err != nil {
			return DPI{}, err
		}
		if seg[0] != 0xff {
			return DPI{}, errNoDensity
		}
		marker := seg[1]
		length := int(binary.BigEndian.Uint16(seg[2:4])) - 2
		if length < 0 {
			return DPI{}, errNoDensity
		}
		// start of scan or frame: the header section is over
		if marker == 0xda || (marker >= 0xc0 && marker <= 0xcf && marker != 0xc4 && marker != 0xc8 && marker != 0xcc) {
			return DPI{}, errNoDensity
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return DPI{}, err
		}
		if marker != 0xe0 || length < 12 || string(body[:5]) != "JFIF\x00" {
			continue
		}

		units := body[7]
		x := float64(binary.BigEndian.Uint16(body[8:10]))
		y := float64(binary.BigEndian.Uint16(body[10:12]))
		switch units {
		case 1:
			return DPI{X: int(x), Y: int(y)}, nil
		case 2:
			return DPI{X: int(math.Round(x * 2.54)), Y: int(math.Round(y * 2.54))}, nil
		default:
			return DPI{}, errNoDensity
		}
	}
}

func ppmToDPI(ppm uint32) int {
	return int(math.Round(float64(ppm) * inchesPerMetre))
}

func dpiToPPM(dpi int) uint32 {
	return uint32(math.Round(float64(dpi) / inchesPerMetre))
}
