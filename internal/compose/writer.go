package compose

import (
	"fmt"
	"os"
	"path/filepath"

	"photobooth/internal/imageio"
)

// Save writes c as a PNG carrying its DPI. Every failure is an *EncodeError.
func Save(c *Composite, path string) (err error) {
	if c == nil || c.Image == nil {
		return &EncodeError{Path: path, Err: fmt.Errorf("empty composite")}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &EncodeError{Path: path, Err: err}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return &EncodeError{Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &EncodeError{Path: path, Err: cerr}
		}
	}()

	if err := imageio.EncodePNG(f, c.Image, c.DPI); err != nil {
		return &EncodeError{Path: path, Err: err}
	}
	return nil
}

// ExportRecord describes a composite handed to the print collaborator.
type ExportRecord struct {
	Path     string      `json:"path"`
	Template string      `json:"template"`
	DPI      imageio.DPI `json:"dpi"`
	Copies   int         `json:"copies"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	Skipped  []int       `json:"skipped_slots,omitempty"`
}

// Export saves c for printing and returns what was written.
func Export(c *Composite, path string, copies int) (ExportRecord, error) {
	if copies < 1 {
		return ExportRecord{}, fmt.Errorf("export: copies must be at least 1, got %d", copies)
	}
	if err := Save(c, path); err != nil {
		return ExportRecord{}, err
	}
	b := c.Image.Bounds()
	return ExportRecord{
		Path:     path,
		Template: c.Template,
		DPI:      c.DPI,
		Copies:   copies,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Skipped:  c.SkippedSlots(),
	}, nil
}
