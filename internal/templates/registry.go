package templates

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"

	"photobooth/internal/imageio"
)

// samplePoint is where the representative swatch colour is read.
var samplePoint = image.Pt(10, 10)

// Descriptor is a loaded template: its asset, slot table and swatch colour.
// Descriptors are immutable once built.
type Descriptor struct {
	ID             string          `json:"id"`
	AssetPath      string          `json:"asset_path"`
	Layout         string          `json:"layout"`
	DisplayText    string          `json:"display_text"`
	Slots          []SlotRect      `json:"slots"`
	RequiredPhotos int             `json:"required_photos"`
	Strip          string          `json:"strip"`
	Color          color.NRGBA     `json:"-"`
	ColorHex       string          `json:"color"`
	Dominant       []string        `json:"dominant,omitempty"`
	Bounds         image.Rectangle `json:"-"`
}

// Width and Height of the template canvas.
func (d *Descriptor) Width() int  { return d.Bounds.Dx() }
func (d *Descriptor) Height() int { return d.Bounds.Dy() }

// Load scans dir for PNG templates and builds a descriptor for each, keyed
// by asset path. Templates that fail are left out and their errors joined;
// the remaining descriptors are still returned.
func Load(dir string, logger *slog.Logger) (map[string]*Descriptor, error) {
	mapping, err := LoadMapping(dir)
	if err != nil {
		return nil, err
	}

	paths, err := scanPNG(dir)
	if err != nil {
		return nil, fmt.Errorf("scan templates in %s: %w", dir, err)
	}

	layouts := mapping.layouts()
	out := make(map[string]*Descriptor, len(paths))
	var errs []error
	for _, p := range paths {
		d, err := build(p, mapping.Classify(p, logger), layouts)
		if err != nil {
			if logger != nil {
				logger.Error("template rejected", "template", p, "error", err)
			}
			errs = append(errs, err)
			continue
		}
		out[p] = d
	}
	return out, errors.Join(errs...)
}

func scanPNG(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".png") {
			paths = append(paths, path)
		}
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

func build(path, layoutKey string, layouts map[string]Layout) (*Descriptor, error) {
	layout, ok := layouts[layoutKey]
	if !ok {
		return nil, &GeometryError{Path: path, Reason: fmt.Sprintf("unknown layout %q", layoutKey)}
	}

	img, err := imageio.Open(path)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if !samplePoint.Add(b.Min).In(b) {
		return nil, &GeometryError{
			Path:   path,
			Reason: fmt.Sprintf("%dx%d image has no pixel at %v", b.Dx(), b.Dy(), samplePoint),
		}
	}

	canvas := image.Rect(0, 0, b.Dx(), b.Dy())
	for i, s := range layout.Slots {
		if !s.Rect().In(canvas) {
			return nil, &GeometryError{
				Path:   path,
				Reason: fmt.Sprintf("slot %d %v outside %dx%d canvas", i, s.Rect(), b.Dx(), b.Dy()),
			}
		}
	}

	swatch := color.NRGBAModel.Convert(img.At(b.Min.X+samplePoint.X, b.Min.Y+samplePoint.Y)).(color.NRGBA)

	return &Descriptor{
		ID:             strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		AssetPath:      path,
		Layout:         layout.Key,
		DisplayText:    layout.DisplayText,
		Slots:          append([]SlotRect(nil), layout.Slots...),
		RequiredPhotos: layout.RequiredPhotos,
		Strip:          layout.Strip,
		Color:          swatch,
		ColorHex:       hexOf(swatch),
		Dominant:       dominant(img, 3),
		Bounds:         canvas,
	}, nil
}

func hexOf(c color.NRGBA) string {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}

func dominant(img image.Image, n int) []string {
	var out []string
	for _, c := range dominantcolor.FindWeight(img, n) {
		col, ok := colorful.MakeColor(c.RGBA)
		if !ok {
			continue
		}
		out = append(out, col.Clamped().Hex())
	}
	return out
}

// Registry lazily loads a template directory once and can rebuild it on
// demand. It is safe for concurrent use.
type Registry struct {
	dir    string
	logger *slog.Logger

	once    sync.Once
	mu      sync.RWMutex
	items   map[string]*Descriptor
	loadErr error
}

// NewRegistry returns a registry for dir. Nothing is read until first use.
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	return &Registry{dir: dir, logger: logger}
}

// Dir returns the template directory.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) ensure() {
	r.once.Do(func() {
		items, err := Load(r.dir, r.logger)
		r.mu.Lock()
		r.items, r.loadErr = items, err
		r.mu.Unlock()
	})
}

// Templates returns the descriptor map and the error from the last load.
// The map is a copy; descriptors are shared.
func (r *Registry) Templates() (map[string]*Descriptor, error) {
	r.ensure()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Descriptor, len(r.items))
	for k, v := range r.items {
		out[k] = v
	}
	return out, r.loadErr
}

// List returns descriptors sorted by asset path.
func (r *Registry) List() []*Descriptor {
	items, _ := r.Templates()
	out := make([]*Descriptor, 0, len(items))
	for _, d := range items {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetPath < out[j].AssetPath })
	return out
}

// Get looks a template up by asset path, then by ID.
func (r *Registry) Get(key string) (*Descriptor, bool) {
	r.ensure()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.items[key]; ok {
		return d, true
	}
	for _, d := range r.items {
		if d.ID == key {
			return d, true
		}
	}
	return nil, false
}

// Reload rebuilds the map from disk and swaps it in. On a hard failure
// (unreadable directory or mapping) the previous map is kept.
func (r *Registry) Reload() error {
	r.ensure()
	items, err := Load(r.dir, r.logger)
	if items == nil {
		return err
	}
	r.mu.Lock()
	r.items, r.loadErr = items, err
	r.mu.Unlock()
	if r.logger != nil {
		r.logger.Info("templates reloaded", "dir", r.dir, "count", len(items))
	}
	return err
}
