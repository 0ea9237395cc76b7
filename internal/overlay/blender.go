package overlay

import (
	"image"
	"sync"

	"github.com/disintegration/imaging"

	"photobooth/internal/imageio"
)

// Blender owns the overlay cache and the overlay currently shown on the
// live preview. It is safe for concurrent use.
type Blender struct {
	cache *imageio.Cache[*image.NRGBA]

	mu          sync.RWMutex
	currentPath string
	current     *image.NRGBA

	// last stretched overlay, reused while the frame size stays constant
	sizedMu   sync.Mutex
	sizedPath string
	sizedAt   image.Point
	sized     *image.NRGBA
}

// NewBlender returns a blender with an empty cache and no current overlay.
func NewBlender() *Blender {
	return &Blender{
		cache: imageio.NewCache(func(path string) (*image.NRGBA, error) {
			img, err := imageio.Open(path)
			if err != nil {
				return nil, err
			}
			return imaging.Clone(img), nil
		}),
	}
}

// Overlay returns the decoded overlay for path, decoding it at most once.
// The returned image is shared and must not be modified.
func (b *Blender) Overlay(path string) (*image.NRGBA, error) {
	return b.cache.Get(path)
}

// Load decodes path if needed and makes it the current overlay.
func (b *Blender) Load(path string) error {
	img, err := b.cache.Get(path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.currentPath, b.current = path, img
	b.mu.Unlock()
	return nil
}

// Current returns the path of the current overlay, or "" when none is set.
func (b *Blender) Current() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentPath
}

// Unset removes the current overlay; cached decodes are kept.
func (b *Blender) Unset() {
	b.mu.Lock()
	b.currentPath, b.current = "", nil
	b.mu.Unlock()
	b.resetSized()
}

// Apply blends the current overlay onto frame. With no current overlay the
// frame is passed through, mirrored when flip is set.
func (b *Blender) Apply(frame image.Image, flip bool) *image.NRGBA {
	b.mu.RLock()
	path, fg := b.currentPath, b.current
	b.mu.RUnlock()

	if fg == nil {
		return Blend(frame, nil, flip)
	}

	base := imaging.Clone(frame)
	size := base.Bounds().Size()
	return blendSized(base, b.stretched(path, fg, size), flip)
}

func (b *Blender) stretched(path string, fg *image.NRGBA, size image.Point) *image.NRGBA {
	b.sizedMu.Lock()
	defer b.sizedMu.Unlock()
	if b.sized != nil && b.sizedPath == path && b.sizedAt == size {
		return b.sized
	}
	b.sized = stretch(fg, size.X, size.Y)
	b.sizedPath, b.sizedAt = path, size
	return b.sized
}

func (b *Blender) resetSized() {
	b.sizedMu.Lock()
	b.sizedPath, b.sizedAt, b.sized = "", image.Point{}, nil
	b.sizedMu.Unlock()
}

// Invalidate drops the cached decode of path. If it is the current overlay
// it is reloaded from disk; a failed reload leaves no overlay set.
func (b *Blender) Invalidate(path string) error {
	b.cache.Invalidate(path)
	b.resetSized()
	if b.Current() != path {
		return nil
	}
	if err := b.Load(path); err != nil {
		b.Unset()
		return err
	}
	return nil
}

// Clear empties the cache and removes the current overlay.
func (b *Blender) Clear() {
	b.cache.Clear()
	b.Unset()
}
