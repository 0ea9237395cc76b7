// Package templates loads layout templates and the slot geometry that goes
// with them.
package templates

import (
	"fmt"
	"image"
)

// Layout keys for the layouts shipped with the kiosk.
const (
	LayoutGrid2x2  = "grid-2x2"
	LayoutStrip2x4 = "strip-2x4"
)

// Strip halves a preview strip can be cut from.
const (
	StripLeft = "left"
	StripTop  = "top"
)

// SlotRect is a photo slot in template pixel coordinates, origin top-left.
type SlotRect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Rect returns the slot as an image.Rectangle.
func (s SlotRect) Rect() image.Rectangle {
	return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// Layout is a named slot table. Slot order is fill order, not spatial order.
type Layout struct {
	Key            string     `json:"key" yaml:"-"`
	DisplayText    string     `json:"display_text" yaml:"display_text"`
	Slots          []SlotRect `json:"slots" yaml:"slots"`
	RequiredPhotos int        `json:"required_photos" yaml:"required_photos"`
	Strip          string     `json:"strip" yaml:"strip"`
}

// Validate checks the slot table on its own, without a template image.
func (l Layout) Validate() error {
	if len(l.Slots) == 0 {
		return fmt.Errorf("layout %s has no slots", l.Key)
	}
	for i, s := range l.Slots {
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("layout %s slot %d has non-positive size %dx%d", l.Key, i, s.Width, s.Height)
		}
		if s.X < 0 || s.Y < 0 {
			return fmt.Errorf("layout %s slot %d has negative origin (%d,%d)", l.Key, i, s.X, s.Y)
		}
	}
	if l.RequiredPhotos <= 0 || len(l.Slots)%l.RequiredPhotos != 0 {
		return fmt.Errorf("layout %s: %d slots is not a multiple of %d required photos",
			l.Key, len(l.Slots), l.RequiredPhotos)
	}
	switch l.Strip {
	case "", StripLeft, StripTop:
	default:
		return fmt.Errorf("layout %s: unknown strip half %q", l.Key, l.Strip)
	}
	return nil
}

// Slot tables are measured from the printed template artwork and must not
// be derived from pixels.
var builtinLayouts = map[string]Layout{
	LayoutGrid2x2: {
		Key:         LayoutGrid2x2,
		DisplayText: "2 x 2",
		Slots: []SlotRect{
			{40, 40, 840, 540},   // top-left
			{40, 620, 840, 540},  // bottom-left
			{920, 40, 840, 540},  // top-right
			{920, 620, 840, 540}, // bottom-right
		},
		RequiredPhotos: 4,
		Strip:          StripLeft,
	},
	LayoutStrip2x4: {
		Key:         LayoutStrip2x4,
		DisplayText: "2 x 4",
		Slots: []SlotRect{
			{50, 85, 500, 333},
			{50, 475, 500, 333},
			{50, 865, 500, 333},
			{50, 1255, 500, 333},
			{650, 85, 500, 333},
			{650, 475, 500, 333},
			{650, 865, 500, 333},
			{650, 1255, 500, 333},
		},
		RequiredPhotos: 8,
		Strip:          StripLeft,
	},
}

// BuiltinLayouts returns a copy of the compiled-in layouts.
func BuiltinLayouts() map[string]Layout {
	out := make(map[string]Layout, len(builtinLayouts))
	for k, l := range builtinLayouts {
		out[k] = l.clone()
	}
	return out
}

func (l Layout) clone() Layout {
	l.Slots = append([]SlotRect(nil), l.Slots...)
	return l
}
