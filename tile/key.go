// Package tile implements the quadtree tile addressing scheme used by the
// coverage layers: TMS-style keys over a single global geodetic root tile.
package tile

import (
	"fmt"
	"strconv"
	"strings"
)

// World is the extent of the level-0 root tile.
var World = Extent{XMin: -180, YMin: -90, XMax: 180, YMax: 90}

// Extent is a geographic bounding box in degrees.
type Extent struct {
	XMin, YMin, XMax, YMax float64
}

// Width returns the horizontal span of the extent.
func (e Extent) Width() float64 { return e.XMax - e.XMin }

// Height returns the vertical span of the extent.
func (e Extent) Height() float64 { return e.YMax - e.YMin }

// Contains reports whether the point (x, y) lies inside the extent,
// edges included.
func (e Extent) Contains(x, y float64) bool {
	return x >= e.XMin && x <= e.XMax && y >= e.YMin && y <= e.YMax
}

func (e Extent) String() string {
	return fmt.Sprintf("[%f %f %f %f]", e.XMin, e.YMin, e.XMax, e.YMax)
}

// Key addresses one tile: Level is the subdivision depth (0 = whole world),
// X grows eastward and Y grows northward (TMS row order). Key is comparable
// and usable as a map key.
type Key struct {
	Level, X, Y uint32
}

// Valid reports whether X and Y fall inside the level's tile matrix.
func (k Key) Valid() bool {
	if k.Level > 31 {
		return false
	}
	n := uint32(1) << k.Level
	return k.X < n && k.Y < n
}

// Parent returns the key of the tile one level coarser that contains k.
// It reports false at the root, which has no parent.
func (k Key) Parent() (Key, bool) {
	if k.Level == 0 {
		return Key{}, false
	}
	return Key{Level: k.Level - 1, X: k.X / 2, Y: k.Y / 2}, true
}

// Extent returns the geographic extent covered by the tile.
func (k Key) Extent() Extent {
	n := float64(uint64(1) << k.Level)
	w := World.Width() / n
	h := World.Height() / n
	xmin := World.XMin + w*float64(k.X)
	ymin := World.YMin + h*float64(k.Y)
	return Extent{XMin: xmin, YMin: ymin, XMax: xmin + w, YMax: ymin + h}
}

// At returns the key of the tile containing the point (x, y) at the given
// level, and false if the point lies outside the world extent.
func At(level uint32, x, y float64) (Key, bool) {
	if !World.Contains(x, y) || level > 31 {
		return Key{}, false
	}
	n := float64(uint64(1) << level)
	tx := int64(n * (x - World.XMin) / World.Width())
	ty := int64(n * (y - World.YMin) / World.Height())
	// The east and north world edges land on the last row/column.
	max := int64(1)<<level - 1
	if tx > max {
		tx = max
	}
	if ty > max {
		ty = max
	}
	return Key{Level: level, X: uint32(tx), Y: uint32(ty)}, true
}

// String formats the key as "level/x/y".
func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Level, k.X, k.Y)
}

// QuadKey returns the Bing-style quadkey digits for the key, one digit per
// level, most significant level first. The root key yields an empty string.
func (k Key) QuadKey() string {
	var sb strings.Builder
	for l := k.Level; l > 0; l-- {
		var digit byte = '0'
		mask := uint32(1) << (l - 1)
		if k.X&mask != 0 {
			digit++
		}
		// Quadkeys count rows from the north, TMS from the south.
		if (^k.Y)&mask != 0 {
			digit += 2
		}
		sb.WriteByte(digit)
	}
	return sb.String()
}

// ParseKey parses a "level/x/y" string.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("invalid tile key %q: want level/x/y", s)
	}
	vals := make([]uint32, 3)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Key{}, fmt.Errorf("invalid tile key %q: %w", s, err)
		}
		vals[i] = uint32(v)
	}
	k := Key{Level: vals[0], X: vals[1], Y: vals[2]}
	if !k.Valid() {
		return Key{}, fmt.Errorf("tile key %q outside level %d matrix", s, k.Level)
	}
	return k, nil
}
