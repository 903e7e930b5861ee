package coverage

import (
	"math"

	"github.com/akhenakh/landcoverapi/tile"
)

// GeoCoverage pairs a Grid with the geographic extent it covers. The grid is
// held by pointer and may be shared between coverages; a write through one
// handle is visible through all of them. The zero GeoCoverage is the invalid
// ("no coverage available") result and every method on it returns a safe
// default rather than panicking.
type GeoCoverage[T Value] struct {
	extent tile.Extent
	grid   *Grid[T]
	valid  bool
}

// NewGeoCoverage wraps grid with its geographic extent. A nil grid yields
// an invalid coverage.
func NewGeoCoverage[T Value](extent tile.Extent, grid *Grid[T]) GeoCoverage[T] {
	return GeoCoverage[T]{extent: extent, grid: grid, valid: grid != nil}
}

// Valid reports whether the coverage holds a grid.
func (c GeoCoverage[T]) Valid() bool { return c.valid && c.grid != nil }

// Extent returns the geographic extent of the coverage.
func (c GeoCoverage[T]) Extent() tile.Extent { return c.extent }

// Grid returns the underlying grid, nil for an invalid coverage.
func (c GeoCoverage[T]) Grid() *Grid[T] { return c.grid }

// ReadAtCoords returns the value covering the geographic point (x, y).
// It reports false when the coverage is invalid or the point maps outside
// the grid.
func (c GeoCoverage[T]) ReadAtCoords(x, y float64) (T, bool) {
	var zero T
	if !c.Valid() {
		return zero, false
	}
	w, h := c.grid.Width(), c.grid.Height()
	// Floor, not truncation: a point just west or south of the extent
	// must compute cell -1 and fail the range check, not land on cell 0.
	s := int(math.Floor(float64(w-1) * (x - c.extent.XMin) / c.extent.Width()))
	t := int(math.Floor(float64(h-1) * (y - c.extent.YMin) / c.extent.Height()))
	if s < 0 || s >= w || t < 0 || t >= h {
		return zero, false
	}
	return c.grid.Read(s, t)
}

// NoDataCount returns the grid's no-data cell count, 0 for an invalid
// coverage.
func (c GeoCoverage[T]) NoDataCount() int {
	if !c.Valid() {
		return 0
	}
	return c.grid.NoDataCount()
}
