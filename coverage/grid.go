// Package coverage implements sparse categorical coverage grids: fixed-size
// rasters whose cells hold deduplicated classification values instead of
// colors, plus the compositor that fills one coverage per tile from multiple
// prioritized data sources.
package coverage

import "fmt"

// Value constrains the classification values a grid can hold. The zero value
// of an implementing type must be invalid (Valid() == false); it doubles as
// the no-data sentinel everywhere in this package.
type Value interface {
	comparable
	Valid() bool
}

// MaxValues is the number of distinct valid values a single grid can hold.
// Cells store uint8 indexes with 0 reserved for no-data.
const MaxValues = 255

// Grid is a sparse 2-D raster of classification values. Each cell stores a
// one-byte index into a per-grid value table, so a value repeated across many
// cells costs one table entry plus one byte per cell. Index 0 always means
// no-data and never appears in the table.
//
// The hot read/write path performs no bounds checking; callers must keep
// s in [0,Width) and t in [0,Height). A Grid must not be written from two
// goroutines at once.
type Grid[T Value] struct {
	width, height int
	cells         []uint8
	indexes       map[T]uint8 // value -> index, never holds the zero value
	values        []T         // index -> value, values[0] is the zero value
	validCount    int
}

// NewGrid returns a grid with all cells set to no-data.
func NewGrid[T Value](width, height int) *Grid[T] {
	g := &Grid[T]{}
	g.Allocate(width, height)
	return g
}

// Allocate resizes the grid and resets all state: every cell becomes
// no-data and the value table is emptied.
func (g *Grid[T]) Allocate(width, height int) {
	g.width = width
	g.height = height
	g.cells = make([]uint8, width*height)
	g.indexes = make(map[T]uint8)
	g.values = make([]T, 1) // reserve index 0 for no-data
	g.validCount = 0
}

// Width returns the number of cell columns.
func (g *Grid[T]) Width() int { return g.width }

// Height returns the number of cell rows.
func (g *Grid[T]) Height() int { return g.height }

// Write stores value at cell (s, t) and returns the index it was stored
// under, 0 when value is invalid. hint is advisory and only valid when
// repeating the immediately preceding value: pass the index that write
// returned to skip the table lookup, or 0 to take the lookup path. A hint
// taken from a write of a different value stores the wrong index; omitting
// the hint never changes the result, only the cost.
func (g *Grid[T]) Write(value T, s, t int, hint uint8) uint8 {
	var idx uint8
	if value.Valid() {
		if hint != 0 {
			idx = hint
		} else if i, ok := g.indexes[value]; ok {
			idx = i
		} else {
			if len(g.values) > MaxValues {
				panic(fmt.Sprintf("coverage: grid value table overflow (> %d distinct values)", MaxValues))
			}
			idx = uint8(len(g.values))
			g.indexes[value] = idx
			g.values = append(g.values, value)
		}
	}
	cell := t*g.width + s
	prev := g.cells[cell]
	g.cells[cell] = idx
	if prev == 0 && idx != 0 {
		g.validCount++
	} else if prev != 0 && idx == 0 {
		g.validCount--
	}
	return idx
}

// Read returns the value at cell (s, t) and whether the cell holds data.
func (g *Grid[T]) Read(s, t int) (T, bool) {
	idx := g.cells[t*g.width+s]
	return g.values[idx], idx != 0
}

// ReadNormalized reads the cell nearest to the normalized coordinates
// (u, v) in [0,1]. Out-of-range coordinates are a caller bug.
func (g *Grid[T]) ReadNormalized(u, v float64) (T, bool) {
	s := int(float64(g.width-1) * u)
	t := int(float64(g.height-1) * v)
	return g.Read(s, t)
}

// IndexAt returns the raw table index stored at cell (s, t).
func (g *Grid[T]) IndexAt(s, t int) uint8 {
	return g.cells[t*g.width+s]
}

// Valid reports whether at least one cell holds data.
func (g *Grid[T]) Valid() bool { return g.validCount > 0 }

// ValidCount returns the number of cells holding data.
func (g *Grid[T]) ValidCount() int { return g.validCount }

// NoDataCount returns the number of no-data cells.
func (g *Grid[T]) NoDataCount() int { return g.width*g.height - g.validCount }

// DistinctValues returns the number of distinct valid values the grid has
// ever stored. Indexes are never reused, so this equals the high-water mark
// of the value table rather than the count currently referenced by cells.
func (g *Grid[T]) DistinctValues() int { return len(g.values) - 1 }
