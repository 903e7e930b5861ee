package coverage

import (
	"context"

	"github.com/akhenakh/landcoverapi/tile"
)

// Raster is one tile's worth of raw numeric samples as delivered by a
// Source, before any value-table lookup. Samples are stored in row-major
// order with row 0 at the tile's southern edge, matching grid row order.
type Raster struct {
	Width, Height int
	Samples       []float32

	// Normalized marks samples as 0..1 fractions that must be collapsed to
	// the 8-bit code range before lookup. When false, samples already carry
	// integer codes and pass through unchanged.
	Normalized bool
}

// Code returns the integer classification code of the sample at linear
// index i.
func (r *Raster) Code(i int) uint32 {
	s := r.Samples[i]
	if r.Normalized {
		return uint32(s*255.0 + 0.5)
	}
	return uint32(s)
}

// Source supplies raw rasters for tile keys. Implementations may perform
// I/O in Fetch and should honor ctx. A fetch failure means "no data from
// this source for this key"; the compositor never retries.
type Source interface {
	// IsOpen reports whether the source is ready to serve data at all.
	IsOpen() bool

	// MayHaveData is a cheap pre-check consulted before a direct
	// (non-fallback) fetch to avoid needless requests.
	MayHaveData(key tile.Key) bool

	// WithinRange reports whether key lies inside the source's legal
	// level range; the ancestor walk stops at its edge.
	WithinRange(key tile.Key) bool

	// Fetch returns the raster for key, or nil when the source has no
	// data there.
	Fetch(ctx context.Context, key tile.Key) (*Raster, error)
}
