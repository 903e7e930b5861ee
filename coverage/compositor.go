package coverage

import (
	"context"

	"github.com/akhenakh/landcoverapi/tile"
)

// Layer binds one data source to its own value table. Different layers may
// map the same raw code to different classification values.
type Layer[T Value] struct {
	Name     string
	Source   Source
	Mappings *Mappings[T]
}

// Compositor produces one filled-in coverage per tile key by compositing a
// priority-ordered list of layers: the last configured layer has the highest
// priority, and lower-priority layers only fill cells the higher ones left
// as no-data. A Compositor is read-only after construction and safe to use
// from concurrent composites over different keys.
type Compositor[T Value] struct {
	layers []Layer[T]
}

// NewCompositor returns a compositor over layers in configuration order.
func NewCompositor[T Value](layers ...Layer[T]) *Compositor[T] {
	return &Compositor[T]{layers: layers}
}

// Layers returns the configured layers in configuration order.
func (c *Compositor[T]) Layers() []Layer[T] { return c.layers }

// Composite builds the merged coverage for key.
//
// An invalid coverage with a nil error means no layer contributed a single
// valid cell; a non-nil error is only returned for cancellation. Callers
// can therefore tell "canceled" from "genuinely no data".
func (c *Compositor[T]) Composite(ctx context.Context, key tile.Key) (GeoCoverage[T], error) {
	var invalid GeoCoverage[T]
	switch len(c.layers) {
	case 0:
		return invalid, nil
	case 1:
		return c.decodeLayer(ctx, c.layers[0], key, true)
	}

	var out GeoCoverage[T]
	fallback := false

	// Highest priority first: the last configured layer wins.
	for i := len(c.layers) - 1; i >= 0; i-- {
		ly := c.layers[i]

		in, err := c.decodeLayer(ctx, ly, key, true)
		if err != nil {
			return invalid, err
		}

		// Mapping from output cell space into the input's cell space.
		// Stays identity unless the input comes from an ancestor tile.
		scale := 1.0
		biasU, biasV := 0.0, 0.0

		if !in.Valid() && fallback {
			// Walk up the hierarchy until the source yields data or the
			// ancestor leaves its legal range.
			k := key
			for !in.Valid() {
				parent, ok := k.Parent()
				if !ok || !ly.Source.WithinRange(parent) {
					break
				}
				biasU = (biasU + float64(k.X%2)) / 2
				biasV = (biasV + float64(k.Y%2)) / 2
				scale /= 2
				k = parent
				in, err = c.decodeLayer(ctx, ly, k, false)
				if err != nil {
					return invalid, err
				}
			}
		}

		if !in.Valid() {
			continue
		}

		if !out.Valid() {
			// First contributing layer: adopt its grid wholesale. The walk
			// above only runs once fallback is enabled, so this grid was
			// decoded at key itself and the extents line up.
			out = in
			fallback = true
		} else {
			if err := c.merge(ctx, out.Grid(), in.Grid(), scale, biasU, biasV); err != nil {
				return invalid, err
			}
		}

		if out.Grid().NoDataCount() == 0 {
			break
		}
	}

	if !out.Valid() {
		return invalid, nil
	}
	return out, nil
}

// merge copies input values into the no-data cells of out. Cells already
// valid in out are never overwritten. scale and bias map out's normalized
// cell coordinates into in's, compensating for ancestor-tile input.
//
// The input cell is picked by nearest-cell rounding rather than the floor
// mapping grid reads use: with flooring, the float round trip through
// s/(w-1) can land a ulp below the exact cell and truncate to its
// neighbor, so the identity mapping would not map every cell to itself.
func (c *Compositor[T]) merge(ctx context.Context, out, in *Grid[T], scale, biasU, biasV float64) error {
	w, h := out.Width(), out.Height()
	iw, ih := in.Width(), in.Height()
	for t := 0; t < h; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := biasV + scale*cellFrac(t, h)
		ti := int(float64(ih-1)*v + 0.5)
		for s := 0; s < w; s++ {
			if out.IndexAt(s, t) != 0 {
				continue
			}
			u := biasU + scale*cellFrac(s, w)
			si := int(float64(iw-1)*u + 0.5)
			if val, ok := in.Read(si, ti); ok {
				out.Write(val, s, t, 0)
			}
		}
	}
	return nil
}

// decodeLayer produces one layer's own coverage for key, with no fallback
// or compositing. direct marks a fetch at the requested (non-ancestor) key,
// where the source's cheap pre-checks are consulted first.
func (c *Compositor[T]) decodeLayer(ctx context.Context, ly Layer[T], key tile.Key, direct bool) (GeoCoverage[T], error) {
	var invalid GeoCoverage[T]

	if !ly.Source.IsOpen() {
		return invalid, nil
	}
	if direct && !ly.Source.MayHaveData(key) {
		return invalid, nil
	}

	raster, err := ly.Source.Fetch(ctx, key)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return invalid, cerr
		}
		// Fetch failures are "no data from this source", not errors.
		return invalid, nil
	}
	if err := ctx.Err(); err != nil {
		return invalid, err
	}
	if raster == nil || raster.Width == 0 || raster.Height == 0 {
		return invalid, nil
	}

	grid := NewGrid[T](raster.Width, raster.Height)

	// Land-cover rasters run long spans of one code, so the decoded value
	// and write hint from the previous cell are reused whenever the code
	// repeats. Dropping the reuse changes cost only, never output.
	var (
		value    T
		hint     uint8
		prevCode uint32
		havePrev bool
	)
	for t := 0; t < raster.Height; t++ {
		if err := ctx.Err(); err != nil {
			return invalid, err
		}
		row := t * raster.Width
		for s := 0; s < raster.Width; s++ {
			code := raster.Code(row + s)
			if !havePrev || code != prevCode {
				value = ly.Mappings.Lookup(code)
				hint = 0
				prevCode = code
				havePrev = true
			}
			if value.Valid() {
				hint = grid.Write(value, s, t, hint)
			}
		}
	}

	if !grid.Valid() {
		return invalid, nil
	}
	return NewGeoCoverage(key.Extent(), grid), nil
}

// cellFrac returns cell i's normalized position in a run of n cells.
func cellFrac(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}
