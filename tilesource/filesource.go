// Package tilesource provides coverage.Source implementations over tiled
// raster stores. FileSource reads PNG-encoded classification tiles from an
// fs.FS laid out as level/x/y.png.
package tilesource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/akhenakh/landcoverapi/coverage"
	"github.com/akhenakh/landcoverapi/tile"
)

const rasterTTL = 10 * time.Minute

// FileSource serves rasters from a directory tree of PNG tiles.
//
// Decoded rasters are cached in an LRU cache keyed by tile key, and a
// singleflight group ensures concurrent requests for the same tile perform
// the decode only once; the structure mirrors a COG tile reader's processed
// tile cache.
//
// Paletted and 8-bit grayscale tiles carry classification codes directly;
// 16-bit grayscale tiles are treated as normalized 0..1 samples. PNG rows
// run north to south and are flipped into the south-up raster row order.
type FileSource struct {
	fsys               fs.FS
	minLevel, maxLevel uint32

	rasterCache *ccache.Cache[*coverage.Raster]
	inflight    singleflight.Group
}

// NewFileSource returns a source over fsys restricted to the inclusive
// level range [minLevel, maxLevel]. cacheSize and itemsToPrune configure
// the decoded raster cache.
func NewFileSource(fsys fs.FS, minLevel, maxLevel uint32, cacheSize int64, itemsToPrune uint32) (*FileSource, error) {
	if fsys == nil {
		return nil, fmt.Errorf("tilesource: nil filesystem")
	}
	if minLevel > maxLevel {
		return nil, fmt.Errorf("tilesource: min level %d above max level %d", minLevel, maxLevel)
	}
	return &FileSource{
		fsys:        fsys,
		minLevel:    minLevel,
		maxLevel:    maxLevel,
		rasterCache: ccache.New(ccache.Configure[*coverage.Raster]().MaxSize(cacheSize).ItemsToPrune(itemsToPrune)),
	}, nil
}

// IsOpen reports whether the source can serve tiles.
func (f *FileSource) IsOpen() bool { return f.fsys != nil }

// WithinRange reports whether key falls inside the configured level range.
func (f *FileSource) WithinRange(key tile.Key) bool {
	return key.Valid() && key.Level >= f.minLevel && key.Level <= f.maxLevel
}

// MayHaveData reports whether a tile file exists for key. It is a cheap
// stat, not a fetch.
func (f *FileSource) MayHaveData(key tile.Key) bool {
	if !f.WithinRange(key) {
		return false
	}
	if _, err := fs.Stat(f.fsys, f.tilePath(key)); err != nil {
		return false
	}
	return true
}

// Fetch returns the decoded raster for key, nil when no tile file exists.
func (f *FileSource) Fetch(ctx context.Context, key tile.Key) (*coverage.Raster, error) {
	if !f.WithinRange(key) {
		return nil, nil
	}

	cacheKey := key.String()
	if item := f.rasterCache.Get(cacheKey); item != nil && !item.Expired() {
		return item.Value(), nil
	}

	v, err, _ := f.inflight.Do(cacheKey, func() (interface{}, error) {
		raster, err := f.decodeTile(key)
		if err != nil {
			return nil, err
		}
		if raster != nil {
			f.rasterCache.Set(cacheKey, raster, rasterTTL)
		}
		return raster, nil
	})
	if err != nil {
		return nil, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if v == nil {
		return nil, nil
	}
	return v.(*coverage.Raster), nil
}

func (f *FileSource) tilePath(key tile.Key) string {
	return fmt.Sprintf("%d/%d/%d.png", key.Level, key.X, key.Y)
}

func (f *FileSource) decodeTile(key tile.Key) (*coverage.Raster, error) {
	file, err := f.fsys.Open(f.tilePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open tile %s: %w", key, err)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %s: %w", key, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	raster := &coverage.Raster{
		Width:   w,
		Height:  h,
		Samples: make([]float32, w*h),
	}

	switch im := img.(type) {
	case *image.Paletted:
		for y := 0; y < h; y++ {
			row := (h - 1 - y) * w // flip to south-up
			for x := 0; x < w; x++ {
				raster.Samples[row+x] = float32(im.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := (h - 1 - y) * w
			for x := 0; x < w; x++ {
				raster.Samples[row+x] = float32(im.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray16:
		raster.Normalized = true
		for y := 0; y < h; y++ {
			row := (h - 1 - y) * w
			for x := 0; x < w; x++ {
				raster.Samples[row+x] = float32(im.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 65535.0
			}
		}
	default:
		// Fall back to the red channel for RGB(A) encodings.
		for y := 0; y < h; y++ {
			row := (h - 1 - y) * w
			for x := 0; x < w; x++ {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				raster.Samples[row+x] = float32(r >> 8)
			}
		}
	}
	return raster, nil
}
