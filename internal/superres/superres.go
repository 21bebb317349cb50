// Package superres applies a fixed-factor super-resolution model to images of
// any size by splitting them into tiles.
package superres

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
)

// DefaultTileSize is the tile edge length in source pixels.
const DefaultTileSize = 1024

// Model is a loaded super-resolution network bound to one scale factor.
type Model interface {
	Name() string
	Scale() int
	Upsample(ctx context.Context, src *image.RGBA) (*image.RGBA, error)
}

// ModelLoadError reports a model that could not be loaded or configured.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("could not load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// Tiles partitions bounds into row-major rectangles of at most size×size.
// Edge tiles are clipped, never padded.
func Tiles(bounds image.Rectangle, size int) []image.Rectangle {
	if size <= 0 {
		size = DefaultTileSize
	}
	var tiles []image.Rectangle
	for y := bounds.Min.Y; y < bounds.Max.Y; y += size {
		for x := bounds.Min.X; x < bounds.Max.X; x += size {
			tiles = append(tiles, image.Rect(x, y, min(x+size, bounds.Max.X), min(y+size, bounds.Max.Y)))
		}
	}
	return tiles
}

// TileUpscaler runs a Model tile by tile and stitches the results.
type TileUpscaler struct {
	model    Model
	tileSize int
	log      *slog.Logger
}

// NewTileUpscaler wraps m. A non-positive tileSize selects DefaultTileSize.
func NewTileUpscaler(m Model, tileSize int, logger *slog.Logger) *TileUpscaler {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TileUpscaler{model: m, tileSize: tileSize, log: logger}
}

// TileSize returns the configured tile edge length.
func (u *TileUpscaler) TileSize() int { return u.tileSize }

// Scale returns the model's upscale factor.
func (u *TileUpscaler) Scale() int { return u.model.Scale() }

// Upscale returns a new image of size (W·s, H·s). Tiles are processed
// independently with no overlap, so seams may be visible. If any tile fails
// the whole image fails and the partial buffer is dropped.
func (u *TileUpscaler) Upscale(ctx context.Context, src *image.RGBA) (*image.RGBA, error) {
	scale := u.model.Scale()
	if scale < 1 {
		return nil, fmt.Errorf("model %s reports invalid scale %d", u.model.Name(), scale)
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	tiles := Tiles(b, u.tileSize)

	for i, rect := range tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tile := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(tile, tile.Bounds(), src, rect.Min, draw.Src)

		out, err := u.model.Upsample(ctx, tile)
		if err != nil {
			return nil, fmt.Errorf("tile %d/%d %v: %w", i+1, len(tiles), rect, err)
		}

		// Placement uses the model's actual output size, not rect·scale.
		origin := rect.Min.Sub(b.Min).Mul(scale)
		ob := out.Bounds()
		draw.Draw(dst, image.Rectangle{Min: origin, Max: origin.Add(ob.Size())}, out, ob.Min, draw.Src)

		u.log.Debug("tile upscaled",
			"model", u.model.Name(),
			"tile", i+1,
			"tiles", len(tiles),
			"rect", rect.String(),
			"out", ob.Size().String(),
		)
	}
	return dst, nil
}
