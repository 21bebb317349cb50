// Package enhance runs the fixed per-image transform chain:
// denoise, super-resolution, resize, luminance CLAHE, unsharp mask.
package enhance

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// Stage names used in logs and wrapped errors.
const (
	StageDenoise  = "denoise"
	StageUpscale  = "upscale"
	StageResize   = "resize"
	StageEqualize = "equalize"
	StageSharpen  = "sharpen"
)

// Denoiser removes noise while preserving colour.
type Denoiser interface {
	Denoise(ctx context.Context, src *image.RGBA) (*image.RGBA, error)
}

// Upscaler increases resolution by a fixed factor.
type Upscaler interface {
	Upscale(ctx context.Context, src *image.RGBA) (*image.RGBA, error)
}

// Resampler resizes to an exact width and height.
type Resampler interface {
	Resample(ctx context.Context, src *image.RGBA, width, height int) (*image.RGBA, error)
}

// ContrastEqualizer equalizes local contrast on the luminance channel.
type ContrastEqualizer interface {
	Equalize(ctx context.Context, src *image.RGBA) (*image.RGBA, error)
}

// Sharpener sharpens the image.
type Sharpener interface {
	Sharpen(ctx context.Context, src *image.RGBA) (*image.RGBA, error)
}

// Stages groups the backing implementation of each step.
type Stages struct {
	Denoiser  Denoiser
	Upscaler  Upscaler
	Resampler Resampler
	Equalizer ContrastEqualizer
	Sharpener Sharpener
}

// Enhancer applies Stages in a fixed order.
type Enhancer struct {
	stages Stages
	log    *slog.Logger
}

// New validates that every stage is present.
func New(stages Stages, logger *slog.Logger) (*Enhancer, error) {
	switch {
	case stages.Denoiser == nil:
		return nil, errors.New("enhance: denoiser is required")
	case stages.Upscaler == nil:
		return nil, errors.New("enhance: upscaler is required")
	case stages.Resampler == nil:
		return nil, errors.New("enhance: resampler is required")
	case stages.Equalizer == nil:
		return nil, errors.New("enhance: contrast equalizer is required")
	case stages.Sharpener == nil:
		return nil, errors.New("enhance: sharpener is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{stages: stages, log: logger}, nil
}

// Enhance returns a new image of exactly width×height.
func (e *Enhancer) Enhance(ctx context.Context, src *image.RGBA, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("enhance: invalid target size %dx%d", width, height)
	}

	steps := []struct {
		name string
		fn   func(*image.RGBA) (*image.RGBA, error)
	}{
		{StageDenoise, func(img *image.RGBA) (*image.RGBA, error) { return e.stages.Denoiser.Denoise(ctx, img) }},
		{StageUpscale, func(img *image.RGBA) (*image.RGBA, error) { return e.stages.Upscaler.Upscale(ctx, img) }},
		{StageResize, func(img *image.RGBA) (*image.RGBA, error) {
			return e.stages.Resampler.Resample(ctx, img, width, height)
		}},
		{StageEqualize, func(img *image.RGBA) (*image.RGBA, error) { return e.stages.Equalizer.Equalize(ctx, img) }},
		{StageSharpen, func(img *image.RGBA) (*image.RGBA, error) { return e.stages.Sharpener.Sharpen(ctx, img) }},
	}

	img := src
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		out, err := step.fn(img)
		if err != nil {
			return nil, errors.Wrapf(err, "%s stage", step.name)
		}
		if out == nil {
			return nil, errors.Errorf("%s stage returned no image", step.name)
		}
		if step.name == StageResize {
			if got := out.Bounds().Size(); got.X != width || got.Y != height {
				return nil, errors.Errorf("resize stage produced %dx%d, want %dx%d", got.X, got.Y, width, height)
			}
		}
		e.log.Debug("stage complete",
			"stage", step.name,
			"in", img.Bounds().Size().String(),
			"out", out.Bounds().Size().String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		img = out
	}
	return img, nil
}
