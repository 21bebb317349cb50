package vision

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"sharpscale/internal/enhance"
)

// Fixed stage parameters.
const (
	NLMeansH          = 3
	NLMeansHColor     = 3
	NLMeansTemplate   = 7
	NLMeansSearch     = 21
	CLAHEClipLimit    = 2.0
	CLAHEGrid         = 8
	UnsharpSigma      = 3.0
	UnsharpAmount     = 1.5
	UnsharpBlurWeight = -0.5
)

// NewStages binds the OpenCV stages around up.
func NewStages(up enhance.Upscaler) enhance.Stages {
	return enhance.Stages{
		Denoiser:  NLMeans{},
		Upscaler:  up,
		Resampler: Lanczos{},
		Equalizer: CLAHE{},
		Sharpener: UnsharpMask{},
	}
}

// NLMeans is colour non-local means denoising.
type NLMeans struct{}

func (NLMeans) Denoise(ctx context.Context, src *image.RGBA) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return apply(src, func(in gocv.Mat, out *gocv.Mat) error {
		gocv.FastNlMeansDenoisingColoredWithParams(in, out, NLMeansH, NLMeansHColor, NLMeansTemplate, NLMeansSearch)
		return nil
	})
}

// Lanczos resizes with 8x8 Lanczos interpolation, ignoring aspect ratio.
type Lanczos struct{}

func (Lanczos) Resample(ctx context.Context, src *image.RGBA, width, height int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", width, height)
	}
	return apply(src, func(in gocv.Mat, out *gocv.Mat) error {
		gocv.Resize(in, out, image.Pt(width, height), 0, 0, gocv.InterpolationLanczos4)
		return nil
	})
}

// CLAHE equalizes the L channel in Lab space and leaves a/b untouched.
type CLAHE struct{}

func (CLAHE) Equalize(ctx context.Context, src *image.RGBA) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return apply(src, func(in gocv.Mat, out *gocv.Mat) error {
		lab := gocv.NewMat()
		defer lab.Close()
		gocv.CvtColor(in, &lab, gocv.ColorBGRToLab)

		channels := gocv.Split(lab)
		defer func() {
			for _, c := range channels {
				c.Close()
			}
		}()
		if len(channels) != 3 {
			return fmt.Errorf("lab split: got %d channels", len(channels))
		}

		clahe := gocv.NewCLAHEWithParams(CLAHEClipLimit, image.Pt(CLAHEGrid, CLAHEGrid))
		defer clahe.Close()
		l := gocv.NewMat()
		defer l.Close()
		clahe.Apply(channels[0], &l)

		merged := gocv.NewMat()
		defer merged.Close()
		gocv.Merge([]gocv.Mat{l, channels[1], channels[2]}, &merged)
		gocv.CvtColor(merged, out, gocv.ColorLabToBGR)
		return nil
	})
}

// UnsharpMask computes 1.5*src - 0.5*GaussianBlur(src, sigma 3).
type UnsharpMask struct{}

func (UnsharpMask) Sharpen(ctx context.Context, src *image.RGBA) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return apply(src, func(in gocv.Mat, out *gocv.Mat) error {
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(in, &blurred, image.Pt(0, 0), UnsharpSigma, 0, gocv.BorderDefault)
		gocv.AddWeighted(in, UnsharpAmount, blurred, UnsharpBlurWeight, 0, out)
		return nil
	})
}
