package pipeline

import (
	"context"
	"image"
	"log/slog"
)

// Stages a file can fail in.
const (
	StageRead    = "read"
	StageEnhance = "enhance"
	StageWrite   = "write"
)

// Codec decodes and encodes images on disk.
type Codec interface {
	Decode(path string) (*image.RGBA, error)
	Encode(path string, img *image.RGBA) error
}

// Enhancer produces the final image at an exact size.
type Enhancer interface {
	Enhance(ctx context.Context, src *image.RGBA, width, height int) (*image.RGBA, error)
}

// fileProcessor implements Processor as read, enhance, write.
type fileProcessor struct {
	log      *slog.Logger
	codec    Codec
	enhancer Enhancer
}

// NewProcessor returns the Processor used by batch and watch runs.
func NewProcessor(codec Codec, enhancer Enhancer, logger *slog.Logger) Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &fileProcessor{log: logger, codec: codec, enhancer: enhancer}
}

func (r *fileProcessor) Process(ctx context.Context, job Job) Result {
	src, err := r.codec.Decode(job.InputPath)
	if err != nil {
		return Result{Job: job, Stage: StageRead, Error: err}
	}
	r.log.Debug("decoded", "id", job.ID, "size", src.Bounds().Size().String())

	out, err := r.enhancer.Enhance(ctx, src, job.Width, job.Height)
	if err != nil {
		return Result{Job: job, Stage: StageEnhance, Error: err}
	}

	if err := r.codec.Encode(job.Output, out); err != nil {
		return Result{Job: job, Stage: StageWrite, Error: err}
	}
	size := out.Bounds().Size()
	return Result{Job: job, Width: size.X, Height: size.Y}
}
