package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"sharpscale/internal/fsutil"
	"sharpscale/internal/logging"
	"sharpscale/internal/storage"
)

// ErrNoImages is returned when the input folder holds no supported image.
var ErrNoImages = errors.New("no images found")

// BatchRequest describes one batch run.
type BatchRequest struct {
	InputDir  string
	OutputDir string
	Width     int
	Height    int
	ModelPath string
}

// Summary counts the outcome of a batch run.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Processed is the number of files that were attempted.
func (s Summary) Processed() int { return s.Succeeded + s.Failed }

func (s Summary) String() string {
	return fmt.Sprintf("Processed %d images: %d succeeded, %d failed", s.Processed(), s.Succeeded, s.Failed)
}

// RunBatch enhances every supported image directly inside req.InputDir, in
// sorted order. Per-file failures are logged and counted; only a missing
// folder, an empty folder or cancellation fail the run.
func (p *Pipeline) RunBatch(ctx context.Context, req BatchRequest) (Summary, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return Summary{}, fmt.Errorf("invalid target size %dx%d", req.Width, req.Height)
	}
	paths, err := fsutil.ListImages(req.InputDir)
	if err != nil {
		return Summary{}, err
	}
	if len(paths) == 0 {
		return Summary{}, fmt.Errorf("%w in %s", ErrNoImages, req.InputDir)
	}
	if err := fsutil.EnsureDir(req.OutputDir); err != nil {
		return Summary{}, err
	}

	start := time.Now()
	sum := Summary{RunID: uuid.NewString(), Total: len(paths)}

	if err := p.store.RecordRunStart(storage.RunRecord{
		ID:        sum.RunID,
		Mode:      ModeBatch,
		InputDir:  req.InputDir,
		OutputDir: req.OutputDir,
		Width:     req.Width,
		Height:    req.Height,
		ModelPath: req.ModelPath,
	}); err != nil {
		p.log.Warn("failed to record run start", "id", sum.RunID, "error", err)
	}
	logging.LogRunStart(p.log, ModeBatch, sum.RunID, req.InputDir, req.OutputDir, map[string]any{
		"width":  req.Width,
		"height": req.Height,
		"images": len(paths),
	})

	var runErr error
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		p.progress.Report(i, len(paths), filepath.Base(path))
		res := p.handle(ctx, NewJob(sum.RunID, path, req.OutputDir, req.Width, req.Height))
		if res.Error != nil {
			sum.Failed++
		} else {
			sum.Succeeded++
		}
	}
	if runErr == nil {
		p.progress.Done(len(paths))
	}
	sum.Duration = time.Since(start)

	status := "completed"
	if runErr != nil {
		status = "cancelled"
	}
	if err := p.store.RecordRunResult(sum.RunID, status, sum.Total, sum.Succeeded, sum.Failed, errString(runErr)); err != nil {
		p.log.Warn("failed to record run result", "id", sum.RunID, "error", err)
	}
	logging.LogRunComplete(p.log, ModeBatch, sum.RunID, sum.Duration, sum.Total, sum.Failed)

	return sum, runErr
}
