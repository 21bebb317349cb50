package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sharpscale/internal/config"
	"sharpscale/internal/enhance"
	"sharpscale/internal/fsutil"
	"sharpscale/internal/logging"
	"sharpscale/internal/pipeline"
	"sharpscale/internal/storage"
	"sharpscale/internal/superres"
	"sharpscale/internal/watch"
)

type modelLoader func(path string) (superres.Model, error)

type stageFactory func(up enhance.Upscaler) enhance.Stages

// Backend binds the native image libraries. The cli package never imports
// them directly.
type Backend struct {
	LoadModel modelLoader
	NewStages stageFactory
	Codec     pipeline.Codec
	// Versions reports library versions for the version command.
	Versions func() map[string]string
}

type historySource interface {
	ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
	GetRun(ctx context.Context, id string) (storage.RunRecord, []storage.FileRecord, error)
}

type remoteDialer func(addr string) (historySource, func(), error)

// Root holds shared dependencies for all commands.
type Root struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *storage.Store
	backend Backend
	dial    remoteDialer
}

// NewRoot creates a Root. store may be nil when history is disabled.
func NewRoot(cfg *config.Config, log *slog.Logger, store *storage.Store, backend Backend) *Root {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Root{cfg: cfg, log: log, store: store, backend: backend, dial: dialRemote}
}

// session is one loaded model plus the pipeline around it.
type session struct {
	req   pipeline.BatchRequest
	pipe  *pipeline.Pipeline
	close func()
}

func parsePositive(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, value)
	}
	return n, nil
}

func parseRequest(args []string) (pipeline.BatchRequest, error) {
	width, err := parsePositive("target_width", args[2])
	if err != nil {
		return pipeline.BatchRequest{}, err
	}
	height, err := parsePositive("target_height", args[3])
	if err != nil {
		return pipeline.BatchRequest{}, err
	}
	return pipeline.BatchRequest{
		InputDir:  args[0],
		OutputDir: args[1],
		Width:     width,
		Height:    height,
		ModelPath: args[4],
	}, nil
}

// open validates arguments, prepares the output folder and loads the model.
// Nothing is processed if any of these fail.
func (r *Root) open(args []string, stdout io.Writer) (*session, error) {
	req, err := parseRequest(args)
	if err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(req.OutputDir); err != nil {
		return nil, err
	}
	if r.backend.LoadModel == nil || r.backend.NewStages == nil || r.backend.Codec == nil {
		return nil, errors.New("image backend is not configured")
	}

	model, err := r.backend.LoadModel(req.ModelPath)
	if err != nil {
		return nil, err
	}
	closeModel := func() {
		if c, ok := model.(io.Closer); ok {
			c.Close()
		}
	}
	r.log.Info("model loaded", "path", req.ModelPath, "name", model.Name(), "scale", model.Scale())

	up := superres.NewTileUpscaler(model, r.cfg.Processing.TileSize, r.log)
	enhancer, err := enhance.New(r.backend.NewStages(up), r.log)
	if err != nil {
		closeModel()
		return nil, err
	}

	proc := pipeline.NewProcessor(r.backend.Codec, enhancer, r.log)
	pipe := pipeline.New(proc, r.log, r.store, pipeline.Options{
		QueueSize: r.cfg.Watch.QueueSize,
		Stdout:    stdout,
	})
	return &session{
		req:  req,
		pipe: pipe,
		close: func() {
			pipe.Stop()
			closeModel()
		},
	}, nil
}

// runBatch processes the folder once and prints the summary.
func (r *Root) runBatch(ctx context.Context, s *session, stdout io.Writer) error {
	sum, err := s.pipe.RunBatch(ctx, s.req)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, sum.String())
	return nil
}

// watchLoop processes existing images, then every image that settles in
// the input folder, until ctx is cancelled. The watch is added before the
// initial pass so images arriving during it are still seen.
func (r *Root) watchLoop(ctx context.Context, s *session, stdout io.Writer) error {
	w, err := watch.New(s.req.InputDir, time.Duration(r.cfg.Watch.SettleMS)*time.Millisecond, r.log)
	if err != nil {
		return err
	}

	if err := r.runBatch(ctx, s, stdout); err != nil && !errors.Is(err, pipeline.ErrNoImages) {
		w.Close()
		return err
	}

	runID := uuid.NewString()
	start := time.Now()
	if err := r.store.RecordRunStart(storage.RunRecord{
		ID:        runID,
		Mode:      pipeline.ModeWatch,
		InputDir:  s.req.InputDir,
		OutputDir: s.req.OutputDir,
		Width:     s.req.Width,
		Height:    s.req.Height,
		ModelPath: s.req.ModelPath,
	}); err != nil {
		r.log.Warn("failed to record run start", "id", runID, "error", err)
	}
	logging.LogRunStart(r.log, pipeline.ModeWatch, runID, s.req.InputDir, s.req.OutputDir, map[string]any{
		"width":  s.req.Width,
		"height": s.req.Height,
	})

	baseOK, baseFailed := s.pipe.Stats()
	s.pipe.Start(ctx)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for path := range w.Ready() {
		job := pipeline.NewJob(runID, path, s.req.OutputDir, s.req.Width, s.req.Height)
		if err := s.pipe.Submit(job); err != nil {
			r.log.Warn("dropping image", "input", path, "error", err)
		}
	}
	watchErr := <-done
	s.pipe.Stop()

	ok, failed := s.pipe.Stats()
	ok, failed = ok-baseOK, failed-baseFailed
	if err := r.store.RecordRunResult(runID, "completed", ok+failed, ok, failed, ""); err != nil {
		r.log.Warn("failed to record run result", "id", runID, "error", err)
	}
	logging.LogRunComplete(r.log, pipeline.ModeWatch, runID, time.Since(start), ok+failed, failed)
	return watchErr
}
