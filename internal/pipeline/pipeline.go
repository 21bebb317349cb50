package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"sharpscale/internal/fsutil"
	"sharpscale/internal/logging"
	"sharpscale/internal/progress"
	"sharpscale/internal/storage"
)

// Run modes recorded in storage.
const (
	ModeBatch = "batch"
	ModeWatch = "watch"
)

const defaultQueueSize = 64

// Job represents one image file inside a run.
type Job struct {
	ID        string
	RunID     string
	InputPath string
	Output    string
	Width     int
	Height    int
}

// NewJob builds the job for src in run runID.
func NewJob(runID, src, outDir string, width, height int) Job {
	return Job{
		ID:        uuid.NewString(),
		RunID:     runID,
		InputPath: src,
		Output:    fsutil.OutputPath(outDir, src),
		Width:     width,
		Height:    height,
	}
}

// Result captures the outcome of a Job. Stage is set when Error is.
type Result struct {
	Job      Job
	Stage    string
	Error    error
	Width    int
	Height   int
	Duration time.Duration
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Options tune a Pipeline.
type Options struct {
	// QueueSize bounds pending watch-mode jobs.
	QueueSize int
	// Stdout receives progress and saved-file lines; nil means os.Stdout.
	Stdout io.Writer
}

// Pipeline runs jobs one at a time, either inline for batches or through a
// single queue worker for watch mode.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	store     *storage.Store
	out       io.Writer
	progress  *progress.Reporter
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates a Pipeline around processor. store may be nil.
func New(processor Processor, logger *slog.Logger, store *storage.Store, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Pipeline{
		processor: processor,
		log:       logger,
		store:     store,
		out:       opts.Stdout,
		progress:  progress.New(opts.Stdout),
		jobs:      make(chan Job, opts.QueueSize),
		cancel:    func() {},
		subs:      make(map[int]chan Result),
	}
}

// Start launches the queue worker. Image work stays sequential.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.wg.Add(1)
		go p.worker(ctx)
	})
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return errors.New("job queue is full")
	}
}

// Stop signals the worker to exit, waits for it and closes subscriptions.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

// Stats returns the succeeded and failed counts since New.
func (p *Pipeline) Stats() (succeeded, failed int) {
	return int(p.succeeded.Load()), int(p.failed.Load())
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.handle(ctx, job)
		}
	}
}

// handle processes one job, reports it and fans the result out.
func (p *Pipeline) handle(ctx context.Context, job Job) Result {
	start := time.Now()
	res := p.processor.Process(ctx, job)
	res.Job = job
	res.Duration = time.Since(start)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		p.failed.Add(1)
		logging.LogFileError(p.log, job.ID, job.InputPath, res.Stage, res.Duration, res.Error)
	} else {
		p.succeeded.Add(1)
		fmt.Fprintf(p.out, "\n✅ Saved: %s\n", job.Output)
		logging.LogFileComplete(p.log, job.ID, job.InputPath, job.Output, res.Duration)
	}

	rec := storage.FileRecord{
		RunID:      job.RunID,
		JobID:      job.ID,
		InputPath:  job.InputPath,
		Status:     status,
		Stage:      res.Stage,
		Error:      errString(res.Error),
		Width:      res.Width,
		Height:     res.Height,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Error == nil {
		rec.OutputPath = job.Output
	}
	if err := p.store.RecordFileResult(rec); err != nil {
		p.log.Warn("failed to record file result", "id", job.ID, "error", err)
	}

	p.broadcast(res)
	return res
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
