package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharpscale/internal/fsutil"
	"sharpscale/internal/logging"
	"sharpscale/internal/storage"
)

type harness struct {
	p      *Pipeline
	stdout *bytes.Buffer
	logs   *bytes.Buffer
	codec  *fakeCodec
}

func newHarness(t *testing.T, store *storage.Store) harness {
	t.Helper()
	var stdout, logs bytes.Buffer
	logger := slog.New(logging.NewTraditionalHandler(&logs, slog.LevelInfo))
	codec := &fakeCodec{}
	p := New(NewProcessor(codec, fakeEnhancer{}, logger), logger, store, Options{Stdout: &stdout, QueueSize: 4})
	t.Cleanup(p.Stop)
	return harness{p: p, stdout: &stdout, logs: &logs, codec: codec}
}

func TestRunBatchCorruptAndValid(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "nested", "out")
	writeFile(t, in, "a.png", "corrupt")
	writeFile(t, in, "b.jpg", "pixels")
	writeFile(t, in, "notes.txt", "ignored")

	store, err := storage.New(storage.DriverPureGo, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	h := newHarness(t, store)
	sum, err := h.p.RunBatch(context.Background(), BatchRequest{InputDir: in, OutputDir: out, Width: 64, Height: 48})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, "Processed 2 images: 1 succeeded, 1 failed", sum.String())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b_upscaled.jpg", entries[0].Name())

	assert.Equal(t, 1, strings.Count(h.logs.String(), "[ERROR]"))
	assert.Contains(t, h.logs.String(), "failed to read a.png")

	stdout := h.stdout.String()
	assert.Contains(t, stdout, "\rProcessing a.png [0%]")
	assert.Contains(t, stdout, "\rProcessing b.jpg [50%]")
	assert.Contains(t, stdout, "✅ Saved: "+filepath.Join(out, "b_upscaled.jpg"))
	assert.True(t, strings.HasSuffix(stdout, "\rProcessing Done [100%]\n"))

	run, err := store.Run(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, ModeBatch, run.Mode)
	assert.Equal(t, 1, run.Failed)

	files, err := store.RunFiles(sum.RunID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "failed", files[0].Status)
	assert.Equal(t, StageRead, files[0].Stage)
	assert.Equal(t, "completed", files[1].Status)
	assert.Equal(t, 64, files[1].Width)
}

func TestRunBatchEmptyFolder(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeFile(t, in, "readme.md", "x")

	h := newHarness(t, nil)
	_, err := h.p.RunBatch(context.Background(), BatchRequest{InputDir: in, OutputDir: out, Width: 1, Height: 1})
	assert.True(t, errors.Is(err, ErrNoImages))
	assert.Empty(t, h.stdout.String())
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunBatchMissingFolder(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.p.RunBatch(context.Background(), BatchRequest{
		InputDir: filepath.Join(t.TempDir(), "absent"), OutputDir: t.TempDir(), Width: 1, Height: 1,
	})
	assert.True(t, errors.Is(err, fsutil.ErrNotFound))
}

func TestRunBatchRejectsBadSize(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.p.RunBatch(context.Background(), BatchRequest{InputDir: t.TempDir(), OutputDir: t.TempDir(), Width: 0, Height: 10})
	assert.ErrorContains(t, err, "invalid target size")
}

func TestRunBatchCancelled(t *testing.T) {
	in := t.TempDir()
	writeFile(t, in, "a.png", "pixels")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, nil)
	sum, err := h.p.RunBatch(ctx, BatchRequest{InputDir: in, OutputDir: t.TempDir(), Width: 2, Height: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Processed())
}

func TestWorkerProcessesSubmittedJobs(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	src := writeFile(t, in, "new.webp", "pixels")

	h := newHarness(t, nil)
	results, unsub := h.p.Subscribe()
	defer unsub()

	h.p.Start(context.Background())
	job := NewJob("watch-run", src, out, 16, 9)
	require.NoError(t, h.p.Submit(job))

	select {
	case res := <-results:
		require.NoError(t, res.Error)
		assert.Equal(t, job.ID, res.Job.ID)
		assert.Equal(t, 16, res.Width)
		assert.Greater(t, res.Duration, time.Duration(0))
	case <-time.After(5 * time.Second):
		t.Fatal("no result received")
	}

	succeeded, failed := h.p.Stats()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, failed)
	assert.FileExists(t, filepath.Join(out, "new_upscaled.webp"))
}

func TestSubmitQueueFull(t *testing.T) {
	h := newHarness(t, nil)
	// Worker not started, so the queue only fills.
	for i := 0; i < 4; i++ {
		require.NoError(t, h.p.Submit(Job{ID: "j"}))
	}
	assert.ErrorContains(t, h.p.Submit(Job{ID: "overflow"}), "queue is full")
}

func TestStopClosesSubscriptions(t *testing.T) {
	h := newHarness(t, nil)
	results, _ := h.p.Subscribe()
	h.p.Start(context.Background())
	h.p.Stop()

	_, ok := <-results
	assert.False(t, ok)
}
