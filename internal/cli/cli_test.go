package cli

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharpscale/internal/config"
	"sharpscale/internal/enhance"
	"sharpscale/internal/logging"
	"sharpscale/internal/pipeline"
	"sharpscale/internal/storage"
	"sharpscale/internal/superres"
)

type fakeModel struct{ closed bool }

func (m *fakeModel) Name() string { return "fake" }
func (m *fakeModel) Scale() int   { return 4 }
func (m *fakeModel) Close() error { m.closed = true; return nil }
func (m *fakeModel) Upsample(ctx context.Context, src *image.RGBA) (*image.RGBA, error) {
	b := src.Bounds()
	return image.NewRGBA(image.Rect(0, 0, b.Dx()*4, b.Dy()*4)), nil
}

type passStages struct{}

func (passStages) Denoise(ctx context.Context, src *image.RGBA) (*image.RGBA, error)  { return src, nil }
func (passStages) Equalize(ctx context.Context, src *image.RGBA) (*image.RGBA, error) { return src, nil }
func (passStages) Sharpen(ctx context.Context, src *image.RGBA) (*image.RGBA, error)  { return src, nil }
func (passStages) Resample(ctx context.Context, src *image.RGBA, w, h int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

type fileCodec struct{}

func (fileCodec) Decode(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if string(data) == "corrupt" {
		return nil, errors.New("unsupported file format")
	}
	return image.NewRGBA(image.Rect(0, 0, 5, 3)), nil
}

func (fileCodec) Encode(path string, img *image.RGBA) error {
	return os.WriteFile(path, []byte("enhanced"), 0o644)
}

// hookCodec calls onDecode before every read.
type hookCodec struct {
	fileCodec
	onDecode func(path string)
}

func (c hookCodec) Decode(path string) (*image.RGBA, error) {
	c.onDecode(path)
	return c.fileCodec.Decode(path)
}

type testEnv struct {
	root   *Root
	model  *fakeModel
	loads  int
	stdout bytes.Buffer
	stderr bytes.Buffer
	logs   bytes.Buffer
}

func newTestEnv(t *testing.T, store *storage.Store) *testEnv {
	t.Helper()
	env := &testEnv{model: &fakeModel{}}
	logger := slog.New(logging.NewTraditionalHandler(&env.logs, slog.LevelInfo))
	backend := Backend{
		LoadModel: func(path string) (superres.Model, error) {
			env.loads++
			if _, err := os.Stat(path); err != nil {
				return nil, &superres.ModelLoadError{Path: path, Err: err}
			}
			return env.model, nil
		},
		NewStages: func(up enhance.Upscaler) enhance.Stages {
			return enhance.Stages{Denoiser: passStages{}, Upscaler: up, Resampler: passStages{}, Equalizer: passStages{}, Sharpener: passStages{}}
		},
		Codec:    fileCodec{},
		Versions: func() map[string]string { return map[string]string{"OpenCV": "4.11.0", "ImageMagick": ""} },
	}
	env.root = NewRoot(config.Default(), logger, store, backend)
	return env
}

func (e *testEnv) run(args ...string) error {
	return e.runContext(context.Background(), args...)
}

func (e *testEnv) runContext(ctx context.Context, args ...string) error {
	cmd := NewRootCmd(e.root)
	cmd.SetArgs(args)
	cmd.SetOut(&e.stdout)
	cmd.SetErr(&e.stderr)
	return cmd.ExecuteContext(ctx)
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "FSRCNN_x4.pb")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	return path
}

func TestBatchCorruptAndValid(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(filepath.Join(in, "bad.png"), []byte("corrupt"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "good.jpg"), []byte("pixels"), 0o644))

	env := newTestEnv(t, nil)
	require.NoError(t, env.run(in, out, "640", "480", writeModel(t)))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good_upscaled.jpg", entries[0].Name())

	assert.Equal(t, 1, strings.Count(env.logs.String(), "[ERROR]"))
	assert.Contains(t, env.stdout.String(), "Processed 2 images: 1 succeeded, 1 failed")
	assert.True(t, env.model.closed)
}

func TestBatchEmptyFolderFails(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")

	env := newTestEnv(t, nil)
	err := env.run(in, out, "100", "100", writeModel(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrNoImages))
	assert.Contains(t, env.stderr.String(), "no images found")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArityIsEnforced(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.run("in", "out", "100", "100")
	require.Error(t, err)
	assert.Contains(t, env.stderr.String(), "accepts 5 arg(s), received 4")
	assert.Contains(t, env.stdout.String()+env.stderr.String(), "Usage:")
	assert.Equal(t, 0, env.loads)

	err = env.run("in", "out", "100", "100", "model.pb", "extra")
	assert.Error(t, err)
}

func TestBadNumbersAreFatal(t *testing.T) {
	for _, dims := range [][2]string{{"abc", "100"}, {"100", "0"}, {"-5", "10"}} {
		env := newTestEnv(t, nil)
		err := env.run(t.TempDir(), t.TempDir(), dims[0], dims[1], writeModel(t))
		assert.ErrorContains(t, err, "must be a positive integer", dims)
		assert.Equal(t, 0, env.loads)
	}
}

func TestWatchSeesImageAddedDuringInitialPass(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	model := writeModel(t)
	require.NoError(t, os.WriteFile(filepath.Join(in, "first.png"), []byte("pixels"), 0o644))

	env := newTestEnv(t, nil)
	env.root.cfg.Watch.SettleMS = 20
	var once sync.Once
	env.root.backend.Codec = hookCodec{onDecode: func(string) {
		once.Do(func() {
			assert.NoError(t, os.WriteFile(filepath.Join(in, "late.png"), []byte("pixels"), 0o644))
		})
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.runContext(ctx, "watch", in, out, "8", "8", model) }()

	late := filepath.Join(out, "late_upscaled.png")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(late)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.FileExists(t, filepath.Join(out, "first_upscaled.png"))
}

func TestNegativeDimensionIsPositional(t *testing.T) {
	for _, sub := range [][]string{nil, {"watch"}, {"serve", "--http-addr", "127.0.0.1:0"}} {
		env := newTestEnv(t, nil)
		args := append(append([]string{}, sub...), t.TempDir(), t.TempDir(), "-5", "10", writeModel(t))
		err := env.run(args...)
		require.Error(t, err, sub)
		assert.Contains(t, err.Error(), "target_width must be a positive integer", sub)
		assert.NotContains(t, err.Error(), "unknown shorthand flag", sub)
		assert.Equal(t, 0, env.loads)
	}
}

func TestModelLoadFailureStopsBeforeProcessing(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(filepath.Join(in, "a.png"), []byte("pixels"), 0o644))

	env := newTestEnv(t, nil)
	err := env.run(in, out, "10", "10", filepath.Join(t.TempDir(), "missing.pb"))

	var loadErr *superres.ModelLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.DirExists(t, out)
	entries, _ := os.ReadDir(out)
	assert.Empty(t, entries)
	assert.NotContains(t, env.stdout.String(), "Processing")
}

func TestHistoryLocal(t *testing.T) {
	store, err := storage.New(storage.DriverPureGo, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	in := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "a.png"), []byte("pixels"), 0o644))
	env := newTestEnv(t, store)
	require.NoError(t, env.run(in, t.TempDir(), "8", "8", writeModel(t)))

	runs, err := store.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	env.stdout.Reset()
	require.NoError(t, env.run("history", "--limit", "5"))
	assert.Contains(t, env.stdout.String(), runs[0].ID)
	assert.Contains(t, env.stdout.String(), "completed")

	env.stdout.Reset()
	require.NoError(t, env.run("history", runs[0].ID))
	assert.Contains(t, env.stdout.String(), "a.png")
	assert.Contains(t, env.stdout.String(), "Target: 8x8")
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.ErrorContains(t, env.run("history"), "run history is disabled")
}

type stubHistory struct{ runs []storage.RunRecord }

func (s stubHistory) ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	return s.runs, nil
}

func (s stubHistory) GetRun(ctx context.Context, id string) (storage.RunRecord, []storage.FileRecord, error) {
	return storage.RunRecord{}, nil, errors.New("not found")
}

func TestHistoryRemote(t *testing.T) {
	env := newTestEnv(t, nil)
	var dialed string
	env.root.dial = func(addr string) (historySource, func(), error) {
		dialed = addr
		return stubHistory{runs: []storage.RunRecord{{ID: "remote-run", Mode: "watch", Status: "running"}}}, func() {}, nil
	}

	require.NoError(t, env.run("history", "--remote", "localhost:9090"))
	assert.Equal(t, "localhost:9090", dialed)
	assert.Contains(t, env.stdout.String(), "remote-run")
}

func TestConfigShowAndVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.run("config", "show"))
	assert.Contains(t, env.stdout.String(), "Tile Size: 1024")

	env.stdout.Reset()
	require.NoError(t, env.run("version"))
	out := env.stdout.String()
	assert.Contains(t, out, "Sharpscale ")
	assert.Contains(t, out, "OpenCV: 4.11.0")
	assert.Contains(t, out, "ImageMagick: ❌ unavailable")
}
