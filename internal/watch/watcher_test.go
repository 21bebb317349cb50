package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccept(t *testing.T) {
	assert.True(t, Accept("/in/a.JPG"))
	assert.True(t, Accept("/in/b.webp"))
	assert.False(t, Accept("/in/a_upscaled.jpg"))
	assert.False(t, Accept("/in/notes.txt"))
	assert.False(t, Accept("/in/raw.cr2"))
}

func startWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, 30*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcherReportsSettledImagesOnce(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip_upscaled.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	target := filepath.Join(dir, "photo.png")
	f, err := os.Create(target)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.Write([]byte("chunk"))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	select {
	case got := <-w.Ready():
		assert.Equal(t, target, got)
	case <-time.After(5 * time.Second):
		t.Fatal("settled image was not reported")
	}

	select {
	case got := <-w.Ready():
		t.Fatalf("unexpected second report %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherDropsRemovedFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, time.Second, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	path := filepath.Join(dir, "gone.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Remove(path))

	select {
	case got, ok := <-w.Ready():
		if ok {
			t.Fatalf("removed file reported: %q", got)
		}
	case <-time.After(1500 * time.Millisecond):
	}
	cancel()
	<-done

	_, ok := <-w.Ready()
	assert.False(t, ok)
}

func TestNewMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), 0, nil)
	assert.Error(t, err)
}
