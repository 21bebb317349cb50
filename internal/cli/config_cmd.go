package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"sharpscale/internal/config"
	"sharpscale/internal/storage"
)

// Version is overridden at build time with -ldflags.
var Version = "v0.1.0-dev"

// localHistory reads run history straight from the store.
type localHistory struct {
	store *storage.Store
}

func (l localHistory) ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	return l.store.RecentRuns(limit)
}

func (l localHistory) GetRun(ctx context.Context, id string) (storage.RunRecord, []storage.FileRecord, error) {
	run, err := l.store.Run(id)
	if err != nil {
		return storage.RunRecord{}, nil, err
	}
	files, err := l.store.RunFiles(id)
	return run, files, err
}

func (r *Root) configShow(w io.Writer) error {
	fmt.Fprintf(w, "Configuration:\n\n")
	fmt.Fprintf(w, "Config File: %s\n", config.Path())
	fmt.Fprintf(w, "Tile Size: %d\n", r.cfg.Processing.TileSize)
	fmt.Fprintf(w, "Log Level: %s\n", r.cfg.Logging.Level)
	fmt.Fprintf(w, "Log Format: %s\n", r.cfg.Logging.Format)
	fmt.Fprintf(w, "Log To File: %t\n", r.cfg.Logging.FileOutput)
	fmt.Fprintf(w, "Log Directory: %s\n", r.cfg.Logging.LogDir)
	fmt.Fprintf(w, "History Enabled: %t\n", r.cfg.Storage.Enabled)
	fmt.Fprintf(w, "Storage Driver: %s\n", r.cfg.Storage.Driver)
	fmt.Fprintf(w, "Database Path: %s\n", r.cfg.Paths.DatabasePath)
	fmt.Fprintf(w, "Watch Settle: %dms\n", r.cfg.Watch.SettleMS)
	fmt.Fprintf(w, "Watch Queue: %d\n", r.cfg.Watch.QueueSize)
	fmt.Fprintf(w, "HTTP Address: %s\n", r.cfg.Server.HTTPAddr)
	fmt.Fprintf(w, "gRPC Address: %s\n", r.cfg.Server.GRPCAddr)
	return nil
}

func (r *Root) cmdVersion(w io.Writer) {
	fmt.Fprintf(w, "Sharpscale %s\n", Version)
	fmt.Fprintf(w, "Built with Go %s\n", runtime.Version())
	if r.backend.Versions == nil {
		return
	}
	versions := r.backend.Versions()
	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "Libraries:\n")
	for _, name := range names {
		v := versions[name]
		if v == "" {
			v = "❌ unavailable"
		}
		fmt.Fprintf(w, "  %s: %s\n", name, v)
	}
}

func printRuns(w io.Writer, runs []storage.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	fmt.Fprintf(w, "%-36s  %-5s  %-9s  %-19s  %5s  %5s  %s\n", "ID", "MODE", "STATUS", "STARTED", "OK", "FAIL", "INPUT")
	for _, run := range runs {
		fmt.Fprintf(w, "%-36s  %-5s  %-9s  %-19s  %5d  %5d  %s\n",
			run.ID, run.Mode, run.Status, run.StartedAt.Local().Format(time.DateTime),
			run.Succeeded, run.Failed, run.InputDir)
	}
}

func printRun(w io.Writer, run storage.RunRecord, files []storage.FileRecord) {
	fmt.Fprintf(w, "Run %s (%s, %s)\n", run.ID, run.Mode, run.Status)
	fmt.Fprintf(w, "  Input:  %s\n", run.InputDir)
	fmt.Fprintf(w, "  Output: %s\n", run.OutputDir)
	fmt.Fprintf(w, "  Target: %dx%d\n", run.Width, run.Height)
	fmt.Fprintf(w, "  Model:  %s\n", run.ModelPath)
	fmt.Fprintf(w, "  Files:  %d total, %d succeeded, %d failed\n", run.Total, run.Succeeded, run.Failed)
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:  %s\n", run.Error)
	}
	for _, f := range files {
		mark := "✅"
		detail := f.OutputPath
		if f.Status != "completed" {
			mark = "❌"
			detail = fmt.Sprintf("%s: %s", f.Stage, f.Error)
		}
		fmt.Fprintf(w, "  %s %s -> %s (%dms)\n", mark, filepath.Base(f.InputPath), detail, f.DurationMS)
	}
}
