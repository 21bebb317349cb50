package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sharpscale/internal/cli"
	"sharpscale/internal/codec"
	"sharpscale/internal/config"
	"sharpscale/internal/logging"
	"sharpscale/internal/storage"
	"sharpscale/internal/superres"
	"sharpscale/internal/vision"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		logger.Warn("file logging disabled", "error", err)
	}

	var store *storage.Store
	if cfg.Storage.Enabled {
		var dbPath string
		dbPath, err = cfg.DatabaseFile()
		if err == nil {
			store, err = storage.New(cfg.Storage.Driver, dbPath)
		}
		if err != nil {
			logger.Warn("run history disabled", "path", cfg.Paths.DatabasePath, "error", err)
			store = nil
		}
	}
	defer store.Close()

	magick := codec.NewMagick()
	defer magick.Close()

	backend := cli.Backend{
		LoadModel: func(path string) (superres.Model, error) {
			m, err := vision.LoadFSRCNN(path)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		NewStages: vision.NewStages,
		Codec:     magick,
		Versions: func() map[string]string {
			return map[string]string{
				"OpenCV":      vision.BackendVersion(),
				"ImageMagick": magick.Version(),
			}
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCmd(cli.NewRoot(cfg, logger, store, backend))
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
