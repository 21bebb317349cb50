package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sharpscale/internal/grpcserver"
	"sharpscale/internal/server"
)

const positionalUse = "<input_folder> <output_folder> <target_width> <target_height> <model_path>"

// NewRootCmd creates the root Cobra command. Without a subcommand it
// enhances every image in the input folder once.
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sharpscale " + positionalUse,
		Short: "Batch image enhancer with FSRCNN super-resolution",
		Long: `Sharpscale denoises every image in a folder, upscales it 4x with an FSRCNN
model, resizes it to the exact target size, equalizes local contrast and
sharpens it. Results are written as <name>_upscaled<ext>.`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			s, err := root.open(args, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()
			return root.runBatch(cmd.Context(), s, cmd.OutOrStdout())
		},
	}

	// Flags end at the first positional so negative dimensions reach the parser.
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newWatchCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch " + positionalUse,
		Short: "Enhance existing images, then keep watching for new ones",
		Long: `Process every image already in the input folder, then enhance each new
image once it has stopped changing. Files named *_upscaled.* are ignored, so
the output folder may equal the input folder. Runs until interrupted.`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			s, err := root.open(args, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()
			return root.watchLoop(cmd.Context(), s, cmd.OutOrStdout())
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve [flags] " + positionalUse,
		Short: "Watch mode plus HTTP and gRPC run history endpoints",
		Long: `Run watch mode and expose run history:

  GET /healthz, /api/runs, /api/runs/{id}, /api/runs/{id}/files
  GET /ws         live per-file results
  gRPC sharpscale.v1.History (ListRuns, GetRun)

Flags must come before the positional arguments.`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if httpAddr == "" {
				httpAddr = root.cfg.Server.HTTPAddr
			}
			if grpcAddr == "" {
				grpcAddr = root.cfg.Server.GRPCAddr
			}

			s, err := root.open(args, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			root.log.Info("starting server", "http_addr", httpAddr, "grpc_addr", grpcAddr)

			g, ctx := errgroup.WithContext(cmd.Context())
			httpSrv := server.New(httpAddr, root.store, s.pipe, root.log)
			grpcSrv := grpcserver.New(grpcAddr, root.store, root.log)

			g.Go(func() error { return httpSrv.Start(ctx) })
			g.Go(func() error { return grpcSrv.Start(ctx) })
			g.Go(func() error { return root.watchLoop(ctx, s, cmd.OutOrStdout()) })
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (default from config)")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var (
		limit  int
		remote string
	)

	cmd := &cobra.Command{
		Use:   "history [run_id]",
		Short: "Show recent runs, or the files of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			src, closeFn, err := root.historySource(remote)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if len(args) == 1 {
				run, files, err := src.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				printRun(cmd.OutOrStdout(), run, files)
				return nil
			}
			runs, err := src.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&remote, "remote", "", "Query a running 'serve' instance at this gRPC address")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.cmdVersion(cmd.OutOrStdout())
		},
	}
}

func (r *Root) historySource(remote string) (historySource, func(), error) {
	if remote != "" {
		return r.dial(remote)
	}
	if r.store == nil {
		return nil, nil, fmt.Errorf("run history is disabled (storage.enabled is false)")
	}
	return localHistory{store: r.store}, func() {}, nil
}

func dialRemote(addr string) (historySource, func(), error) {
	conn, err := grpcserver.Dial(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return grpcserver.NewHistoryClient(conn), func() { conn.Close() }, nil
}
