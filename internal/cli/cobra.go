package cli

import (
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/pipeline"
	"github.com/ajbt200128/mosaic/internal/storage"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mosaic",
		Short: "Mosaic merges two overlapping photographs into one image",
		Long: `Mosaic fits a projective transform from four landmark pairs, warps the
second photograph onto the first and blends the seam.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(root.out)

	rootCmd.AddCommand(newMergeCmd(root))
	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newEstimateCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newMergeCmd(root *Root) *cobra.Command {
	var a mergeArgs

	cmd := &cobra.Command{
		Use:   "merge <reference> <moving>",
		Short: "Merge two photographs from four landmark pairs",
		Long: `Warp the moving photograph onto the reference using four landmark pairs
and write the blended composite.

Examples:
  mosaic merge left.jpg right.jpg \
    --ref-points "412,80;430,610;900,620;880,95" \
    --moving-points "20,72;41,598;505,633;490,101" \
    --output pano.png --overlay pano-debug.png`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.Reference, a.Moving = args[0], args[1]
			return root.merge(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&a.RefPoints, "ref-points", "", "four x,y landmarks on the reference, ';' separated")
	cmd.Flags().StringVar(&a.MovingPoints, "moving-points", "", "four x,y landmarks on the moving photo, same order")
	cmd.Flags().StringVarP(&a.Output, "output", "o", "", "composite path (default: <default_output>/<reference>-mosaic.png)")
	cmd.Flags().StringVar(&a.Overlay, "overlay", "", "also write a debug overlay to this path")
	cmd.Flags().StringVar(&a.Origin, "origin", "", "point origin (top-left|bottom-left), default from config")
	cmd.Flags().StringVar(&a.Sampling, "sampling", "", "warp sampling (nearest|bilinear), default from config")
	cmd.Flags().StringVar(&a.SaveManifest, "save-manifest", "", "keep the generated manifest at this path")
	cmd.MarkFlagRequired("ref-points")
	cmd.MarkFlagRequired("moving-points")

	return cmd
}

func newRunCmd(root *Root) *cobra.Command {
	var (
		output string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "run <manifest|dir>...",
		Short: "Run merge manifests",
		Long: `Run one or more merge manifests. Directories are searched recursively for
*.mosaic.yaml, *.mosaic.yml and *.mosaic.json files.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.run(cmd.Context(), args, output, !noWait)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "override the composite path (single manifest only)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "queue jobs and return without waiting")

	return cmd
}

func newEstimateCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <manifest>",
		Short: "Print the transform a manifest's landmarks define",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.estimate(cmd.Context(), args[0])
		},
	}
}

func newServeCmd(root *Root) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Long: `Start the HTTP API for interactive merge sessions and job monitoring, and
the gRPC Mosaic service. Manifests dropped into watched directories are merged.

Examples:
  mosaic serve --addr :8080 --grpc-addr :9090
  mosaic serve --watch /data/mosaics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server",
				"addr", opts.HTTPAddr,
				"grpc_addr", opts.GRPCAddr,
				"watch_paths", opts.WatchPaths,
			)
			return root.serveFn(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "addr", root.cfg.Server.HTTPAddr, "HTTP address (host:port)")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC address (host:port), empty to disable")
	cmd.Flags().StringSliceVar(&opts.WatchPaths, "watch", root.cfg.Server.WatchPaths, "directories to monitor for manifests")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Merge manifests as they appear in directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.watch(cmd.Context(), args)
		},
	}
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.jobs(limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for invalid values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configValidate()
		},
	})

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.printf("mosaic v%s (%s)\n", Version, runtime.Version())
		},
	}
}

