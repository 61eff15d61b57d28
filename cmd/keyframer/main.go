package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keagan/keyframer/internal/config"
	"github.com/keagan/keyframer/internal/errs"
	"github.com/keagan/keyframer/internal/logging"
	"github.com/keagan/keyframer/internal/metrics"
	"github.com/keagan/keyframer/internal/pipeline"
	"github.com/keagan/keyframer/internal/tracing"
	"github.com/keagan/keyframer/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit codes
func exitCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrInput):
		return 2
	case errors.Is(err, errs.ErrConfig):
		return 3
	case errors.Is(err, errs.ErrIO):
		return 4
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:           "keyframer",
	Short:         "keyframer - video key-frame extraction",
	Long:          "Extracts a small set of representative still frames from a video by clustering per-frame colour histograms.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./keyframer.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	addExtractFlags(extractCmd)

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func addExtractFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("output", "o", "", "output directory")
	f.Float64("threshold", 0, "cosine similarity below which a new cluster starts, in (0,1)")
	f.Int("min-cluster-size", 0, "minimum frames for a cluster to yield a key frame")
	f.Int("svd-rank", 0, "number of singular directions kept")
	f.Int("workers", 0, "feature extraction workers (0 = all CPUs)")
	f.String("format", "", "image format: png, jpeg, bmp or tiff")
	f.Int("max-width", 0, "downscale decoded frames wider than this")
	f.Int("output-max-width", 0, "downscale written key frames wider than this")
	f.Float64("sample-fps", 0, "resample the video to this frame rate before analysis")
	f.Bool("skip-existing", false, "skip when the output directory already holds key frames")
	f.Bool("redecode", false, "decode twice instead of keeping frames in memory")
	f.String("report", "", "write a YAML run report to this path")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.String("otlp-endpoint", "", "export traces to this OTLP/HTTP endpoint")
}

// applyFlags copies explicitly set flags over the loaded configuration
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func()) {
		if err == nil && f.Changed(name) {
			apply()
		}
	}

	set("output", func() { cfg.Output.Dir, err = f.GetString("output") })
	set("threshold", func() { cfg.Extract.Threshold, err = f.GetFloat64("threshold") })
	set("min-cluster-size", func() { cfg.Extract.MinClusterSize, err = f.GetInt("min-cluster-size") })
	set("svd-rank", func() { cfg.Extract.SVDRank, err = f.GetInt("svd-rank") })
	set("workers", func() { cfg.Workers, err = f.GetInt("workers") })
	set("format", func() { cfg.Output.Format, err = f.GetString("format") })
	set("max-width", func() { cfg.Decode.MaxWidth, err = f.GetInt("max-width") })
	set("output-max-width", func() { cfg.Output.MaxWidth, err = f.GetInt("output-max-width") })
	set("sample-fps", func() { cfg.Decode.SampleFPS, err = f.GetFloat64("sample-fps") })
	set("skip-existing", func() { cfg.Output.SkipExisting, err = f.GetBool("skip-existing") })
	set("redecode", func() {
		var redecode bool
		redecode, err = f.GetBool("redecode")
		if redecode {
			cfg.Retention = config.RetainRedecode
		} else {
			cfg.Retention = config.RetainMemory
		}
	})
	set("report", func() { cfg.Output.Report, err = f.GetString("report") })
	set("metrics-addr", func() { cfg.Telemetry.MetricsAddr, err = f.GetString("metrics-addr") })
	set("otlp-endpoint", func() { cfg.Telemetry.OTLPEndpoint, err = f.GetString("otlp-endpoint") })

	return err
}

var extractCmd = &cobra.Command{
	Use:   "extract [input video]",
	Short: "Extract key frames from a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			log.Error().Err(err).Msg("invalid configuration")
			return err
		}

		if addr := cfg.Telemetry.MetricsAddr; addr != "" {
			metrics.StartServer(ctx, addr, log.Logger)
		}
		if endpoint := cfg.Telemetry.OTLPEndpoint; endpoint != "" {
			tp, err := tracing.InitTracer(ctx, endpoint, cfg.Telemetry.ServiceName)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("tracer shutdown failed")
				}
			}()
		}

		pipe, err := pipeline.New(log.Logger, cfg)
		if err != nil {
			return err
		}

		start := time.Now()
		report, err := pipe.ExtractFile(ctx, args[0], cfg.Output.Dir)
		if err != nil {
			log.Error().Err(err).Str("input", args[0]).Msg("extraction failed")
			return err
		}

		log.Info().
			Str("run_id", report.RunID).
			Int("frames", report.Frames).
			Int("clusters", len(report.ClusterSizes)).
			Int("keyframes", len(report.Outputs)).
			Bool("skipped", report.Skipped).
			Str("output", report.OutputDir).
			Str("elapsed", util.FormatDuration(time.Since(start))).
			Msg("extraction complete")

		for _, path := range report.Outputs {
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Print video metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		pipe, err := pipeline.New(log.Logger, cfg)
		if err != nil {
			return err
		}

		info, err := pipe.Probe(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(info)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "keyframer.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return errs.IO(err, "write %s", path)
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}
