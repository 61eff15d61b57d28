package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/keyframer/internal/cluster"
	"github.com/keagan/keyframer/internal/config"
	"github.com/keagan/keyframer/internal/errs"
	"github.com/keagan/keyframer/internal/features"
	"github.com/keagan/keyframer/internal/ffmpeg"
	"github.com/keagan/keyframer/internal/frames"
	"github.com/keagan/keyframer/internal/logging"
	"github.com/keagan/keyframer/internal/metrics"
	"github.com/keagan/keyframer/internal/output"
	"github.com/keagan/keyframer/internal/reduce"
	"github.com/keagan/keyframer/pkg/util"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// errCollected stops the second decode pass once every key frame is found.
var errCollected = errors.New("all key frames collected")

// Pipeline orchestrates decode, features, reduction, clustering, selection
// and writing for one video at a time
type Pipeline struct {
	logger zerolog.Logger
	config *config.Config
	format output.Format
	tracer trace.Tracer

	ffmpegOnce sync.Once
	ffmpeg     *ffmpeg.Executor
	ffmpegErr  error
}

// New validates cfg and creates a pipeline
func New(logger zerolog.Logger, cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		config: cfg,
		format: format,
		tracer: otel.Tracer("github.com/keagan/keyframer/internal/pipeline"),
	}, nil
}

// executor creates the ffmpeg executor on first use so in-memory sources
// work without ffmpeg installed
func (p *Pipeline) executor() (*ffmpeg.Executor, error) {
	p.ffmpegOnce.Do(func() {
		p.ffmpeg, p.ffmpegErr = ffmpeg.New(p.logger, p.config.Decode.Threads)
	})
	return p.ffmpeg, p.ffmpegErr
}

// Probe returns metadata for a video file
func (p *Pipeline) Probe(ctx context.Context, path string) (*ffmpeg.VideoInfo, error) {
	exec, err := p.executor()
	if err != nil {
		return nil, err
	}
	return exec.ProbeVideo(ctx, path)
}

// ExtractFile extracts key frames from a video file into outDir
func (p *Pipeline) ExtractFile(ctx context.Context, path, outDir string) (*Report, error) {
	exec, err := p.executor()
	if err != nil {
		return nil, err
	}

	src, err := exec.Open(ctx, path, ffmpeg.DecodeOptions{
		SampleFPS: p.config.Decode.SampleFPS,
		MaxWidth:  p.config.Decode.MaxWidth,
	})
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, p.stageError(StageProbe, 0, err)
	}

	info := src.Info()
	p.logger.Info().
		Str("input", path).
		Dur("duration", info.Duration).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Int("frames", info.EstimatedFrames()).
		Msg("video metadata extracted")

	return p.run(ctx, src, path, info, outDir)
}

// Run extracts key frames from any frame source into outDir
func (p *Pipeline) Run(ctx context.Context, src frames.Source, outDir string) (*Report, error) {
	return p.run(ctx, src, "", nil, outDir)
}

type run struct {
	p      *Pipeline
	logger zerolog.Logger
	report *Report
	frames int
}

func (p *Pipeline) run(ctx context.Context, src frames.Source, name string, info *ffmpeg.VideoInfo, outDir string) (*Report, error) {
	if outDir == "" {
		outDir = p.config.Output.Dir
	}
	ex := p.config.Extract

	report := &Report{
		RunID:          uuid.NewString(),
		Source:         name,
		OutputDir:      outDir,
		StartedAt:      time.Now(),
		Video:          info,
		Threshold:      ex.Threshold,
		MinClusterSize: ex.MinClusterSize,
		SVDRank:        ex.SVDRank,
	}
	r := &run{p: p, logger: logging.ForRun(p.logger, report.RunID, name), report: report}

	ctx, span := p.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.String("source", name),
		attribute.String("output_dir", outDir),
	))
	defer span.End()

	err := r.execute(ctx, src, outDir)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		r.logger.Error().Err(err).Msg("extraction failed")
		return report, err
	case report.Skipped:
		metrics.RunsTotal.WithLabelValues("skipped").Inc()
	default:
		metrics.RunsTotal.WithLabelValues("success").Inc()
	}

	if path := p.config.Output.Report; path != "" {
		if err := report.Save(path); err != nil {
			return report, err
		}
		r.logger.Debug().Str("path", path).Msg("report written")
	}

	return report, nil
}

func (r *run) execute(ctx context.Context, src frames.Source, outDir string) error {
	cfg := r.p.config

	if cfg.Output.SkipExisting {
		existing, err := output.Existing(outDir)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			r.logger.Info().
				Int("keyframes", len(existing)).
				Str("dir", outDir).
				Msg("key frames already exist, skipping")
			r.report.Skipped = true
			r.report.Outputs = existing
			return nil
		}
	}

	r.logger.Info().
		Float64("threshold", cfg.Extract.Threshold).
		Int("min_cluster_size", cfg.Extract.MinClusterSize).
		Int("svd_rank", cfg.Extract.SVDRank).
		Str("retention", cfg.Retention).
		Msg("starting key-frame extraction")

	// Pass one: decode and extract features
	var (
		matrix   features.Matrix
		retained []frames.Frame
	)
	keep := cfg.Retention == config.RetainMemory
	err := r.stage(ctx, StageFeatures, func(ctx context.Context) error {
		b := features.NewBuilder(ctx, cfg.Workers)
		err := src.Frames(ctx, func(f frames.Frame) error {
			if err := b.Add(f); err != nil {
				return err
			}
			r.frames++
			metrics.FramesDecodedTotal.Inc()
			if keep {
				retained = append(retained, f)
			}
			return nil
		})
		m, buildErr := b.Build()
		if err == nil {
			err = buildErr
		}
		if err != nil {
			return err
		}
		matrix = m
		r.report.Frames = m.Rows()

		switch n := m.Rows(); {
		case n == 0:
			return errs.Input("no decodable frames")
		case n < 2:
			return errs.Input("need at least 2 frames, got %d", n)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Pass two
	var projections *reduce.Result
	err = r.stage(ctx, StageReduce, func(ctx context.Context) error {
		var err error
		projections, err = reduce.Truncated(matrix, cfg.Extract.SVDRank)
		return err
	})
	if err != nil {
		return err
	}

	var clusters *cluster.Result
	err = r.stage(ctx, StageCluster, func(ctx context.Context) error {
		var err error
		clusters, err = cluster.Scan(projections.Projections, cfg.Extract.Threshold)
		if err != nil {
			return err
		}
		if clusters.Degenerate > 0 {
			metrics.DegenerateSimilarityTotal.Add(float64(clusters.Degenerate))
			r.logger.Warn().
				Int("frames", clusters.Degenerate).
				Msg("zero-norm projection, similarity treated as 0")
		}
		return nil
	})
	if err != nil {
		return err
	}

	sizes := make([]int, len(clusters.Clusters))
	for i, c := range clusters.Clusters {
		sizes[i] = c.Len()
	}
	r.report.ClusterSizes = sizes
	r.report.Degenerate = clusters.Degenerate

	var keys []cluster.KeyFrame
	err = r.stage(ctx, StageSelect, func(ctx context.Context) error {
		keys = cluster.Select(clusters.Clusters, cfg.Extract.MinClusterSize)
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info().
		Int("clusters", len(clusters.Clusters)).
		Int("keyframes", len(keys)).
		Msg("key frames selected")

	return r.stage(ctx, StageWrite, func(ctx context.Context) error {
		lookup := func(i int) (frames.Frame, bool) {
			if i < 0 || i >= len(retained) {
				return frames.Frame{}, false
			}
			return retained[i], true
		}
		if !keep {
			picked, err := r.collect(ctx, src, keys)
			if err != nil {
				return err
			}
			lookup = func(i int) (frames.Frame, bool) {
				f, ok := picked[i]
				return f, ok
			}
		}

		w := output.NewWriter(r.logger, outDir, output.Options{
			Format:   r.p.format,
			MaxWidth: cfg.Output.MaxWidth,
		})
		paths, err := w.Write(ctx, keys, lookup)
		metrics.KeyFramesWrittenTotal.Add(float64(len(paths)))
		r.report.Outputs = paths

		stamp, _ := src.(interface{ Timestamp(int) time.Duration })
		for i, k := range keys {
			entry := KeyFrameEntry{KeyFrame: k}
			if i < len(paths) {
				entry.Path = paths[i]
			}
			if stamp != nil {
				entry.Timestamp = stamp.Timestamp(k.FrameIndex)
			}
			r.report.KeyFrames = append(r.report.KeyFrames, entry)
		}
		return err
	})
}

// collect decodes src again and keeps only the frames named by keys.
func (r *run) collect(ctx context.Context, src frames.Source, keys []cluster.KeyFrame) (map[int]frames.Frame, error) {
	want := make(map[int]bool, len(keys))
	for _, k := range keys {
		want[k.FrameIndex] = true
	}
	picked := make(map[int]frames.Frame, len(keys))
	if len(want) == 0 {
		return picked, nil
	}

	r.logger.Debug().Int("frames", len(want)).Msg("decoding again for key frames")
	err := src.Frames(ctx, func(f frames.Frame) error {
		if want[f.Index] {
			picked[f.Index] = f
			if len(picked) == len(want) {
				return errCollected
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errCollected) {
		return nil, err
	}
	if len(picked) != len(want) {
		return nil, errs.Input("second decode pass found %d of %d key frames", len(picked), len(want))
	}
	return picked, nil
}

// stage runs fn inside a span, records its duration and wraps its error
func (r *run) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.p.tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	r.report.Stages = append(r.report.Stages, StageTiming{Stage: name, Duration: elapsed})
	span.SetAttributes(attribute.Int("frames", r.frames))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.p.stageError(name, r.frames, err)
	}

	r.logger.Info().
		Str("stage", name).
		Int("frames", r.frames).
		Str("elapsed", util.FormatDuration(elapsed)).
		Msg("stage complete")
	return nil
}

func (p *Pipeline) stageError(stage string, n int, err error) error {
	var se *errs.StageError
	if errors.As(err, &se) {
		return err
	}
	kind := errs.KindOf(err)
	if kind == nil && stage == StageFeatures && ctxErr(err) == nil {
		kind = errs.ErrInput
	}
	return &errs.StageError{
		Stage:  stage,
		Kind:   kind,
		Frames: n,
		Params: errs.Params{
			Threshold:      p.config.Extract.Threshold,
			MinClusterSize: p.config.Extract.MinClusterSize,
			SVDRank:        p.config.Extract.SVDRank,
		},
		Err: err,
	}
}

func ctxErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
