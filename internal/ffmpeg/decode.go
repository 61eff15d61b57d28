package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/keagan/keyframer/internal/errs"
	"github.com/keagan/keyframer/internal/frames"
	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// OutputSize returns the frame size DecodeFrames produces for a video.
func OutputSize(info *VideoInfo, opts DecodeOptions) (width, height int) {
	width, height = info.Width, info.Height
	if opts.MaxWidth > 0 && width > opts.MaxWidth {
		height = height * opts.MaxWidth / width
		width = opts.MaxWidth
		if height < 1 {
			height = 1
		}
	}
	return width, height
}

// decodeArgs builds the ffmpeg arguments that write packed rgb24 frames of
// the given size to stdout.
func decodeArgs(input string, width, height int, opts DecodeOptions) []string {
	filter := NewFilterBuilder().
		FPS(opts.SampleFPS).
		Scale(width, height).
		Build()

	kwargs := ffmpeggo.KwArgs{
		"map":     "0:v:0",
		"f":       "rawvideo",
		"pix_fmt": "rgb24",
	}
	if filter != "" {
		kwargs["vf"] = filter
	}
	return ffmpeggo.Input(input).Output("pipe:", kwargs).GetArgs()
}

// DecodeFrames decodes the first video stream of input and calls fn with each
// frame in presentation order. It returns the number of frames delivered. A
// trailing partial frame is dropped.
func (e *Executor) DecodeFrames(ctx context.Context, input string, info *VideoInfo, opts DecodeOptions, fn func(frames.Frame) error) (int, error) {
	width, height := OutputSize(info, opts)
	frameSize := width * height * frames.Channels

	e.logger.Info().
		Str("input", input).
		Int("width", width).
		Int("height", height).
		Float64("sample_fps", opts.SampleFPS).
		Msg("decoding frames")

	count := 0
	handler := func(stdout io.Reader) error {
		r := bufio.NewReaderSize(stdout, frameSize)
		for {
			buf := make([]byte, frameSize)
			n, err := io.ReadFull(r, buf)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				e.logger.Warn().
					Int("frame", count).
					Int("bytes", n).
					Int("want", frameSize).
					Msg("dropping truncated final frame")
				return nil
			}
			if err != nil {
				return err
			}
			if err := fn(frames.Frame{Index: count, Width: width, Height: height, Pix: buf}); err != nil {
				return err
			}
			count++
		}
	}

	err := e.Run(ctx, RunOptions{
		Args:          decodeArgs(input, width, height, opts),
		StdoutHandler: handler,
		LogHandler: func(line string) {
			e.logger.Debug().Str("stderr", line).Msg("decode output")
		},
		ProgressHandler: func(p *Progress) {
			e.logger.Debug().Int("frame", p.Frame).Str("speed", p.Speed).Msg("decode progress")
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		if IsExitError(err) {
			return count, errs.Wrap(errs.ErrInput, err, "decode %s", input)
		}
		return count, err
	}

	e.logger.Info().Int("frames", count).Msg("decoding complete")
	return count, nil
}

// VideoSource is a frames.Source backed by a video file. Every call to
// Frames decodes the file again.
type VideoSource struct {
	exec *Executor
	info *VideoInfo
	opts DecodeOptions
}

// Open probes path and returns a source for its frames.
func (e *Executor) Open(ctx context.Context, path string, opts DecodeOptions) (*VideoSource, error) {
	info, err := e.ProbeVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	return &VideoSource{exec: e, info: info, opts: opts}, nil
}

// Frames implements frames.Source.
func (s *VideoSource) Frames(ctx context.Context, fn func(frames.Frame) error) error {
	_, err := s.exec.DecodeFrames(ctx, s.info.FilePath, s.info, s.opts, fn)
	return err
}

// Info returns the probed metadata.
func (s *VideoSource) Info() *VideoInfo { return s.info }

// Timestamp returns the presentation time of decoded frame i.
func (s *VideoSource) Timestamp(i int) time.Duration {
	fps := s.info.FPS
	if s.opts.SampleFPS > 0 {
		fps = s.opts.SampleFPS
	}
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(i) / fps * float64(time.Second))
}
