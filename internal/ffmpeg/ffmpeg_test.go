package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keagan/keyframer/internal/errs"
	"github.com/keagan/keyframer/internal/frames"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

// makeClip renders a lossless clip from a lavfi source graph.
func makeClip(t *testing.T, name string, args ...string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), name)
	full := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)
	full = append(full, "-c:v", "ffv1", out)
	cmd := exec.Command("ffmpeg", full...)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not generate test clip: %v: %s", err, b)
	}
	return out
}

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	e, err := New(logger, 2)
	require.NoError(t, err)
	return e
}

func TestFilterBuilder(t *testing.T) {
	filter := NewFilterBuilder().FPS(2.5).Scale(320, 180).Build()
	assert.Equal(t, "fps=2.5,scale=320:180", filter)

	assert.Equal(t, "", NewFilterBuilder().Build())
	assert.Equal(t, "scale=10:10", NewFilterBuilder().FPS(0).Scale(10, 10).Scale(0, 5).Build())
}

func TestOutputSize(t *testing.T) {
	info := &VideoInfo{Width: 1920, Height: 1080}

	w, h := OutputSize(info, DecodeOptions{})
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = OutputSize(info, DecodeOptions{MaxWidth: 640})
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	w, h = OutputSize(info, DecodeOptions{MaxWidth: 4000})
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = OutputSize(&VideoInfo{Width: 4000, Height: 1}, DecodeOptions{MaxWidth: 10})
	assert.Equal(t, 10, w)
	assert.Equal(t, 1, h)
}

func TestDecodeArgs(t *testing.T) {
	args := decodeArgs("in.mp4", 64, 48, DecodeOptions{SampleFPS: 5})
	joined := strings.Join(args, " ")

	assert.Equal(t, "-i", args[0])
	assert.Equal(t, "in.mp4", args[1])
	assert.Equal(t, "pipe:", args[len(args)-1])
	assert.Contains(t, joined, "-pix_fmt rgb24")
	assert.Contains(t, joined, "-f rawvideo")
	assert.Contains(t, joined, "-map 0:v:0")
	assert.Contains(t, joined, "-vf fps=5,scale=64:48")
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 320, "height": 240,
			 "r_frame_rate": "30000/1001", "nb_frames": "150", "duration": "5.005"}
		],
		"format": {"duration": "5.5", "bit_rate": "128000"}
	}`)

	info, err := parseProbe(out)
	require.NoError(t, err)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 150, info.FrameCount)
	assert.Equal(t, 150, info.EstimatedFrames())
	assert.Equal(t, int64(128000), info.Bitrate)
	assert.Equal(t, 5500*time.Millisecond, info.Duration)
}

func TestParseProbeEstimatesFrames(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"codec_type":"video","width":8,"height":8,"r_frame_rate":"10/1","duration":"2.0"}],"format":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, info.FrameCount)
	assert.Equal(t, 2*time.Second, info.Duration)
	assert.Equal(t, 20, info.EstimatedFrames())
}

func TestParseProbeNoVideo(t *testing.T) {
	_, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio"}],"format":{}}`))
	assert.ErrorIs(t, err, errs.ErrInput)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestStreamOutputProgress(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	input := strings.Join([]string{
		"frame=10", "fps=25.0", "out_time=00:00:00.400000", "speed=1.5x", "progress=continue",
		"frame=20", "progress=end",
	}, "\n")

	var got []Progress
	var lines int
	e.streamOutput(strings.NewReader(input), func(p *Progress) { got = append(got, *p) }, func(string) { lines++ })

	require.Len(t, got, 2)
	assert.Equal(t, 10, got[0].Frame)
	assert.Equal(t, 25.0, got[0].FPS)
	assert.Equal(t, "00:00:00.400000", got[0].Time)
	assert.Equal(t, "1.5x", got[0].Speed)
	assert.False(t, got[0].Done)
	assert.Equal(t, 20, got[1].Frame)
	assert.True(t, got[1].Done)
	assert.Equal(t, 7, lines)
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{
		Err:    errors.New("exit status 1"),
		Stderr: []string{"in.mp4: No such file or directory", "progress=end", ""},
	}
	assert.Equal(t, "ffmpeg execution failed: exit status 1: in.mp4: No such file or directory", err.Error())
	assert.True(t, IsExitError(err))
	assert.False(t, IsExitError(errors.New("other")))
}

func TestTailKeepsLastLines(t *testing.T) {
	tl := newTail(2)
	tl.add("a")
	tl.add("b")
	tl.add("c")
	assert.Equal(t, []string{"b", "c"}, tl.lines())
}

func TestExecutorCreation(t *testing.T) {
	skipIfNoFFmpeg(t)

	e := newExecutor(t)
	assert.NotEmpty(t, e.ffmpegPath)
	assert.NotEmpty(t, e.ffprobePath)
}

func TestRunRequiresArgs(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	assert.Error(t, e.Run(context.Background(), RunOptions{}))
}

func TestProbeAndDecodeSolidClip(t *testing.T) {
	skipIfNoFFmpeg(t)

	clip := makeClip(t, "red.mkv", "-f", "lavfi", "-i", "color=c=red:s=64x48:r=10:d=2")
	e := newExecutor(t)
	ctx := context.Background()

	src, err := e.Open(ctx, clip, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 64, src.Info().Width)
	assert.Equal(t, 48, src.Info().Height)
	assert.InDelta(t, 10.0, src.Info().FPS, 0.01)
	assert.Equal(t, 500*time.Millisecond, src.Timestamp(5))

	var got []frames.Frame
	err = src.Frames(ctx, func(f frames.Frame) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 20)

	for i, f := range got {
		assert.Equal(t, i, f.Index)
		require.NoError(t, f.Validate())
	}
	r, g, b := got[7].RGB(32, 24)
	assert.Greater(t, int(r), 240)
	assert.Less(t, int(g), 16)
	assert.Less(t, int(b), 16)
}

func TestDecodeScalesAndSamples(t *testing.T) {
	skipIfNoFFmpeg(t)

	clip := makeClip(t, "src.mkv", "-f", "lavfi", "-i", "testsrc=s=160x120:r=10:d=2")
	e := newExecutor(t)
	ctx := context.Background()

	info, err := e.ProbeVideo(ctx, clip)
	require.NoError(t, err)

	var first frames.Frame
	n, err := e.DecodeFrames(ctx, clip, info, DecodeOptions{SampleFPS: 2, MaxWidth: 80}, func(f frames.Frame) error {
		if f.Index == 0 {
			first = f
		}
		return nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 4, n, 1)
	assert.Equal(t, 80, first.Width)
	assert.Equal(t, 60, first.Height)
}

func TestDecodeStopsOnHandlerError(t *testing.T) {
	skipIfNoFFmpeg(t)

	clip := makeClip(t, "long.mkv", "-f", "lavfi", "-i", "testsrc=s=64x48:r=25:d=20")
	e := newExecutor(t)
	ctx := context.Background()

	info, err := e.ProbeVideo(ctx, clip)
	require.NoError(t, err)

	stop := errors.New("stop")
	n, err := e.DecodeFrames(ctx, clip, info, DecodeOptions{}, func(f frames.Frame) error {
		if f.Index == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, n)
}

func TestProbeVideoInvalidFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	e := newExecutor(t)
	ctx := context.Background()

	_, err := e.ProbeVideo(ctx, filepath.Join(t.TempDir(), "nonexistent.mp4"))
	assert.ErrorIs(t, err, errs.ErrInput)

	invalidPath := filepath.Join(t.TempDir(), "invalid.txt")
	require.NoError(t, os.WriteFile(invalidPath, []byte("not a video"), 0644))
	_, err = e.ProbeVideo(ctx, invalidPath)
	assert.ErrorIs(t, err, errs.ErrInput)

	_, err = e.ProbeVideo(ctx, "")
	assert.ErrorIs(t, err, errs.ErrInput)
}

func TestDecodeInvalidFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	e := newExecutor(t)
	invalidPath := filepath.Join(t.TempDir(), "invalid.mkv")
	require.NoError(t, os.WriteFile(invalidPath, []byte("not a video"), 0644))

	_, err := e.DecodeFrames(context.Background(), invalidPath, &VideoInfo{Width: 8, Height: 8}, DecodeOptions{}, func(frames.Frame) error { return nil })
	assert.ErrorIs(t, err, errs.ErrInput)
}

func TestDecodeLogsStderrAtDebug(t *testing.T) {
	skipIfNoFFmpeg(t)

	var buf bytes.Buffer
	e, err := New(zerolog.New(&buf).Level(zerolog.DebugLevel), 2)
	require.NoError(t, err)

	invalidPath := filepath.Join(t.TempDir(), "invalid.mkv")
	require.NoError(t, os.WriteFile(invalidPath, []byte("not a video"), 0644))

	_, err = e.DecodeFrames(context.Background(), invalidPath, &VideoInfo{Width: 8, Height: 8}, DecodeOptions{}, func(frames.Frame) error { return nil })
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"message":"decode output"`)
	assert.Contains(t, buf.String(), `"stderr":`)
}
