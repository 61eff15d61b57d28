package ffmpeg

import (
	"io"
	"time"
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string        `yaml:"file"`
	Duration   time.Duration `yaml:"duration"`
	Width      int           `yaml:"width"`
	Height     int           `yaml:"height"`
	FPS        float64       `yaml:"fps"`
	Bitrate    int64         `yaml:"bitrate"`
	VideoCodec string        `yaml:"video_codec"`
	// FrameCount is the container's frame count, 0 when it does not record one.
	FrameCount int `yaml:"frame_count"`
}

// EstimatedFrames returns FrameCount, or duration * fps when the container
// has no count.
func (v *VideoInfo) EstimatedFrames() int {
	if v.FrameCount > 0 {
		return v.FrameCount
	}
	return int(v.Duration.Seconds()*v.FPS + 0.5)
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame int
	FPS   float64
	Time  string
	Speed string
	Done  bool
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
	// StdoutHandler consumes the raw stdout stream.
	StdoutHandler func(r io.Reader) error
}

// DecodeOptions configures raw frame decoding.
type DecodeOptions struct {
	// SampleFPS resamples the stream before decoding; 0 keeps every frame.
	SampleFPS float64
	// MaxWidth downscales wider videos, preserving aspect ratio; 0 disables.
	MaxWidth int
}
