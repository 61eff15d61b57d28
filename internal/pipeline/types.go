package pipeline

import (
	"os"
	"time"

	"github.com/keagan/keyframer/internal/cluster"
	"github.com/keagan/keyframer/internal/errs"
	"github.com/keagan/keyframer/internal/ffmpeg"
	"gopkg.in/yaml.v3"
)

// Stage names, used for spans, metrics and errors
const (
	StageProbe    = "probe"
	StageFeatures = "features"
	StageReduce   = "reduce"
	StageCluster  = "cluster"
	StageSelect   = "select"
	StageWrite    = "write"
)

// Report describes one extraction run
type Report struct {
	RunID     string    `yaml:"run_id"`
	Source    string    `yaml:"source"`
	OutputDir string    `yaml:"output_dir"`
	StartedAt time.Time `yaml:"started_at"`
	Skipped   bool      `yaml:"skipped,omitempty"`

	Video *ffmpeg.VideoInfo `yaml:"video,omitempty"`

	Threshold      float64 `yaml:"threshold"`
	MinClusterSize int     `yaml:"min_cluster_size"`
	SVDRank        int     `yaml:"svd_rank"`

	Frames       int             `yaml:"frames"`
	ClusterSizes []int           `yaml:"cluster_sizes,flow"`
	Degenerate   int             `yaml:"degenerate_similarities"`
	KeyFrames    []KeyFrameEntry `yaml:"keyframes"`
	Outputs      []string        `yaml:"outputs"`
	Stages       []StageTiming   `yaml:"stages"`
}

// KeyFrameEntry is a selected key frame with its output file
type KeyFrameEntry struct {
	cluster.KeyFrame `yaml:",inline"`
	Timestamp        time.Duration `yaml:"timestamp,omitempty"`
	Path             string        `yaml:"path"`
}

// StageTiming records the wall time of one stage
type StageTiming struct {
	Stage    string        `yaml:"stage"`
	Duration time.Duration `yaml:"duration"`
}

// Save writes the report as YAML
func (r *Report) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errs.IO(err, "write report %s", path)
	}
	return nil
}

// LoadReport reads a report written by Save
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
