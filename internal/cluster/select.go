package cluster

import "github.com/keagan/keyframer/internal/errs"

// KeyFrame is the representative frame of one eligible cluster.
type KeyFrame struct {
	// Rank is the position in the selection, used for the output file name.
	Rank         int `yaml:"rank"`
	FrameIndex   int `yaml:"frame"`
	ClusterIndex int `yaml:"cluster"`
	ClusterSize  int `yaml:"cluster_size"`
}

// ValidateMinSize checks the minimum cluster size.
func ValidateMinSize(m int) error {
	if m < 1 {
		return errs.Config("min cluster size must be at least 1, got %d", m)
	}
	return nil
}

// Select keeps clusters with at least minSize members and returns the last
// member of each, in formation order.
func Select(clusters []Cluster, minSize int) []KeyFrame {
	var out []KeyFrame
	for ci, c := range clusters {
		if c.Len() < minSize {
			continue
		}
		out = append(out, KeyFrame{
			Rank:         len(out),
			FrameIndex:   c.Last(),
			ClusterIndex: ci,
			ClusterSize:  c.Len(),
		})
	}
	return out
}
