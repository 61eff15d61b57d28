// Package cluster groups temporally adjacent frames by cosine similarity and
// picks one key frame per sufficiently large group.
package cluster

import (
	"github.com/keagan/keyframer/internal/errs"
)

const (
	DefaultThreshold      = 0.9
	DefaultMinClusterSize = 25
)

// Cluster is a contiguous run of frame indices with the mean of their
// projections.
type Cluster struct {
	Members  []int
	Centroid []float64
}

// Len returns the number of member frames.
func (c Cluster) Len() int { return len(c.Members) }

// Last returns the highest member index.
func (c Cluster) Last() int { return c.Members[len(c.Members)-1] }

// Result is the outcome of a full scan.
type Result struct {
	Clusters []Cluster
	// Degenerate counts frames whose similarity was undefined and treated as 0.
	Degenerate int
}

// Scanner assigns frames to clusters in a single left-to-right pass. Each
// frame is compared only against the centroid of the most recent cluster.
type Scanner struct {
	points     [][]float64
	threshold  float64
	next       int
	clusters   []Cluster
	degenerate int
}

// ValidateThreshold checks that t lies in the open interval (0, 1).
func ValidateThreshold(t float64) error {
	if !(t > 0 && t < 1) {
		return errs.Config("threshold must be in (0,1), got %g", t)
	}
	return nil
}

// NewScanner seeds the first cluster with frames 0 and 1.
func NewScanner(points [][]float64, threshold float64) (*Scanner, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if len(points) < 2 {
		return nil, errs.Input("clustering needs at least 2 frames, got %d", len(points))
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, errs.Input("projection %d has length %d, want %d", i, len(p), dim)
		}
	}

	seed := Cluster{Members: []int{0, 1}, Centroid: make([]float64, dim)}
	mean(seed.Centroid, points, seed.Members)

	return &Scanner{
		points:    points,
		threshold: threshold,
		next:      2,
		clusters:  []Cluster{seed},
	}, nil
}

// Next assigns the next unprocessed frame. It returns false once every frame
// has been assigned.
func (s *Scanner) Next() bool {
	if s.next >= len(s.points) {
		return false
	}
	i := s.next
	s.next++

	p := s.points[i]
	last := &s.clusters[len(s.clusters)-1]

	sim, ok := Similarity(p, last.Centroid)
	if !ok {
		s.degenerate++
	}

	if sim < s.threshold {
		s.clusters = append(s.clusters, Cluster{
			Members:  []int{i},
			Centroid: append([]float64(nil), p...),
		})
		return true
	}

	last.Members = append(last.Members, i)
	mean(last.Centroid, s.points, last.Members)
	return true
}

// Processed returns how many frames have been assigned so far.
func (s *Scanner) Processed() int { return s.next }

// Count returns the number of clusters formed so far.
func (s *Scanner) Count() int { return len(s.clusters) }

// Degenerate returns how many similarities were undefined so far.
func (s *Scanner) Degenerate() int { return s.degenerate }

// Clusters returns the clusters formed so far, in formation order.
func (s *Scanner) Clusters() []Cluster { return s.clusters }

// Scan runs a scanner over all points.
func Scan(points [][]float64, threshold float64) (*Result, error) {
	s, err := NewScanner(points, threshold)
	if err != nil {
		return nil, err
	}
	for s.Next() {
	}
	return &Result{Clusters: s.Clusters(), Degenerate: s.Degenerate()}, nil
}
