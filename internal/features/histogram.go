// Package features computes the spatial colour-histogram descriptor of a
// frame and assembles descriptors into the feature matrix.
package features

import (
	"github.com/keagan/keyframer/internal/frames"
)

const (
	// Grid is the number of blocks along each frame axis.
	Grid = 3
	// Bins is the number of histogram bins per colour channel.
	Bins = 6
	// BlockLen is the length of one block's joint histogram.
	BlockLen = Bins * Bins * Bins
	// Len is the length of a feature vector.
	Len = Grid * Grid * BlockLen
)

// ChunkSizes returns the block height and width for a frame. The last row
// and column of blocks are smaller when a dimension is not a multiple of 3.
func ChunkSizes(height, width int) (int, int) {
	return (height + 2) / Grid, (width + 2) / Grid
}

// bin maps a channel value in [0, 255] onto one of Bins equal-width bins.
func bin(v uint8) int {
	return int(v) * Bins >> 8
}

// Extract computes the 1944-length descriptor of f: a 6x6x6 RGB histogram
// for each block of a 3x3 grid, concatenated in row-major block order.
func Extract(f frames.Frame) []float64 {
	vec := make([]float64, Len)
	hc, wc := ChunkSizes(f.Height, f.Width)

	for a := 0; a < Grid; a++ {
		y0, y1 := clamp(a*hc, f.Height), clamp((a+1)*hc, f.Height)
		for b := 0; b < Grid; b++ {
			x0, x1 := clamp(b*wc, f.Width), clamp((b+1)*wc, f.Width)
			hist := vec[(a*Grid+b)*BlockLen : (a*Grid+b+1)*BlockLen]

			for y := y0; y < y1; y++ {
				row := f.Pix[y*f.Width*frames.Channels:]
				for x := x0; x < x1; x++ {
					p := row[x*frames.Channels:]
					hist[bin(p[0])*Bins*Bins+bin(p[1])*Bins+bin(p[2])]++
				}
			}
		}
	}

	return vec
}

func clamp(v, limit int) int {
	if v > limit {
		return limit
	}
	return v
}
