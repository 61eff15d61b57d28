package features

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/keagan/keyframer/internal/frames"
	"golang.org/x/sync/errgroup"
)

// Matrix holds one feature vector per frame, rows in frame order.
type Matrix struct {
	rows [][]float64
}

// NewMatrix wraps rows after checking that every row has length Len.
func NewMatrix(rows [][]float64) (Matrix, error) {
	for i, r := range rows {
		if len(r) != Len {
			return Matrix{}, fmt.Errorf("row %d has %d columns, want %d", i, len(r), Len)
		}
	}
	return Matrix{rows: rows}, nil
}

// Rows returns the number of frames.
func (m Matrix) Rows() int { return len(m.rows) }

// Cols returns the feature vector length.
func (m Matrix) Cols() int { return Len }

// Row returns the feature vector of frame i.
func (m Matrix) Row(i int) []float64 { return m.rows[i] }

// Builder accumulates feature vectors while frames are decoded. Extraction
// runs on a bounded pool; Add blocks once all workers are busy.
type Builder struct {
	g   *errgroup.Group
	ctx context.Context

	mu   sync.Mutex
	rows [][]float64
}

// NewBuilder returns a builder running at most workers extractions at once.
// A non-positive worker count uses one worker per CPU.
func NewBuilder(ctx context.Context, workers int) *Builder {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	return &Builder{g: g, ctx: gctx}
}

// Add schedules feature extraction for f. Frames must arrive in index order.
// The frame's pixels must not be modified until Build returns.
func (b *Builder) Add(f frames.Frame) error {
	if err := b.ctx.Err(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	if f.Index != len(b.rows) {
		n := len(b.rows)
		b.mu.Unlock()
		return fmt.Errorf("frame %d arrived out of order, expected %d", f.Index, n)
	}
	b.rows = append(b.rows, nil)
	b.mu.Unlock()

	b.g.Go(func() error {
		if err := b.ctx.Err(); err != nil {
			return err
		}
		vec := Extract(f)

		b.mu.Lock()
		b.rows[f.Index] = vec
		b.mu.Unlock()
		return nil
	})
	return nil
}

// Build waits for outstanding extractions and returns the matrix.
func (b *Builder) Build() (Matrix, error) {
	if err := b.g.Wait(); err != nil {
		return Matrix{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.rows {
		if r == nil {
			return Matrix{}, fmt.Errorf("missing feature vector for frame %d", i)
		}
	}
	return Matrix{rows: b.rows}, nil
}
