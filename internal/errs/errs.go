// Package errs defines the error kinds surfaced by the key-frame pipeline.
package errs

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInput  = errors.New("input error")
	ErrConfig = errors.New("config error")
	ErrIO     = errors.New("io error")
)

// Params is the extraction configuration reported with a failure.
type Params struct {
	Threshold      float64
	MinClusterSize int
	SVDRank        int
}

// StageError records where a run failed and with what inputs.
type StageError struct {
	Stage  string
	Kind   error
	Frames int
	Params Params
	Err    error
}

func (e *StageError) Error() string {
	kind := "pipeline error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	return fmt.Sprintf("%s: stage %s (frames=%d threshold=%g min_cluster_size=%d svd_rank=%d): %v",
		kind, e.Stage, e.Frames, e.Params.Threshold, e.Params.MinClusterSize, e.Params.SVDRank, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *StageError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// Input returns a new input error.
func Input(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}

// Config returns a new config error.
func Config(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Wrap tags err with kind and a message.
func Wrap(kind, err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", kind, fmt.Sprintf(format, args...), err)
}

// IO wraps err as an io error.
func IO(err error, format string, args ...any) error {
	return Wrap(ErrIO, err, format, args...)
}

// KindOf returns the kind err carries, or nil when it has none.
func KindOf(err error) error {
	for _, kind := range []error{ErrInput, ErrConfig, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
