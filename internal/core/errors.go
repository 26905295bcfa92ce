package core

import (
	"errors"
	"fmt"
)

var (
	// ErrLayout marks input whose shape does not match the expected layout.
	// It is fatal for the run and never retried.
	ErrLayout = errors.New("unexpected input layout")

	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = fmt.Errorf("%w: missing required column", ErrLayout)

	// ErrSyncInvariant means a linked chain produced a non-positive gap.
	ErrSyncInvariant = errors.New("sync invariant violated: gap must be positive")

	// ErrJobNotFound is returned for an unknown or malformed job ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoMatch is returned when a lot search finds nothing.
	ErrNoMatch = errors.New("no matching lot found")

	// ErrNoSearchTerms is returned when a search names neither lot code.
	ErrNoSearchTerms = errors.New("no lot search terms")

	// ErrInvalidFile is returned for uploads with a rejected name or extension.
	ErrInvalidFile = errors.New("invalid file")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// StageError reports which pipeline stage aborted a run.
type StageError struct {
	Stage string // stage name, e.g. "cde_merger"
	Index int    // 1-based position in the pipeline
	Total int    // number of stages in the pipeline
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed at step %d/%d (%s): %v", e.Index, e.Total, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NoMatchError carries sample LOT values to help the user refine a search.
type NoMatchError struct {
	LotA, LotB       string
	SampleA, SampleB []string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("%v for LOT A=%q, LOT B=%q", ErrNoMatch, e.LotA, e.LotB)
}

func (e *NoMatchError) Unwrap() error {
	return ErrNoMatch
}
