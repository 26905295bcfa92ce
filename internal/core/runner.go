package core

// runner.go executes pipeline stages in order against a job directory.
//
// Each stage gets its own deadline. A stage that overruns it is abandoned:
// the run fails at once and the stage's result is discarded. Stages check
// their context before writing an artifact, so an abandoned stage does not
// overwrite anything after the run has failed.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/LotTrace/internal/logging"
)

// StageReport summarizes one completed stage.
type StageReport struct {
	Stage    string         `json:"stage"`
	Artifact string         `json:"artifact"`
	Rows     int            `json:"rows"`
	Duration time.Duration  `json:"duration_ns"`
	Counts   map[string]int `json:"counts,omitempty"`
}

// StageFunc runs one stage against a job directory.
type StageFunc func(ctx context.Context, dir string) (StageReport, error)

// Stage is a named pipeline step.
type Stage struct {
	Name string
	Run  StageFunc
}

// StageObserver receives the outcome of every stage run, e.g. for metrics.
type StageObserver interface {
	ObserveStage(stage string, d time.Duration, err error)
}

// RunObserver is implemented by observers that also track whole runs.
// Service checks for it on the observer it is given.
type RunObserver interface {
	StageObserver
	ObserveRun(err error)
	SetActiveRuns(n int)
	AddArchivedRows(n int64)
}

// Runner executes stages sequentially, each under a timeout.
type Runner struct {
	stages   []Stage
	timeout  time.Duration
	observer StageObserver
}

// NewRunner returns a runner for the given stages. A zero timeout means
// stages run without a deadline of their own. observer may be nil.
func NewRunner(stages []Stage, timeout time.Duration, observer StageObserver) *Runner {
	return &Runner{stages: stages, timeout: timeout, observer: observer}
}

// StageNames returns the stage names in execution order.
func (r *Runner) StageNames() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes every stage in order and stops at the first failure, which is
// returned as a *StageError. Reports of the stages that completed are returned
// either way.
func (r *Runner) Run(ctx context.Context, dir string) ([]StageReport, error) {
	reports := make([]StageReport, 0, len(r.stages))
	for i, s := range r.stages {
		if err := ctx.Err(); err != nil {
			return reports, &StageError{Stage: s.Name, Index: i + 1, Total: len(r.stages), Err: err}
		}
		rep, err := r.runOne(ctx, dir, s)
		if err != nil {
			return reports, &StageError{Stage: s.Name, Index: i + 1, Total: len(r.stages), Err: err}
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// RunStage executes the named stage alone. Its inputs must already be in dir.
func (r *Runner) RunStage(ctx context.Context, dir, name string) (StageReport, error) {
	for i, s := range r.stages {
		if s.Name != name {
			continue
		}
		rep, err := r.runOne(ctx, dir, s)
		if err != nil {
			return rep, &StageError{Stage: s.Name, Index: i + 1, Total: len(r.stages), Err: err}
		}
		return rep, nil
	}
	return StageReport{}, fmt.Errorf("unknown stage: %s", name)
}

type stageOutcome struct {
	rep StageReport
	err error
}

func (r *Runner) runOne(ctx context.Context, dir string, s Stage) (StageReport, error) {
	log := logging.FromContext(ctx).With("stage", s.Name)
	log.Info("stage started")

	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	start := time.Now()
	done := make(chan stageOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- stageOutcome{err: fmt.Errorf("panic in stage %s: %v", s.Name, p)}
			}
		}()
		rep, err := s.Run(stageCtx, dir)
		done <- stageOutcome{rep: rep, err: err}
	}()

	var out stageOutcome
	select {
	case out = <-done:
		if out.err == nil && stageCtx.Err() != nil {
			out = stageOutcome{err: stageCtx.Err()}
		}
	case <-stageCtx.Done():
		out = stageOutcome{err: stageCtx.Err()}
	}
	elapsed := time.Since(start)

	if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
		out.err = fmt.Errorf("stage %s timed out after %s: %w", s.Name, r.timeout, out.err)
	}
	if r.observer != nil {
		r.observer.ObserveStage(s.Name, elapsed, out.err)
	}
	if out.err != nil {
		log.Error("stage failed", "error", out.err, "duration_ms", elapsed.Milliseconds())
		return StageReport{}, out.err
	}

	out.rep.Stage = s.Name
	out.rep.Duration = elapsed
	log.Info("stage completed", "rows", out.rep.Rows, "artifact", out.rep.Artifact, "duration_ms", elapsed.Milliseconds())
	return out.rep, nil
}
