// Package acquire turns a validated URL reference into a raw local media
// file by trying an ordered table of acquisition strategies, each with its
// own retry budget, until one produces a playable file.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"drawl/internal/source"
	"drawl/internal/wave"

	"github.com/sirupsen/logrus"
)

// Outcome records one acquisition attempt for diagnostics. The cascade
// accumulates an ordered sequence even on eventual success.
type Outcome struct {
	Strategy     string        `json:"strategy"`
	Attempt      int           `json:"attempt"`
	Success      bool          `json:"success"`
	RawMediaPath string        `json:"rawMediaPath,omitempty"`
	ErrorDetail  string        `json:"errorDetail,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// StrategyFailure is the last error a fully exhausted strategy produced.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// FailedError reports that every strategy was exhausted. Failures are in
// strategy order so the caller can present root causes.
type FailedError struct {
	RequestID string
	Failures  []StrategyFailure
}

func (e *FailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Strategy, f.Err))
	}
	return fmt.Sprintf("all acquisition strategies failed: %s", strings.Join(parts, "; "))
}

// DurationProber reports a media file's metadata duration, or 0 when
// unknown.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Result is a successful acquisition. The caller owns Workspace and must
// remove it when done with RawMediaPath.
type Result struct {
	RawMediaPath string
	Workspace    string
	FinalPath    string // set when a FinalizeFunc produced a derived file
	Outcomes     []Outcome
}

// FinalizeFunc post-processes a freshly acquired raw file inside its
// workspace, typically transcoding it. A failure abandons the whole
// strategy and moves the cascade on, except a DurationExceededError,
// which aborts the acquisition outright.
type FinalizeFunc func(ctx context.Context, rawPath, workspace string) (string, error)

// Cascade iterates the strategy table in priority order.
type Cascade struct {
	strategies []Strategy
	workRoot   string
	maxDurSec  float64
	prober     DurationProber
	logger     *logrus.Logger
	sleep      func(time.Duration)
}

// NewCascade builds a cascade over the given strategies. workRoot of ""
// uses the system temp dir.
func NewCascade(strategies []Strategy, workRoot string, maxDurSec float64, prober DurationProber, logger *logrus.Logger) *Cascade {
	return &Cascade{
		strategies: strategies,
		workRoot:   workRoot,
		maxDurSec:  maxDurSec,
		prober:     prober,
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// Acquire runs the cascade for one validated reference. Strategies run
// strictly one at a time; a strategy is abandoned only after its whole
// attempt budget is spent. A metadata duration over the ceiling aborts the
// entire acquisition: duration is a property of the source, not the
// strategy.
func (c *Cascade) Acquire(ctx context.Context, ref *source.Reference, requestID string, finalize FinalizeFunc) (*Result, error) {
	log := c.logger.WithField("requestId", requestID)
	var outcomes []Outcome
	var failures []StrategyFailure

	for _, strat := range c.strategies {
		var lastErr error
		abandoned := false
		for attempt := 1; attempt <= strat.MaxAttempts && !abandoned; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			workspace, err := os.MkdirTemp(c.workRoot, "drawl-acquire-*")
			if err != nil {
				return nil, fmt.Errorf("create workspace: %w", err)
			}

			attemptCtx := ctx
			var cancel context.CancelFunc
			if strat.TimeoutSec > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(strat.TimeoutSec*float64(time.Second)))
			}
			start := time.Now()
			rawPath, err := strat.Attempt(attemptCtx, ref, workspace, strat.userAgentFor(attempt))
			if cancel != nil {
				cancel()
			}
			elapsed := time.Since(start)

			if err != nil {
				outcomes = append(outcomes, Outcome{
					Strategy: strat.Name, Attempt: attempt,
					ErrorDetail: err.Error(), Elapsed: elapsed,
				})
				lastErr = err
				removeWorkspace(workspace, log)
				log.WithFields(logrus.Fields{
					"strategy": strat.Name, "attempt": attempt,
				}).Warnf("acquisition attempt failed: %v", err)
				if attempt < strat.MaxAttempts && strat.RetryDelaySec > 0 {
					c.sleep(time.Duration(strat.RetryDelaySec * float64(time.Second)))
				}
				continue
			}

			// Metadata duration check before spending time transcoding.
			if c.prober != nil && c.maxDurSec > 0 {
				dur, probeErr := c.prober.ProbeDuration(ctx, rawPath)
				if probeErr == nil && dur > 0 {
					if guardErr := wave.CheckDuration(dur, c.maxDurSec); guardErr != nil {
						removeWorkspace(workspace, log)
						return nil, guardErr
					}
				}
			}

			var finalPath string
			if finalize != nil {
				finalPath, err = finalize(ctx, rawPath, workspace)
				if err != nil {
					var durErr *wave.DurationExceededError
					if errors.As(err, &durErr) {
						removeWorkspace(workspace, log)
						return nil, err
					}
					outcomes = append(outcomes, Outcome{
						Strategy: strat.Name, Attempt: attempt,
						ErrorDetail: err.Error(), Elapsed: elapsed,
					})
					lastErr = err
					removeWorkspace(workspace, log)
					log.WithFields(logrus.Fields{
						"strategy": strat.Name, "attempt": attempt,
					}).Warnf("post-acquisition processing failed: %v", err)
					abandoned = true
					continue
				}
			}

			outcomes = append(outcomes, Outcome{
				Strategy: strat.Name, Attempt: attempt, Success: true,
				RawMediaPath: rawPath, Elapsed: elapsed,
			})
			log.WithFields(logrus.Fields{
				"strategy": strat.Name, "attempt": attempt,
				"elapsed": elapsed.Round(time.Millisecond),
			}).Info("media acquired")
			return &Result{RawMediaPath: rawPath, Workspace: workspace, FinalPath: finalPath, Outcomes: outcomes}, nil
		}
		failures = append(failures, StrategyFailure{Strategy: strat.Name, Err: lastErr})
	}

	return nil, &FailedError{RequestID: requestID, Failures: failures}
}

func removeWorkspace(dir string, log *logrus.Entry) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warnf("remove workspace %s: %v", dir, err)
	}
}
