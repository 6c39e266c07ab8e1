package compare

import (
	"context"
	"fmt"

	"github.com/vikasgaddu1/sdtmforge/pkg/dataset"
	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
	"github.com/vikasgaddu1/sdtmforge/pkg/memory"
)

// DefaultMaxAttempts bounds the convergence loop. Every regeneration
// consumes one attempt regardless of whether the diff improved.
const DefaultMaxAttempts = 5

// Regenerator is the side responsible for regeneration: given the diff
// report it produces a fresh candidate and returns the path of the newly
// materialized dataset. How the candidate is produced is opaque to the
// engine, so any generation strategy can be substituted.
type Regenerator interface {
	Regenerate(ctx context.Context, domain, diffReport string, attempt int) (string, error)
}

// Outcome is the terminal result of a convergence run.
type Outcome struct {
	Converged bool
	Attempts  int
	Final     *Result

	// QCPath is the path of the qc candidate that participated in the
	// final comparison; regeneration may have replaced the original.
	QCPath string
}

// Engine drives two independently produced candidates toward agreement.
type Engine struct {
	regen       Regenerator
	mem         *memory.Manager
	maxAttempts int
	opts        Options
}

// NewEngine builds a convergence engine. maxAttempts <= 0 selects the
// default bound of 5.
func NewEngine(regen Regenerator, mem *memory.Manager, maxAttempts int, opts Options) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{regen: regen, mem: mem, maxAttempts: maxAttempts, opts: opts}
}

// Converge compares the production and qc candidates, regenerating the qc
// side on mismatch, until they agree or the attempt bound is exhausted.
//
// Attempts 1 through maxAttempts-1 that mismatch are normal convergence
// churn and are not individually recorded; only terminal exhaustion writes
// a pitfall, carrying the final diff. On agreement any decisions pending
// verification move to success.
func (e *Engine) Converge(ctx context.Context, domain, prodPath, qcPath string) (*Outcome, error) {
	logger := logging.GetLogger()

	prod, err := dataset.ReadFile(ctx, prodPath)
	if err != nil {
		return nil, err
	}

	var last *Result
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := errors.CheckContext(ctx, "convergence"); err != nil {
			return nil, err
		}
		actx := logging.WithAttempt(ctx, attempt)

		qc, err := dataset.ReadFile(ctx, qcPath)
		if err != nil {
			return nil, err
		}

		last, err = Compare(prod, qc, e.opts)
		if err != nil {
			return nil, err
		}

		if last.Match {
			logger.Info(actx, "candidates converged after %d comparison(s)", attempt)
			if err := e.mem.UpdateDecisionOutcomes(domain, memory.OutcomeSuccess); err != nil {
				return nil, err
			}
			return &Outcome{Converged: true, Attempts: attempt, Final: last, QCPath: qcPath}, nil
		}

		logger.Warn(actx, "candidates mismatch: %d column(s), %d/%d extra rows",
			len(last.ColumnDiffs), len(last.OnlyInLeft), len(last.OnlyInRight))

		if attempt == e.maxAttempts {
			break
		}

		newPath, err := e.regen.Regenerate(actx, domain, last.Report(), attempt)
		if err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.GenerationFailed, "regeneration failed during convergence"),
				errors.Fields{"attempt": attempt},
			)
		}
		qcPath = newPath
	}

	// Exhausted: durably record the final, unresolved mismatch.
	pitfall := &memory.PitfallRecord{
		Category: memory.CategoryConvergence,
		Domain:   domain,
		Description: fmt.Sprintf("candidates still mismatched after %d attempts: %s",
			e.maxAttempts, truncate(last.Report(), 500)),
		Severity: memory.SeverityBlocker,
	}
	if err := e.mem.RecordPitfall(pitfall); err != nil {
		return nil, err
	}
	if err := e.mem.UpdateDecisionOutcomes(domain, memory.OutcomeMismatch); err != nil {
		return nil, err
	}

	return &Outcome{Converged: false, Attempts: e.maxAttempts, Final: last, QCPath: qcPath},
		errors.WithFields(
			errors.New(errors.ConvergenceExhausted, "convergence attempts exhausted"),
			errors.Fields{"domain": domain, "attempts": e.maxAttempts},
		)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
