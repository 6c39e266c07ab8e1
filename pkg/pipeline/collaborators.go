package pipeline

import (
	"context"

	"github.com/vikasgaddu1/sdtmforge/pkg/memory"
	"github.com/vikasgaddu1/sdtmforge/pkg/spec"
)

// SpecBuilder drafts a mapping specification for a domain from the study's
// raw data and the supplied memory context.
type SpecBuilder interface {
	BuildDraft(ctx context.Context, studyID, domain string, agentCtx *memory.AgentContext) (*spec.Spec, error)
}

// SpecReviewer checks a drafted specification against the implementation
// guide and house conventions. It returns the (possibly annotated) spec with
// ReviewPass and ReviewComments populated; findings are advisory.
type SpecReviewer interface {
	Review(ctx context.Context, s *spec.Spec) (*spec.Spec, error)
}

// Generator produces the source of a transformation program from an approved
// specification. diffReport is empty on first generation; on regeneration it
// carries the comparison report the new program must address.
type Generator interface {
	GenerateProgram(ctx context.Context, s *spec.Spec, agentCtx *memory.AgentContext, diffReport string) (string, error)
}

// ExecResult captures the output of one program execution.
type ExecResult struct {
	Stdout string
	Stderr string
}

// Executor runs a generated program to materialize its output dataset.
// A non-nil error means the program failed; Stderr is still populated for
// diagnostics.
type Executor interface {
	Execute(ctx context.Context, programPath string) (*ExecResult, error)
}

// ValidationReport is the outcome of conformance validation on the final
// production dataset.
type ValidationReport struct {
	Pass   bool     `yaml:"pass"`
	Issues []string `yaml:"issues,omitempty"`
}

// Validator checks a converged production dataset against the specification
// and the controlled-terminology rules.
type Validator interface {
	Validate(ctx context.Context, datasetPath string, s *spec.Spec) (*ValidationReport, error)
}

// DecisionSource supplies human decisions for a spec's pending ambiguities.
// The state machine consults it at the human-review gate; when nil, the run
// suspends in waiting_for_human until ProvideDecisions is called.
type DecisionSource interface {
	Decisions(ctx context.Context, s *spec.Spec) (map[string]spec.Resolution, error)
}
