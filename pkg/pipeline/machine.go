package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vikasgaddu1/sdtmforge/pkg/compare"
	"github.com/vikasgaddu1/sdtmforge/pkg/config"
	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
	"github.com/vikasgaddu1/sdtmforge/pkg/memory"
	"github.com/vikasgaddu1/sdtmforge/pkg/spec"
)

// Deps bundles the collaborators a run needs. Decisions may be nil, in
// which case the run suspends at the human-review gate until
// ProvideDecisions is called.
type Deps struct {
	Builder   SpecBuilder
	Reviewer  SpecReviewer
	ProdGen   Generator
	QCGen     Generator
	Executor  Executor
	Validator Validator
	Decisions DecisionSource
}

// Machine drives one (study, domain) run through the staged workflow,
// persisting state after every transition.
type Machine struct {
	cfg    *config.Config
	domain string

	store *StateStore
	mem   *memory.Manager
	specs *spec.Store
	deps  Deps

	state *RunState
	paths outputPaths
}

// NewMachine builds a state machine for one domain of the configured study.
func NewMachine(cfg *config.Config, domain string, store *StateStore, mem *memory.Manager, deps Deps) (*Machine, error) {
	if domain == "" {
		return nil, errors.New(errors.InvalidInput, "domain is required")
	}
	missing := ""
	switch {
	case deps.Builder == nil:
		missing = "spec builder"
	case deps.Reviewer == nil:
		missing = "spec reviewer"
	case deps.ProdGen == nil:
		missing = "production generator"
	case deps.QCGen == nil:
		missing = "qc generator"
	case deps.Executor == nil:
		missing = "executor"
	case deps.Validator == nil:
		missing = "validator"
	}
	if missing != "" {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "missing pipeline collaborator"),
			errors.Fields{"collaborator": missing},
		)
	}

	paths := newOutputPaths(cfg, domain)
	return &Machine{
		cfg:    cfg,
		domain: domain,
		store:  store,
		mem:    mem,
		specs:  spec.NewStore(paths.specsDir()),
		deps:   deps,
		paths:  paths,
	}, nil
}

// State exposes the current run state, nil before Run/Resume.
func (m *Machine) State() *RunState {
	return m.state
}

// Run starts a fresh run. A run that already has persisted state must be
// resumed or reset explicitly; state is never discarded implicitly.
func (m *Machine) Run(ctx context.Context) error {
	if _, err := m.store.Load(m.cfg.Study.ID, m.domain); err == nil {
		return errors.WithFields(
			errors.New(errors.InvalidPipelineState, "run state already exists; resume or reset it first"),
			errors.Fields{"study": m.cfg.Study.ID, "domain": m.domain},
		)
	} else if errors.CodeOf(err) != errors.ResourceNotFound {
		return err
	}

	m.state = NewRunState(m.cfg.Study.ID, m.domain)
	if err := m.store.Save(m.state); err != nil {
		return err
	}
	return m.run(ctx)
}

// Resume continues a persisted run from its recorded stage. A finished run
// is a no-op; a failed run must be forced or reset first. Resuming a run
// that was never started starts one.
func (m *Machine) Resume(ctx context.Context) error {
	st, err := m.store.Load(m.cfg.Study.ID, m.domain)
	if err != nil {
		if errors.CodeOf(err) == errors.ResourceNotFound {
			return m.Run(ctx)
		}
		return err
	}
	m.state = st

	if st.Done() {
		logging.GetLogger().Info(ctx, "run already complete for %s/%s", st.StudyID, st.Domain)
		return nil
	}
	if st.Status == StatusFailed {
		return errors.WithFields(
			errors.New(errors.InvalidPipelineState, "run is failed; force past the failure or reset the run"),
			errors.Fields{"stage": string(st.Stage)},
		)
	}

	st.Status = StatusRunning
	if err := m.store.Save(st); err != nil {
		return err
	}
	return m.run(ctx)
}

// Force overrides a failed advisory spec-review stage and continues the
// run. Only review findings can be forced; hard failures cannot.
func (m *Machine) Force(ctx context.Context) error {
	if err := m.loadState(); err != nil {
		return err
	}
	if m.state.Status != StatusFailed || m.state.Stage != StageSpecReview {
		return errors.WithFields(
			errors.New(errors.InvalidPipelineState, "only failed spec-review findings can be forced"),
			errors.Fields{"stage": string(m.state.Stage), "status": string(m.state.Status)},
		)
	}

	m.state.recordError(m.state.Stage, "review findings overridden by operator", true)
	m.state.completeStage(StageSpecReview)
	m.state.Status = StatusRunning
	if err := m.store.Save(m.state); err != nil {
		return err
	}

	logging.GetLogger().Warn(ctx, "forcing past spec-review findings for %s/%s",
		m.state.StudyID, m.state.Domain)
	return m.run(ctx)
}

// Reset discards the persisted state so the next Run starts from scratch.
// Memory records written by earlier attempts are kept; they are append-only
// history, not run state.
func (m *Machine) Reset() error {
	m.state = nil
	return m.store.Delete(m.cfg.Study.ID, m.domain)
}

// ProvideDecisions applies human decisions to a run suspended at the
// human-review gate, records each choice, writes the approved spec and
// moves the run to production. The caller resumes the run afterwards.
func (m *Machine) ProvideDecisions(ctx context.Context, resolutions map[string]spec.Resolution) error {
	if err := m.loadState(); err != nil {
		return err
	}
	if m.state.Status != StatusWaitingForHuman {
		return errors.WithFields(
			errors.New(errors.InvalidPipelineState, "run is not waiting for human decisions"),
			errors.Fields{"status": string(m.state.Status)},
		)
	}

	s, err := m.specs.Read(m.domain, false)
	if err != nil {
		return err
	}
	if err := m.applyDecisions(ctx, s, resolutions); err != nil {
		return err
	}

	m.state.Status = StatusRunning
	m.state.completeStage(StageHumanReview)
	return m.store.Save(m.state)
}

func (m *Machine) loadState() error {
	if m.state != nil {
		return nil
	}
	st, err := m.store.Load(m.cfg.Study.ID, m.domain)
	if err != nil {
		return err
	}
	m.state = st
	return nil
}

// run executes stages from the current one until done, a suspension, or a
// failure. Stage completion is persisted before the next stage begins.
func (m *Machine) run(ctx context.Context) error {
	ctx = logging.WithRun(ctx, m.state.StudyID, m.state.Domain)
	log := logging.GetLogger()

	for !m.state.Done() {
		if err := errors.CheckContext(ctx, "pipeline run"); err != nil {
			return m.failStage(ctx, m.state.Stage, err, nil)
		}

		stage := m.state.Stage
		sctx := logging.WithStage(ctx, string(stage))
		log.Info(sctx, "stage starting")

		if err := m.runStage(sctx, stage); err != nil {
			return err
		}
		if m.state.Status == StatusWaitingForHuman {
			return errors.WithFields(
				errors.New(errors.WaitingForHuman, "run suspended pending human decisions"),
				errors.Fields{"domain": m.domain},
			)
		}

		m.state.completeStage(stage)
		m.state.UpdatedAt = m.state.StageTimes[stage]
		if err := m.store.Save(m.state); err != nil {
			return err
		}
		log.Info(sctx, "stage complete")
	}

	log.Info(ctx, "run complete: %s/%s standardized and validated",
		m.state.StudyID, m.state.Domain)
	return nil
}

func (m *Machine) runStage(ctx context.Context, stage Stage) error {
	switch stage {
	case StageSpecBuild:
		return m.stageSpecBuild(ctx)
	case StageSpecReview:
		return m.stageSpecReview(ctx)
	case StageHumanReview:
		return m.stageHumanReview(ctx)
	case StageProduction:
		return m.stageGenerate(ctx, "production", m.deps.ProdGen)
	case StageQC:
		return m.stageGenerate(ctx, "qc", m.deps.QCGen)
	case StageCompare:
		return m.stageCompare(ctx)
	case StageValidate:
		return m.stageValidate(ctx)
	default:
		return errors.WithFields(
			errors.New(errors.InvalidPipelineState, "stage is not executable"),
			errors.Fields{"stage": string(stage)},
		)
	}
}

// failStage records the failure and persists the failed run state. When the
// pitfall has not already been written by a lower layer, it is recorded
// before the state is persisted so a crash between the two leaves the
// lesson, not just the failure.
func (m *Machine) failStage(ctx context.Context, stage Stage, cause error, pitfall *memory.PitfallRecord) error {
	if pitfall != nil {
		if err := m.mem.RecordPitfall(pitfall); err != nil {
			logging.GetLogger().Warn(ctx, "failed to record pitfall: %v", err)
		}
	}

	m.state.recordError(stage, cause.Error(), false)
	m.state.Status = StatusFailed
	if err := m.store.Save(m.state); err != nil {
		logging.GetLogger().Error(ctx, "failed to persist failed run state: %v", err)
	}
	return cause
}

func (m *Machine) stageSpecBuild(ctx context.Context) error {
	agentCtx, err := m.mem.BuildAgentContext(m.domain, "spec_build", m.state.StudyID, "")
	if err != nil {
		return m.failStage(ctx, StageSpecBuild, err, nil)
	}

	draft, err := m.deps.Builder.BuildDraft(ctx, m.state.StudyID, m.domain, agentCtx)
	if err != nil {
		return m.failStage(ctx, StageSpecBuild, err, &memory.PitfallRecord{
			Category:    memory.CategoryGeneration,
			Domain:      m.domain,
			Description: fmt.Sprintf("spec drafting failed: %s", truncate(err.Error(), 300)),
			Severity:    memory.SeverityBlocker,
		})
	}

	draft.StudyID = m.state.StudyID
	draft.Domain = m.domain
	draft.Status = spec.StatusDraft
	if err := draft.Validate(); err != nil {
		return m.failStage(ctx, StageSpecBuild, err, nil)
	}
	if err := m.specs.Write(draft, false); err != nil {
		return m.failStage(ctx, StageSpecBuild, err, nil)
	}
	m.state.SetArtifact("spec_draft", m.specs.Path(m.domain, false))
	return nil
}

func (m *Machine) stageSpecReview(ctx context.Context) error {
	s, err := m.specs.Read(m.domain, false)
	if err != nil {
		return m.failStage(ctx, StageSpecReview, err, nil)
	}

	reviewed, err := m.deps.Reviewer.Review(ctx, s)
	if err != nil {
		return m.failStage(ctx, StageSpecReview, err, nil)
	}

	reviewed.Status = spec.StatusReviewed
	if err := m.specs.Write(reviewed, false); err != nil {
		return m.failStage(ctx, StageSpecReview, err, nil)
	}

	if !reviewed.ReviewPass {
		// Advisory findings: the run stops here but the operator may
		// force past them.
		return m.failStage(ctx, StageSpecReview, errors.WithFields(
			errors.New(errors.ReviewFindings, "spec review reported findings"),
			errors.Fields{
				"domain":   m.domain,
				"findings": strings.Join(reviewed.ReviewComments, "; "),
			},
		), nil)
	}
	return nil
}

func (m *Machine) stageHumanReview(ctx context.Context) error {
	s, err := m.specs.Read(m.domain, false)
	if err != nil {
		return m.failStage(ctx, StageHumanReview, err, nil)
	}

	pending := s.PendingDecisions()
	if len(pending) == 0 {
		// Nothing ambiguous; approve directly.
		s.Status = spec.StatusApproved
		if err := m.specs.Write(s, true); err != nil {
			return m.failStage(ctx, StageHumanReview, err, nil)
		}
		m.state.SetArtifact("spec_approved", m.specs.Path(m.domain, true))
		return nil
	}

	if m.deps.Decisions == nil {
		logging.GetLogger().Info(ctx, "%d decision(s) pending, suspending for human review", len(pending))
		m.state.Status = StatusWaitingForHuman
		if err := m.store.Save(m.state); err != nil {
			return err
		}
		return nil
	}

	resolutions, err := m.deps.Decisions.Decisions(ctx, s)
	if err != nil {
		return m.failStage(ctx, StageHumanReview, err, nil)
	}
	if err := m.applyDecisions(ctx, s, resolutions); err != nil {
		return m.failStage(ctx, StageHumanReview, err, nil)
	}
	return nil
}

// applyDecisions resolves every pending variable, records one decision per
// choice and writes the approved spec. All pending variables must be
// decided in one call; partial decision sets are rejected before anything
// is recorded.
func (m *Machine) applyDecisions(ctx context.Context, s *spec.Spec, resolutions map[string]spec.Resolution) error {
	pending := s.PendingDecisions()
	for _, v := range pending {
		if _, ok := resolutions[v.Name]; !ok {
			return errors.WithFields(
				errors.New(errors.InvalidInput, "decision missing for pending variable"),
				errors.Fields{"variable": v.Name},
			)
		}
	}

	for _, v := range pending {
		r := resolutions[v.Name]
		if err := s.Resolve(v.Name, r); err != nil {
			return err
		}
		if err := m.mem.RecordDecision(&memory.DecisionRecord{
			Domain:       m.domain,
			Variable:     v.Name,
			Choice:       r.OptionID,
			Alternatives: v.OptionIDs(),
			Rationale:    r.Rationale,
			Provenance:   r.Provenance,
			Outcome:      memory.OutcomePending,
		}); err != nil {
			return err
		}
		m.state.SetDecision(v.Name, r.OptionID)
		logging.GetLogger().Info(ctx, "decision recorded: %s.%s = %s (%s)",
			m.domain, v.Name, r.OptionID, r.Provenance)
	}

	s.Status = spec.StatusApproved
	if err := m.specs.Write(s, true); err != nil {
		return err
	}
	m.state.SetArtifact("spec_approved", m.specs.Path(m.domain, true))
	return nil
}

// stageGenerate runs one candidate side: generate the program from the
// approved spec, execute it, and confirm the dataset materialized.
func (m *Machine) stageGenerate(ctx context.Context, side string, gen Generator) error {
	stage := StageProduction
	if side == "qc" {
		stage = StageQC
	}

	s, err := m.specs.Read(m.domain, true)
	if err != nil {
		return m.failStage(ctx, stage, err, nil)
	}

	programPath := m.paths.program(side)
	agentCtx, err := m.mem.BuildAgentContext(m.domain, side, m.state.StudyID, filepath.Base(programPath))
	if err != nil {
		return m.failStage(ctx, stage, err, nil)
	}

	src, err := gen.GenerateProgram(ctx, s, agentCtx, "")
	if err != nil {
		return m.failStage(ctx, stage, err, &memory.PitfallRecord{
			Category:    memory.CategoryGeneration,
			Domain:      m.domain,
			Description: fmt.Sprintf("%s program generation failed: %s", side, truncate(err.Error(), 300)),
			Severity:    memory.SeverityBlocker,
		})
	}
	if err := m.writeProgram(programPath, src); err != nil {
		return m.failStage(ctx, stage, err, nil)
	}
	m.state.SetArtifact(side+"_program", programPath)

	result, err := m.deps.Executor.Execute(ctx, programPath)
	if err != nil {
		detail := err.Error()
		if result != nil && result.Stderr != "" {
			detail = result.Stderr
		}
		return m.failStage(ctx, stage, err, &memory.PitfallRecord{
			Category:    memory.CategoryGeneration,
			Domain:      m.domain,
			Description: fmt.Sprintf("%s program execution failed: %s", side, truncate(detail, 300)),
			Severity:    memory.SeverityBlocker,
		})
	}

	datasetPath := m.paths.dataset(side)
	if _, err := os.Stat(datasetPath); err != nil {
		execErr := errors.WithFields(
			errors.New(errors.ExecutionFailed, "program ran but produced no dataset"),
			errors.Fields{"side": side, "expected": datasetPath},
		)
		return m.failStage(ctx, stage, execErr, &memory.PitfallRecord{
			Category:    memory.CategoryGeneration,
			Domain:      m.domain,
			Description: fmt.Sprintf("%s program produced no output dataset at %s", side, filepath.Base(datasetPath)),
			Severity:    memory.SeverityBlocker,
		})
	}
	m.state.SetArtifact(side+"_dataset", datasetPath)

	if err := m.mem.RecordModification(filepath.Base(programPath), "pipeline",
		fmt.Sprintf("initial %s generation", side)); err != nil {
		logging.GetLogger().Warn(ctx, "failed to record modification history: %v", err)
	}
	return nil
}

func (m *Machine) stageCompare(ctx context.Context) error {
	s, err := m.specs.Read(m.domain, true)
	if err != nil {
		return m.failStage(ctx, StageCompare, err, nil)
	}

	engine := compare.NewEngine(
		&qcRegenerator{m: m, spec: s},
		m.mem,
		m.cfg.Comparison.MaxAttempts,
		compare.Options{
			IDColumns:   m.cfg.Comparison.IDColumns,
			SampleLimit: m.cfg.Comparison.SampleLimit,
		},
	)

	outcome, err := engine.Converge(ctx, m.domain,
		m.state.Artifact("production_dataset"), m.state.Artifact("qc_dataset"))
	if outcome != nil {
		m.state.CompareAttempts = outcome.Attempts
		m.state.SetArtifact("qc_dataset", outcome.QCPath)
		if outcome.Final != nil {
			if werr := m.writeCompareReport(outcome.Final.Report()); werr != nil {
				logging.GetLogger().Warn(ctx, "failed to write comparison report: %v", werr)
			}
		}
	}
	if err != nil {
		// Exhaustion already wrote its pitfall inside the engine; anything
		// else (a regeneration failure) records a generation pitfall here.
		var pitfall *memory.PitfallRecord
		if errors.CodeOf(err) != errors.ConvergenceExhausted {
			pitfall = &memory.PitfallRecord{
				Category:    memory.CategoryGeneration,
				Domain:      m.domain,
				Description: fmt.Sprintf("regeneration failed during convergence: %s", truncate(err.Error(), 300)),
				Severity:    memory.SeverityBlocker,
			}
		}
		return m.failStage(ctx, StageCompare, err, pitfall)
	}

	logging.GetLogger().Info(ctx, "candidates converged after %d attempt(s)", outcome.Attempts)
	return nil
}

func (m *Machine) stageValidate(ctx context.Context) error {
	s, err := m.specs.Read(m.domain, true)
	if err != nil {
		return m.failStage(ctx, StageValidate, err, nil)
	}

	report, err := m.deps.Validator.Validate(ctx, m.state.Artifact("production_dataset"), s)
	if err != nil {
		return m.failStage(ctx, StageValidate, err, nil)
	}
	if werr := m.writeValidationReport(report); werr != nil {
		logging.GetLogger().Warn(ctx, "failed to write validation report: %v", werr)
	}

	if !report.Pass {
		// Validation failures are not retried automatically; the converged
		// candidates agreed on an answer the validator rejects, which needs
		// a human look at the spec.
		valErr := errors.WithFields(
			errors.New(errors.ValidationFailed, "converged dataset failed validation"),
			errors.Fields{"issues": strings.Join(report.Issues, "; ")},
		)
		return m.failStage(ctx, StageValidate, valErr, &memory.PitfallRecord{
			Category:    memory.CategoryValidation,
			Domain:      m.domain,
			Description: fmt.Sprintf("validation failed: %s", truncate(strings.Join(report.Issues, "; "), 300)),
			Severity:    memory.SeverityBlocker,
		})
	}

	// Snapshot the cross-domain context for downstream domains.
	if err := m.mem.SaveDomainContext(memory.DomainContext{
		Domain:           m.domain,
		KeyDecisions:     m.state.HumanDecisions,
		DerivedVariables: s.DerivedVariables(),
	}); err != nil {
		logging.GetLogger().Warn(ctx, "failed to save domain context: %v", err)
	}
	return nil
}

// qcRegenerator regenerates the qc candidate between convergence attempts.
// The production side is never regenerated; a stable reference makes diffs
// across attempts comparable.
type qcRegenerator struct {
	m    *Machine
	spec *spec.Spec
}

func (r *qcRegenerator) Regenerate(ctx context.Context, domain, diffReport string, attempt int) (string, error) {
	m := r.m
	actx := logging.WithAttempt(ctx, attempt)

	programPath := m.paths.program("qc")
	agentCtx, err := m.mem.BuildAgentContext(domain, "qc", m.state.StudyID, filepath.Base(programPath))
	if err != nil {
		return "", err
	}

	src, err := m.deps.QCGen.GenerateProgram(actx, r.spec, agentCtx, diffReport)
	if err != nil {
		return "", err
	}
	if err := m.writeProgram(programPath, src); err != nil {
		return "", err
	}
	if err := m.mem.RecordModification(filepath.Base(programPath), "pipeline",
		fmt.Sprintf("regeneration after comparison attempt %d", attempt)); err != nil {
		logging.GetLogger().Warn(actx, "failed to record modification history: %v", err)
	}

	result, err := m.deps.Executor.Execute(actx, programPath)
	if err != nil {
		if result != nil && result.Stderr != "" {
			return "", errors.WithFields(
				errors.Wrap(err, errors.ExecutionFailed, "regenerated qc program failed"),
				errors.Fields{"stderr": truncate(result.Stderr, 300)},
			)
		}
		return "", err
	}

	datasetPath := m.paths.dataset("qc")
	if _, err := os.Stat(datasetPath); err != nil {
		return "", errors.WithFields(
			errors.New(errors.ExecutionFailed, "regenerated qc program produced no dataset"),
			errors.Fields{"expected": datasetPath},
		)
	}
	return datasetPath, nil
}

func (m *Machine) writeProgram(path, src string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to create programs directory")
	}
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to write program"),
			errors.Fields{"path": path},
		)
	}
	return nil
}

func (m *Machine) writeCompareReport(report string) error {
	path := m.paths.compareReport()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to create compare directory")
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to write comparison report")
	}
	m.state.SetArtifact("compare_report", path)
	return nil
}

func (m *Machine) writeValidationReport(report *ValidationReport) error {
	path := m.paths.validationReport()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to create validation directory")
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to marshal validation report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to write validation report")
	}
	m.state.SetArtifact("validation_report", path)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
