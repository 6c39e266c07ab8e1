// Package pipeline implements the persisted stage state machine that drives
// a (study, domain) run from raw data to a validated standardized dataset,
// invoking the convergence engine at the compare boundary and recording
// every outcome through the memory manager.
package pipeline

import (
	"time"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// Stage is one step of the ordered workflow.
type Stage string

const (
	StageSpecBuild   Stage = "spec_build"
	StageSpecReview  Stage = "spec_review"
	StageHumanReview Stage = "human_review"
	StageProduction  Stage = "production"
	StageQC          Stage = "qc"
	StageCompare     Stage = "compare"
	StageValidate    Stage = "validate"
	StageDone        Stage = "done"
)

// stageOrder defines the linear progression. compare loops internally and
// exits either to validate or to a failed run.
var stageOrder = []Stage{
	StageSpecBuild,
	StageSpecReview,
	StageHumanReview,
	StageProduction,
	StageQC,
	StageCompare,
	StageValidate,
	StageDone,
}

// ParseStage validates a stage name from user input.
func ParseStage(s string) (Stage, error) {
	for _, st := range stageOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", errors.WithFields(
		errors.New(errors.InvalidInput, "unknown pipeline stage"),
		errors.Fields{"stage": s},
	)
}

// next returns the stage following s. done has no successor.
func (s Stage) next() (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Status is the run-level state.
type Status string

const (
	StatusRunning         Status = "running"
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusWaitingForHuman Status = "waiting_for_human"
)

// ErrorEntry is one line of the ordered run error log.
type ErrorEntry struct {
	Stage     Stage  `json:"stage"`
	Message   string `json:"message"`
	Forced    bool   `json:"forced,omitempty"`
	Timestamp string `json:"timestamp"`
}

// RunState is the persisted state of one (study, domain) run. It is owned
// exclusively by the state machine, persisted after every transition, and
// reset only by explicit user action.
type RunState struct {
	StudyID string `json:"study_id"`
	Domain  string `json:"domain"`

	// Stage is the next stage to execute (or the stage in progress).
	Stage  Stage  `json:"stage"`
	Status Status `json:"status"`

	// StageTimes records the completion timestamp of each finished stage.
	StageTimes map[Stage]string `json:"stage_times"`

	ErrorLog []ErrorEntry `json:"error_log,omitempty"`

	// HumanDecisions maps variable name to the chosen option id.
	HumanDecisions map[string]string `json:"human_decisions,omitempty"`

	// Artifacts maps logical artifact names to file paths.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	// CompareAttempts is the attempt count of the last convergence loop.
	CompareAttempts int `json:"compare_attempts,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NewRunState starts a fresh run at the first stage.
func NewRunState(studyID, domain string) *RunState {
	now := time.Now().UTC().Format(time.RFC3339)
	return &RunState{
		StudyID:        studyID,
		Domain:         domain,
		Stage:          StageSpecBuild,
		Status:         StatusRunning,
		StageTimes:     make(map[Stage]string),
		HumanDecisions: make(map[string]string),
		Artifacts:      make(map[string]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Done reports whether the run reached its terminal success state.
func (s *RunState) Done() bool {
	return s.Stage == StageDone && s.Status == StatusSucceeded
}

func (s *RunState) recordError(stage Stage, message string, forced bool) {
	s.ErrorLog = append(s.ErrorLog, ErrorEntry{
		Stage:     stage,
		Message:   message,
		Forced:    forced,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SetDecision records the chosen option for a pending variable. The map
// may come back nil from the store; omitempty drops it when a suspended
// run is persisted before any decision exists.
func (s *RunState) SetDecision(variable, optionID string) {
	if s.HumanDecisions == nil {
		s.HumanDecisions = make(map[string]string)
	}
	s.HumanDecisions[variable] = optionID
}

// SetArtifact registers a produced artifact path.
func (s *RunState) SetArtifact(name, path string) {
	if s.Artifacts == nil {
		s.Artifacts = make(map[string]string)
	}
	s.Artifacts[name] = path
}

// Artifact returns a registered artifact path, "" if absent.
func (s *RunState) Artifact(name string) string {
	return s.Artifacts[name]
}

// completeStage stamps the finished stage and advances to the next one.
func (s *RunState) completeStage(stage Stage) {
	if s.StageTimes == nil {
		s.StageTimes = make(map[Stage]string)
	}
	s.StageTimes[stage] = time.Now().UTC().Format(time.RFC3339)
	if next, ok := stage.next(); ok {
		s.Stage = next
	}
	if s.Stage == StageDone {
		s.Status = StatusSucceeded
	}
}
