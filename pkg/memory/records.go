// Package memory implements the layered decision/pitfall memory system:
// append-only yaml record stores at two tiers (organization standards and
// per-study), a manager exposing one merged read view per stage invocation,
// and the human-gated promotion scanner that copies recurring study-level
// pitfalls into the organization store.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// PitfallCategory is the fixed failure taxonomy.
type PitfallCategory string

const (
	CategoryGeneration  PitfallCategory = "generation_error"     // candidate program failed to generate or execute
	CategoryConvergence PitfallCategory = "convergence_mismatch" // candidates never agreed within the attempt bound
	CategoryValidation  PitfallCategory = "validation_fail"      // downstream validator rejected the converged dataset
	CategoryVocabulary  PitfallCategory = "ct_mapping"           // controlled-terminology / vocabulary mapping gap
)

// Severity orders pitfalls for the most-severe-first merged view.
type Severity string

const (
	SeverityBlocker Severity = "blocker"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// severityRank returns a sortable weight, most severe lowest.
func severityRank(s Severity) int {
	switch s {
	case SeverityBlocker:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Outcome is the terminal state of a decision once downstream stages run.
type Outcome string

const (
	OutcomePending        Outcome = "pending"
	OutcomeSuccess        Outcome = "success"
	OutcomeMismatch       Outcome = "mismatch"
	OutcomeValidationFail Outcome = "validation_fail"
)

// PromotionStatus tracks a pitfall through the promotion workflow.
type PromotionStatus string

const (
	PromotionNone     PromotionStatus = ""
	PromotionPending  PromotionStatus = "pending"
	PromotionPromoted PromotionStatus = "promoted"
)

// DecisionRecord is one human review choice. Identity fields never change
// after creation; only Outcome moves, once, off pending.
type DecisionRecord struct {
	ID           string   `yaml:"id"`
	Domain       string   `yaml:"domain"`
	Variable     string   `yaml:"variable"`
	Choice       string   `yaml:"choice"`
	Alternatives []string `yaml:"alternatives_shown"`
	Rationale    string   `yaml:"rationale,omitempty"`

	// Provenance is "convention" when the org default was accepted,
	// "manual" when the reviewer overrode it.
	Provenance string  `yaml:"provenance"`
	Outcome    Outcome `yaml:"outcome"`
	StudyID    string  `yaml:"study_id"`
	Timestamp  string  `yaml:"timestamp"`
}

// PitfallRecord is one detected failure. Identity fields never change;
// Resolution and PromotionStatus each move at most once.
type PitfallRecord struct {
	ID          string          `yaml:"id"`
	Category    PitfallCategory `yaml:"category"`
	Domain      string          `yaml:"domain"`
	Description string          `yaml:"description"`
	RootCause   string          `yaml:"root_cause,omitempty"`
	Resolution  string          `yaml:"resolution,omitempty"`
	Severity    Severity        `yaml:"severity"`
	StudyID     string          `yaml:"study_id"`
	Promotion   PromotionStatus `yaml:"promotion_status,omitempty"`
	Timestamp   string          `yaml:"timestamp"`

	// Set only on the organization-level copy written by a promotion.
	PromotedBy   string `yaml:"promoted_by,omitempty"`
	PromotedDate string `yaml:"promotion_date,omitempty"`
}

// DomainContext is the cross-domain snapshot written once at the end of
// a domain's run and overwritten, not versioned, on re-run.
type DomainContext struct {
	Domain           string            `yaml:"domain"`
	KeyDecisions     map[string]string `yaml:"key_decisions,omitempty"`
	DerivedVariables []string          `yaml:"derived_variables,omitempty"`
	StudyID          string            `yaml:"study_id"`
	Timestamp        string            `yaml:"timestamp"`
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// stamp fills identity defaults at creation time.
func (r *DecisionRecord) stamp(studyID string) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp == "" {
		r.Timestamp = nowStamp()
	}
	if r.Outcome == "" {
		r.Outcome = OutcomePending
	}
	if r.StudyID == "" {
		r.StudyID = studyID
	}
}

func (r *PitfallRecord) stamp(studyID string) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp == "" {
		r.Timestamp = nowStamp()
	}
	if r.Severity == "" {
		r.Severity = SeverityWarning
	}
	if r.StudyID == "" {
		r.StudyID = studyID
	}
}
