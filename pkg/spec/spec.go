// Package spec models the mapping specification that both candidate
// implementations are derived from: one target-variable definition per
// output column, optionally carrying the decision options a human reviewer
// must settle before production begins.
package spec

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// Status tracks a specification through its review lifecycle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReviewed Status = "reviewed"
	StatusApproved Status = "approved"
)

// DecisionKind is the closed set of choices a reviewer can be asked to make.
// Keeping this closed keeps the human-review blocking point and the decision
// record schema in sync.
type DecisionKind string

const (
	KindCodelist   DecisionKind = "codelist"   // which controlled-terminology codelist to apply
	KindDerivation DecisionKind = "derivation" // which derivation algorithm to use
	KindImputation DecisionKind = "imputation" // how to fill partial or missing values
	KindMapping    DecisionKind = "mapping"    // which raw column feeds the target
)

// DecisionOption is one selectable alternative for a flagged variable.
type DecisionOption struct {
	ID          string       `yaml:"id" validate:"required"`
	Kind        DecisionKind `yaml:"kind" validate:"required,oneof=codelist derivation imputation mapping"`
	Description string       `yaml:"description,omitempty"`

	// Convention marks options pre-selected by organization conventions;
	// picking one records a "convention" provenance decision.
	Convention bool `yaml:"convention,omitempty"`
}

// Variable defines one target variable of the output dataset.
type Variable struct {
	Name       string `yaml:"name" validate:"required"`
	Label      string `yaml:"label,omitempty"`
	Source     string `yaml:"source,omitempty"` // raw column, or "derived"
	Derivation string `yaml:"derivation,omitempty"`
	Codelist   string `yaml:"codelist,omitempty"`
	Role       string `yaml:"role,omitempty"`
	Core       string `yaml:"core,omitempty"` // required / expected / permissible

	// NeedsDecision flags the variable for the human-review stage.
	NeedsDecision bool             `yaml:"needs_decision,omitempty"`
	Options       []DecisionOption `yaml:"options,omitempty" validate:"dive"`
}

// Resolution is a reviewer's settled choice for one variable.
type Resolution struct {
	OptionID  string `yaml:"option_id" validate:"required"`
	Rationale string `yaml:"rationale,omitempty"`

	// Provenance is "convention" when the organization default was accepted,
	// "manual" when the reviewer overrode it.
	Provenance string `yaml:"provenance" validate:"required,oneof=convention manual"`
}

// Spec is a complete mapping specification for one (study, domain) pair.
type Spec struct {
	StudyID string `yaml:"study_id" validate:"required"`
	Domain  string `yaml:"domain" validate:"required"`
	Status  Status `yaml:"status" validate:"required,oneof=draft reviewed approved"`

	Variables []Variable `yaml:"variables" validate:"required,min=1,dive"`

	// Resolutions holds the applied human decisions, keyed by variable name.
	// Empty until the human-review stage completes.
	Resolutions map[string]Resolution `yaml:"resolutions,omitempty"`

	// Review findings from the automated spec-review stage.
	ReviewPass     bool     `yaml:"review_pass,omitempty"`
	ReviewComments []string `yaml:"review_comments,omitempty"`
}

var validate = validator.New()

// Validate checks structural integrity plus the cross-field rules the
// struct tags cannot express.
func (s *Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(err, errors.ValidationFailed, "spec validation failed")
	}

	for _, v := range s.Variables {
		if v.NeedsDecision && len(v.Options) == 0 {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "variable flagged for decision has no options"),
				errors.Fields{"variable": v.Name},
			)
		}
	}
	return nil
}

// PendingDecisions returns the variables still awaiting a human resolution.
func (s *Spec) PendingDecisions() []Variable {
	var pending []Variable
	for _, v := range s.Variables {
		if !v.NeedsDecision {
			continue
		}
		if _, done := s.Resolutions[v.Name]; !done {
			pending = append(pending, v)
		}
	}
	return pending
}

// Resolve applies a reviewer's choice to a flagged variable. The chosen
// option must be one of the alternatives that were presented.
func (s *Spec) Resolve(variable string, r Resolution) error {
	var target *Variable
	for i := range s.Variables {
		if s.Variables[i].Name == variable {
			target = &s.Variables[i]
			break
		}
	}
	if target == nil {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "unknown variable"),
			errors.Fields{"variable": variable},
		)
	}
	if !target.NeedsDecision {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "variable does not require a decision"),
			errors.Fields{"variable": variable},
		)
	}

	valid := false
	for _, opt := range target.Options {
		if opt.ID == r.OptionID {
			valid = true
			break
		}
	}
	if !valid {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "chosen option was not among the presented alternatives"),
			errors.Fields{"variable": variable, "option": r.OptionID},
		)
	}

	if s.Resolutions == nil {
		s.Resolutions = make(map[string]Resolution)
	}
	s.Resolutions[variable] = r
	return nil
}

// OptionIDs lists the alternative identifiers presented for a variable,
// in declaration order. Used when recording the decision for audit.
func (v *Variable) OptionIDs() []string {
	ids := make([]string, 0, len(v.Options))
	for _, opt := range v.Options {
		ids = append(ids, opt.ID)
	}
	return ids
}

// DerivedVariables lists the variables other domains may depend on.
func (s *Spec) DerivedVariables() []string {
	var derived []string
	for _, v := range s.Variables {
		if v.Source == "derived" {
			derived = append(derived, v.Name)
		}
	}
	return derived
}

func (s *Spec) String() string {
	return fmt.Sprintf("%s/%s (%s, %d variables)", s.StudyID, s.Domain, s.Status, len(s.Variables))
}
