package generate

import (
	"context"
	"fmt"

	"github.com/vikasgaddu1/sdtmforge/pkg/dataset"
	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
	"github.com/vikasgaddu1/sdtmforge/pkg/pipeline"
	"github.com/vikasgaddu1/sdtmforge/pkg/spec"
)

// RuleValidator checks a converged dataset against its spec: structural
// completeness, required-variable population and controlled-terminology
// conformance. It is deterministic on purpose; conformance findings must be
// reproducible run to run.
type RuleValidator struct {
	// ct maps codelist code to its allowed submission values. Built from
	// the ct lookup table at construction; empty map skips CT checks.
	ct map[string]map[string]bool
}

// NewRuleValidator loads the ct lookup table (CODELIST, RAW_VALUE, CT_VALUE
// columns). An empty path builds a validator without CT checks.
func NewRuleValidator(ctx context.Context, ctLookupPath string) (*RuleValidator, error) {
	v := &RuleValidator{ct: make(map[string]map[string]bool)}
	if ctLookupPath == "" {
		return v, nil
	}

	ds, err := dataset.ReadFile(ctx, ctLookupPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.VocabularyLookupFailed, "failed to load ct lookup table")
	}
	codeIdx := ds.ColumnIndex("CODELIST")
	valIdx := ds.ColumnIndex("CT_VALUE")
	if codeIdx < 0 || valIdx < 0 {
		return nil, errors.WithFields(
			errors.New(errors.VocabularyLookupFailed, "ct lookup table is missing CODELIST or CT_VALUE"),
			errors.Fields{"path": ctLookupPath},
		)
	}

	for _, row := range ds.Rows {
		code := row[codeIdx]
		if v.ct[code] == nil {
			v.ct[code] = make(map[string]bool)
		}
		v.ct[code][row[valIdx]] = true
	}
	return v, nil
}

// Validate runs every check and aggregates the findings; it never stops at
// the first issue, the report should show the full picture.
func (v *RuleValidator) Validate(ctx context.Context, datasetPath string, s *spec.Spec) (*pipeline.ValidationReport, error) {
	ds, err := dataset.ReadFile(ctx, datasetPath)
	if err != nil {
		return nil, err
	}

	var issues []string
	for _, variable := range s.Variables {
		idx := ds.ColumnIndex(variable.Name)
		if idx < 0 {
			issues = append(issues, fmt.Sprintf("variable %s missing from dataset", variable.Name))
			continue
		}

		if variable.Core == "required" {
			for i, row := range ds.Rows {
				if row[idx] == "" {
					issues = append(issues, fmt.Sprintf("required variable %s is empty at row %d", variable.Name, i+1))
					break
				}
			}
		}

		if variable.Codelist != "" {
			if allowed, ok := v.ct[variable.Codelist]; ok {
				flagged := make(map[string]bool)
				for _, row := range ds.Rows {
					value := row[idx]
					if value == "" || allowed[value] || flagged[value] {
						continue
					}
					flagged[value] = true
					issues = append(issues, fmt.Sprintf("%s value %q not in codelist %s",
						variable.Name, value, variable.Codelist))
				}
			}
		}
	}

	report := &pipeline.ValidationReport{Pass: len(issues) == 0, Issues: issues}
	logging.GetLogger().Info(ctx, "validation of %s: pass=%v, %d issue(s)",
		s.Domain, report.Pass, len(issues))
	return report, nil
}
