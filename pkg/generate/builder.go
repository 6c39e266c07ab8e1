package generate

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vikasgaddu1/sdtmforge/pkg/dataset"
	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/igclient"
	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
	"github.com/vikasgaddu1/sdtmforge/pkg/memory"
	"github.com/vikasgaddu1/sdtmforge/pkg/spec"
)

// SpecBuilder drafts mapping specifications by profiling the raw data and
// consulting the Implementation Guide content server.
type SpecBuilder struct {
	llm Completer

	// IG is optional; without it the prompt carries only the raw profile.
	IG *igclient.Client

	// RawDataPath is the raw dataset the domain maps from.
	RawDataPath string
}

func NewSpecBuilder(llm Completer, rawDataPath string) *SpecBuilder {
	return &SpecBuilder{llm: llm, RawDataPath: rawDataPath}
}

// BuildDraft profiles the raw data, gathers IG guidance and asks the model
// for a draft spec. Variables the model cannot settle must come back
// flagged with their alternatives, which is what feeds human review.
func (b *SpecBuilder) BuildDraft(ctx context.Context, studyID, domain string, agentCtx *memory.AgentContext) (*spec.Spec, error) {
	profile, err := b.profileRawData(ctx)
	if err != nil {
		return nil, err
	}

	igSummary := ""
	if b.IG != nil {
		igSummary, err = b.IG.DomainSummary(ctx, domain)
		if err != nil {
			// A lookup gap degrades the prompt, it does not block drafting.
			logging.GetLogger().Warn(ctx, "ig summary unavailable for %s: %v", domain, err)
		}
	}

	prompt := b.buildPrompt(studyID, domain, profile, igSummary, agentCtx)
	out, err := b.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.GenerationFailed, "spec drafting failed"),
			errors.Fields{"domain": domain},
		)
	}

	var s spec.Spec
	if err := yaml.Unmarshal([]byte(stripFences(out)), &s); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.GenerationFailed, "drafted spec is not valid yaml"),
			errors.Fields{"domain": domain},
		)
	}
	s.StudyID = studyID
	s.Domain = domain
	s.Status = spec.StatusDraft
	return &s, nil
}

// profileRawData summarizes the raw dataset for the prompt: columns plus a
// few example values each.
func (b *SpecBuilder) profileRawData(ctx context.Context) (string, error) {
	if b.RawDataPath == "" {
		return "", errors.New(errors.InvalidInput, "raw data path is not configured")
	}
	ds, err := dataset.ReadFile(ctx, b.RawDataPath)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d rows, %d columns\n", len(ds.Rows), len(ds.Columns))
	for i, col := range ds.Columns {
		samples := make([]string, 0, 3)
		seen := make(map[string]bool)
		for _, row := range ds.Rows {
			v := row[i]
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			samples = append(samples, v)
			if len(samples) == 3 {
				break
			}
		}
		fmt.Fprintf(&sb, "- %s: e.g. %s\n", col, strings.Join(samples, ", "))
	}
	return sb.String(), nil
}

func (b *SpecBuilder) buildPrompt(studyID, domain, profile, igSummary string, agentCtx *memory.AgentContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Draft the mapping specification for the %s domain of study %s.\n\n", domain, studyID)

	sb.WriteString("Raw data profile:\n```\n")
	sb.WriteString(profile)
	sb.WriteString("```\n\n")

	if igSummary != "" {
		sb.WriteString("Implementation Guide summary for the domain:\n```\n")
		sb.WriteString(igSummary)
		sb.WriteString("\n```\n\n")
	}

	writeAgentContext(&sb, agentCtx)

	sb.WriteString(`Respond with only a yaml document shaped like:

variables:
  - name: USUBJID
    label: Unique Subject Identifier
    source: raw.SUBJID
    role: identifier
  - name: SEX
    source: raw.GENDER
    codelist: C66731
    needs_decision: true
    options:
      - id: sex_cdisc_submission
        kind: codelist
        description: map to CDISC submission values
        convention: true
      - id: sex_verbatim
        kind: codelist
        description: carry collected values verbatim

Flag a variable with needs_decision and concrete options whenever the
mapping is ambiguous; never silently pick one interpretation. Option kinds
are codelist, derivation, imputation or mapping.
`)
	return sb.String()
}

// SpecReviewer checks a drafted spec with the model and parses the verdict.
type SpecReviewer struct {
	llm Completer
}

func NewSpecReviewer(llm Completer) *SpecReviewer {
	return &SpecReviewer{llm: llm}
}

// Review asks for a structured verdict. The first line must be PASS or
// FAIL; subsequent "- " lines become review comments.
func (r *SpecReviewer) Review(ctx context.Context, s *spec.Spec) (*spec.Spec, error) {
	specYAML, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to render spec for review")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Review this draft mapping specification for the %s domain against the Implementation Guide and common mapping conventions.\n\n", s.Domain)
	sb.WriteString("```yaml\n")
	sb.Write(specYAML)
	sb.WriteString("```\n\n")
	sb.WriteString("Respond with PASS or FAIL on the first line, then one finding per line prefixed with \"- \". Findings are advisory; fail only for findings a submission reviewer would reject.\n")

	out, err := r.llm.Complete(ctx, sb.String())
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.GenerationFailed, "spec review failed"),
			errors.Fields{"domain": s.Domain},
		)
	}

	verdict, comments := parseVerdict(out)
	s.ReviewPass = verdict
	s.ReviewComments = comments
	return s, nil
}

func parseVerdict(out string) (bool, []string) {
	pass := false
	first := true
	var comments []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first {
			pass = strings.HasPrefix(strings.ToUpper(line), "PASS")
			first = false
			continue
		}
		if strings.HasPrefix(line, "- ") {
			comments = append(comments, strings.TrimPrefix(line, "- "))
		}
	}
	return pass, comments
}
