package generate

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
	"github.com/vikasgaddu1/sdtmforge/pkg/memory"
	"github.com/vikasgaddu1/sdtmforge/pkg/spec"
)

// ProgramGenerator produces transformation programs from an approved spec.
// Production and qc runs use two independent instances so the candidates
// stay genuinely independent; only the side label and prompt framing differ.
type ProgramGenerator struct {
	llm  Completer
	side string // "production" or "qc"

	// Language the emitted program targets, e.g. "R".
	language string

	// RawDataPath is injected into the prompt so the program reads the
	// right input.
	RawDataPath string

	// OutputPath is where the program must write its dataset.
	OutputPath string
}

// NewProgramGenerator builds a generator for one candidate side.
func NewProgramGenerator(llm Completer, side, language string) *ProgramGenerator {
	if language == "" {
		language = "R"
	}
	return &ProgramGenerator{llm: llm, side: side, language: language}
}

// GenerateProgram renders the generation prompt and returns the program
// source. A non-empty diffReport switches the prompt into regeneration
// mode: the program must change so its output matches the reference.
func (g *ProgramGenerator) GenerateProgram(ctx context.Context, s *spec.Spec, agentCtx *memory.AgentContext, diffReport string) (string, error) {
	prompt, err := g.buildPrompt(s, agentCtx, diffReport)
	if err != nil {
		return "", err
	}

	logging.GetLogger().Debug(ctx, "generating %s program for %s (%d prompt bytes)",
		g.side, s.Domain, len(prompt))

	out, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.GenerationFailed, "program generation failed"),
			errors.Fields{"side": g.side, "domain": s.Domain},
		)
	}

	src := stripFences(out)
	if strings.TrimSpace(src) == "" {
		return "", errors.WithFields(
			errors.New(errors.GenerationFailed, "generator returned an empty program"),
			errors.Fields{"side": g.side, "domain": s.Domain},
		)
	}
	if agentCtx != nil && agentCtx.ProgramHeader != "" && !strings.HasPrefix(src, "#") {
		src = agentCtx.ProgramHeader + "\n" + src
	}
	return src, nil
}

func (g *ProgramGenerator) buildPrompt(s *spec.Spec, agentCtx *memory.AgentContext, diffReport string) (string, error) {
	specYAML, err := yaml.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, errors.Unknown, "failed to render spec for prompt")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are writing the %s %s transformation program for the %s domain of study %s.\n\n",
		g.side, g.language, s.Domain, s.StudyID)

	b.WriteString("Mapping specification (authoritative, follow it exactly):\n```yaml\n")
	b.Write(specYAML)
	b.WriteString("```\n\n")

	if g.RawDataPath != "" {
		fmt.Fprintf(&b, "Read the raw data from: %s\n", g.RawDataPath)
	}
	if g.OutputPath != "" {
		fmt.Fprintf(&b, "Write the output dataset to: %s\n", g.OutputPath)
	}
	b.WriteString("\n")

	writeAgentContext(&b, agentCtx)

	if diffReport != "" {
		b.WriteString("The previous version of this program produced output that DISAGREES with the reference implementation. ")
		b.WriteString("Fix the program so the differences below disappear. Do not change anything the report does not mention.\n\n")
		b.WriteString("Comparison report:\n```\n")
		b.WriteString(diffReport)
		b.WriteString("\n```\n\n")
	}

	fmt.Fprintf(&b, "Respond with only the complete %s program, no commentary.\n", g.language)
	return b.String(), nil
}

// writeAgentContext renders the memory bundle into prompt sections. Empty
// sections are skipped entirely.
func writeAgentContext(b *strings.Builder, agentCtx *memory.AgentContext) {
	if agentCtx == nil {
		return
	}

	if agentCtx.ProgramHeader != "" {
		b.WriteString("Start the program with this header:\n```\n")
		b.WriteString(agentCtx.ProgramHeader)
		b.WriteString("\n```\n\n")
	}

	if len(agentCtx.Standards) > 0 {
		if raw, err := yaml.Marshal(agentCtx.Standards); err == nil {
			b.WriteString("Follow these coding standards:\n```yaml\n")
			b.Write(raw)
			b.WriteString("```\n\n")
		}
	}

	if len(agentCtx.KnownPitfalls) > 0 {
		b.WriteString("Known pitfalls from earlier runs, avoid repeating them:\n")
		for _, p := range agentCtx.KnownPitfalls {
			fmt.Fprintf(b, "- [%s/%s] %s", p.Severity, p.Category, p.Description)
			if p.Resolution != "" {
				fmt.Fprintf(b, " (resolution: %s)", p.Resolution)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(agentCtx.PastDecisions) > 0 {
		b.WriteString("Decisions already made for this study:\n")
		for _, d := range agentCtx.PastDecisions {
			fmt.Fprintf(b, "- %s.%s: %s (%s)\n", d.Domain, d.Variable, d.Choice, d.Provenance)
		}
		b.WriteString("\n")
	}

	if len(agentCtx.CrossDomain) > 0 {
		b.WriteString("Context from domains already completed in this study:\n")
		for domain, dc := range agentCtx.CrossDomain {
			fmt.Fprintf(b, "- %s: %d decision(s), derived variables %s\n",
				domain, len(dc.KeyDecisions), strings.Join(dc.DerivedVariables, ", "))
		}
		b.WriteString("\n")
	}
}
