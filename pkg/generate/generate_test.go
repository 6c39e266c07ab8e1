package generate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/memory"
	"github.com/vikasgaddu1/sdtmforge/pkg/spec"
)

type scriptedCompleter struct {
	response string
	err      error
	prompts  []string
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.response, c.err
}

func minimalSpec() *spec.Spec {
	return &spec.Spec{
		StudyID: "STUDY-A",
		Domain:  "DM",
		Status:  spec.StatusApproved,
		Variables: []spec.Variable{
			{Name: "USUBJID", Source: "raw.SUBJID", Core: "required"},
			{Name: "SEX", Source: "raw.GENDER", Codelist: "C66731"},
		},
	}
}

func TestGenerateProgramStripsFences(t *testing.T) {
	llm := &scriptedCompleter{response: "```r\nlibrary(dplyr)\ndm <- read.csv(\"raw.csv\")\n```"}
	gen := NewProgramGenerator(llm, "production", "R")

	src, err := gen.GenerateProgram(context.Background(), minimalSpec(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "library(dplyr)\ndm <- read.csv(\"raw.csv\")\n", src)
}

func TestGenerateProgramPrependsHeader(t *testing.T) {
	llm := &scriptedCompleter{response: "library(dplyr)\n"}
	gen := NewProgramGenerator(llm, "qc", "R")

	agentCtx := &memory.AgentContext{ProgramHeader: "#' Program: dm_qc.R"}
	src, err := gen.GenerateProgram(context.Background(), minimalSpec(), agentCtx, "")
	require.NoError(t, err)
	assert.Equal(t, "#' Program: dm_qc.R\nlibrary(dplyr)\n", src)
}

func TestGenerateProgramPromptContent(t *testing.T) {
	llm := &scriptedCompleter{response: "x <- 1\n"}
	gen := NewProgramGenerator(llm, "qc", "R")
	gen.RawDataPath = "/data/raw_dm.csv"

	agentCtx := &memory.AgentContext{
		Standards: map[string]interface{}{"naming": "snake_case"},
		KnownPitfalls: []memory.PitfallRecord{{
			Category:    memory.CategoryGeneration,
			Severity:    memory.SeverityBlocker,
			Description: "AGE computed from visit date instead of reference start date",
		}},
	}

	_, err := gen.GenerateProgram(context.Background(), minimalSpec(), agentCtx, `Column "SEX": 2 mismatch(es)`)
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "name: USUBJID")
	assert.Contains(t, prompt, "/data/raw_dm.csv")
	assert.Contains(t, prompt, "naming: snake_case")
	assert.Contains(t, prompt, "AGE computed from visit date")
	assert.Contains(t, prompt, `Column "SEX": 2 mismatch(es)`)
	assert.Contains(t, prompt, "DISAGREES")
}

func TestGenerateProgramEmptyOutput(t *testing.T) {
	llm := &scriptedCompleter{response: "   \n"}
	gen := NewProgramGenerator(llm, "production", "R")

	_, err := gen.GenerateProgram(context.Background(), minimalSpec(), nil, "")
	require.Error(t, err)
	assert.Equal(t, errors.GenerationFailed, errors.CodeOf(err))
}

const draftYAML = `
variables:
  - name: USUBJID
    label: Unique Subject Identifier
    source: raw.SUBJID
  - name: SEX
    source: raw.GENDER
    needs_decision: true
    options:
      - id: sex_cdisc_submission
        kind: codelist
        convention: true
      - id: sex_verbatim
        kind: codelist
`

func TestBuildDraft(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw_dm.csv")
	require.NoError(t, os.WriteFile(raw,
		[]byte("SUBJID,GENDER,BRTHDT\n001,Male,1980-04-02\n002,F,1975-11-19\n"), 0644))

	llm := &scriptedCompleter{response: "```yaml\n" + draftYAML + "```"}
	builder := NewSpecBuilder(llm, raw)

	draft, err := builder.BuildDraft(context.Background(), "STUDY-A", "DM", nil)
	require.NoError(t, err)
	assert.Equal(t, "STUDY-A", draft.StudyID)
	assert.Equal(t, spec.StatusDraft, draft.Status)
	require.Len(t, draft.Variables, 2)
	assert.True(t, draft.Variables[1].NeedsDecision)

	// Prompt carried the raw profile.
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "GENDER")
	assert.Contains(t, llm.prompts[0], "Male")
}

func TestBuildDraftRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw_dm.csv")
	require.NoError(t, os.WriteFile(raw, []byte("SUBJID\n001\n"), 0644))

	llm := &scriptedCompleter{response: "sorry, I cannot do that"}
	_, err := NewSpecBuilder(llm, raw).BuildDraft(context.Background(), "STUDY-A", "DM", nil)
	require.Error(t, err)
	assert.Equal(t, errors.GenerationFailed, errors.CodeOf(err))
}

func TestReviewVerdictParsing(t *testing.T) {
	t.Run("pass", func(t *testing.T) {
		llm := &scriptedCompleter{response: "PASS\n- consider adding AGEU"}
		s, err := NewSpecReviewer(llm).Review(context.Background(), minimalSpec())
		require.NoError(t, err)
		assert.True(t, s.ReviewPass)
		assert.Equal(t, []string{"consider adding AGEU"}, s.ReviewComments)
	})

	t.Run("fail with findings", func(t *testing.T) {
		llm := &scriptedCompleter{response: "FAIL\n- RACE is missing\n- SEX codelist not referenced"}
		s, err := NewSpecReviewer(llm).Review(context.Background(), minimalSpec())
		require.NoError(t, err)
		assert.False(t, s.ReviewPass)
		assert.Len(t, s.ReviewComments, 2)
	})
}

func TestRuleValidator(t *testing.T) {
	dir := t.TempDir()
	ct := filepath.Join(dir, "ct_lookup.csv")
	require.NoError(t, os.WriteFile(ct, []byte(
		"CODELIST,RAW_VALUE,CT_VALUE\nC66731,Male,M\nC66731,Female,F\n"), 0644))

	v, err := NewRuleValidator(context.Background(), ct)
	require.NoError(t, err)

	t.Run("clean dataset passes", func(t *testing.T) {
		path := filepath.Join(dir, "dm.csv")
		require.NoError(t, os.WriteFile(path, []byte("USUBJID,SEX\n001,M\n002,F\n"), 0644))

		report, err := v.Validate(context.Background(), path, minimalSpec())
		require.NoError(t, err)
		assert.True(t, report.Pass)
		assert.Empty(t, report.Issues)
	})

	t.Run("findings aggregate", func(t *testing.T) {
		path := filepath.Join(dir, "dm_bad.csv")
		require.NoError(t, os.WriteFile(path, []byte("USUBJID,SEX\n001,Male\n,F\n"), 0644))

		report, err := v.Validate(context.Background(), path, minimalSpec())
		require.NoError(t, err)
		assert.False(t, report.Pass)
		require.Len(t, report.Issues, 2)
		assert.Contains(t, report.Issues[0], "USUBJID is empty")
		assert.Contains(t, report.Issues[1], `"Male" not in codelist C66731`)
	})

	t.Run("missing variable reported", func(t *testing.T) {
		path := filepath.Join(dir, "dm_noSex.csv")
		require.NoError(t, os.WriteFile(path, []byte("USUBJID\n001\n"), 0644))

		report, err := v.Validate(context.Background(), path, minimalSpec())
		require.NoError(t, err)
		assert.False(t, report.Pass)
		assert.Contains(t, report.Issues[0], "SEX missing")
	})
}

func TestLanguageForInterpreter(t *testing.T) {
	assert.Equal(t, "R", LanguageForInterpreter("Rscript"))
	assert.Equal(t, "R", LanguageForInterpreter(""))
	assert.Equal(t, "Python", LanguageForInterpreter("python3"))
	assert.Equal(t, "Python", LanguageForInterpreter("/usr/bin/Python"))
}

func TestScriptExecutor(t *testing.T) {
	dir := t.TempDir()
	exec := NewScriptExecutor("sh", dir)

	t.Run("captures stdout", func(t *testing.T) {
		script := filepath.Join(dir, "ok.sh")
		require.NoError(t, os.WriteFile(script, []byte("echo dataset written\n"), 0755))

		result, err := exec.Execute(context.Background(), script)
		require.NoError(t, err)
		assert.Contains(t, result.Stdout, "dataset written")
	})

	t.Run("failure keeps stderr", func(t *testing.T) {
		script := filepath.Join(dir, "boom.sh")
		require.NoError(t, os.WriteFile(script, []byte("echo \"object 'dm' not found\" 1>&2\nexit 1\n"), 0755))

		result, err := exec.Execute(context.Background(), script)
		require.Error(t, err)
		assert.Equal(t, errors.ExecutionFailed, errors.CodeOf(err))
		assert.Contains(t, result.Stderr, "object 'dm' not found")
	})
}
