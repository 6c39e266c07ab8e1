package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

func newTestManager(t *testing.T) (*Manager, string, string) {
	t.Helper()
	root := t.TempDir()
	standards := filepath.Join(root, "standards")
	study := filepath.Join(root, "studies", "STUDY-A")
	require.NoError(t, os.MkdirAll(standards, 0755))
	require.NoError(t, os.MkdirAll(study, 0755))
	return NewManager(standards, study, "STUDY-A"), standards, study
}

func TestRecordAndQueryDecisions(t *testing.T) {
	m, _, _ := newTestManager(t)

	first := &DecisionRecord{
		Domain:       "DM",
		Variable:     "SEX",
		Choice:       "sex_cdisc_submission",
		Alternatives: []string{"sex_cdisc_submission", "sex_verbatim"},
		Provenance:   "convention",
		Timestamp:    "2026-01-01T10:00:00Z",
	}
	require.NoError(t, m.RecordDecision(first))

	second := &DecisionRecord{
		Domain:       "DM",
		Variable:     "RACE",
		Choice:       "race_collapse",
		Alternatives: []string{"race_collapse", "race_verbatim"},
		Provenance:   "manual",
		Timestamp:    "2026-02-01T10:00:00Z",
	}
	require.NoError(t, m.RecordDecision(second))

	t.Run("records are stamped", func(t *testing.T) {
		assert.NotEmpty(t, first.ID)
		assert.Equal(t, OutcomePending, first.Outcome)
		assert.Equal(t, "STUDY-A", first.StudyID)
	})

	t.Run("history is most recent first", func(t *testing.T) {
		history, err := m.GetDecisionHistory("DM", "")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "RACE", history[0].Variable)
		assert.Equal(t, "SEX", history[1].Variable)
	})

	t.Run("variable filter", func(t *testing.T) {
		history, err := m.GetDecisionHistory("DM", "SEX")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "sex_cdisc_submission", history[0].Choice)
	})

	t.Run("other domain is empty", func(t *testing.T) {
		history, err := m.GetDecisionHistory("AE", "")
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestUpdateDecisionOutcomes(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.RecordDecision(&DecisionRecord{Domain: "DM", Variable: "SEX", Choice: "a"}))
	require.NoError(t, m.RecordDecision(&DecisionRecord{Domain: "AE", Variable: "AESEV", Choice: "b"}))

	require.NoError(t, m.UpdateDecisionOutcomes("DM", OutcomeSuccess))

	dm, err := m.GetDecisionHistory("DM", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, dm[0].Outcome)

	// Other domain stays pending
	ae, err := m.GetDecisionHistory("AE", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, ae[0].Outcome)

	t.Run("terminal outcome is not overwritten", func(t *testing.T) {
		require.NoError(t, m.UpdateDecisionOutcomes("DM", OutcomeMismatch))
		dm, err := m.GetDecisionHistory("DM", "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, dm[0].Outcome)
	})

	t.Run("identity fields unchanged after update", func(t *testing.T) {
		dm, err := m.GetDecisionHistory("DM", "")
		require.NoError(t, err)
		assert.Equal(t, "SEX", dm[0].Variable)
		assert.Equal(t, "STUDY-A", dm[0].StudyID)
		assert.NotEmpty(t, dm[0].Timestamp)
	})
}

func TestPitfallMergedView(t *testing.T) {
	m, standards, _ := newTestManager(t)

	// Organization tier record, written the way the promotion scanner does
	orgDoc := pitfallsDoc{Pitfalls: []PitfallRecord{
		{Category: CategoryVocabulary, Domain: DomainAny, Description: "codelist version drift", Severity: SeverityInfo, StudyID: "STUDY-OLD"},
	}}
	require.NoError(t, saveYAML(filepath.Join(standards, "memory", pitfallsFile), orgDoc))

	require.NoError(t, m.RecordPitfall(&PitfallRecord{
		Category: CategoryGeneration, Domain: "DM",
		Description: "script referenced missing raw column", Severity: SeverityWarning,
	}))
	require.NoError(t, m.RecordPitfall(&PitfallRecord{
		Category: CategoryConvergence, Domain: "DM",
		Description: "SEX codelist mismatch", Severity: SeverityBlocker,
	}))

	t.Run("most severe first, both tiers", func(t *testing.T) {
		pitfalls, err := m.GetRelevantPitfalls("DM", "")
		require.NoError(t, err)
		require.Len(t, pitfalls, 3)
		assert.Equal(t, SeverityBlocker, pitfalls[0].Severity)
		assert.Equal(t, SeverityWarning, pitfalls[1].Severity)
		assert.Equal(t, SeverityInfo, pitfalls[2].Severity)
	})

	t.Run("category filter", func(t *testing.T) {
		pitfalls, err := m.GetRelevantPitfalls("DM", CategoryConvergence)
		require.NoError(t, err)
		require.Len(t, pitfalls, 1)
		assert.Equal(t, "SEX codelist mismatch", pitfalls[0].Description)
	})

	t.Run("wildcard org record applies to every domain", func(t *testing.T) {
		pitfalls, err := m.GetRelevantPitfalls("AE", "")
		require.NoError(t, err)
		require.Len(t, pitfalls, 1)
		assert.Equal(t, CategoryVocabulary, pitfalls[0].Category)
	})
}

func TestUpdatePitfallResolution(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.RecordPitfall(&PitfallRecord{
		Category: CategoryGeneration, Domain: "DM",
		Description: "qc script failed: object 'dm_raw' not found",
	}))

	require.NoError(t, m.UpdatePitfallResolution("DM", "object 'dm_raw' not found", "fixed raw dataset path in memory context"))

	pitfalls, err := m.GetRelevantPitfalls("DM", "")
	require.NoError(t, err)
	assert.Equal(t, "fixed raw dataset path in memory context", pitfalls[0].Resolution)
}

func TestDomainContext(t *testing.T) {
	m, _, _ := newTestManager(t)

	t.Run("absence is an explicit signal", func(t *testing.T) {
		_, err := m.GetDomainContext("DM")
		require.Error(t, err)
		assert.Equal(t, errors.NoDomainContext, errors.CodeOf(err))
	})

	require.NoError(t, m.SaveDomainContext(DomainContext{
		Domain:           "DM",
		KeyDecisions:     map[string]string{"SEX": "sex_cdisc_submission"},
		DerivedVariables: []string{"AGE"},
	}))

	t.Run("snapshot round trip", func(t *testing.T) {
		ctx, err := m.GetDomainContext("DM")
		require.NoError(t, err)
		assert.Equal(t, []string{"AGE"}, ctx.DerivedVariables)
		assert.Equal(t, "STUDY-A", ctx.StudyID)
		assert.NotEmpty(t, ctx.Timestamp)
	})

	t.Run("rerun overwrites not versions", func(t *testing.T) {
		require.NoError(t, m.SaveDomainContext(DomainContext{
			Domain:           "DM",
			DerivedVariables: []string{"AGE", "AGEU"},
		}))
		all, err := m.GetAllDomainContexts()
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, []string{"AGE", "AGEU"}, all["DM"].DerivedVariables)
	})
}

func TestBuildAgentContext(t *testing.T) {
	m, standards, _ := newTestManager(t)

	require.NoError(t, os.MkdirAll(filepath.Join(standards, "memory"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(standards, "coding_standards.yaml"),
		[]byte("style:\n  naming: snake_case\n"), 0644))
	require.NoError(t, os.WriteFile(
		filepath.Join(standards, "memory", "program_header_template.txt"),
		[]byte("#' Program: {program_name}\n#' Study: {study_id}\n{modification_history}\n"), 0644))

	require.NoError(t, m.RecordPitfall(&PitfallRecord{
		Category: CategoryGeneration, Domain: "DM", Description: "bad path", Severity: SeverityBlocker,
	}))
	require.NoError(t, m.RecordDecision(&DecisionRecord{Domain: "DM", Variable: "SEX", Choice: "a"}))

	t.Run("production stage gets header and generation pitfalls", func(t *testing.T) {
		ctx, err := m.BuildAgentContext("DM", "production", "STUDY-A", "dm_production.R")
		require.NoError(t, err)
		assert.Contains(t, ctx.ProgramHeader, "Program: dm_production.R")
		assert.Contains(t, ctx.ProgramHeader, "Study: STUDY-A")
		assert.Contains(t, ctx.ProgramHeader, "Initial creation")
		require.Len(t, ctx.KnownPitfalls, 1)
		assert.Empty(t, ctx.PastDecisions)
	})

	t.Run("spec_build stage gets decisions and all pitfalls", func(t *testing.T) {
		ctx, err := m.BuildAgentContext("DM", "spec_build", "STUDY-A", "")
		require.NoError(t, err)
		assert.Len(t, ctx.PastDecisions, 1)
		assert.Len(t, ctx.KnownPitfalls, 1)
		assert.Empty(t, ctx.ProgramHeader)
	})

	t.Run("standards always included", func(t *testing.T) {
		ctx, err := m.BuildAgentContext("DM", "human_review", "STUDY-A", "")
		require.NoError(t, err)
		assert.Contains(t, ctx.Standards, "style")
	})
}

func TestModificationHistory(t *testing.T) {
	m, _, _ := newTestManager(t)

	history, err := m.ModificationHistory("dm_production.R")
	require.NoError(t, err)
	assert.Contains(t, history, "Initial creation")

	require.NoError(t, m.RecordModification("dm_production.R", "Production Agent", "Generated from approved spec"))
	require.NoError(t, m.RecordModification("dm_production.R", "Production Agent", "Regenerated after mismatch"))

	history, err = m.ModificationHistory("dm_production.R")
	require.NoError(t, err)
	assert.Contains(t, history, "Generated from approved spec")
	assert.Contains(t, history, "Regenerated after mismatch")
}

func TestCorruptStoreSurfaces(t *testing.T) {
	m, _, study := newTestManager(t)
	path := filepath.Join(study, "memory", pitfallsFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("pitfalls: [unclosed"), 0644))

	_, err := m.GetRelevantPitfalls("DM", "")
	require.Error(t, err)
	assert.Equal(t, errors.RecordStoreCorrupt, errors.CodeOf(err))
}
