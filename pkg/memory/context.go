package memory

import (
	"fmt"
	"strings"
	"time"
)

// AgentContext is the memory bundle assembled for one stage's generation
// step. This is the single integration seam between memory and the
// generation/execution collaborators: each stage receives exactly the
// subset of records relevant to it, nothing more.
type AgentContext struct {
	Standards      map[string]interface{}
	ProgramHeader  string
	KnownPitfalls  []PitfallRecord
	PastDecisions  []DecisionRecord
	CrossDomain    map[string]DomainContext
	Domain         string
	Stage          string
	StudyID        string
	ArtifactName   string
}

// BuildAgentContext assembles the stage-appropriate memory slice.
// Stage names match the pipeline stage identifiers.
func (m *Manager) BuildAgentContext(domain, stage, studyID, artifactName string) (*AgentContext, error) {
	standards, err := m.CodingStandards()
	if err != nil {
		return nil, err
	}

	ctx := &AgentContext{
		Standards:    standards,
		Domain:       domain,
		Stage:        stage,
		StudyID:      studyID,
		ArtifactName: artifactName,
	}

	switch stage {
	case "production", "qc":
		author := "Production Programmer Agent (AI-generated)"
		if stage == "qc" {
			author = "QC Programmer Agent (AI-generated)"
		}
		history, err := m.ModificationHistory(artifactName)
		if err != nil {
			return nil, err
		}
		header, err := m.ProgramHeader(map[string]string{
			"program_name":         artifactName,
			"description":          fmt.Sprintf("%s %s program", domain, stage),
			"domain":               domain,
			"study_id":             studyID,
			"author":               author,
			"creation_date":        time.Now().UTC().Format("2006-01-02"),
			"modification_history": history,
			"input_datasets":       fmt.Sprintf("raw_%s.csv", strings.ToLower(domain)),
			"output_datasets":      fmt.Sprintf("%s.parquet", strings.ToLower(domain)),
		})
		if err != nil {
			return nil, err
		}
		ctx.ProgramHeader = header

		if ctx.KnownPitfalls, err = m.GetRelevantPitfalls(domain, CategoryGeneration); err != nil {
			return nil, err
		}
		if ctx.CrossDomain, err = m.GetAllDomainContexts(); err != nil {
			return nil, err
		}

	case "spec_build":
		if ctx.PastDecisions, err = m.GetDecisionHistory(domain, ""); err != nil {
			return nil, err
		}
		if ctx.KnownPitfalls, err = m.GetRelevantPitfalls(domain, ""); err != nil {
			return nil, err
		}

	case "validate":
		if ctx.KnownPitfalls, err = m.GetRelevantPitfalls(domain, CategoryValidation); err != nil {
			return nil, err
		}
		if ctx.PastDecisions, err = m.GetDecisionHistory(domain, ""); err != nil {
			return nil, err
		}

	case "human_review":
		if ctx.PastDecisions, err = m.GetDecisionHistory(domain, ""); err != nil {
			return nil, err
		}
		if ctx.CrossDomain, err = m.GetAllDomainContexts(); err != nil {
			return nil, err
		}
	}

	return ctx, nil
}
