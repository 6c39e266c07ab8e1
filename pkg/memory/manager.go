package memory

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// DomainAny matches every domain when used on a record, so promoted
// organization-wide pitfalls can apply across domains.
const DomainAny = "*"

// Manager presents the single merged read view over the organization and
// study record tiers and owns the only write path used during a run.
// Writes always land in the study tier; the organization tier is written
// only by the promotion scanner.
type Manager struct {
	standardsDir string
	studyDir     string
	studyID      string
}

// NewManager creates a manager for one study. standardsDir is the
// organization tier root; studyDir is the study's own directory.
func NewManager(standardsDir, studyDir, studyID string) *Manager {
	return &Manager{
		standardsDir: standardsDir,
		studyDir:     studyDir,
		studyID:      studyID,
	}
}

func (m *Manager) standardsMemory() string {
	return filepath.Join(m.standardsDir, "memory")
}

func (m *Manager) studyMemory() string {
	return filepath.Join(m.studyDir, "memory")
}

// GetRelevantPitfalls returns organization plus study pitfalls for a
// domain, optionally filtered by category, most severe first. Study
// records sort before organization records within the same severity, as
// they are more specific to the work at hand.
func (m *Manager) GetRelevantPitfalls(domain string, category PitfallCategory) ([]PitfallRecord, error) {
	study, err := loadPitfalls(filepath.Join(m.studyMemory(), pitfallsFile))
	if err != nil {
		return nil, err
	}
	org, err := loadPitfalls(filepath.Join(m.standardsMemory(), pitfallsFile))
	if err != nil {
		return nil, err
	}

	merged := make([]PitfallRecord, 0, len(study)+len(org))
	merged = append(merged, study...)
	merged = append(merged, org...)

	var result []PitfallRecord
	for _, p := range merged {
		if p.Domain != domain && p.Domain != DomainAny {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		result = append(result, p)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return severityRank(result[i].Severity) < severityRank(result[j].Severity)
	})
	return result, nil
}

// GetDecisionHistory returns prior decisions for a domain, optionally for
// one variable, most recent first.
func (m *Manager) GetDecisionHistory(domain, variable string) ([]DecisionRecord, error) {
	records, err := loadDecisions(filepath.Join(m.studyMemory(), decisionsFile))
	if err != nil {
		return nil, err
	}

	var result []DecisionRecord
	for _, r := range records {
		if r.Domain != domain {
			continue
		}
		if variable != "" && r.Variable != variable {
			continue
		}
		result = append(result, r)
	}

	// RFC3339 timestamps sort lexically
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp > result[j].Timestamp
	})
	return result, nil
}

// GetDomainContext returns the latest snapshot for one domain. A domain
// that has not completed a run yields an explicit NoDomainContext error,
// never an empty snapshot, so consumers can warn instead of assuming.
func (m *Manager) GetDomainContext(domain string) (*DomainContext, error) {
	all, err := m.GetAllDomainContexts()
	if err != nil {
		return nil, err
	}
	ctx, ok := all[domain]
	if !ok {
		return nil, errors.WithFields(
			errors.New(errors.NoDomainContext, "no context snapshot exists for domain"),
			errors.Fields{"domain": domain},
		)
	}
	return &ctx, nil
}

// GetAllDomainContexts returns every snapshot recorded for this study.
func (m *Manager) GetAllDomainContexts() (map[string]DomainContext, error) {
	var doc contextsDoc
	if err := loadYAML(filepath.Join(m.studyMemory(), contextsFile), &doc); err != nil {
		return nil, err
	}
	if doc.Domains == nil {
		return map[string]DomainContext{}, nil
	}
	return doc.Domains, nil
}

// RecordDecision appends a decision record to the study store. The record
// is stamped with an ID, timestamp, study and a pending outcome.
func (m *Manager) RecordDecision(r *DecisionRecord) error {
	if m.studyDir == "" {
		return errors.New(errors.InvalidInput, "manager has no study directory to write to")
	}
	r.stamp(m.studyID)

	path := filepath.Join(m.studyMemory(), decisionsFile)
	var doc decisionsDoc
	if err := loadYAML(path, &doc); err != nil {
		return err
	}
	doc.Decisions = append(doc.Decisions, *r)
	return saveYAML(path, doc)
}

// RecordPitfall appends a pitfall record to the study store.
func (m *Manager) RecordPitfall(r *PitfallRecord) error {
	if m.studyDir == "" {
		return errors.New(errors.InvalidInput, "manager has no study directory to write to")
	}
	r.stamp(m.studyID)

	path := filepath.Join(m.studyMemory(), pitfallsFile)
	var doc pitfallsDoc
	if err := loadYAML(path, &doc); err != nil {
		return err
	}
	doc.Pitfalls = append(doc.Pitfalls, *r)
	return saveYAML(path, doc)
}

// UpdateDecisionOutcomes moves every still-pending decision for a domain to
// its terminal outcome. This is the single permitted mutation of a decision
// record; already-terminal records are left untouched.
func (m *Manager) UpdateDecisionOutcomes(domain string, outcome Outcome) error {
	path := filepath.Join(m.studyMemory(), decisionsFile)
	var doc decisionsDoc
	if err := loadYAML(path, &doc); err != nil {
		return err
	}

	changed := false
	for i := range doc.Decisions {
		if doc.Decisions[i].Domain == domain && doc.Decisions[i].Outcome == OutcomePending {
			doc.Decisions[i].Outcome = outcome
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return saveYAML(path, doc)
}

// UpdatePitfallResolution adds a resolution to matching unresolved pitfalls
// once the cause is fixed. Matching is by domain plus description substring.
func (m *Manager) UpdatePitfallResolution(domain, descriptionMatch, resolution string) error {
	path := filepath.Join(m.studyMemory(), pitfallsFile)
	var doc pitfallsDoc
	if err := loadYAML(path, &doc); err != nil {
		return err
	}

	changed := false
	for i := range doc.Pitfalls {
		p := &doc.Pitfalls[i]
		if p.Domain == domain && p.Resolution == "" && strings.Contains(p.Description, descriptionMatch) {
			p.Resolution = resolution
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return saveYAML(path, doc)
}

// SaveDomainContext writes or replaces a domain's snapshot.
func (m *Manager) SaveDomainContext(ctx DomainContext) error {
	if m.studyDir == "" {
		return errors.New(errors.InvalidInput, "manager has no study directory to write to")
	}
	if ctx.Timestamp == "" {
		ctx.Timestamp = nowStamp()
	}
	if ctx.StudyID == "" {
		ctx.StudyID = m.studyID
	}

	path := filepath.Join(m.studyMemory(), contextsFile)
	var doc contextsDoc
	if err := loadYAML(path, &doc); err != nil {
		return err
	}
	if doc.Domains == nil {
		doc.Domains = make(map[string]DomainContext)
	}
	doc.Domains[ctx.Domain] = ctx
	return saveYAML(path, doc)
}

// CodingStandards loads the organization coding standards document.
func (m *Manager) CodingStandards() (map[string]interface{}, error) {
	standards := make(map[string]interface{})
	err := loadYAML(filepath.Join(m.standardsDir, "coding_standards.yaml"), &standards)
	return standards, err
}

// ProgramHeader renders the organization header template with the given
// fields. Returns "" when no template is installed.
func (m *Manager) ProgramHeader(fields map[string]string) (string, error) {
	path := filepath.Join(m.standardsMemory(), "program_header_template.txt")
	data, err := loadTemplate(path)
	if err != nil || data == "" {
		return "", err
	}

	if _, ok := fields["modification_history"]; !ok {
		fields["modification_history"] = "#'          |          | Initial creation"
	}

	header := data
	for key, value := range fields {
		header = strings.ReplaceAll(header, "{"+key+"}", value)
	}
	return header, nil
}

// RecordModification appends a modification-history entry for a program.
func (m *Manager) RecordModification(program, author, description string) error {
	path := filepath.Join(m.studyMemory(), historyFile)
	var doc historyDoc
	if err := loadYAML(path, &doc); err != nil {
		return err
	}
	if doc.Programs == nil {
		doc.Programs = make(map[string][]ModificationEntry)
	}
	doc.Programs[program] = append(doc.Programs[program], ModificationEntry{
		Date:        time.Now().UTC().Format("2006-01-02"),
		Author:      author,
		Description: description,
	})
	return saveYAML(path, doc)
}

// ModificationHistory formats a program's history for header injection.
func (m *Manager) ModificationHistory(program string) (string, error) {
	var doc historyDoc
	if err := loadYAML(filepath.Join(m.studyMemory(), historyFile), &doc); err != nil {
		return "", err
	}
	entries := doc.Programs[program]
	if len(entries) == 0 {
		return "#'          |          | Initial creation", nil
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("#' %-9s| %-9s| %s", e.Date, e.Author, e.Description))
	}
	return strings.Join(lines, "\n"), nil
}
