package memory

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// PromotionCandidate is a pitfall pattern observed in two or more distinct
// studies. RootCause comes from the earliest occurrence on record.
type PromotionCandidate struct {
	Category      PitfallCategory
	Description   string
	Normalized    string
	Studies       []string
	Occurrences   []PitfallRecord
	FirstObserved PitfallRecord
}

// Scanner detects recurring pitfall patterns across every study under the
// project root and, under explicit human approval, promotes them into the
// organization store. It runs independently of any pipeline execution and
// is the only writer of the organization tier.
type Scanner struct {
	studiesDir   string
	standardsDir string
}

func NewScanner(studiesDir, standardsDir string) *Scanner {
	return &Scanner{studiesDir: studiesDir, standardsDir: standardsDir}
}

var (
	foldCaser  = cases.Fold()
	digitRuns  = regexp.MustCompile(`\d+`)
	spaceRuns  = regexp.MustCompile(`\s+`)
)

// normalizeDescription collapses incidental variation so that the same
// failure reported with different row counts, attempt numbers or casing
// groups together: unicode NFKC + case fold, digit runs to '#', whitespace
// runs to a single space.
func normalizeDescription(s string) string {
	s = norm.NFKC.String(s)
	s = foldCaser.String(s)
	s = digitRuns.ReplaceAllString(s, "#")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

type studyPitfalls struct {
	study    string
	pitfalls []PitfallRecord
}

// PromotablePatterns scans every study-level pitfall store and returns the
// patterns seen in 2 or more distinct studies. Stores are read in parallel;
// this is safe because scans are read-only and runs never write another
// study's tier.
func (s *Scanner) PromotablePatterns() ([]PromotionCandidate, error) {
	entries, err := os.ReadDir(s.studiesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.Unknown, "failed to list studies directory")
	}

	p := pool.NewWithResults[studyPitfalls]().WithErrors().WithMaxGoroutines(8)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		study := entry.Name()
		path := filepath.Join(s.studiesDir, study, "memory", pitfallsFile)
		p.Go(func() (studyPitfalls, error) {
			pitfalls, err := loadPitfalls(path)
			if err != nil {
				return studyPitfalls{}, err
			}
			return studyPitfalls{study: study, pitfalls: pitfalls}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	// Deterministic grouping regardless of goroutine completion order.
	sort.Slice(results, func(i, j int) bool { return results[i].study < results[j].study })

	type key struct {
		category   PitfallCategory
		normalized string
	}
	groups := make(map[key][]PitfallRecord)
	groupStudies := make(map[key]map[string]bool)

	for _, sp := range results {
		for _, rec := range sp.pitfalls {
			k := key{rec.Category, normalizeDescription(rec.Description)}
			groups[k] = append(groups[k], rec)
			if groupStudies[k] == nil {
				groupStudies[k] = make(map[string]bool)
			}
			groupStudies[k][sp.study] = true
		}
	}

	var candidates []PromotionCandidate
	for k, occurrences := range groups {
		if len(groupStudies[k]) < 2 {
			continue
		}

		studies := make([]string, 0, len(groupStudies[k]))
		for study := range groupStudies[k] {
			studies = append(studies, study)
		}
		sort.Strings(studies)

		first := occurrences[0]
		for _, o := range occurrences[1:] {
			if o.Timestamp < first.Timestamp {
				first = o
			}
		}

		candidates = append(candidates, PromotionCandidate{
			Category:      k.category,
			Description:   first.Description,
			Normalized:    k.normalized,
			Studies:       studies,
			Occurrences:   occurrences,
			FirstObserved: first,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Category != candidates[j].Category {
			return candidates[i].Category < candidates[j].Category
		}
		return candidates[i].Normalized < candidates[j].Normalized
	})
	return candidates, nil
}

// PendingPromotions returns the candidates not yet present in the
// organization store.
func (s *Scanner) PendingPromotions() ([]PromotionCandidate, error) {
	promoted, err := loadPitfalls(filepath.Join(s.standardsDir, "memory", pitfallsFile))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(promoted))
	for _, p := range promoted {
		seen[string(p.Category)+"\x1f"+normalizeDescription(p.Description)] = true
	}

	candidates, err := s.PromotablePatterns()
	if err != nil {
		return nil, err
	}

	var pending []PromotionCandidate
	for _, c := range candidates {
		if !seen[string(c.Category)+"\x1f"+c.Normalized] {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// Promote appends a copy of a study-level pitfall to the organization
// store, stamped with the approver and promotion date. The original
// study-level record is left untouched. An empty approver is rejected:
// promotion is never automatic.
func (s *Scanner) Promote(record PitfallRecord, approvedBy string) error {
	if approvedBy == "" {
		return errors.New(errors.InvalidInput, "promotion requires an explicit approver identity")
	}

	record.Promotion = PromotionPromoted
	record.PromotedBy = approvedBy
	record.PromotedDate = nowStamp()

	path := filepath.Join(s.standardsDir, "memory", pitfallsFile)
	var doc pitfallsDoc
	if err := loadYAML(path, &doc); err != nil {
		return err
	}
	doc.Pitfalls = append(doc.Pitfalls, record)
	return saveYAML(path, doc)
}
