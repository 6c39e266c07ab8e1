package memory

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// File names within a memory directory. The same names are used at both
// tiers so the merged view only differs in which directories it reads.
const (
	decisionsFile = "decisions.yaml"
	pitfallsFile  = "pitfalls.yaml"
	contextsFile  = "domain_context.yaml"
	historyFile   = "modification_history.yaml"
)

// decisionsDoc and friends are the on-disk envelope shapes. Keeping a
// top-level key per collection keeps the files self-describing for humans.
type decisionsDoc struct {
	Decisions []DecisionRecord `yaml:"decisions"`
}

type pitfallsDoc struct {
	Pitfalls []PitfallRecord `yaml:"pitfalls"`
}

type contextsDoc struct {
	Domains map[string]DomainContext `yaml:"domains"`
}

type historyDoc struct {
	Programs map[string][]ModificationEntry `yaml:"programs"`
}

// ModificationEntry is one line of a program's modification history.
type ModificationEntry struct {
	Date        string `yaml:"date"`
	Author      string `yaml:"author"`
	Description string `yaml:"description"`
}

// loadYAML reads a yaml document into out. A missing file loads as the
// zero value, never as an error; that is what makes a fresh study work.
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to read memory file"),
			errors.Fields{"path": path},
		)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.RecordStoreCorrupt, "failed to parse memory file"),
			errors.Fields{"path": path},
		)
	}
	return nil
}

// saveYAML writes a document atomically: serialize, write to a temp file in
// the same directory, rename over the target. A forced stop mid-write never
// leaves a partially written store behind.
func saveYAML(path string, doc interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to create memory directory")
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to marshal memory file")
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to write memory file"),
			errors.Fields{"path": path},
		)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to replace memory file"),
			errors.Fields{"path": path},
		)
	}
	return nil
}

func loadPitfalls(path string) ([]PitfallRecord, error) {
	var doc pitfallsDoc
	if err := loadYAML(path, &doc); err != nil {
		return nil, err
	}
	return doc.Pitfalls, nil
}

func loadDecisions(path string) ([]DecisionRecord, error) {
	var doc decisionsDoc
	if err := loadYAML(path, &doc); err != nil {
		return nil, err
	}
	return doc.Decisions, nil
}

// loadTemplate reads a plain-text template; missing files load as "".
func loadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to read template"),
			errors.Fields{"path": path},
		)
	}
	return string(data), nil
}
