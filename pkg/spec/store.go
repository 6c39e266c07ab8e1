package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// Store persists specifications as yaml files under a specs directory.
// Draft and approved versions live side by side so the approved artifact
// is never overwritten by a later draft rebuild.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file location for a domain's spec.
func (st *Store) Path(domain string, approved bool) string {
	name := strings.ToLower(domain) + "_spec.yaml"
	if approved {
		name = strings.ToLower(domain) + "_spec_approved.yaml"
	}
	return filepath.Join(st.dir, name)
}

// Write validates and persists a spec. The file is written atomically so a
// crash mid-write never leaves a truncated spec behind.
func (st *Store) Write(s *Spec, approved bool) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to marshal spec")
	}

	if err := os.MkdirAll(st.dir, 0755); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to create specs directory")
	}

	path := st.Path(s.Domain, approved)
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to write spec"),
			errors.Fields{"path": path},
		)
	}
	return os.Rename(tmp, path)
}

// Read loads a domain's spec. Returns a SpecNotFound error when the file
// does not exist, so callers can distinguish "not built yet" from corruption.
func (st *Store) Read(domain string, approved bool) (*Spec, error) {
	path := st.Path(domain, approved)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithFields(
				errors.New(errors.SpecNotFound, "spec file does not exist"),
				errors.Fields{"domain": domain, "path": path, "approved": approved},
			)
		}
		return nil, errors.Wrap(err, errors.Unknown, "failed to read spec")
	}

	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.RecordStoreCorrupt, "failed to parse spec"),
			errors.Fields{"path": path},
		)
	}
	return &s, nil
}

// ReadLatest prefers the approved spec and falls back to the draft.
func (st *Store) ReadLatest(domain string) (*Spec, error) {
	s, err := st.Read(domain, true)
	if err == nil {
		return s, nil
	}
	if errors.CodeOf(err) != errors.SpecNotFound {
		return nil, err
	}
	return st.Read(domain, false)
}
