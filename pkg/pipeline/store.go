package pipeline

import (
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
)

// StateStore persists RunState snapshots in SQLite, keyed by (study, domain).
// Every successful Save happens-before the next stage begins, so a crashed
// run resumes from its last completed stage.
type StateStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	initialized sync.Once
}

// NewStateStore opens (or creates) the run-state database at path.
// If path is ":memory:", the database is created in-memory.
func NewStateStore(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to open run-state database"),
			errors.Fields{"path": path},
		)
	}

	store := &StateStore{
		db:   db,
		path: path,
	}
	if err := store.ensureInitialized(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *StateStore) ensureInitialized() error {
	var initErr error
	s.initialized.Do(func() {
		// Enable WAL mode for better concurrency
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			initErr = errors.Wrap(err, errors.Unknown, "failed to enable WAL mode")
			return
		}

		query := `
        CREATE TABLE IF NOT EXISTS run_state (
            study_id TEXT NOT NULL,
            domain TEXT NOT NULL,
            state TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (study_id, domain)
        );

        CREATE INDEX IF NOT EXISTS idx_run_state_updated_at
        ON run_state(updated_at);
        `

		if _, err := s.db.Exec(query); err != nil {
			initErr = errors.WithFields(
				errors.Wrap(err, errors.Unknown, "failed to initialize run-state database"),
				errors.Fields{"path": s.path},
			)
			return
		}
	})
	return initErr
}

// Save upserts the state snapshot for its (study, domain) key.
func (s *StateStore) Save(state *RunState) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	jsonValue, err := json.Marshal(state)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to marshal run state"),
			errors.Fields{"study": state.StudyID, "domain": state.Domain},
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
    INSERT INTO run_state (study_id, domain, state, updated_at)
    VALUES (?, ?, ?, CURRENT_TIMESTAMP)
    ON CONFLICT(study_id, domain) DO UPDATE SET
        state = excluded.state,
        updated_at = CURRENT_TIMESTAMP
    `

	if _, err := s.db.Exec(query, state.StudyID, state.Domain, string(jsonValue)); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to save run state"),
			errors.Fields{"study": state.StudyID, "domain": state.Domain},
		)
	}

	return nil
}

// Load returns the persisted state for (study, domain). A run that was never
// started reports ResourceNotFound.
func (s *StateStore) Load(studyID, domain string) (*RunState, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jsonValue string
	query := "SELECT state FROM run_state WHERE study_id = ? AND domain = ?"

	err := s.db.QueryRow(query, studyID, domain).Scan(&jsonValue)
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "no run state recorded"),
			errors.Fields{"study": studyID, "domain": domain},
		)
	}
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to load run state"),
			errors.Fields{"study": studyID, "domain": domain},
		)
	}

	var state RunState
	if err := json.Unmarshal([]byte(jsonValue), &state); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.RecordStoreCorrupt, "failed to decode run state"),
			errors.Fields{"study": studyID, "domain": domain},
		)
	}

	return &state, nil
}

// Delete removes the persisted state for (study, domain). Used by explicit
// fresh-start requests; a missing row is not an error.
func (s *StateStore) Delete(studyID, domain string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM run_state WHERE study_id = ? AND domain = ?", studyID, domain)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to delete run state"),
			errors.Fields{"study": studyID, "domain": domain},
		)
	}
	return nil
}

// List returns the (study, domain) pairs with recorded runs, oldest first.
func (s *StateStore) List() ([][2]string, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT study_id, domain FROM run_state ORDER BY created_at")
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to list run states")
	}
	defer rows.Close()

	var keys [][2]string
	for rows.Next() {
		var study, domain string
		if err := rows.Scan(&study, &domain); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to scan run-state row")
		}
		keys = append(keys, [2]string{study, domain})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "error iterating run-state rows")
	}

	return keys, nil
}

// Close closes the database connection.
func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to close run-state database")
	}
	return nil
}
