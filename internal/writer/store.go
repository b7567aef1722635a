// Package writer owns the durable side of a generation run: the per-task
// corpus files, the raw-response debug captures, the incomplete-task log,
// and the run logger.
package writer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/clarigen/clarigen/pkg/models"
)

var systemKeyRegex = regexp.MustCompile(`"system"\s*:`)

// TaskStore is the append-target for one run's corpus, addressed by
// (domain code, type code, round count). Writes are serialized by the
// caller; the store itself keeps no state beyond the root directory.
type TaskStore struct {
	root string
}

// NewTaskStore creates a store rooted at the corpus output directory.
func NewTaskStore(root string) *TaskStore {
	return &TaskStore{root: root}
}

// Root returns the corpus root directory.
func (s *TaskStore) Root() string {
	return s.root
}

// Path returns the corpus file for a task:
// <root>/<domain>/<type>/<N>_round.json
func (s *TaskStore) Path(task models.Task) string {
	return filepath.Join(s.root, task.DomainCode, task.TypeCode,
		fmt.Sprintf("%d_round.json", task.Rounds))
}

// Count returns the number of records currently on disk for a task. The
// count scans for "system" keys rather than fully parsing the file, so a
// file damaged by an earlier crash still yields its salvageable count
// instead of zero.
func (s *TaskStore) Count(task models.Task) (int, error) {
	data, err := os.ReadFile(s.Path(task))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read corpus file: %w", err)
	}
	return len(systemKeyRegex.FindAll(data, -1)), nil
}

// Append merges new records into the task's corpus file and returns the
// resulting total. Existing content is preserved; an unreadable existing
// file is treated as empty rather than blocking new data. The write goes
// through a temp file and rename so a crash never leaves a half-written
// corpus.
func (s *TaskStore) Append(task models.Task, records []models.Record) (int, error) {
	path := s.Path(task)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create task directory: %w", err)
	}

	var existing []models.Record
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			existing = nil
		}
	}

	merged := append(existing, records...)
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal corpus: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write corpus file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("failed to replace corpus file: %w", err)
	}

	return len(merged), nil
}

// Load reads all records currently persisted for a task. A missing file is
// an empty corpus, not an error.
func (s *TaskStore) Load(task models.Task) ([]models.Record, error) {
	data, err := os.ReadFile(s.Path(task))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}
	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse corpus file: %w", err)
	}
	return records, nil
}

// Replace overwrites the task's corpus file with the given records,
// used by the check command after re-validation.
func (s *TaskStore) Replace(task models.Task, records []models.Record) error {
	path := s.Path(task)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal corpus: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write corpus file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace corpus file: %w", err)
	}
	return nil
}
