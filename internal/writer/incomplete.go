package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clarigen/clarigen/pkg/models"
)

// IncompleteLogName is the run-wide append-only log of failed tasks.
const IncompleteLogName = "incomplete_tasks.txt"

// IncompleteLogPath returns the log file under the corpus root.
func (s *TaskStore) IncompleteLogPath() string {
	return filepath.Join(s.root, IncompleteLogName)
}

// EnsureIncompleteLog creates the incomplete-task log if it does not exist.
// Existing history is never truncated.
func (s *TaskStore) EnsureIncompleteLog() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.OpenFile(s.IncompleteLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create incomplete-task log: %w", err)
	}
	return f.Close()
}

// LogIncomplete appends a timestamped entry for a task that exhausted its
// retries short of target.
func (s *TaskStore) LogIncomplete(task models.Task, finalCount int) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.OpenFile(s.IncompleteLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open incomplete-task log: %w", err)
	}
	defer func() { _ = f.Close() }()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	_, err = fmt.Fprintf(f, "[%s] %s | %s | %d_round | %d/%d\n",
		timestamp, task.DomainCode, task.TypeCode, task.Rounds, finalCount, task.Target)
	if err != nil {
		return fmt.Errorf("failed to append incomplete-task entry: %w", err)
	}
	return nil
}
