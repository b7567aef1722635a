package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clarigen/clarigen/pkg/models"
)

// CaptureRaw appends a raw response that yielded no extractable records to
// the task's debug artifact, timestamp-framed so captures from different
// runs stay distinguishable. Debug capture failures are returned for
// logging but never abort a task.
func (s *TaskStore) CaptureRaw(task models.Task, raw string) error {
	dir := filepath.Join(s.root, task.DomainCode, task.TypeCode)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d_round_debug.txt", task.Rounds))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open debug file: %w", err)
	}
	defer func() { _ = f.Close() }()

	frame := strings.Repeat("=", 80)
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	_, err = fmt.Fprintf(f, "\n%s\n时间戳: %s\n%s\n%s\n%s\n\n", frame, timestamp, frame, raw, frame)
	if err != nil {
		return fmt.Errorf("failed to append debug capture: %w", err)
	}
	return nil
}
