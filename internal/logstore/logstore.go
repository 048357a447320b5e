// Package logstore captures the most recent attempt's output for each sweep
// subject, one file per subject. Each attempt overwrites the previous one:
// the store holds evidence for the next retry, not an audit trail.
package logstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes and reads per-subject log files under a single directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the log directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the log file path for a subject. Filesystem-unsafe
// characters in the identifier are substituted so "org/model" maps to
// "org_model.log".
func (s *Store) Path(subjectID string) string {
	return filepath.Join(s.dir, sanitize(subjectID)+".log")
}

// Write replaces the subject's log with text.
func (s *Store) Write(subjectID, text string) error {
	if err := os.WriteFile(s.Path(subjectID), []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing log for %s: %w", subjectID, err)
	}
	return nil
}

// Read returns the subject's full captured log, or "" when no attempt has
// been logged yet.
func (s *Store) Read(subjectID string) (string, error) {
	data, err := os.ReadFile(s.Path(subjectID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading log for %s: %w", subjectID, err)
	}
	return string(data), nil
}

// Tail returns the last n lines of the subject's log, used as the bounded
// feedback excerpt for the next synthesis attempt.
func (s *Store) Tail(subjectID string, n int) (string, error) {
	full, err := s.Read(subjectID)
	if err != nil {
		return "", err
	}
	return TailLines(full, n), nil
}

// TailLines returns the last n lines of text.
func TailLines(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	trimmed := strings.TrimRight(text, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// sanitize replaces characters that cannot appear in a file name. Model
// identifiers routinely contain "/" (org/model).
func sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
