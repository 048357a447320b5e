// Package ledger persists the ordered set of sweep subjects as a header-first
// CSV file. Only the status and note cells are ever mutated; every other
// column and the column order round-trip verbatim.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Status is the resolution state of a subject.
type Status int

const (
	// StatusPending means the subject has not been resolved yet.
	StatusPending Status = iota
	// StatusPassed means a launch attempt reached readiness.
	StatusPassed
	// StatusFailed means the retry budget was exhausted.
	StatusFailed
)

// String returns the canonical persisted form of the status.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Subject is one row of the ledger.
type Subject struct {
	ID     string
	Status Status
	Note   string

	// record holds the raw CSV cells so unknown columns survive a
	// load→save cycle untouched.
	record []string
	index  int
}

// Index returns the subject's stable position in the ledger.
func (s *Subject) Index() int { return s.index }

// Header names recognized for the subject-identifier column, checked
// case-insensitively in order.
var idColumnNames = []string{"model", "subject", "id", "name"}

// Ledger is an ordered sequence of subjects backed by one CSV file.
// It is not safe for concurrent writers; one sweep owns one ledger file.
type Ledger struct {
	path     string
	header   []string
	subjects []*Subject

	idCol     int
	statusCol int
	noteCol   int // -1 until a note column exists

	passedMark string
}

// Load parses the ledger at path. passedMark is the status value that
// counts as resolved-success (compared case-insensitively); any other
// status cell, including blank or missing, is Pending. "yes" is also
// recognized for ledgers written by earlier tooling.
func Load(path, passedMark string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ledger %s has no header row", path)
	}

	l := &Ledger{
		path:       path,
		header:     rows[0],
		idCol:      -1,
		statusCol:  -1,
		noteCol:    -1,
		passedMark: passedMark,
	}

	for i, name := range l.header {
		trimmed := strings.TrimSpace(name)
		if l.idCol == -1 {
			for _, want := range idColumnNames {
				if strings.EqualFold(trimmed, want) {
					l.idCol = i
					break
				}
			}
		}
		if l.statusCol == -1 && strings.EqualFold(trimmed, "status") {
			l.statusCol = i
		}
		if l.noteCol == -1 && (strings.EqualFold(trimmed, "note") || strings.EqualFold(trimmed, "notes")) {
			l.noteCol = i
		}
	}

	if l.idCol == -1 {
		return nil, fmt.Errorf("ledger %s has no subject-identifier column (want one of %v)", path, idColumnNames)
	}
	if l.statusCol == -1 {
		// Ledgers written before any sweep may lack the column; it is
		// appended to the header and filled on the first save.
		l.statusCol = len(l.header)
		l.header = append(l.header, "status")
	}

	for i, row := range rows[1:] {
		s := &Subject{
			record: row,
			index:  i,
		}
		if l.idCol < len(row) {
			s.ID = strings.TrimSpace(row[l.idCol])
		}
		if l.statusCol < len(row) {
			s.Status = l.parseStatus(row[l.statusCol])
		}
		if l.noteCol != -1 && l.noteCol < len(row) {
			s.Note = row[l.noteCol]
		}
		l.subjects = append(l.subjects, s)
	}

	return l, nil
}

// parseStatus maps a raw status cell to a Status. Anything that is not the
// passed marker or a previously persisted "failed" is Pending.
func (l *Ledger) parseStatus(raw string) Status {
	v := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(v, l.passedMark), strings.EqualFold(v, "yes"):
		return StatusPassed
	case strings.EqualFold(v, "failed"):
		return StatusFailed
	default:
		return StatusPending
	}
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// Subjects returns the ordered subjects. The slice is owned by the ledger.
func (l *Ledger) Subjects() []*Subject { return l.subjects }

// Len returns the number of subjects.
func (l *Ledger) Len() int { return len(l.subjects) }

// Counts returns how many subjects are passed, failed, and pending.
func (l *Ledger) Counts() (passed, failed, pending int) {
	for _, s := range l.subjects {
		switch s.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		default:
			pending++
		}
	}
	return passed, failed, pending
}

// Resolve sets the status and note of the subject at index and persists the
// whole ledger immediately (write-through).
func (l *Ledger) Resolve(index int, status Status, note string) error {
	if index < 0 || index >= len(l.subjects) {
		return fmt.Errorf("resolve: index %d out of range (ledger has %d subjects)", index, len(l.subjects))
	}
	s := l.subjects[index]
	s.Status = status
	s.Note = note
	return l.Save()
}

// Save rewrites the ledger atomically: the full file is written to a
// temporary sibling and renamed over the original, so a crash mid-save
// leaves the previous ledger intact.
func (l *Ledger) Save() error {
	needNoteCol := false
	for _, s := range l.subjects {
		if s.Note != "" {
			needNoteCol = true
			break
		}
	}
	if needNoteCol && l.noteCol == -1 {
		l.noteCol = len(l.header)
		l.header = append(l.header, "note")
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := csv.NewWriter(tmp)
	if err := w.Write(l.header); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ledger header: %w", err)
	}

	for _, s := range l.subjects {
		// The row keeps the record's own cell count: a row shorter or longer
		// than the header round-trips verbatim, growing only as far as the
		// cells that must be written.
		row := append([]string(nil), s.record...)
		grow := func(col int) {
			for len(row) <= col {
				row = append(row, "")
			}
		}

		switch s.Status {
		case StatusPassed:
			grow(l.statusCol)
			row[l.statusCol] = l.passedMark
		case StatusFailed:
			grow(l.statusCol)
			row[l.statusCol] = "failed"
		default:
			// Pending rows keep whatever the source file said ("", "no", …)
			// so untouched subjects round-trip byte-for-byte.
		}
		if l.noteCol != -1 {
			if s.Note != "" {
				grow(l.noteCol)
			}
			if l.noteCol < len(row) {
				row[l.noteCol] = s.Note
			}
		}

		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("writing ledger row %d: %w", s.index, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
