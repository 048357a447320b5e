package ledger

// Cursor selects the next unresolved subject. It remembers where the last
// scan stopped so a sweep does not revisit rows it already resolved, and
// falls back to a full scan from 0 whenever its position can no longer be
// trusted (ledger reloaded, rows shifted); skipping rows on a stale index
// would silently drop subjects.
type Cursor struct {
	from  int
	stale bool
}

// NewCursor returns a cursor positioned at the start of the ledger.
func NewCursor() *Cursor {
	return &Cursor{}
}

// Invalidate forces the next scan to start from index 0. Call after the
// ledger has been reloaded from disk.
func (c *Cursor) Invalidate() {
	c.from = 0
	c.stale = true
}

// Next returns the first subject at or after the cursor whose status is not
// Passed, or nil when no unresolved subject remains ahead (run complete).
// Failed rows from an earlier sweep are returned for a fresh attempt;
// within one sweep the controller advances past a subject it just failed.
func (c *Cursor) Next(l *Ledger) *Subject {
	if c.stale {
		c.from = 0
		c.stale = false
	}
	if c.from >= l.Len() {
		return nil
	}

	for _, s := range l.subjects[c.from:] {
		if s.Status != StatusPassed {
			c.from = s.index
			return s
		}
	}
	return nil
}

// Advance moves the cursor past the given subject so the next scan starts
// on the following row.
func (c *Cursor) Advance(s *Subject) {
	if s != nil && s.index >= c.from {
		c.from = s.index + 1
	}
}
