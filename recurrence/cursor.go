package recurrence

// Cursor is a finite, restartable iterator over an occurrence
// sequence. It owns its backing slice, so callers never share a
// mutable pointer into engine state.
type Cursor struct {
	occs []Occurrence
	pos  int
}

func newCursor(occs []Occurrence) *Cursor {
	return &Cursor{occs: occs}
}

// Next returns the next occurrence in start order; ok is false once
// the sequence is exhausted.
func (c *Cursor) Next() (occ Occurrence, ok bool) {
	if c.pos >= len(c.occs) {
		return Occurrence{}, false
	}
	occ = c.occs[c.pos]
	c.pos++
	return occ, true
}

// Restart rewinds the cursor to the beginning of the sequence.
func (c *Cursor) Restart() {
	c.pos = 0
}

// Len returns the total number of occurrences in the sequence.
func (c *Cursor) Len() int {
	return len(c.occs)
}
