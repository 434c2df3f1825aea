package audio

// Cursor is the playback schedule cursor: the time on an output clock at
// which the next inbound buffer may start. Buffers placed through a Cursor
// play back to back in placement order, never overlapping, and a buffer
// arriving after the cursor has been passed starts immediately.
//
// The zero value starts at time zero. Cursor is not safe for concurrent use.
type Cursor struct {
	next float64
}

// Place returns the start time for a buffer of the given duration arriving
// at output time now, and advances the cursor past it.
func (c *Cursor) Place(now, duration float64) float64 {
	start := max(now, c.next)
	c.next = start + max(duration, 0)
	return start
}

// Drained reports whether playback at output time now has reached the
// cursor, that is, whether everything placed so far has finished.
func (c *Cursor) Drained(now float64) bool {
	return now >= c.next
}
