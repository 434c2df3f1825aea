package audio_test

import (
	"testing"

	"github.com/astraloracle/oracle/pkg/audio"
)

func TestCursor_BackToBack(t *testing.T) {
	t.Parallel()

	var c audio.Cursor
	if got := c.Place(0, 0.5); got != 0 {
		t.Errorf("first start = %v, want 0", got)
	}
	if got := c.Place(0.1, 0.3); got != 0.5 {
		t.Errorf("second start = %v, want 0.5", got)
	}
	if got := c.Place(0.2, 0.1); got < 0.7999 || got > 0.8001 {
		t.Errorf("third start = %v, want 0.8", got)
	}
}

func TestCursor_LateArrivalStartsNow(t *testing.T) {
	t.Parallel()

	var c audio.Cursor
	c.Place(0, 0.2)
	if got := c.Place(1.5, 0.1); got != 1.5 {
		t.Errorf("late start = %v, want 1.5", got)
	}
	if c.Drained(1.59) || !c.Drained(1.61) {
		t.Errorf("cursor should sit at 1.6")
	}
}

func TestCursor_NonDecreasingStarts(t *testing.T) {
	t.Parallel()

	var c audio.Cursor
	arrivals := []struct{ now, dur float64 }{
		{0, 0.1}, {0.05, 0.2}, {0.5, 0.1}, {0.51, 0}, {0.52, 0.3}, {2, 0.1},
	}
	prevEnd := 0.0
	for i, a := range arrivals {
		start := c.Place(a.now, a.dur)
		if start < a.now {
			t.Errorf("arrival %d: start %v before now %v", i, start, a.now)
		}
		if start < prevEnd {
			t.Errorf("arrival %d: start %v overlaps previous end %v", i, start, prevEnd)
		}
		prevEnd = start + a.dur
	}
}

func TestCursor_Drained(t *testing.T) {
	t.Parallel()

	var c audio.Cursor
	if !c.Drained(0) {
		t.Error("an empty cursor is drained")
	}
	c.Place(0, 0.5)
	c.Place(0, 0.03)
	for _, now := range []float64{0.25, 0.5, 0.52} {
		if c.Drained(now) {
			t.Errorf("drained at %v while the trailing buffer plays", now)
		}
	}
	if !c.Drained(0.531) || !c.Drained(0.6) {
		t.Error("not drained once the cursor is reached")
	}
}
