package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/astraloracle/oracle/internal/live"
	"github.com/astraloracle/oracle/internal/tarot"
)

func TestMemStore_Readings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore(3)

	for i := range 5 {
		r, err := s.SaveReading(ctx, tarot.Reading{
			Question: fmt.Sprintf("q%d", i),
			Cards:    []tarot.Card{{ID: "card-0", Name: "The Fool"}},
		})
		if err != nil {
			t.Fatalf("SaveReading: %v", err)
		}
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Fatalf("SaveReading did not fill id/time: %+v", r)
		}
	}

	recent, err := s.RecentReadings(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("RecentReadings = %d, want 3 (retention)", len(recent))
	}
	if recent[0].Question != "q4" || recent[2].Question != "q2" {
		t.Errorf("order = %s..%s, want newest first", recent[0].Question, recent[2].Question)
	}

	one, _ := s.RecentReadings(ctx, 0)
	if len(one) != 1 {
		t.Errorf("RecentReadings(0) = %d, want 1", len(one))
	}

	recent[0].Cards[0].Name = "mutated"
	again, _ := s.RecentReadings(ctx, 1)
	if again[0].Cards[0].Name != "The Fool" {
		t.Error("RecentReadings leaked stored cards")
	}
}

func TestMemStore_KeepsGivenID(t *testing.T) {
	t.Parallel()
	s := NewMemStore(0)
	r, err := s.SaveReading(context.Background(), tarot.Reading{ID: "fixed"})
	if err != nil || r.ID != "fixed" {
		t.Fatalf("SaveReading = %+v, %v", r, err)
	}
}

func TestMemStore_Soulmate(t *testing.T) {
	t.Parallel()
	s := NewMemStore(0)
	rec, err := s.SaveSoulmate(context.Background(), SoulmateRecord{Place: "Lyon", Reading: tarot.FallbackSoulmate("male")})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Errorf("SaveSoulmate = %+v", rec)
	}
}

func TestMemStore_Sessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore(0)

	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	sum := live.Summary{
		SessionID: "s1",
		Oracle:    "asian-elf",
		Started:   start,
		Ended:     start.Add(8 * time.Minute),
		Connected: 8 * time.Minute,
		Reason:    live.ReasonExpired,
	}
	if err := s.SaveSession(ctx, FromSummary(sum)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Session(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Reason != "expired" || got.Connected != 8*time.Minute || got.Error != "" {
		t.Errorf("Session = %+v", got)
	}

	if _, err := s.Session(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.SaveSession(ctx, SessionRecord{}); err == nil {
		t.Error("SaveSession with empty id should fail")
	}
}

func TestFromSummary_Error(t *testing.T) {
	t.Parallel()
	rec := FromSummary(live.Summary{SessionID: "s", Reason: live.ReasonError, Err: live.ErrChannelRuntime})
	if rec.Error != live.ErrChannelRuntime.Error() || rec.Reason != "error" {
		t.Errorf("FromSummary = %+v", rec)
	}
}

func TestMemStore_Transcript(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore(0)

	lines := []TranscriptLine{
		{SessionID: "s1", Role: "seeker", Text: "Bonjour"},
		{SessionID: "s2", Role: "seeker", Text: "Ailleurs"},
		{SessionID: "s1", Role: "oracle", Text: "Les étoiles t'écoutent."},
	}
	for _, l := range lines {
		if err := s.AppendTranscript(ctx, l); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Transcript(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Text != "Bonjour" || got[1].Role != "oracle" || got[1].At.IsZero() {
		t.Errorf("Transcript(s1) = %+v", got)
	}
	empty, _ := s.Transcript(ctx, "none")
	if empty == nil || len(empty) != 0 {
		t.Errorf("Transcript(none) = %#v, want empty slice", empty)
	}
	if err := s.AppendTranscript(ctx, TranscriptLine{Text: "orphan"}); err == nil {
		t.Error("AppendTranscript without session should fail")
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore(50)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				_, _ = s.SaveReading(ctx, tarot.Reading{Question: fmt.Sprint(i, j)})
				_, _ = s.RecentReadings(ctx, 5)
				_ = s.AppendTranscript(ctx, TranscriptLine{SessionID: "s", Text: "x"})
			}
		}()
	}
	wg.Wait()
	got, _ := s.Transcript(ctx, "s")
	if len(got) != 400 {
		t.Errorf("lines = %d, want 400", len(got))
	}
}
