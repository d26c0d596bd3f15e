package archiver

import (
	"context"
	"testing"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/store"
)

func TestArchivePastEvents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	zurich, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		t.Fatal(err)
	}

	entries := []agenda.Entry{
		{ID: "ended", StartDate: "2025-05-10", EndDate: "2025-05-11", Status: agenda.StatusActive},
		{ID: "ended-no-end", StartDate: "2025-05-19", Status: agenda.StatusActive},
		{ID: "today", StartDate: "2025-05-20", Status: agenda.StatusActive},
		{ID: "running", StartDate: "2025-05-01", EndDate: "2025-06-01", Status: agenda.StatusActive},
		{ID: "pending", StartDate: "2025-05-01", Status: agenda.StatusPending},
	}
	for _, e := range entries {
		if _, err := st.Entries.Upsert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := st.Submissions.Create(ctx, store.Submission{ID: "ended", Email: "a@b.c", Status: store.SubmissionActive}); err != nil {
		t.Fatal(err)
	}

	a := New(st, time.Hour, zurich, nil)
	// 23:30 UTC is already the 20th in Zurich.
	a.now = func() time.Time { return time.Date(2025, 5, 19, 23, 30, 0, 0, time.UTC) }

	n, err := a.ArchivePastEvents(ctx)
	if err != nil {
		t.Fatalf("ArchivePastEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("archived %d entries, want 2", n)
	}

	want := map[string]agenda.Status{
		"ended":        agenda.StatusArchived,
		"ended-no-end": agenda.StatusArchived,
		"today":        agenda.StatusActive,
		"running":      agenda.StatusActive,
		"pending":      agenda.StatusPending,
	}
	for id, status := range want {
		e, err := st.Entries.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if e.Status != status {
			t.Errorf("%s status = %v, want %v", id, e.Status, status)
		}
	}
	sub, _ := st.Submissions.GetByID(ctx, "ended")
	if sub.Status != store.SubmissionArchived {
		t.Errorf("submission status = %q, want archived", sub.Status)
	}
}

func TestUntilMidnight(t *testing.T) {
	a := New(store.NewMemory(), time.Hour, time.UTC, nil)
	a.now = func() time.Time { return time.Date(2025, 5, 20, 22, 15, 0, 0, time.UTC) }
	if got := a.untilMidnight(); got != 105*time.Minute {
		t.Errorf("untilMidnight = %s, want 1h45m", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := New(store.NewMemory(), time.Hour, time.UTC, nil)
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
