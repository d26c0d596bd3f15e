package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
)

func TestMemoryEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	active, err := s.Entries.Upsert(ctx, agenda.Entry{Title: "Concert", StartDate: "2025-06-10", Status: agenda.StatusActive, Email: "x@y.ch"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if active.ID == "" || active.Email != "" || active.Tags == nil {
		t.Errorf("unexpected stored entry %+v", active)
	}
	if _, err := s.Entries.Upsert(ctx, agenda.Entry{ID: "p", Title: "Expo", StartDate: "2025-06-01", Status: agenda.StatusPending}); err != nil {
		t.Fatal(err)
	}

	list, _ := s.Entries.List(ctx, agenda.StatusActive)
	if len(list) != 1 || list[0].ID != active.ID {
		t.Errorf("List(active) = %+v", list)
	}
	all, _ := s.Entries.List(ctx)
	if len(all) != 2 || all[0].ID != "p" {
		t.Errorf("List() should order by start date, got %+v", all)
	}

	if err := s.Entries.SetStatus(ctx, "nope", agenda.StatusActive); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryArchiveEnded(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	entries := []agenda.Entry{
		{ID: "past", StartDate: "2025-05-01", Status: agenda.StatusActive},
		{ID: "multi", StartDate: "2025-05-01", EndDate: "2025-05-25", Status: agenda.StatusActive},
		{ID: "today", StartDate: "2025-05-20", Status: agenda.StatusActive},
		{ID: "pending", StartDate: "2025-05-01", Status: agenda.StatusPending},
	}
	for _, e := range entries {
		if _, err := s.Entries.Upsert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := s.Entries.ArchiveEnded(ctx, "2025-05-20")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "past" {
		t.Fatalf("archived %v, want [past]", ids)
	}
	e, _ := s.Entries.Get(ctx, "past")
	if e.Status != agenda.StatusArchived {
		t.Errorf("status = %v", e.Status)
	}
}

func TestMemorySubmissionTokens(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub, err := s.Submissions.Create(ctx, Submission{
		Email:             "ama@example.org",
		Status:            SubmissionUnconfirmed,
		EditToken:         "edit",
		CancelToken:       "cancel",
		ConfirmationToken: "confirm",
	})
	if err != nil {
		t.Fatal(err)
	}

	for token, want := range map[string]TokenKind{"edit": TokenEdit, "cancel": TokenCancel, "confirm": TokenConfirmation} {
		got, err := s.Submissions.GetByToken(ctx, token)
		if err != nil || got.ID != sub.ID {
			t.Fatalf("GetByToken(%s) = %v, %v", token, got, err)
		}
		if kind, ok := got.Matches(token); !ok || kind != want {
			t.Errorf("Matches(%s) = %v", token, kind)
		}
	}
	if _, err := s.Submissions.GetByToken(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty token should not match, got %v", err)
	}
}

func TestMemoryRefreshTokens(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now()

	if _, err := s.RefreshTokens.Create(ctx, RefreshToken{UserID: 1, TokenHash: "h1", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefreshTokens.Create(ctx, RefreshToken{UserID: 1, TokenHash: "h1", ExpiresAt: now.Add(time.Hour)}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if _, err := s.RefreshTokens.FindValid(ctx, "h1", now); err != nil {
		t.Fatalf("FindValid: %v", err)
	}
	if _, err := s.RefreshTokens.FindValid(ctx, "h1", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired token should not be valid, got %v", err)
	}
	if err := s.RefreshTokens.Revoke(ctx, "h1", now); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RefreshTokens.FindValid(ctx, "h1", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoked token should not be valid, got %v", err)
	}
}
