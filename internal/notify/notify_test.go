package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/store"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func testSubmission() *store.Submission {
	return &store.Submission{
		ID:                "sub-1",
		Email:             "ama@example.org",
		FormData:          agenda.Entry{Title: "Concert"},
		EditToken:         "edit-tok",
		CancelToken:       "cancel-tok",
		ConfirmationToken: "confirm-tok",
	}
}

func TestNotifierSendsLinks(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, "https://afromemo.ch/", nil)
	sub := testSubmission()

	n.SubmissionCreated(sub)
	n.SubmissionConfirmed(sub)
	n.SubmissionPublished(sub)
	n.Close()

	if len(sender.msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sender.msgs))
	}
	checks := []struct {
		name  string
		msg   Message
		wants []string
	}{
		{"created", sender.msgs[0], []string{"https://afromemo.ch/submissions/confirm-tok/confirmation"}},
		{"confirmed", sender.msgs[1], []string{"/submissions/edit-tok/edit", "/submissions/cancel-tok/cancel"}},
		{"published", sender.msgs[2], []string{"https://afromemo.ch/agenda/sub-1"}},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if c.msg.To != "ama@example.org" {
				t.Errorf("To = %q", c.msg.To)
			}
			for _, want := range c.wants {
				if !strings.Contains(c.msg.Body, want) {
					t.Errorf("body %q does not contain %q", c.msg.Body, want)
				}
			}
		})
	}
}

func TestNotifierSkipsMissingRecipient(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, "https://afromemo.ch", nil)
	sub := testSubmission()
	sub.Email = " "
	n.SubmissionCreated(sub)
	n.Close()
	if len(sender.msgs) != 0 {
		t.Errorf("sent %d messages without recipient", len(sender.msgs))
	}
}

func TestNotifierSurvivesSendErrors(t *testing.T) {
	sender := &recordingSender{err: errors.New("relay down")}
	n := New(sender, "https://afromemo.ch", nil)
	n.SubmissionCreated(testSubmission())
	n.SubmissionConfirmed(testSubmission())
	n.Close()
	if len(sender.msgs) != 2 {
		t.Errorf("attempted %d deliveries, want 2", len(sender.msgs))
	}
}
