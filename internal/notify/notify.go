// Package notify sends submitters the links that act on their submission.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"

	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/store"
)

const queueSize = 100

// Message is one email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender only logs messages, for development setups without SMTP.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	logging.OrDiscard(s.Logger).InfoContext(ctx, "notification", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// SMTPSender delivers messages through an SMTP relay with STARTTLS.
type SMTPSender struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

func (s SMTPSender) Send(_ context.Context, msg Message) error {
	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Password, s.Host)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		s.From, msg.To, msg.Subject, strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	if err := smtp.SendMail(s.Host+":"+s.Port, auth, s.From, []string{msg.To}, []byte(body)); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// Notifier queues messages and delivers them from a single worker so that
// handlers never wait on the mail relay.
type Notifier struct {
	sender  Sender
	baseURL string
	logger  *slog.Logger
	queue   chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// New starts the delivery worker. baseURL prefixes the links of the front end.
func New(sender Sender, baseURL string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logging.OrDiscard(logger).With("component", "notify"),
		queue:   make(chan Message, queueSize),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	for msg := range n.queue {
		if err := n.sender.Send(context.Background(), msg); err != nil {
			n.logger.Error("notification not delivered", "subject", msg.Subject, "error", err)
			continue
		}
		n.logger.Debug("notification delivered", "subject", msg.Subject)
	}
}

// Close stops accepting messages and waits for the queue to drain.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.queue) })
	<-n.done
}

func (n *Notifier) enqueue(msg Message) {
	if strings.TrimSpace(msg.To) == "" {
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn("notification queue full, dropping message", "subject", msg.Subject)
	}
}

// ConfirmationLink is the link validating the submitter's email.
func (n *Notifier) ConfirmationLink(sub *store.Submission) string {
	return n.baseURL + "/submissions/" + sub.ConfirmationToken + "/confirmation"
}

// EditLink is the link to the edit form of the submission.
func (n *Notifier) EditLink(sub *store.Submission) string {
	return n.baseURL + "/submissions/" + sub.EditToken + "/edit"
}

// CancelLink is the link cancelling the submission.
func (n *Notifier) CancelLink(sub *store.Submission) string {
	return n.baseURL + "/submissions/" + sub.CancelToken + "/cancel"
}

// SubmissionCreated asks the submitter to confirm their email.
func (n *Notifier) SubmissionCreated(sub *store.Submission) {
	n.enqueue(Message{
		To:      sub.Email,
		Subject: "Afromémo: confirmez votre événement",
		Body: fmt.Sprintf("Bonjour,\n\nMerci pour la proposition de « %s ».\n"+
			"Confirmez votre adresse email pour la transmettre à la modération:\n%s\n",
			sub.FormData.Title, n.ConfirmationLink(sub)),
	})
}

// SubmissionConfirmed sends the links to edit and cancel the submission.
func (n *Notifier) SubmissionConfirmed(sub *store.Submission) {
	n.enqueue(Message{
		To:      sub.Email,
		Subject: "Afromémo: votre événement est en attente de validation",
		Body: fmt.Sprintf("Bonjour,\n\n« %s » sera publié après validation.\n\nModifier: %s\nAnnuler: %s\n",
			sub.FormData.Title, n.EditLink(sub), n.CancelLink(sub)),
	})
}

// SubmissionPublished tells the submitter their event is online.
func (n *Notifier) SubmissionPublished(sub *store.Submission) {
	n.enqueue(Message{
		To:      sub.Email,
		Subject: "Afromémo: votre événement est publié",
		Body: fmt.Sprintf("Bonjour,\n\n« %s » est maintenant visible dans l'agenda:\n%s/agenda/%s\n\nModifier: %s\nAnnuler: %s\n",
			sub.FormData.Title, n.baseURL, sub.ID, n.EditLink(sub), n.CancelLink(sub)),
	})
}
