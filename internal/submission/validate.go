package submission

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/i18n"
)

// Audience distinguishes the public submission form from the admin form.
type Audience int

const (
	AudiencePublic Audience = iota
	AudienceAdmin
)

// Draft is an event proposal as filled in by its author.
type Draft struct {
	Entry agenda.Entry
	Email string
	// Consent records that the usage terms were accepted.
	Consent bool
}

// ValidationError is a pre-flight check failure. Code is also the message key.
type ValidationError struct {
	Code  string
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid submission: " + e.Code
	}
	return fmt.Sprintf("invalid submission: %s: %s", e.Field, e.Code)
}

// Message renders the error for the user in lang.
func (e *ValidationError) Message(lang string) string {
	if e.Code == agenda.CodeRequired {
		return i18n.Text(lang, e.Code, e.Field)
	}
	return i18n.Text(lang, e.Code)
}

// Validator runs the checks that must pass before a submission reaches the network.
type Validator struct {
	// Now returns the current time. A nil Now skips the end date check against today.
	Now func() time.Time
}

// Validate returns the first failed check as a *ValidationError.
func (v Validator) Validate(d Draft, audience Audience) error {
	var today time.Time
	if v.Now != nil {
		today = v.Now()
	}
	if err := agenda.CheckPeriod(d.Entry, today); err != nil {
		return fromViolation(err)
	}
	if err := d.Entry.CheckRequired(); err != nil {
		return fromViolation(err)
	}
	if audience != AudiencePublic {
		return nil
	}

	if strings.TrimSpace(d.Entry.Poster) == "" {
		return &ValidationError{Code: i18n.KeyPosterRequired, Field: "poster"}
	}
	if !d.Consent {
		return &ValidationError{Code: i18n.KeyConsentRequired, Field: "consent"}
	}
	email := strings.TrimSpace(d.Email)
	if email == "" {
		return &ValidationError{Code: i18n.KeyEmailRequired, Field: "email"}
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return &ValidationError{Code: i18n.KeyEmailInvalid, Field: "email"}
	}
	return nil
}

// Normalize prepares an entry for storage: a blank end date takes the start
// date and tags are never null.
func Normalize(e agenda.Entry) agenda.Entry {
	e.StartDate = strings.TrimSpace(e.StartDate)
	e.EndDate = strings.TrimSpace(e.EndDate)
	if e.EndDate == "" {
		e.EndDate = e.StartDate
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return e
}

func fromViolation(err error) error {
	var v *agenda.Violation
	if errors.As(err, &v) {
		return &ValidationError{Code: v.Code, Field: v.Field}
	}
	return err
}
