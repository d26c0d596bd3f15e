package submission

import (
	"errors"

	"github.com/afromemo/afromemo/internal/apiclient"
	"github.com/afromemo/afromemo/internal/i18n"
)

// UserMessage renders err as the message shown to the submitter or admin.
// Unexpected failures get the generic retry-later message.
func UserMessage(err error, lang string) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message(lang)
	}
	return i18n.Text(lang, messageKey(err))
}

func messageKey(err error) string {
	switch {
	case errors.Is(err, apiclient.ErrSessionExpired), errors.Is(err, apiclient.ErrNotAuthenticated):
		return i18n.KeySessionExpired
	case errors.Is(err, apiclient.ErrTimeout):
		return i18n.KeyTimeout
	case errors.Is(err, ErrSubmissionExpired):
		return i18n.KeySubmissionExpired
	case errors.Is(err, ErrSubmissionNotFound):
		return i18n.KeySubmissionNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrMissingCredential), errors.Is(err, ErrCredentialConflict):
		return i18n.KeyForbidden
	case errors.Is(err, ErrInvalidTransition):
		return i18n.KeyInvalidTransition
	case errors.Is(err, ErrSubmitFailed):
		return i18n.KeySubmitFailed
	default:
		return i18n.KeyGenericError
	}
}
