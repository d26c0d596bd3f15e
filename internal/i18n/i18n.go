// Package i18n holds the user-facing messages shown by the client, in French
// (the default) and English.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// DefaultLang is used when the requested language has no catalog.
const DefaultLang = "fr"

// Message keys that are not validation codes.
const (
	KeyPosterRequired      = "poster_required"
	KeyConsentRequired     = "consent_required"
	KeyEmailRequired       = "email_required"
	KeyEmailInvalid        = "email_invalid"
	KeyEmailMismatch       = "email_mismatch"
	KeySubmitFailed        = "submit_failed"
	KeyGenericError        = "generic_error"
	KeySessionExpired      = "session_expired"
	KeyTimeout             = "timeout"
	KeySubmissionExpired   = "submission_expired"
	KeySubmissionNotFound  = "submission_not_found"
	KeyForbidden           = "forbidden"
	KeyInvalidTransition   = "invalid_transition"
	KeyDeleteFailed        = "delete_failed"
	KeySubmissionCreated   = "submission_created"
	KeySubmissionUpdated   = "submission_updated"
	KeySubmissionConfirmed = "submission_confirmed"
	KeySubmissionDeleted   = "submission_deleted"
	KeySubmissionPublished = "submission_published"
)

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Catalog is a set of messages per locale.
type Catalog struct {
	locales  map[string]map[string]string
	tags     []language.Tag
	matcher  language.Matcher
	fallback language.Tag
}

//go:embed locales/*.yaml
var embeddedFS embed.FS

var defaultCatalog = mustLoadEmbedded()

// Default returns the embedded catalog, registered with x/text/message.
func Default() *Catalog {
	return defaultCatalog
}

// Text renders key in lang using the default catalog.
func Text(lang, key string, args ...any) string {
	return defaultCatalog.Text(lang, key, args...)
}

// Load reads every locales/*.yaml file from fsys and registers the messages.
func Load(fsys fs.FS) (*Catalog, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	c := &Catalog{locales: map[string]map[string]string{}}
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
		locale := strings.TrimSpace(file.Locale)
		if locale == "" {
			return nil, fmt.Errorf("catalog %s: locale is required", path)
		}
		if _, exists := c.locales[locale]; exists {
			return nil, fmt.Errorf("catalog %s: locale %q already defined", path, locale)
		}
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: parse locale %q: %w", path, locale, err)
		}
		c.locales[locale] = file.Messages
		c.tags = append(c.tags, tag)
	}

	fallback, err := language.Parse(DefaultLang)
	if err != nil {
		return nil, err
	}
	if _, ok := c.locales[DefaultLang]; !ok {
		return nil, fmt.Errorf("default locale %s is not defined in catalogs", DefaultLang)
	}
	c.fallback = fallback
	// The matcher returns the first tag on no match, so the fallback goes first.
	ordered := []language.Tag{fallback}
	for _, tag := range c.tags {
		if tag != fallback {
			ordered = append(ordered, tag)
		}
	}
	c.tags = ordered
	c.matcher = language.NewMatcher(ordered)

	for _, tag := range c.tags {
		for key, msg := range c.locales[tag.String()] {
			if err := message.SetString(tag, key, msg); err != nil {
				return nil, fmt.Errorf("register %s/%s: %w", tag, key, err)
			}
		}
	}
	return c, nil
}

// Tag resolves lang (e.g. "en-GB", "fr_CH") to the closest catalog language.
func (c *Catalog) Tag(lang string) language.Tag {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if lang == "" {
		return c.fallback
	}
	desired, err := language.Parse(lang)
	if err != nil {
		return c.fallback
	}
	_, index, confidence := c.matcher.Match(desired)
	if confidence == language.No {
		return c.fallback
	}
	return c.tags[index]
}

// Text renders key for lang. Keys missing from the language fall back to French,
// and unknown keys render as themselves.
func (c *Catalog) Text(lang, key string, args ...any) string {
	tag := c.Tag(lang)
	if _, ok := c.locales[tag.String()][key]; !ok {
		tag = c.fallback
		if _, ok := c.locales[tag.String()][key]; !ok {
			return key
		}
	}
	return message.NewPrinter(tag).Sprintf(key, args...)
}

// Has reports whether key exists in the default locale.
func (c *Catalog) Has(key string) bool {
	_, ok := c.locales[DefaultLang][key]
	return ok
}

func mustLoadEmbedded() *Catalog {
	c, err := Load(embeddedFS)
	if err != nil {
		panic(err)
	}
	return c
}
