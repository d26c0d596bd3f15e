// Package ical exports agenda entries as iCalendar files.
package ical

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/afromemo/afromemo/internal/agenda"
)

// DefaultDuration is used when an entry has no end time.
const DefaultDuration = time.Hour

const maxLineOctets = 75

// ErrNoStart is returned for entries without a parsable start.
var ErrNoStart = errors.New("ical: entry has no start date")

// Options tune the exported event.
type Options struct {
	// Location interprets the entry's wall-clock dates and times. Nil means time.Local.
	Location *time.Location
	// BaseURL, when set, is used to build the event URL from the entry ID.
	BaseURL string
	// Domain suffixes generated UIDs.
	Domain string
}

// Build returns a VCALENDAR holding one VEVENT for e. now is the DTSTAMP.
func Build(e agenda.Entry, now time.Time, opts Options) (string, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	start, ok := e.Start(loc)
	if !ok {
		return "", ErrNoStart
	}
	end, ok := e.End(loc)
	switch {
	case !ok:
		end = start.Add(DefaultDuration)
	case !end.After(start):
		// An end time before the start time runs past midnight.
		end = end.AddDate(0, 0, 1)
	}

	domain := opts.Domain
	if domain == "" {
		domain = "afromemo"
	}
	uid := e.ID
	if uid == "" {
		uid = fmt.Sprintf("%d", start.Unix())
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Afromemo//Agenda//FR",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		fmt.Sprintf("UID:%s@%s", EscapeValue(sanitizeText(uid)), domain),
		"DTSTAMP:" + now.UTC().Format("20060102T150405Z"),
		"DTSTART:" + start.UTC().Format("20060102T150405Z"),
		"DTEND:" + end.UTC().Format("20060102T150405Z"),
		"SUMMARY:" + EscapeValue(sanitizeText(e.Title)),
	}
	if desc := description(e); desc != "" {
		lines = append(lines, "DESCRIPTION:"+EscapeValue(desc))
	}
	if place := location(e); place != "" {
		lines = append(lines, "LOCATION:"+EscapeValue(place))
	}
	if cat := sanitizeText(e.Category); cat != "" {
		lines = append(lines, "CATEGORIES:"+EscapeValue(cat))
	}
	if link := eventURL(e, opts.BaseURL); link != "" {
		lines = append(lines, "URL:"+link)
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR")

	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(Fold(line))
		sb.WriteString("\r\n")
	}
	return sb.String(), nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName derives a safe .ics file name from the entry title.
func FileName(e agenda.Entry) string {
	name := strings.Trim(unsafeFileChars.ReplaceAllString(strings.TrimSpace(e.Title), "-"), "-.")
	if name == "" {
		name = "event"
	}
	if len(name) > 64 {
		name = strings.TrimRight(name[:64], "-.")
	}
	return name + ".ics"
}

// EscapeValue escapes special characters for iCalendar text values.
func EscapeValue(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// Fold splits a content line into chunks of at most 75 octets, continuation
// lines starting with a space. Multi-byte characters are never split.
func Fold(line string) string {
	if len(line) <= maxLineOctets {
		return line
	}
	var sb strings.Builder
	limit := maxLineOctets
	n := 0
	for _, r := range line {
		size := utf8.RuneLen(r)
		if n+size > limit {
			sb.WriteString("\r\n ")
			n = 0
			limit = maxLineOctets - 1
		}
		sb.WriteRune(r)
		n += size
	}
	return sb.String()
}

// UnfoldLines reverses Fold and splits the content into lines.
func UnfoldLines(ics string) []string {
	ics = strings.ReplaceAll(ics, "\r\n", "\n")
	ics = strings.ReplaceAll(ics, "\r", "\n")
	var lines []string
	for _, line := range strings.Split(ics, "\n") {
		if len(lines) > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			lines[len(lines)-1] += line[1:]
			continue
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func description(e agenda.Entry) string {
	var parts []string
	for _, p := range []string{e.Subtitle, e.Description, e.Infos} {
		if p = sanitizeText(p); p != "" {
			parts = append(parts, p)
		}
	}
	if price := sanitizeText(string(e.Price)); price != "" {
		parts = append(parts, "Prix: "+price)
	}
	return strings.Join(parts, "\n\n")
}

func location(e agenda.Entry) string {
	var parts []string
	for _, p := range []string{e.VenueName, e.Address, e.Place} {
		if p = sanitizeText(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func eventURL(e agenda.Entry, base string) string {
	if link := sanitizeURI(e.Link); link != "" {
		return link
	}
	if base == "" || e.ID == "" {
		return ""
	}
	return sanitizeURI(strings.TrimRight(base, "/") + "/agenda/" + url.PathEscape(e.ID))
}

func sanitizeText(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "\r\n", "\n")
	value = strings.ReplaceAll(value, "\r", "\n")
	if value == "" || hasInvalidText(value) {
		return ""
	}
	return value
}

func sanitizeURI(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, "\r\n") || hasInvalidText(value) {
		return ""
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return value
}

func hasInvalidText(value string) bool {
	for _, r := range value {
		if r == '\n' || r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
