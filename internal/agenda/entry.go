package agenda

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the wire format of start and end dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format of start and end times.
	TimeLayout = "15:04"

	// PlaceholderPoster is shown when an entry has no poster.
	PlaceholderPoster = "/placeholder.jpg"
)

// Entry is an agenda event as exchanged with the API. Dates and times keep their
// wire representation so that partially filled forms survive a round trip.
type Entry struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle"`
	Link        string   `json:"link"`
	Price       Price    `json:"price"`
	VenueName   string   `json:"venuename"`
	Address     string   `json:"address"`
	Place       string   `json:"place"`
	StartDate   string   `json:"startdate"`
	EndDate     string   `json:"enddate"`
	StartTime   string   `json:"starttime"`
	EndTime     string   `json:"endtime"`
	Description string   `json:"description"`
	Infos       string   `json:"infos"`
	Poster      string   `json:"poster"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Status      Status   `json:"status"`

	Email          string `json:"email,omitempty"`
	UserSubmission bool   `json:"userSubmission,omitempty"`
	Token          string `json:"token,omitempty"`
}

// Price is free text ("Gratuit", "20 CHF"); numeric JSON values are accepted and formatted.
type Price string

func (p *Price) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = Price(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = Price(strconv.FormatFloat(f, 'f', 2, 64))
	return nil
}

// ParseTags splits a comma separated tag list, dropping blanks.
func ParseTags(v string) []string {
	tags := []string{}
	for _, tag := range strings.Split(v, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Start returns the start of the event, combining date and time when both parse.
func (e Entry) Start(loc *time.Location) (time.Time, bool) {
	return combine(e.StartDate, e.StartTime, loc)
}

// End returns the end of the event. A missing end date falls back to the start date.
func (e Entry) End(loc *time.Location) (time.Time, bool) {
	date := e.EndDate
	if strings.TrimSpace(date) == "" {
		date = e.StartDate
	}
	if strings.TrimSpace(e.EndTime) == "" {
		return time.Time{}, false
	}
	return combine(date, e.EndTime, loc)
}

// Ended reports whether the last day of the event is before today.
func (e Entry) Ended(today time.Time) bool {
	date := e.EndDate
	if strings.TrimSpace(date) == "" {
		date = e.StartDate
	}
	end, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), today.Location())
	if err != nil {
		return false
	}
	return end.Before(truncateDay(today))
}

// WithPlaceholder returns a copy with the placeholder poster when none is set.
func (e Entry) WithPlaceholder() Entry {
	if strings.TrimSpace(e.Poster) == "" {
		e.Poster = PlaceholderPoster
	}
	return e
}

func combine(date, clock string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, false
	}
	clock = strings.TrimSpace(clock)
	if clock == "" {
		t, err := time.ParseInLocation(DateLayout, date, loc)
		return t, err == nil
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	return t, err == nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
