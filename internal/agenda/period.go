package agenda

import (
	"fmt"
	"strings"
	"time"
)

// Violation codes. They double as message keys in the i18n catalog.
const (
	CodeRequired          = "required"
	CodeStartDateRequired = "start_date_required"
	CodeEndBeforeStart    = "end_before_start"
	CodeEndNotFuture      = "end_not_future"
	CodeStartTimeRequired = "start_time_required"
	CodeEqualTimes        = "equal_times"
	CodeInvalidDate       = "invalid_date"
	CodeInvalidTime       = "invalid_time"
)

// Violation is a rule broken by an entry.
type Violation struct {
	Code  string
	Field string
}

func (v *Violation) Error() string {
	if v.Field == "" {
		return v.Code
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Code)
}

// CheckPeriod validates the event period. A zero today skips the check that an
// explicitly set end date lies after today.
func CheckPeriod(e Entry, today time.Time) error {
	startDate := strings.TrimSpace(e.StartDate)
	endDate := strings.TrimSpace(e.EndDate)
	startTime := strings.TrimSpace(e.StartTime)
	endTime := strings.TrimSpace(e.EndTime)

	if endDate != "" && startDate == "" {
		return &Violation{Code: CodeStartDateRequired, Field: "startdate"}
	}

	var start, end time.Time
	var err error
	if startDate != "" {
		if start, err = time.Parse(DateLayout, startDate); err != nil {
			return &Violation{Code: CodeInvalidDate, Field: "startdate"}
		}
	}
	if endDate != "" {
		if end, err = time.Parse(DateLayout, endDate); err != nil {
			return &Violation{Code: CodeInvalidDate, Field: "enddate"}
		}
		if end.Before(start) {
			return &Violation{Code: CodeEndBeforeStart, Field: "enddate"}
		}
		if !today.IsZero() {
			day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
			if !end.After(day) {
				return &Violation{Code: CodeEndNotFuture, Field: "enddate"}
			}
		}
	}

	if endTime != "" && startTime == "" {
		return &Violation{Code: CodeStartTimeRequired, Field: "starttime"}
	}
	var st, et time.Time
	if startTime != "" {
		if st, err = time.Parse(TimeLayout, startTime); err != nil {
			return &Violation{Code: CodeInvalidTime, Field: "starttime"}
		}
	}
	if endTime != "" {
		if et, err = time.Parse(TimeLayout, endTime); err != nil {
			return &Violation{Code: CodeInvalidTime, Field: "endtime"}
		}
		// An earlier end time is allowed: the event runs past midnight.
		if st.Equal(et) {
			return &Violation{Code: CodeEqualTimes, Field: "endtime"}
		}
	}
	return nil
}

// Validate checks the fields the backend requires before storing an entry.
func (e Entry) Validate() error {
	if err := e.CheckRequired(); err != nil {
		return err
	}
	return CheckPeriod(e, time.Time{})
}

// CheckRequired reports the first mandatory field left blank.
func (e Entry) CheckRequired() error {
	required := []struct {
		field string
		value string
	}{
		{"title", e.Title},
		{"venuename", e.VenueName},
		{"address", e.Address},
		{"place", e.Place},
		{"startdate", e.StartDate},
		{"starttime", e.StartTime},
		{"price", string(e.Price)},
		{"category", e.Category},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &Violation{Code: CodeRequired, Field: r.field}
		}
	}
	return nil
}
