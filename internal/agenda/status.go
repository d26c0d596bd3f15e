package agenda

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the lifecycle status of a published agenda entry.
type Status int

const (
	StatusInactive Status = iota
	StatusActive
	StatusPending
	StatusDeleted
	// StatusRemoved hides an entry while keeping it, e.g. while its submission is re-moderated.
	StatusRemoved
	StatusArchived
)

var statusNames = map[Status]string{
	StatusInactive: "inactive",
	StatusActive:   "active",
	StatusPending:  "pending",
	StatusDeleted:  "deleted",
	StatusRemoved:  "removed",
	StatusArchived: "archived",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Listed reports whether entries with this status appear in the public agenda.
func (s Status) Listed() bool {
	return s == StatusActive
}

// ParseStatus accepts either a status name or its numeric value.
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for status, name := range statusNames {
		if name == v || fmt.Sprint(int(status)) == v {
			return status, nil
		}
	}
	return StatusInactive, fmt.Errorf("unknown agenda status %q", v)
}

// UnmarshalJSON decodes the numeric wire value; unknown values map to StatusInactive.
func (s *Status) UnmarshalJSON(b []byte) error {
	var value int
	if err := json.Unmarshal(b, &value); err != nil {
		return err
	}
	status := Status(value)
	if !status.Valid() {
		status = StatusInactive
	}
	*s = status
	return nil
}
