// Package calendar writes shift events to Google Calendar and CalDAV servers
// and looks them up again by their embedded identifier.
package calendar

import (
	"time"
)

// descriptionPrefix precedes the identifier in every event description.
// Lookups search for the identifier as a substring, so the prefix may change
// without breaking deduplication.
const descriptionPrefix = "Event ID: "

// shiftIDProperty is the private extended property holding the identifier.
const shiftIDProperty = "shiftId"

// EventTemplate controls how a shift candidate is rendered as an event.
type EventTemplate struct {
	// Title is the visible summary of every event. The candidate's own
	// label is not shown.
	Title string
	// Location is the fixed zone the candidate's wall-clock times are
	// written in.
	Location *time.Location
}

// Description returns the event description embedding identifier.
func Description(identifier string) string {
	return descriptionPrefix + identifier
}

// zoned returns ts as the same wall-clock reading in the template location.
func (t EventTemplate) zoned(ts time.Time) time.Time {
	if t.Location == nil {
		return ts
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, t.Location)
}

func (t EventTemplate) zoneName() string {
	if t.Location == nil {
		return ""
	}
	return t.Location.String()
}
