// Package schedule turns schedule notification emails into shift candidates
// and derives the stable identifiers used to deduplicate them.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// MeetingLabel is the label given to the mandatory store meeting candidate.
const MeetingLabel = "Mandatory Store Meeting"

// MeetingDuration is the assumed length of a mandatory store meeting.
// The notification never states an end time.
const MeetingDuration = time.Hour

// ErrInvalidRange is returned when a candidate would end at or before its start.
var ErrInvalidRange = errors.New("shift end must be after start")

// ShiftCandidate is a parsed shift or meeting that has not been written to
// any calendar yet. It is immutable once constructed.
type ShiftCandidate struct {
	label string
	start time.Time
	end   time.Time
}

// NewShiftCandidate creates a ShiftCandidate, rejecting ranges where end is not
// strictly after start.
func NewShiftCandidate(label string, start, end time.Time) (ShiftCandidate, error) {
	if !end.After(start) {
		return ShiftCandidate{}, fmt.Errorf("%s (%s - %s): %w", label, start.Format(canonicalLayout), end.Format(canonicalLayout), ErrInvalidRange)
	}
	return ShiftCandidate{label: label, start: start, end: end}, nil
}

// Label returns the human readable label, e.g. "Mon Shift".
func (c ShiftCandidate) Label() string { return c.label }

// Start returns the wall-clock start time.
func (c ShiftCandidate) Start() time.Time { return c.start }

// End returns the wall-clock end time.
func (c ShiftCandidate) End() time.Time { return c.end }

// String implements fmt.Stringer.
func (c ShiftCandidate) String() string {
	return fmt.Sprintf("%s from %s to %s", c.label, c.start.Format(canonicalLayout), c.end.Format(canonicalLayout))
}
