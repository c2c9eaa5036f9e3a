package sync

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/beekhof/shift-sync/internal/schedule"
)

// ShiftCalendar is the calendar backend a shift is reconciled against.
type ShiftCalendar interface {
	// EventExists reports whether an event carrying identifier is already
	// on the calendar.
	EventExists(ctx context.Context, calendarID, identifier string) (bool, error)
	// InsertShift creates the event for shift.
	InsertShift(ctx context.Context, calendarID string, shift schedule.ShiftCandidate, identifier string) error
}

// Action is what reconciliation did for one calendar.
type Action int

const (
	Created Action = iota
	Skipped
	Failed
)

func (a Action) String() string {
	switch a {
	case Created:
		return "created"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of reconciling one shift against one calendar.
type Outcome struct {
	CalendarID string
	Identifier string
	Action     Action
	Err        error // set when Action is Failed
}

// Reconcile makes sure shift exists on every calendar in calendarIDs,
// returning one outcome per calendar in the same order.
//
// Calendars are handled one after another and a failure on one never stops
// the rest. A failed existence check is reported as Failed without writing.
// The check and the insert are not atomic: two concurrent reconciliations of
// the same shift against the same calendar can both create it, so callers
// must not run them in parallel.
func Reconcile(ctx context.Context, shift schedule.ShiftCandidate, calendarIDs []string, cal ShiftCalendar) []Outcome {
	identifier := schedule.Identify(shift)
	outcomes := make([]Outcome, 0, len(calendarIDs))

	for _, calendarID := range calendarIDs {
		outcome := Outcome{CalendarID: calendarID, Identifier: identifier}
		logger := log.WithFields(log.Fields{
			"calendar": calendarID,
			"event_id": identifier,
		})

		exists, err := cal.EventExists(ctx, calendarID, identifier)
		switch {
		case err != nil:
			outcome.Action = Failed
			outcome.Err = err
			logger.Warnf("Warning: failed to check for existing event (%s): %v", shift, err)
		case exists:
			outcome.Action = Skipped
			logger.Debugf("Event already exists: %s", shift)
		default:
			if err := cal.InsertShift(ctx, calendarID, shift, identifier); err != nil {
				outcome.Action = Failed
				outcome.Err = err
				logger.Warnf("Warning: failed to insert event (%s): %v", shift, err)
			} else {
				outcome.Action = Created
				logger.Infof("Event created: %s", shift)
			}
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes
}
