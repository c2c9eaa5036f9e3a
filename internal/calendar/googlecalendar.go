package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/beekhof/shift-sync/internal/schedule"
)

// errStopPaging ends a paged listing early once a match is found.
var errStopPaging = errors.New("stop paging")

// Client is a wrapper around the Google Calendar API service.
type Client struct {
	service  *calendar.Service
	template EventTemplate
}

// CalendarInfo describes one entry of the user's calendar list.
type CalendarInfo struct {
	ID      string
	Summary string
	Primary bool
	Access  string
}

// NewClient creates a new Google Calendar API client using the provided HTTP client.
// Extra options are appended after the HTTP client, e.g. option.WithEndpoint in tests.
func NewClient(ctx context.Context, httpClient *http.Client, template EventTemplate, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{service: service, template: template}, nil
}

// ListCalendars returns every calendar in the user's calendar list.
func (c *Client) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	var calendars []CalendarInfo
	err := c.service.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, entry := range list.Items {
			calendars = append(calendars, CalendarInfo{
				ID:      entry.Id,
				Summary: entry.Summary,
				Primary: entry.Primary,
				Access:  entry.AccessRole,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Google: failed to list calendars: %w", err)
	}
	return calendars, nil
}

// EventExists reports whether any event on the calendar carries identifier in
// its description. The free-text search narrows the listing server side; the
// substring check confirms the match.
func (c *Client) EventExists(ctx context.Context, calendarID, identifier string) (bool, error) {
	found := false
	err := c.service.Events.List(calendarID).
		Q(identifier).
		SingleEvents(true). // Expand recurring events
		Pages(ctx, func(events *calendar.Events) error {
			for _, event := range events.Items {
				if strings.Contains(event.Description, identifier) {
					log.WithFields(log.Fields{
						"calendar": calendarID,
						"event":    event.Id,
					}).Debugf("Event already exists for event ID: %s", identifier)
					found = true
					return errStopPaging
				}
			}
			return nil
		})
	if err != nil && !errors.Is(err, errStopPaging) {
		return false, fmt.Errorf("Google: failed to search events: %w", err)
	}
	return found, nil
}

// InsertShift creates the event for a shift.
// Important: Sets sendUpdates="none" to prevent notifications.
func (c *Client) InsertShift(ctx context.Context, calendarID string, shift schedule.ShiftCandidate, identifier string) error {
	_, err := c.service.Events.Insert(calendarID, c.prepareEvent(shift, identifier)).
		SendUpdates("none"). // Disable notifications
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("Google: failed to insert event: %w", err)
	}

	return nil
}

// prepareEvent renders a shift as a Google Calendar event.
func (c *Client) prepareEvent(shift schedule.ShiftCandidate, identifier string) *calendar.Event {
	return &calendar.Event{
		Summary:     c.template.Title,
		Description: Description(identifier),
		Start: &calendar.EventDateTime{
			DateTime: c.template.zoned(shift.Start()).Format(time.RFC3339),
			TimeZone: c.template.zoneName(),
		},
		End: &calendar.EventDateTime{
			DateTime: c.template.zoned(shift.End()).Format(time.RFC3339),
			TimeZone: c.template.zoneName(),
		},
		Reminders: &calendar.EventReminders{
			UseDefault: true,
		},
		// Set extended properties to track the shift identifier
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				shiftIDProperty: identifier,
				"shiftLabel":    shift.Label(),
			},
		},
	}
}
