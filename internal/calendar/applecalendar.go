package calendar

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	log "github.com/sirupsen/logrus"

	"github.com/beekhof/shift-sync/internal/schedule"
)

// uidDomain qualifies event UIDs written over CalDAV.
const uidDomain = "shift-sync"

// AppleCalendarClient is a client for Apple Calendar/iCloud using CalDAV.
// Calendar IDs are collection paths such as "/1234/calendars/work/".
type AppleCalendarClient struct {
	httpClient *http.Client
	username   string
	password   string
	serverURL  string
	template   EventTemplate
}

// NewAppleCalendarClient creates a new Apple Calendar client using CalDAV.
// serverURL should be the CalDAV server URL (e.g., "https://caldav.icloud.com" for iCloud)
// username and password are the iCloud credentials (password should be an app-specific password)
func NewAppleCalendarClient(serverURL, username, password string, template EventTemplate) *AppleCalendarClient {
	return &AppleCalendarClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		username:   username,
		password:   password,
		serverURL:  serverURL,
		template:   template,
	}
}

// makeRequest makes an authenticated HTTP request to the CalDAV server.
func (c *AppleCalendarClient) makeRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	url := strings.TrimSuffix(c.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method == "REPORT" {
		req.Header.Set("Depth", "1")
	}

	return c.httpClient.Do(req)
}

// EventExists reports whether the calendar holds an event whose description
// contains identifier. The server filters with a text-match; the decoded
// descriptions are checked again because servers differ in how strictly
// they apply it.
func (c *AppleCalendarClient) EventExists(ctx context.Context, calendarID, identifier string) (bool, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(identifier)); err != nil {
		return false, fmt.Errorf("failed to build calendar query: %w", err)
	}

	queryBody := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:prop-filter name="DESCRIPTION">
          <C:text-match collation="i;octet">%s</C:text-match>
        </C:prop-filter>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`, escaped.String())

	resp, err := c.makeRequest(ctx, "REPORT", calendarID, "application/xml; charset=utf-8", strings.NewReader(queryBody))
	if err != nil {
		return false, fmt.Errorf("CalDAV: failed to query calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return false, fmt.Errorf("CalDAV: failed to query calendar: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("CalDAV: failed to read response: %w", err)
	}

	calendarData, err := parseCalDAVResponse(body)
	if err != nil {
		return false, fmt.Errorf("CalDAV: failed to parse response: %w", err)
	}

	for _, data := range calendarData {
		cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
		if err != nil {
			log.Warnf("Warning: failed to parse iCalendar data: %v", err)
			continue
		}
		for _, event := range cal.Events() {
			description, err := event.Props.Text(ical.PropDescription)
			if err != nil {
				continue
			}
			if strings.Contains(description, identifier) {
				return true, nil
			}
		}
	}

	return false, nil
}

// InsertShift stores the shift as <calendarID><identifier>.ics.
func (c *AppleCalendarClient) InsertShift(ctx context.Context, calendarID string, shift schedule.ShiftCandidate, identifier string) error {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(c.shiftToICal(shift, identifier, time.Now())); err != nil {
		return fmt.Errorf("failed to encode iCalendar: %w", err)
	}

	path := strings.TrimSuffix(calendarID, "/") + "/" + identifier + ".ics"
	resp, err := c.makeRequest(ctx, http.MethodPut, path, "text/calendar; charset=utf-8", &buf)
	if err != nil {
		return fmt.Errorf("CalDAV: failed to insert event: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent, http.StatusOK:
		return nil
	default:
		return fmt.Errorf("CalDAV: failed to insert event: HTTP %d", resp.StatusCode)
	}
}

// shiftToICal renders a shift as a VCALENDAR holding a single VEVENT.
func (c *AppleCalendarClient) shiftToICal(shift schedule.ShiftCandidate, identifier string, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//Shift Sync//EN")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, identifier+"@"+uidDomain)
	event.Props.SetText(ical.PropSummary, c.template.Title)
	event.Props.SetText(ical.PropDescription, Description(identifier))
	event.Props.SetDateTime(ical.PropDateTimeStart, c.template.zoned(shift.Start()))
	event.Props.SetDateTime(ical.PropDateTimeEnd, c.template.zoned(shift.End()))
	event.Props.SetText("X-SHIFT-ID", identifier)

	stamp := now.UTC()
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	event.Props.SetDateTime(ical.PropCreated, stamp)
	event.Props.SetDateTime(ical.PropLastModified, stamp)

	cal.Children = append(cal.Children, event.Component)
	return cal
}

// parseCalDAVResponse parses a CalDAV REPORT response to extract iCalendar data.
func parseCalDAVResponse(body []byte) ([]string, error) {
	type CalendarData struct {
		XMLName xml.Name `xml:"calendar-data"`
		Data    string   `xml:",chardata"`
	}

	type Prop struct {
		CalendarData CalendarData `xml:"calendar-data"`
	}

	type Response struct {
		XMLName xml.Name `xml:"response"`
		Prop    Prop     `xml:"propstat>prop"`
	}

	type Multistatus struct {
		XMLName   xml.Name   `xml:"multistatus"`
		Responses []Response `xml:"response"`
	}

	var multistatus Multistatus
	if err := xml.Unmarshal(body, &multistatus); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	var events []string
	for _, resp := range multistatus.Responses {
		if resp.Prop.CalendarData.Data != "" {
			events = append(events, resp.Prop.CalendarData.Data)
		}
	}

	return events, nil
}
