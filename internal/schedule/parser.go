package schedule

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrMalformedSubject is returned when the subject line carries no
// "Schedule MM/DD/YY - MM/DD/YY" week range. The whole message is
// unparsable in that case.
var ErrMalformedSubject = errors.New("no week range found in subject line")

var (
	// Arbitrary boilerplate may sit between "Schedule" and the range.
	weekRangePattern = regexp.MustCompile(`Schedule\b.*?(\d{2}/\d{2}/\d{2})\s*-\s*(\d{2}/\d{2}/\d{2})`)

	meetingPattern = regexp.MustCompile(`Mandatory Store Meeting on (\d{2}/\d{2}/\d{4}) at (\d{1,2}:\d{2} (?:AM|PM))`)

	dayShiftPattern = regexp.MustCompile(`(?i)\b(Mon|Tue|Wed|Thu|Fri|Sat|Sun):\s*(\d{2}/\d{2})\s*(\d{1,2}:\d{2}(?:am|pm)-\d{1,2}:\d{2}(?:am|pm)|OFF)`)
)

const (
	weekDateLayout    = "01/02/06"
	meetingLayout     = "01/02/2006 3:04 PM"
	monthDayLayout    = "01/02"
	shiftClockLayout  = "3:04pm"
	offStatus         = "off"
	shiftLabelPostfix = " Shift"
)

// Parser extracts shift candidates from schedule notification emails.
// Parsed times are wall-clock values placed in a fixed location; no
// conversion between zones is performed.
type Parser struct {
	loc *time.Location
}

// NewParser creates a Parser that places all parsed times in loc.
// A nil loc falls back to time.Local.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{loc: loc}
}

// Location returns the location parsed times are placed in.
func (p *Parser) Location() *time.Location {
	return p.loc
}

// Parse extracts the candidates from one notification.
//
// The meeting candidate, if any, comes first, followed by day shifts in the
// order they appear in the body. Days marked OFF and malformed day tokens
// produce no candidate. A body with nothing to extract yields an empty slice
// and a nil error; a subject without a week range yields ErrMalformedSubject.
func (p *Parser) Parse(subject, bodyHTML string) ([]ShiftCandidate, error) {
	anchorYear, err := weekAnchorYear(subject)
	if err != nil {
		return nil, err
	}

	text := stripMarkup(bodyHTML)
	shifts := []ShiftCandidate{}

	if meeting, ok := p.parseMeeting(text); ok {
		shifts = append(shifts, meeting)
	}

	for _, m := range dayShiftPattern.FindAllStringSubmatch(text, -1) {
		shift, ok := p.parseDayShift(anchorYear, m[1], m[2], m[3])
		if ok {
			shifts = append(shifts, shift)
		}
	}

	return shifts, nil
}

// weekAnchorYear returns the year of the first date of the subject's week range.
func weekAnchorYear(subject string) (int, error) {
	m := weekRangePattern.FindStringSubmatch(subject)
	if m == nil {
		return 0, ErrMalformedSubject
	}
	weekStart, err := time.Parse(weekDateLayout, m[1])
	if err != nil {
		return 0, ErrMalformedSubject
	}
	return weekStart.Year(), nil
}

func (p *Parser) parseMeeting(text string) (ShiftCandidate, bool) {
	m := meetingPattern.FindStringSubmatch(text)
	if m == nil {
		return ShiftCandidate{}, false
	}
	start, err := time.ParseInLocation(meetingLayout, m[1]+" "+m[2], p.loc)
	if err != nil {
		return ShiftCandidate{}, false
	}
	// Wall-clock arithmetic, so a meeting on a DST change day still ends an
	// hour later on the clock.
	end := time.Date(start.Year(), start.Month(), start.Day(), start.Hour()+int(MeetingDuration/time.Hour), start.Minute(), 0, 0, p.loc)
	meeting, err := NewShiftCandidate(MeetingLabel, start, end)
	if err != nil {
		return ShiftCandidate{}, false
	}
	return meeting, true
}

func (p *Parser) parseDayShift(year int, day, monthDay, timeRange string) (ShiftCandidate, bool) {
	timeRange = strings.ToLower(timeRange)
	if timeRange == offStatus {
		return ShiftCandidate{}, false
	}

	md, err := time.Parse(monthDayLayout, monthDay)
	if err != nil {
		return ShiftCandidate{}, false
	}
	date := time.Date(year, md.Month(), md.Day(), 0, 0, 0, 0, p.loc)
	if date.Month() != md.Month() || date.Day() != md.Day() {
		// 02/29 outside a leap year.
		return ShiftCandidate{}, false
	}

	startClock, endClock, ok := strings.Cut(timeRange, "-")
	if !ok {
		return ShiftCandidate{}, false
	}
	start, err := p.onDate(date, startClock)
	if err != nil {
		return ShiftCandidate{}, false
	}
	end, err := p.onDate(date, endClock)
	if err != nil {
		return ShiftCandidate{}, false
	}

	// Overnight shift: applied once, never iteratively.
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	shift, err := NewShiftCandidate(day+shiftLabelPostfix, start, end)
	if err != nil {
		return ShiftCandidate{}, false
	}
	return shift, true
}

// onDate places a 12-hour clock reading such as "9:00am" on date.
func (p *Parser) onDate(date time.Time, clock string) (time.Time, error) {
	t, err := time.Parse(shiftClockLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, p.loc), nil
}

// stripMarkup reduces an HTML document to its text, replacing every tag with a
// single space so text from adjacent elements does not run together.
// Script and style contents are dropped.
func stripMarkup(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a tokenizer error; keep whatever was recovered.
			return normalizeSpaces(b.String())
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken:
			name, _ := z.TagName()
			if a := atom.Lookup(name); a == atom.Script || a == atom.Style {
				if tt == html.StartTagToken {
					skipDepth++
				} else if skipDepth > 0 {
					skipDepth--
				}
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

// normalizeSpaces turns non-breaking spaces into plain ones so the patterns'
// \s classes match text that came from &nbsp; entities.
func normalizeSpaces(s string) string {
	return strings.ReplaceAll(s, "\u00a0", " ")
}
