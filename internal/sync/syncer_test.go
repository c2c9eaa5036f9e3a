package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/beekhof/shift-sync/internal/config"
	"github.com/beekhof/shift-sync/internal/mail"
	"github.com/beekhof/shift-sync/internal/schedule"
)

var twoShiftMessage = mail.Message{
	ID:      "m1",
	Subject: "INO # Schedule 06/10/24 - 06/16/24",
	BodyHTML: `<p>Mandatory Store Meeting on 06/12/2024 at 10:00 AM</p>
<table><tr><td>Mon:</td><td>06/10</td><td>9:00am-5:00pm</td></tr></table>`,
}

type SyncerSuite struct {
	suite.Suite
	ctx       context.Context
	source    *mockSource
	processed *mockProcessedStore
	calendar  *mockCalendar
	parser    *schedule.Parser
}

func TestSyncer(t *testing.T) {
	suite.Run(t, new(SyncerSuite))
}

func (suite *SyncerSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.source = &mockSource{}
	suite.processed = &mockProcessedStore{}
	suite.calendar = &mockCalendar{}
	suite.parser = schedule.NewParser(time.UTC)
}

func (suite *SyncerSuite) TearDownTest() {
	suite.source.AssertExpectations(suite.T())
	suite.processed.AssertExpectations(suite.T())
	suite.calendar.AssertExpectations(suite.T())
}

func (suite *SyncerSuite) newSyncer(policy config.ParseFailurePolicy, calendarIDs ...string) *Syncer {
	destinations := []Destination{{Name: "test", Calendar: suite.calendar, CalendarIDs: calendarIDs}}
	return NewSyncer(suite.source, suite.processed, suite.parser, destinations, policy)
}

// serve lists msgs from the source and makes each one downloadable.
func (suite *SyncerSuite) serve(ctx context.Context, msgs ...mail.Message) {
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
		suite.source.On("GetMessage", ctx, msg.ID).Return(msg, nil).Maybe()
	}
	suite.source.On("ListMessageIDs", ctx).Return(ids, nil)
}

func (suite *SyncerSuite) TestRunOnce_CreatesEventsAndMarksMessage() {
	suite.serve(suite.ctx, twoShiftMessage)
	suite.processed.On("IsProcessed", suite.ctx, "m1").Return(false, nil)
	suite.calendar.On("EventExists", suite.ctx, "cal-a", mock.Anything).Return(false, nil).Twice()
	suite.calendar.On("InsertShift", suite.ctx, "cal-a", mock.Anything, mock.Anything).Return(nil).Twice()
	suite.processed.On("MarkProcessed", suite.ctx, "m1").Return(nil).Once()

	report, err := suite.newSyncer(config.PolicyRetry, "cal-a").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(Report{Messages: 1, Shifts: 2, Created: 2, MarkedProcessed: 1}, report)
}

func (suite *SyncerSuite) TestRunOnce_SkipsProcessedMessages() {
	suite.serve(suite.ctx, twoShiftMessage)
	suite.processed.On("IsProcessed", suite.ctx, "m1").Return(true, nil)

	report, err := suite.newSyncer(config.PolicyRetry, "cal-a").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(1, report.AlreadyProcessed)
	suite.source.AssertNotCalled(suite.T(), "GetMessage", mock.Anything, mock.Anything)
	suite.calendar.AssertNotCalled(suite.T(), "EventExists", mock.Anything, mock.Anything, mock.Anything)
	suite.processed.AssertNotCalled(suite.T(), "MarkProcessed", mock.Anything, mock.Anything)
}

func (suite *SyncerSuite) TestRunOnce_ExistingEventsStillMarkMessage() {
	suite.serve(suite.ctx, twoShiftMessage)
	suite.processed.On("IsProcessed", suite.ctx, "m1").Return(false, nil)
	suite.calendar.On("EventExists", suite.ctx, "cal-a", mock.Anything).Return(true, nil).Twice()
	suite.processed.On("MarkProcessed", suite.ctx, "m1").Return(nil).Once()

	report, err := suite.newSyncer(config.PolicyRetry, "cal-a").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(2, report.Skipped)
	suite.Equal(0, report.Created)
	suite.calendar.AssertNotCalled(suite.T(), "InsertShift", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *SyncerSuite) TestRunOnce_FailedWriteLeavesMessageUnmarked() {
	suite.serve(suite.ctx, twoShiftMessage)
	suite.processed.On("IsProcessed", suite.ctx, "m1").Return(false, nil)
	suite.calendar.On("EventExists", suite.ctx, mock.Anything, mock.Anything).Return(false, nil)
	suite.calendar.On("InsertShift", suite.ctx, "cal-a", mock.Anything, mock.Anything).Return(errors.New("boom"))
	suite.calendar.On("InsertShift", suite.ctx, "cal-b", mock.Anything, mock.Anything).Return(nil)

	report, err := suite.newSyncer(config.PolicyRetry, "cal-a", "cal-b").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(2, report.Failed)
	suite.Equal(2, report.Created, "cal-b is still written")
	suite.Equal(0, report.MarkedProcessed)
	suite.processed.AssertNotCalled(suite.T(), "MarkProcessed", mock.Anything, mock.Anything)
}

func (suite *SyncerSuite) TestRunOnce_MalformedSubjectRetryPolicy() {
	msg := mail.Message{ID: "bad", Subject: "Your schedule", BodyHTML: "Mon: 06/10 9:00am-5:00pm"}
	suite.serve(suite.ctx, msg)
	suite.processed.On("IsProcessed", suite.ctx, "bad").Return(false, nil)

	report, err := suite.newSyncer(config.PolicyRetry, "cal-a").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(1, report.Unparsable)
	suite.processed.AssertNotCalled(suite.T(), "MarkProcessed", mock.Anything, mock.Anything)
}

func (suite *SyncerSuite) TestRunOnce_MalformedSubjectMarkPolicy() {
	msg := mail.Message{ID: "bad", Subject: "Your schedule", BodyHTML: "Mon: 06/10 9:00am-5:00pm"}
	suite.serve(suite.ctx, msg)
	suite.processed.On("IsProcessed", suite.ctx, "bad").Return(false, nil)
	suite.processed.On("MarkProcessed", suite.ctx, "bad").Return(nil).Once()

	report, err := suite.newSyncer(config.PolicyMarkProcessed, "cal-a").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(1, report.Unparsable)
	suite.Equal(1, report.MarkedProcessed)
}

func (suite *SyncerSuite) TestRunOnce_NoShiftsFollowsPolicy() {
	msg := mail.Message{ID: "empty", Subject: twoShiftMessage.Subject, BodyHTML: "<p>Tue: 06/11 OFF</p>"}
	suite.serve(suite.ctx, msg)
	suite.processed.On("IsProcessed", suite.ctx, "empty").Return(false, nil)

	report, err := suite.newSyncer("", "cal-a").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(1, report.Unparsable)
	suite.Equal(0, report.MarkedProcessed, "empty policy defaults to retry")
}

func (suite *SyncerSuite) TestRunOnce_StoreLookupFailureSkipsMessage() {
	other := twoShiftMessage
	other.ID = "m2"
	suite.serve(suite.ctx, twoShiftMessage, other)
	suite.processed.On("IsProcessed", suite.ctx, "m1").Return(false, errors.New("disk error"))
	suite.processed.On("IsProcessed", suite.ctx, "m2").Return(true, nil)

	report, err := suite.newSyncer(config.PolicyRetry, "cal-a").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(1, report.AlreadyProcessed)
	suite.Equal(0, report.Shifts)
}

func (suite *SyncerSuite) TestRunOnce_DownloadFailureSkipsOnlyThatMessage() {
	healthy := twoShiftMessage
	healthy.ID = "good"
	suite.source.On("ListMessageIDs", suite.ctx).Return([]string{"bad", "good"}, nil)
	suite.source.On("GetMessage", suite.ctx, "bad").Return(nil, errors.New("googleapi: got HTTP response code 500")).Once()
	suite.source.On("GetMessage", suite.ctx, "good").Return(healthy, nil).Once()
	suite.processed.On("IsProcessed", suite.ctx, "bad").Return(false, nil)
	suite.processed.On("IsProcessed", suite.ctx, "good").Return(false, nil)
	suite.calendar.On("EventExists", suite.ctx, "cal-a", mock.Anything).Return(false, nil).Twice()
	suite.calendar.On("InsertShift", suite.ctx, "cal-a", mock.Anything, mock.Anything).Return(nil).Twice()
	suite.processed.On("MarkProcessed", suite.ctx, "good").Return(nil).Once()

	report, err := suite.newSyncer(config.PolicyMarkProcessed, "cal-a").RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(Report{Messages: 2, FetchFailed: 1, Shifts: 2, Created: 2, MarkedProcessed: 1}, report)
	suite.processed.AssertNotCalled(suite.T(), "MarkProcessed", suite.ctx, "bad")
}

func (suite *SyncerSuite) TestRunOnce_ListFailure() {
	suite.source.On("ListMessageIDs", suite.ctx).Return(nil, errors.New("unauthorized"))

	_, err := suite.newSyncer(config.PolicyRetry, "cal-a").RunOnce(suite.ctx)

	suite.ErrorContains(err, "failed to list messages")
}

func (suite *SyncerSuite) TestRunOnce_MultipleDestinations() {
	second := &mockCalendar{}
	destinations := []Destination{
		{Name: "google", Calendar: suite.calendar, CalendarIDs: []string{"primary"}},
		{Name: "icloud", Calendar: second, CalendarIDs: []string{"/1/calendars/work/"}},
	}
	suite.serve(suite.ctx, twoShiftMessage)
	suite.processed.On("IsProcessed", suite.ctx, "m1").Return(false, nil)
	suite.calendar.On("EventExists", suite.ctx, "primary", mock.Anything).Return(true, nil).Twice()
	second.On("EventExists", suite.ctx, "/1/calendars/work/", mock.Anything).Return(false, nil).Twice()
	second.On("InsertShift", suite.ctx, "/1/calendars/work/", mock.Anything, mock.Anything).Return(nil).Twice()
	suite.processed.On("MarkProcessed", suite.ctx, "m1").Return(nil).Once()

	report, err := NewSyncer(suite.source, suite.processed, suite.parser, destinations, config.PolicyRetry).RunOnce(suite.ctx)

	suite.NoError(err)
	suite.Equal(2, report.Skipped)
	suite.Equal(2, report.Created)
	second.AssertExpectations(suite.T())
}

func (suite *SyncerSuite) TestRunOnce_CancelledContext() {
	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()
	suite.serve(ctx, twoShiftMessage)

	_, err := suite.newSyncer(config.PolicyRetry, "cal-a").RunOnce(ctx)

	suite.ErrorIs(err, context.Canceled)
}

func (suite *SyncerSuite) TestRunOnce_ReplayedMessageCreatesNothing() {
	cal := newFakeCalendar()
	destinations := []Destination{{Name: "fake", Calendar: cal, CalendarIDs: []string{"cal-a"}}}
	suite.serve(suite.ctx, twoShiftMessage)
	// The processed store loses the marker, so the message is parsed again.
	suite.processed.On("IsProcessed", suite.ctx, "m1").Return(false, nil).Twice()
	suite.processed.On("MarkProcessed", suite.ctx, "m1").Return(nil).Twice()

	syncer := NewSyncer(suite.source, suite.processed, suite.parser, destinations, config.PolicyRetry)
	first, err := syncer.RunOnce(suite.ctx)
	suite.NoError(err)
	second, err := syncer.RunOnce(suite.ctx)
	suite.NoError(err)

	suite.Equal(2, first.Created)
	suite.Equal(0, second.Created)
	suite.Equal(2, second.Skipped)
	suite.Equal(2, cal.inserts)
}

func (suite *SyncerSuite) TestReportString() {
	r := Report{Messages: 3, AlreadyProcessed: 1, FetchFailed: 1, Unparsable: 1, Shifts: 2, Created: 1, Skipped: 1, MarkedProcessed: 1}
	suite.Contains(r.String(), "3 message(s)")
	suite.Contains(r.String(), "1 created")
	suite.Contains(r.String(), "1 not downloaded")
}
