package sync

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/beekhof/shift-sync/internal/mail"
	"github.com/beekhof/shift-sync/internal/schedule"
)

type mockCalendar struct {
	mock.Mock
}

func (m *mockCalendar) EventExists(ctx context.Context, calendarID, identifier string) (bool, error) {
	args := m.Called(ctx, calendarID, identifier)
	return args.Bool(0), args.Error(1)
}

func (m *mockCalendar) InsertShift(ctx context.Context, calendarID string, shift schedule.ShiftCandidate, identifier string) error {
	args := m.Called(ctx, calendarID, shift, identifier)
	return args.Error(0)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListMessageIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockSource) GetMessage(ctx context.Context, id string) (mail.Message, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(mail.Message)
	return msg, args.Error(1)
}

type mockProcessedStore struct {
	mock.Mock
}

func (m *mockProcessedStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockProcessedStore) MarkProcessed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
