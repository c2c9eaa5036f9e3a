package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	calclient "github.com/beekhof/shift-sync/internal/calendar"
	"github.com/beekhof/shift-sync/internal/config"
)

var testTemplate = calclient.EventTemplate{Title: "INO", Location: time.UTC}

func noGoogle(t *testing.T) func(string) (*http.Client, error) {
	return func(path string) (*http.Client, error) {
		t.Errorf("unexpected Google authentication for %s", path)
		return nil, errors.New("not available")
	}
}

func appleDestination(name string) config.Destination {
	return config.Destination{
		Name:        name,
		Type:        config.DestinationApple,
		ServerURL:   "https://caldav.example.com",
		Username:    "user@example.com",
		Password:    "secret",
		CalendarIDs: []string{"/1/calendars/work/"},
	}
}

func TestBuildDestinations(t *testing.T) {
	dir := t.TempDir()
	selection := filepath.Join(dir, "selected_calendars.txt")
	require.NoError(t, os.WriteFile(selection, []byte("# chosen\n/1/calendars/home/\n"), 0600))

	second := appleDestination("iCloud home")
	second.CalendarIDs = nil
	second.CalendarSelectionPath = selection

	destinations, err := buildDestinations(context.Background(), []config.Destination{appleDestination("iCloud"), second}, testTemplate, noGoogle(t))
	require.NoError(t, err)
	require.Len(t, destinations, 2)
	assert.Equal(t, "iCloud", destinations[0].Name)
	assert.Equal(t, []string{"/1/calendars/work/"}, destinations[0].CalendarIDs)
	assert.Equal(t, []string{"/1/calendars/home/"}, destinations[1].CalendarIDs)
	assert.NotNil(t, destinations[1].Calendar)
}

func TestBuildDestinations_AnyFailureIsFatal(t *testing.T) {
	broken := appleDestination("iCloud home")
	broken.CalendarSelectionPath = filepath.Join(t.TempDir(), "missing.txt")

	destinations, err := buildDestinations(context.Background(), []config.Destination{appleDestination("iCloud"), broken}, testTemplate, noGoogle(t))
	assert.ErrorContains(t, err, "[iCloud home]")
	assert.ErrorContains(t, err, "failed to open calendar selection file")
	assert.Nil(t, destinations, "healthy destinations are not returned on their own")
}

func TestBuildDestinations_GoogleAuthFailure(t *testing.T) {
	google := config.Destination{
		Name:        "Personal Google",
		Type:        config.DestinationGoogle,
		TokenPath:   "token.json",
		CalendarIDs: []string{"primary"},
	}
	var requested []string
	googleClient := func(path string) (*http.Client, error) {
		requested = append(requested, path)
		return nil, errors.New("token expired")
	}

	_, err := buildDestinations(context.Background(), []config.Destination{appleDestination("iCloud"), google}, testTemplate, googleClient)
	assert.ErrorContains(t, err, "[Personal Google] failed to authenticate: token expired")
	assert.Equal(t, []string{"token.json"}, requested)
}

func TestBuildDestinations_NoneConfigured(t *testing.T) {
	_, err := buildDestinations(context.Background(), nil, testTemplate, noGoogle(t))
	assert.ErrorContains(t, err, "no destinations configured")
}
