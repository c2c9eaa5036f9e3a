// Package sync turns schedule emails into calendar events.
package sync

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/beekhof/shift-sync/internal/config"
	"github.com/beekhof/shift-sync/internal/mail"
	"github.com/beekhof/shift-sync/internal/schedule"
)

// MessageSource supplies the notification emails to ingest. IDs are listed
// first so messages already processed are never downloaded.
type MessageSource interface {
	ListMessageIDs(ctx context.Context) ([]string, error)
	GetMessage(ctx context.Context, id string) (mail.Message, error)
}

// ProcessedStore remembers which messages have been ingested.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
}

// Destination is one calendar account and the calendars in it that receive
// shifts.
type Destination struct {
	Name        string
	Calendar    ShiftCalendar
	CalendarIDs []string
}

// Report summarises one sync run.
type Report struct {
	Messages         int // listed by the source
	AlreadyProcessed int
	FetchFailed      int
	Unparsable       int
	Shifts           int
	Created          int
	Skipped          int
	Failed           int
	MarkedProcessed  int
}

func (r Report) String() string {
	return fmt.Sprintf("%d message(s), %d already processed, %d not downloaded, %d unparsable, %d shift(s): %d created, %d skipped, %d failed; %d message(s) marked processed",
		r.Messages, r.AlreadyProcessed, r.FetchFailed, r.Unparsable, r.Shifts, r.Created, r.Skipped, r.Failed, r.MarkedProcessed)
}

// Syncer handles one pass over the mailbox.
type Syncer struct {
	source       MessageSource
	processed    ProcessedStore
	parser       *schedule.Parser
	destinations []Destination
	policy       config.ParseFailurePolicy
}

// NewSyncer creates a new Syncer instance. An empty policy means
// config.PolicyRetry.
func NewSyncer(source MessageSource, processed ProcessedStore, parser *schedule.Parser, destinations []Destination, policy config.ParseFailurePolicy) *Syncer {
	if policy == "" {
		policy = config.PolicyRetry
	}
	return &Syncer{
		source:       source,
		processed:    processed,
		parser:       parser,
		destinations: destinations,
		policy:       policy,
	}
}

// RunOnce lists the notification emails and syncs every unprocessed one.
// Only a failure to list messages is returned as an error; per-message and
// per-calendar problems are logged and counted in the report.
func (s *Syncer) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	log.Debug("Starting sync...")
	ids, err := s.source.ListMessageIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list messages: %w", err)
	}
	report.Messages = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.syncMessage(ctx, id, &report)
	}

	log.Infof("Sync complete: %s", report)
	return report, nil
}

func (s *Syncer) syncMessage(ctx context.Context, id string, report *Report) {
	logger := log.WithField("message", id)

	done, err := s.processed.IsProcessed(ctx, id)
	if err != nil {
		logger.Warnf("Warning: failed to check processed state, skipping message: %v", err)
		return
	}
	if done {
		report.AlreadyProcessed++
		logger.Debug("Skipping already processed message")
		return
	}

	msg, err := s.source.GetMessage(ctx, id)
	if err != nil {
		report.FetchFailed++
		logger.Warnf("Warning: failed to download message, will retry next run: %v", err)
		return
	}
	logger = logger.WithField("subject", msg.Subject)

	shifts, err := s.parser.Parse(msg.Subject, msg.BodyHTML)
	if err != nil || len(shifts) == 0 {
		report.Unparsable++
		switch {
		case errors.Is(err, schedule.ErrMalformedSubject):
			logger.Warn("Warning: no week range in subject")
		case err != nil:
			logger.Warnf("Warning: failed to parse message: %v", err)
		default:
			logger.Warn("Warning: no shifts found in message")
		}
		if s.policy == config.PolicyMarkProcessed {
			s.markProcessed(ctx, logger, id, report)
		}
		return
	}

	logger.Infof("Found %d shift(s)", len(shifts))
	report.Shifts += len(shifts)

	failed := 0
	for _, shift := range shifts {
		for _, dest := range s.destinations {
			for _, outcome := range Reconcile(ctx, shift, dest.CalendarIDs, dest.Calendar) {
				switch outcome.Action {
				case Created:
					report.Created++
				case Skipped:
					report.Skipped++
				case Failed:
					report.Failed++
					failed++
					logger.WithField("destination", dest.Name).Warnf("[%s] Failed to sync %s to %s: %v", dest.Name, shift, outcome.CalendarID, outcome.Err)
				}
			}
		}
	}

	if failed > 0 {
		logger.Warnf("Warning: %d calendar write(s) failed, message will be retried", failed)
		return
	}
	s.markProcessed(ctx, logger, id, report)
}

func (s *Syncer) markProcessed(ctx context.Context, logger *log.Entry, id string, report *Report) {
	if err := s.processed.MarkProcessed(ctx, id); err != nil {
		logger.Warnf("Warning: failed to mark message processed: %v", err)
		return
	}
	report.MarkedProcessed++
}
