package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/beekhof/shift-sync/internal/auth"
	calclient "github.com/beekhof/shift-sync/internal/calendar"
	"github.com/beekhof/shift-sync/internal/config"
	"github.com/beekhof/shift-sync/internal/mail"
	"github.com/beekhof/shift-sync/internal/schedule"
	"github.com/beekhof/shift-sync/internal/store"
	"github.com/beekhof/shift-sync/internal/sync"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `Shift Sync

Reads In-N-Out schedule emails from Gmail and adds every shift and store
meeting to one or more calendars (Google Calendar or Apple Calendar/iCloud).
Events are never duplicated: each one carries an ID derived from the shift,
and a shift that is already on a calendar is skipped.

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help                    Show this help message and exit
    -v, --verbose                 Enable verbose output (show DEBUG logs)
    --config FILE                 Path to JSON or YAML config file (required)
    --once                        Sync once and exit instead of polling
    --list-calendars              Print the Google calendars of every Google
                                  destination and exit
    --token-path PATH             Path to store the Google OAuth token
                                  (overrides config file and TOKEN_PATH env var)
    --google-credentials-path PATH Path to Google OAuth credentials JSON file
                                  (overrides config file and GOOGLE_CREDENTIALS_PATH env var)
    --on-parse-failure POLICY     What to do with emails that contain no shifts:
                                  "retry" (default) or "mark-processed"
                                  (overrides config file and ON_PARSE_FAILURE env var)

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (TOKEN_PATH, GOOGLE_CREDENTIALS_PATH, SHIFT_TIMEZONE,
       POLL_SCHEDULE, ON_PARSE_FAILURE, OAUTH_PORT)
    3. Config file (--config)
    4. Defaults

CONFIG FILE:
    Example (JSON; the same keys work in a .yaml file):
    {
      "token_path": "/path/to/token.json",
      "google_credentials_path": "/path/to/credentials.json",
      "sender": "no.reply@innout.com",
      "subject_query": "INO # Schedule",
      "earliest_date": "2024/11/01",
      "timezone": "America/Los_Angeles",
      "event_title": "INO",
      "poll_schedule": "@every 12h",
      "on_parse_failure": "retry",
      "processed_store": "file",
      "processed_path": "processed_emails.txt",
      "destinations": [
        {
          "name": "Personal Google",
          "type": "google",
          "calendar_ids": ["primary"],
          "calendar_selection_path": "/path/to/selected_calendars.txt"
        },
        {
          "name": "iCloud",
          "type": "apple",
          "server_url": "https://caldav.icloud.com",
          "username": "your-email@icloud.com",
          "password": "app-specific-password",
          "calendar_ids": ["/1234567/calendars/work/"]
        }
      ]
    }

    processed_store is "file" (one message ID per line) or "sqlite".
    poll_schedule accepts cron expressions and descriptors such as "@every 12h".

    The Google credentials JSON file should be in the format downloaded from
    Google Cloud Console. It should contain either an "installed" or "web"
    section with "client_id" and "client_secret" fields.

    For Apple Calendar, you need an app-specific password from iCloud.
    Generate one at: https://appleid.apple.com/account/manage

EXAMPLES:
    # Poll for schedule emails
    %s --config /path/to/config.json

    # Sync once, e.g. from cron
    %s --config /path/to/config.yaml --once

    # Find calendar IDs for the config file
    %s --config /path/to/config.json --list-calendars

    # Show help
    %s --help
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

// processedStore is what both processed-message stores provide.
type processedStore interface {
	sync.ProcessedStore
	Close() error
}

func main() {
	// Parse command-line flags
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose output (show DEBUG logs)")
	verboseFlagShort := flag.Bool("v", false, "Enable verbose output (shorthand)")
	configFile := flag.String("config", "", "Path to JSON or YAML config file (required)")
	once := flag.Bool("once", false, "Sync once and exit")
	listCalendars := flag.Bool("list-calendars", false, "List Google calendars and exit")
	tokenPath := flag.String("token-path", "", "Path to store the Google OAuth token (overrides config file and TOKEN_PATH env var)")
	googleCredentialsPath := flag.String("google-credentials-path", "", "Path to Google OAuth credentials JSON file (overrides config file and GOOGLE_CREDENTIALS_PATH env var)")
	onParseFailure := flag.String("on-parse-failure", "", "retry or mark-processed (overrides config file and ON_PARSE_FAILURE env var)")
	flag.Parse()

	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	// Set up logging
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if *verboseFlag || *verboseFlagShort {
		log.SetLevel(log.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration (precedence: flags > env vars > config file > defaults)
	if *configFile == "" {
		log.Fatalf("--config FILE is required. Use --help for more information.")
	}
	cfg, err := config.LoadConfig(*configFile, *tokenPath, *googleCredentialsPath, *onParseFailure)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Failed to load timezone: %v", err)
	}

	clientID, clientSecret, err := config.LoadGoogleCredentials(cfg.GoogleCredentialsPath)
	if err != nil {
		log.Fatalf("Failed to load Google credentials: %v", err)
	}
	oauthConfig := auth.NewOAuthConfig(clientID, clientSecret)

	// One authenticated client per token file; the mailbox uses the top level token.
	clients := map[string]*http.Client{}
	googleClient := func(path string) (*http.Client, error) {
		if client, ok := clients[path]; ok {
			return client, nil
		}
		client, err := auth.GetAuthenticatedClient(ctx, oauthConfig, auth.NewFileTokenStore(path), cfg.OAuthPort)
		if err != nil {
			return nil, err
		}
		clients[path] = client
		return client, nil
	}

	template := calclient.EventTemplate{Title: cfg.EventTitle, Location: loc}

	if *listCalendars {
		if err := printCalendars(ctx, cfg, template, googleClient); err != nil {
			log.Fatalf("Failed to list calendars: %v", err)
		}
		return
	}

	mailClient, err := googleClient(cfg.TokenPath)
	if err != nil {
		log.Fatalf("Failed to authenticate mailbox account: %v", err)
	}
	source, err := mail.NewGmailClient(ctx, mailClient, mail.Query{
		Sender:       cfg.Sender,
		Subject:      cfg.SubjectQuery,
		EarliestDate: cfg.EarliestDate,
	})
	if err != nil {
		log.Fatalf("Failed to create Gmail client: %v", err)
	}

	// Messages are marked processed for all destinations at once, so running
	// with one missing would lose its shifts for good.
	destinations, err := buildDestinations(ctx, cfg.Destinations, template, googleClient)
	if err != nil {
		log.Fatalf("Failed to set up destinations: %v", err)
	}

	processed, err := openProcessedStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open processed message store: %v", err)
	}
	defer processed.Close()

	syncer := sync.NewSyncer(source, processed, schedule.NewParser(loc), destinations, cfg.OnParseFailure)

	if *once {
		report, err := syncer.RunOnce(ctx)
		if err != nil {
			log.Errorf("Sync failed: %v", err)
			processed.Close()
			os.Exit(1)
		}
		if report.Failed > 0 {
			log.Warnf("Sync completed with %d failed calendar write(s)", report.Failed)
		}
		return
	}

	scheduler, err := sync.NewScheduler(cfg.PollSchedule, syncer)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	log.Infof("Polling on schedule %q", cfg.PollSchedule)
	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Scheduler stopped: %v", err)
	}
}

// buildDestinations sets up every configured destination. Any failure is
// returned; there is no partial result.
func buildDestinations(ctx context.Context, dests []config.Destination, template calclient.EventTemplate, googleClient func(string) (*http.Client, error)) ([]sync.Destination, error) {
	if len(dests) == 0 {
		return nil, fmt.Errorf("no destinations configured")
	}
	destinations := make([]sync.Destination, 0, len(dests))
	for _, dest := range dests {
		d, err := buildDestination(ctx, dest, template, googleClient)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", dest.Name, err)
		}
		log.Infof("[%s] Syncing to %d calendar(s) (type: %s)", d.Name, len(d.CalendarIDs), dest.Type)
		destinations = append(destinations, d)
	}
	return destinations, nil
}

// buildDestination creates the calendar client for dest and resolves its
// calendar IDs.
func buildDestination(ctx context.Context, dest config.Destination, template calclient.EventTemplate, googleClient func(string) (*http.Client, error)) (sync.Destination, error) {
	calendarIDs := append([]string{}, dest.CalendarIDs...)
	if dest.CalendarSelectionPath != "" {
		selected, err := store.LoadCalendarSelection(dest.CalendarSelectionPath)
		if err != nil {
			return sync.Destination{}, err
		}
		calendarIDs = append(calendarIDs, selected...)
	}
	if len(calendarIDs) == 0 {
		return sync.Destination{}, fmt.Errorf("no calendars selected")
	}

	var cal sync.ShiftCalendar
	switch dest.Type {
	case config.DestinationApple:
		cal = calclient.NewAppleCalendarClient(dest.ServerURL, dest.Username, dest.Password, template)
	default:
		httpClient, err := googleClient(dest.TokenPath)
		if err != nil {
			return sync.Destination{}, fmt.Errorf("failed to authenticate: %w", err)
		}
		cal, err = calclient.NewClient(ctx, httpClient, template)
		if err != nil {
			return sync.Destination{}, err
		}
	}

	return sync.Destination{Name: dest.Name, Calendar: cal, CalendarIDs: calendarIDs}, nil
}

func openProcessedStore(ctx context.Context, cfg *config.Config) (processedStore, error) {
	if cfg.ProcessedStore == config.StoreSQLite {
		return store.OpenSQLiteProcessedStore(ctx, cfg.ProcessedPath)
	}
	return store.OpenFileProcessedStore(cfg.ProcessedPath)
}

// printCalendars lists the calendars of every Google destination so their IDs
// can be copied into the config file or a selection file.
func printCalendars(ctx context.Context, cfg *config.Config, template calclient.EventTemplate, googleClient func(string) (*http.Client, error)) error {
	for _, dest := range cfg.Destinations {
		if dest.Type != config.DestinationGoogle {
			continue
		}
		httpClient, err := googleClient(dest.TokenPath)
		if err != nil {
			return fmt.Errorf("%s: %w", dest.Name, err)
		}
		client, err := calclient.NewClient(ctx, httpClient, template)
		if err != nil {
			return fmt.Errorf("%s: %w", dest.Name, err)
		}
		calendars, err := client.ListCalendars(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", dest.Name, err)
		}

		fmt.Printf("%s:\n", dest.Name)
		for i, c := range calendars {
			primary := ""
			if c.Primary {
				primary = " (primary)"
			}
			fmt.Printf("  %d. %s%s [%s]\n     %s\n", i+1, c.Summary, primary, c.Access, c.ID)
		}
	}
	return nil
}
