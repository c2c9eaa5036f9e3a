package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone lookups must not depend on the host zoneinfo

	"gopkg.in/yaml.v3"
)

// ParseFailurePolicy decides what happens to a message that yields no shifts,
// either because its subject has no week range or because its body has
// nothing to extract.
type ParseFailurePolicy string

const (
	// PolicyRetry leaves the message unmarked so it is parsed again on every
	// poll cycle.
	PolicyRetry ParseFailurePolicy = "retry"
	// PolicyMarkProcessed records the message as processed so it is never
	// looked at again.
	PolicyMarkProcessed ParseFailurePolicy = "mark-processed"
)

// Destination types.
const (
	DestinationGoogle = "google"
	DestinationApple  = "apple"
)

// Processed store types.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "installed" first (for desktop apps), then "web"
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// Destination is a calendar account that receives shift events.
type Destination struct {
	Name string `json:"name" yaml:"name"` // Name for logging (e.g., "Personal Google", "iCloud")
	Type string `json:"type" yaml:"type"` // "google" or "apple"

	// Target calendars. For Google these are calendar IDs, for Apple the
	// CalDAV collection paths. Entries from CalendarSelectionPath are
	// appended.
	CalendarIDs           []string `json:"calendar_ids,omitempty" yaml:"calendar_ids,omitempty"`
	CalendarSelectionPath string   `json:"calendar_selection_path,omitempty" yaml:"calendar_selection_path,omitempty"`

	// For Google: path to the OAuth token file. Defaults to the top level token_path.
	TokenPath string `json:"token_path,omitempty" yaml:"token_path,omitempty"`

	// Apple Calendar specific fields
	ServerURL string `json:"server_url,omitempty" yaml:"server_url,omitempty"` // CalDAV server URL (e.g., "https://caldav.icloud.com")
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`     // iCloud email
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`     // App-specific password
}

// Config holds the configuration for the shift sync tool.
type Config struct {
	TokenPath             string `json:"token_path,omitempty" yaml:"token_path,omitempty"`
	GoogleCredentialsPath string `json:"google_credentials_path,omitempty" yaml:"google_credentials_path,omitempty"`
	OAuthPort             int    `json:"oauth_port,omitempty" yaml:"oauth_port,omitempty"`

	// Mailbox query
	Sender       string `json:"sender,omitempty" yaml:"sender,omitempty"`
	SubjectQuery string `json:"subject_query,omitempty" yaml:"subject_query,omitempty"`
	EarliestDate string `json:"earliest_date,omitempty" yaml:"earliest_date,omitempty"` // Gmail "after:" date, YYYY/MM/DD

	// Events
	Timezone   string `json:"timezone,omitempty" yaml:"timezone,omitempty"`       // IANA zone the schedule's wall-clock times are in
	EventTitle string `json:"event_title,omitempty" yaml:"event_title,omitempty"` // Visible title of every created event

	PollSchedule   string             `json:"poll_schedule,omitempty" yaml:"poll_schedule,omitempty"` // cron spec, e.g. "@every 12h"
	OnParseFailure ParseFailurePolicy `json:"on_parse_failure,omitempty" yaml:"on_parse_failure,omitempty"`

	ProcessedStore string `json:"processed_store,omitempty" yaml:"processed_store,omitempty"` // "file" or "sqlite"
	ProcessedPath  string `json:"processed_path,omitempty" yaml:"processed_path,omitempty"`

	Destinations []Destination `json:"destinations" yaml:"destinations"` // At least one is required
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LoadConfigFromFile loads configuration from a JSON file, or a YAML file when
// the extension is .yaml or .yml.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing.
func LoadConfig(configFile string, tokenPathFlag, googleCredentialsPathFlag, onParseFailureFlag string) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if tokenPath := os.Getenv("TOKEN_PATH"); tokenPath != "" {
		config.TokenPath = tokenPath
	}
	if googleCredentialsPath := os.Getenv("GOOGLE_CREDENTIALS_PATH"); googleCredentialsPath != "" {
		config.GoogleCredentialsPath = googleCredentialsPath
	}
	if timezone := os.Getenv("SHIFT_TIMEZONE"); timezone != "" {
		config.Timezone = timezone
	}
	if pollSchedule := os.Getenv("POLL_SCHEDULE"); pollSchedule != "" {
		config.PollSchedule = pollSchedule
	}
	if onParseFailure := os.Getenv("ON_PARSE_FAILURE"); onParseFailure != "" {
		config.OnParseFailure = ParseFailurePolicy(onParseFailure)
	}
	if oauthPort := os.Getenv("OAUTH_PORT"); oauthPort != "" {
		port, err := strconv.Atoi(oauthPort)
		if err != nil {
			return nil, fmt.Errorf("invalid OAUTH_PORT value: %w", err)
		}
		config.OAuthPort = port
	}

	// Step 3: Override with command-line flags (highest priority)
	if tokenPathFlag != "" {
		config.TokenPath = tokenPathFlag
	}
	if googleCredentialsPathFlag != "" {
		config.GoogleCredentialsPath = googleCredentialsPathFlag
	}
	if onParseFailureFlag != "" {
		config.OnParseFailure = ParseFailurePolicy(onParseFailureFlag)
	}

	// Step 4: Apply defaults and validate required fields
	if config.TokenPath == "" {
		return nil, fmt.Errorf("token_path must be provided via --token-path flag, TOKEN_PATH environment variable, or config file")
	}

	if config.GoogleCredentialsPath == "" {
		return nil, fmt.Errorf("google_credentials_path must be provided via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH environment variable, or config file")
	}

	if config.OAuthPort == 0 {
		config.OAuthPort = 8080
	}
	if config.Sender == "" {
		config.Sender = "no.reply@innout.com"
	}
	if config.SubjectQuery == "" {
		config.SubjectQuery = "INO # Schedule"
	}
	if config.EarliestDate == "" {
		config.EarliestDate = "2024/11/01"
	} else if _, err := time.Parse("2006/01/02", config.EarliestDate); err != nil {
		return nil, fmt.Errorf("earliest_date must be formatted YYYY/MM/DD, got '%s'", config.EarliestDate)
	}
	if config.Timezone == "" {
		config.Timezone = "America/Los_Angeles"
	}
	if _, err := config.Location(); err != nil {
		return nil, err
	}
	if config.EventTitle == "" {
		config.EventTitle = "INO"
	}
	if config.PollSchedule == "" {
		config.PollSchedule = "@every 12h"
	}

	switch config.OnParseFailure {
	case "":
		config.OnParseFailure = PolicyRetry
	case PolicyRetry, PolicyMarkProcessed:
	default:
		return nil, fmt.Errorf("on_parse_failure must be '%s' or '%s', got '%s'", PolicyRetry, PolicyMarkProcessed, config.OnParseFailure)
	}

	switch config.ProcessedStore {
	case "":
		config.ProcessedStore = StoreFile
	case StoreFile, StoreSQLite:
	default:
		return nil, fmt.Errorf("processed_store must be '%s' or '%s', got '%s'", StoreFile, StoreSQLite, config.ProcessedStore)
	}
	if config.ProcessedPath == "" {
		if config.ProcessedStore == StoreSQLite {
			config.ProcessedPath = "processed_emails.db"
		} else {
			config.ProcessedPath = "processed_emails.txt"
		}
	}

	// Validate that destinations array is provided
	if len(config.Destinations) == 0 {
		return nil, fmt.Errorf("destinations array must be provided in config file. At least one destination is required")
	}

	// Validate and set defaults for each destination
	for i := range config.Destinations {
		dest := &config.Destinations[i]

		// Set default name if not provided
		if dest.Name == "" {
			dest.Name = fmt.Sprintf("Destination %d", i+1)
		}

		if dest.Type == "" {
			dest.Type = DestinationGoogle
		}

		switch dest.Type {
		case DestinationGoogle:
			if dest.TokenPath == "" {
				dest.TokenPath = config.TokenPath
			}
		case DestinationApple:
			if dest.ServerURL == "" {
				return nil, fmt.Errorf("destination[%d] (name: %s): server_url must be provided for Apple Calendar destination", i, dest.Name)
			}
			if dest.Username == "" {
				return nil, fmt.Errorf("destination[%d] (name: %s): username must be provided for Apple Calendar destination", i, dest.Name)
			}
			if dest.Password == "" {
				return nil, fmt.Errorf("destination[%d] (name: %s): password must be provided for Apple Calendar destination", i, dest.Name)
			}
		default:
			return nil, fmt.Errorf("destination[%d].type must be '%s' or '%s', got '%s'", i, DestinationGoogle, DestinationApple, dest.Type)
		}

		if len(dest.CalendarIDs) == 0 && dest.CalendarSelectionPath == "" {
			return nil, fmt.Errorf("destination[%d] (name: %s): calendar_ids or calendar_selection_path must be provided", i, dest.Name)
		}
	}

	return &config, nil
}
