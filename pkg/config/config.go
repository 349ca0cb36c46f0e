package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the complete feedhub configuration.
// It is loaded once at startup; the core treats every value as already valid.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Site          SiteConfig          `json:"site"`
	Feeders       []FeederConfig      `json:"feeders"`
	Intervals     IntervalConfig      `json:"intervals"`
	OpenSky       OpenSkyConfig       `json:"opensky"`
	AirplanesLive AirplanesLiveConfig `json:"airplanes_live"`
	Spacecraft    SpacecraftConfig    `json:"spacecraft"`
	FlightAware   FlightAwareConfig   `json:"flightaware"`
	Planespotters PlanespottersConfig `json:"planespotters"`
	Outline       OutlineConfig       `json:"outline"`
	Auth          AuthConfig          `json:"auth"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// AllowedOrigins is passed to the CORS handler (default: ["*"])
	AllowedOrigins []string `json:"allowed_origins"`

	// TLSEnabled determines if HTTPS should be used
	TLSEnabled bool `json:"tls_enabled"`

	// TLSCertFile is the path to the TLS certificate
	TLSCertFile string `json:"tls_cert_file"`

	// TLSKeyFile is the path to the TLS private key
	TLSKeyFile string `json:"tls_key_file"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Enabled turns on the PostgreSQL history archive and range-data snapshots
	Enabled bool `json:"enabled"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// SiteConfig is the reference position every distance and bearing is measured from.
type SiteConfig struct {
	// Name is a friendly identifier for the receiving site
	Name string `json:"name"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`
}

// FeederConfig describes one local receiver the poller fetches from.
type FeederConfig struct {
	// Name is the unique feeder name shown in feeder lists (e.g., "north")
	Name string `json:"name"`

	// Type selects the built-in field mapping: readsb, dump1090, adsbx, fr24feeder, airsquitter
	Type string `json:"type"`

	// Color is the display color handed to clients
	Color string `json:"color"`

	// Endpoint is the URL of the receiver's aircraft JSON (never exposed to clients)
	Endpoint string `json:"endpoint"`

	// Enabled determines if the poller fetches this feeder
	Enabled bool `json:"enabled"`

	// Mapping overrides individual provider keys of the built-in mapping.
	// An empty value removes the field from the mapping.
	Mapping map[string]string `json:"mapping,omitempty"`

	// TimeoutSeconds bounds a single fetch (default: 5)
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// Timeout returns the fetch timeout for this feeder.
func (f FeederConfig) Timeout() time.Duration {
	if f.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(f.TimeoutSeconds * float64(time.Second))
}

// IntervalConfig holds the cadence of every scheduled task.
type IntervalConfig struct {
	// LocalPollSeconds is the local poller tick (default: 2)
	LocalPollSeconds float64 `json:"local_poll_seconds"`

	// RemotePollSeconds is the remote aircraft coalescer tick (default: 5)
	RemotePollSeconds float64 `json:"remote_poll_seconds"`

	// SpacecraftPollSeconds is the spacecraft coalescer tick (default: 10)
	SpacecraftPollSeconds float64 `json:"spacecraft_poll_seconds"`

	// ArchiveIntervalMinutes is how often idle local records are archived (default: 60)
	ArchiveIntervalMinutes int `json:"archive_interval_minutes"`

	// ArchiveIdleMinutes is how long a local record must be idle to be archived (default: 60)
	ArchiveIdleMinutes int `json:"archive_idle_minutes"`

	// RemotePurgeMinutes is how long remote records live without an update (default: 10)
	RemotePurgeMinutes int `json:"remote_purge_minutes"`

	// TrailRetentionHours is how long live trail points are kept (default: 24)
	TrailRetentionHours int `json:"trail_retention_hours"`

	// ReenteredDebounceMillis is the gap after which a vehicle counts as reentered (default: 3000)
	ReenteredDebounceMillis int `json:"reentered_debounce_millis"`

	// RangeRetentionDays is how long range-data snapshots are kept in the database (default: 30)
	RangeRetentionDays int `json:"range_retention_days"`
}

// LocalPoll returns the local poller tick.
func (i IntervalConfig) LocalPoll() time.Duration { return seconds(i.LocalPollSeconds) }

// RemotePoll returns the remote aircraft coalescer tick.
func (i IntervalConfig) RemotePoll() time.Duration { return seconds(i.RemotePollSeconds) }

// SpacecraftPoll returns the spacecraft coalescer tick.
func (i IntervalConfig) SpacecraftPoll() time.Duration { return seconds(i.SpacecraftPollSeconds) }

// ArchiveInterval returns the archive job cadence.
func (i IntervalConfig) ArchiveInterval() time.Duration {
	return time.Duration(i.ArchiveIntervalMinutes) * time.Minute
}

// ArchiveIdle returns the idle threshold for archiving.
func (i IntervalConfig) ArchiveIdle() time.Duration {
	return time.Duration(i.ArchiveIdleMinutes) * time.Minute
}

// RemotePurge returns the idle threshold for purging remote records.
func (i IntervalConfig) RemotePurge() time.Duration {
	return time.Duration(i.RemotePurgeMinutes) * time.Minute
}

// TrailRetention returns how long live trail points are kept.
func (i IntervalConfig) TrailRetention() time.Duration {
	return time.Duration(i.TrailRetentionHours) * time.Hour
}

// RangeRetention returns how long range-data snapshots are kept.
func (i IntervalConfig) RangeRetention() time.Duration {
	return time.Duration(i.RangeRetentionDays) * 24 * time.Hour
}

// ReenteredDebounce returns the reentered debounce window.
func (i IntervalConfig) ReenteredDebounce() time.Duration {
	return time.Duration(i.ReenteredDebounceMillis) * time.Millisecond
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// OpenSkyConfig contains OpenSky Network API settings.
type OpenSkyConfig struct {
	// Enabled determines if "Opensky" requests are dispatched
	Enabled bool `json:"enabled"`

	// BaseURL is the REST API base URL (default: https://opensky-network.org/api)
	BaseURL string `json:"base_url"`

	// TokenURL is the OAuth2 client-credentials endpoint
	TokenURL string `json:"token_url"`

	// ClientID for the OAuth2 client-credentials flow (optional)
	ClientID string `json:"client_id"`

	// ClientSecret for the OAuth2 client-credentials flow (should be loaded from environment)
	ClientSecret string `json:"client_secret"`
}

// AirplanesLiveConfig contains airplanes.live API settings.
type AirplanesLiveConfig struct {
	// Enabled determines if "Airplanes-Live" requests are dispatched
	Enabled bool `json:"enabled"`

	// BaseURL is the API base URL (default: https://api.airplanes.live/v2)
	BaseURL string `json:"base_url"`

	// RadiusNM is the point search radius (max 250)
	RadiusNM float64 `json:"radius_nm"`

	// RateLimitSeconds is the minimum time between API calls in seconds
	RateLimitSeconds float64 `json:"rate_limit_seconds"`
}

// SpacecraftConfig contains the ISS position feed settings.
type SpacecraftConfig struct {
	// Enabled determines if spacecraft requests are served
	Enabled bool `json:"enabled"`

	// URL is the Open-Notify ISS position endpoint
	URL string `json:"url"`
}

// FlightAwareConfig contains FlightAware AeroAPI settings used for route enrichment.
type FlightAwareConfig struct {
	// APIKey is the FlightAware API key for AeroAPI v4
	APIKey string `json:"api_key"`

	// Enabled determines if route enrichment is attempted
	Enabled bool `json:"enabled"`

	// RequestsPerHour limits the API call rate
	RequestsPerHour int `json:"requests_per_hour"`
}

// PlanespottersConfig contains photo lookup settings.
type PlanespottersConfig struct {
	// Enabled determines if photo enrichment is attempted
	Enabled bool `json:"enabled"`

	// BaseURL is the public API base URL (default: https://api.planespotters.net/pub)
	BaseURL string `json:"base_url"`

	// RequestsPerMinute limits the API call rate
	RequestsPerMinute int `json:"requests_per_minute"`
}

// OutlineConfig contains range-outline settings.
type OutlineConfig struct {
	// MaxDistanceKm rejects points farther than this from the site.
	// 0 means no ceiling; pick a value that matches the deployment's antennas.
	MaxDistanceKm float64 `json:"max_distance_km"`
}

// AuthConfig contains operator login settings for admin endpoints.
type AuthConfig struct {
	// AdminUsername is the operator login name
	AdminUsername string `json:"admin_username"`

	// AdminPasswordHash is a bcrypt hash of the operator password.
	// Admin endpoints are disabled when empty.
	AdminPasswordHash string `json:"admin_password_hash"`

	// JWTSecret signs session tokens (should be loaded from environment)
	JWTSecret string `json:"jwt_secret"`

	// TokenDurationMinutes is the session lifetime (default: 60)
	TokenDurationMinutes int `json:"token_duration_minutes"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
// Missing sections in the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
// No feeders are configured by default.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "feedhub",
			Username:     "feedhub",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Site: SiteConfig{
			Name: "Primary Site",
		},
		Feeders: []FeederConfig{},
		Intervals: IntervalConfig{
			LocalPollSeconds:        2,
			RemotePollSeconds:       5,
			SpacecraftPollSeconds:   10,
			ArchiveIntervalMinutes:  60,
			ArchiveIdleMinutes:      60,
			RemotePurgeMinutes:      10,
			TrailRetentionHours:     24,
			ReenteredDebounceMillis: 3000,
			RangeRetentionDays:      30,
		},
		OpenSky: OpenSkyConfig{
			Enabled:  true,
			BaseURL:  "https://opensky-network.org/api",
			TokenURL: "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token",
		},
		AirplanesLive: AirplanesLiveConfig{
			Enabled:          true,
			BaseURL:          "https://api.airplanes.live/v2",
			RadiusNM:         250,
			RateLimitSeconds: 1.0,
		},
		Spacecraft: SpacecraftConfig{
			Enabled: true,
			URL:     "http://api.open-notify.org/iss-now.json",
		},
		FlightAware: FlightAwareConfig{
			Enabled:         false,
			RequestsPerHour: 60,
		},
		Planespotters: PlanespottersConfig{
			Enabled:           false,
			BaseURL:           "https://api.planespotters.net/pub",
			RequestsPerMinute: 30,
		},
		Outline: OutlineConfig{
			MaxDistanceKm: 0,
		},
		Auth: AuthConfig{
			AdminUsername:        "admin",
			TokenDurationMinutes: 60,
		},
	}
}

// Validate checks the structural consistency of the configuration.
// Feeder types are checked when feeders are constructed.
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Feeders))
	for i, f := range c.Feeders {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("feeder %d: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("feeder %q: duplicate name", name))
		}
		seen[name] = true
		if f.Endpoint == "" {
			errs = append(errs, fmt.Errorf("feeder %q: endpoint is required", name))
		}
		if f.Type == "" {
			errs = append(errs, fmt.Errorf("feeder %q: type is required", name))
		}
	}

	iv := c.Intervals
	if iv.LocalPollSeconds <= 0 || iv.RemotePollSeconds <= 0 || iv.SpacecraftPollSeconds <= 0 {
		errs = append(errs, errors.New("intervals: poll intervals must be positive"))
	}
	if iv.ArchiveIntervalMinutes <= 0 || iv.ArchiveIdleMinutes <= 0 || iv.RemotePurgeMinutes <= 0 {
		errs = append(errs, errors.New("intervals: archive and purge intervals must be positive"))
	}
	if iv.TrailRetentionHours <= 0 {
		errs = append(errs, errors.New("intervals: trail retention must be positive"))
	}
	if iv.RangeRetentionDays < 0 {
		errs = append(errs, errors.New("intervals: range retention must not be negative"))
	}
	if iv.ReenteredDebounceMillis < 0 {
		errs = append(errs, errors.New("intervals: reentered debounce must not be negative"))
	}

	if c.Site.Latitude < -90 || c.Site.Latitude > 90 || c.Site.Longitude < -180 || c.Site.Longitude > 180 {
		errs = append(errs, errors.New("site: position out of range"))
	}

	if c.Outline.MaxDistanceKm < 0 {
		errs = append(errs, errors.New("outline: max_distance_km must not be negative"))
	}

	return errors.Join(errs...)
}

// EnabledFeeders returns the feeders the poller should fetch, in configured order.
func (c *Config) EnabledFeeders() []FeederConfig {
	out := make([]FeederConfig, 0, len(c.Feeders))
	for _, f := range c.Feeders {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows credentials to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("FEEDHUB_PORT"); port != "" {
		c.Server.Port = port
	}
	if dbPassword := os.Getenv("FEEDHUB_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if id := os.Getenv("FEEDHUB_OPENSKY_CLIENT_ID"); id != "" {
		c.OpenSky.ClientID = id
	}
	if secret := os.Getenv("FEEDHUB_OPENSKY_CLIENT_SECRET"); secret != "" {
		c.OpenSky.ClientSecret = secret
	}
	if faKey := os.Getenv("FEEDHUB_FLIGHTAWARE_API_KEY"); faKey != "" {
		c.FlightAware.APIKey = faKey
	}
	if secret := os.Getenv("FEEDHUB_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
