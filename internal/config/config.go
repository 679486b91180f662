package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server     ServerConfig     `toml:"server"`     // HTTP server settings
	Station    StationConfig    `toml:"station"`    // Airport the service is centred on
	Telemetry  TelemetryConfig  `toml:"telemetry"`  // Live state-vector feed
	Schedule   ScheduleConfig   `toml:"schedule"`   // Flight schedule feed
	Zone       ZoneConfig       `toml:"zone"`       // Geospatial search zone
	Enrichment EnrichmentConfig `toml:"enrichment"` // Cycle timing
	Demo       DemoConfig       `toml:"demo"`       // Synthetic fallback dataset
	Redis      RedisConfig      `toml:"redis"`      // Position cache
	Storage    StorageConfig    `toml:"storage"`    // Schedule document store
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
	Metrics    MetricsConfig    `toml:"metrics"`    // Prometheus endpoint
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the server
	Host             string `toml:"host"`                  // Host address to bind to (0.0.0.0 for all interfaces)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
}

// StationConfig locates the airport. Coordinates may be given directly or looked up by
// airport_code in an OurAirports CSV.
type StationConfig struct {
	AirportCode    string  `toml:"airport_code"`     // ICAO code of the airport (e.g., "EDDF")
	AirportIATA    string  `toml:"airport_iata"`     // IATA code; derived from the CSV or the ICAO code when empty
	Name           string  `toml:"name"`             // Display name
	Latitude       float64 `toml:"latitude"`         // Decimal degrees
	Longitude      float64 `toml:"longitude"`        // Decimal degrees
	ElevationFeet  int     `toml:"elevation_feet"`   // Field elevation
	AirportsDBPath string  `toml:"airports_db_path"` // Optional OurAirports airports.csv
}

// TelemetryConfig configures the OpenSky-style state vector source
type TelemetryConfig struct {
	BaseURL         string `toml:"base_url"`         // API root, e.g. https://opensky-network.org/api
	CredentialsPath string `toml:"credentials_path"` // JSON file with access_token or client credentials
	Username        string `toml:"username"`         // Basic auth user (used without a credentials file)
	Password        string `toml:"password"`         // Basic auth password
	TimeoutSecs     int    `toml:"timeout_seconds"`  // Per-request timeout
}

// ScheduleConfig configures the departures source
type ScheduleConfig struct {
	Enabled     bool   `toml:"enabled"`
	BaseURL     string `toml:"base_url"`        // API root, e.g. http://api.aviationstack.com/v1
	AccessKey   string `toml:"access_key"`      // API access key
	TimeoutSecs int    `toml:"timeout_seconds"` // Per-request timeout
	MaxRetries  int    `toml:"max_retries"`     // Retries per fetch on transport failure, 0 disables
	AirportIATA string `toml:"airport_iata"`    // Overrides the station's IATA code for departures
}

// ZoneConfig limits enrichment to a circle around the station
type ZoneConfig struct {
	Enabled  bool    `toml:"enabled"`
	RadiusKm float64 `toml:"radius_km"`
}

// EnrichmentConfig controls the cycle loop
type EnrichmentConfig struct {
	IntervalSecs int `toml:"interval_seconds"` // Delay between the end of one cycle and the start of the next
}

// DemoConfig controls the synthetic dataset served when telemetry is empty
type DemoConfig struct {
	Enabled       bool  `toml:"enabled"`
	AircraftCount int   `toml:"aircraft_count"`
	Seed          int64 `toml:"seed"`
}

// RedisConfig configures the position cache
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	TTLSecs  int    `toml:"ttl_seconds"`
}

// StorageConfig configures the schedule document store
type StorageConfig struct {
	Enabled    bool   `toml:"enabled"`
	SQLitePath string `toml:"sqlite_path"`
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultScheduleRetries applies when max_retries is absent from the file
const DefaultScheduleRetries = 3

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if !md.IsDefined("schedule", "max_retries") {
		config.Schedule.MaxRetries = DefaultScheduleRetries
	}

	if config.Station.AirportsDBPath != "" {
		if err := config.loadStationFromCSV(); err != nil {
			return nil, fmt.Errorf("failed to load station details from CSV: %w", err)
		}
	}

	return &config, nil
}

// loadStationFromCSV fills coordinates, elevation, name and IATA code from an
// OurAirports airports.csv. Values already set in the config file win.
func (c *Config) loadStationFromCSV() error {
	if c.Station.AirportCode == "" {
		return fmt.Errorf("airport_code is required")
	}

	file, err := os.Open(c.Station.AirportsDBPath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		return err
	}

	records, err := reader.ReadAll()
	if err != nil {
		return err
	}

	code := strings.ToUpper(c.Station.AirportCode)
	for _, record := range records {
		if len(record) < 7 || strings.ToUpper(record[1]) != code {
			continue
		}

		if c.Station.Latitude == 0 && c.Station.Longitude == 0 {
			lat, err := strconv.ParseFloat(record[4], 64)
			if err != nil {
				return fmt.Errorf("invalid latitude in CSV for %s: %w", code, err)
			}
			lon, err := strconv.ParseFloat(record[5], 64)
			if err != nil {
				return fmt.Errorf("invalid longitude in CSV for %s: %w", code, err)
			}
			c.Station.Latitude = lat
			c.Station.Longitude = lon
		}

		if c.Station.ElevationFeet == 0 && record[6] != "" {
			if elev, err := strconv.ParseFloat(record[6], 64); err == nil {
				c.Station.ElevationFeet = int(elev)
			}
		}
		if c.Station.Name == "" {
			c.Station.Name = record[3]
		}
		// iata_code is column 13 in the OurAirports layout
		if c.Station.AirportIATA == "" && len(record) > 13 {
			c.Station.AirportIATA = strings.ToUpper(strings.TrimSpace(record[13]))
		}
		return nil
	}

	return fmt.Errorf("airport code %s not found in %s", code, c.Station.AirportsDBPath)
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate fills defaults and rejects values the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 15
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}

	if err := c.ValidateStation(); err != nil {
		return err
	}

	if c.Telemetry.BaseURL == "" {
		c.Telemetry.BaseURL = "https://opensky-network.org/api"
	}
	if c.Telemetry.TimeoutSecs <= 0 {
		c.Telemetry.TimeoutSecs = 20
	}

	if c.Schedule.Enabled {
		if c.Schedule.AccessKey == "" {
			return fmt.Errorf("schedule access_key is required when the schedule source is enabled")
		}
		if c.Schedule.BaseURL == "" {
			c.Schedule.BaseURL = "http://api.aviationstack.com/v1"
		}
	}
	if c.Schedule.TimeoutSecs <= 0 {
		c.Schedule.TimeoutSecs = 20
	}
	if c.Schedule.MaxRetries < 0 {
		return fmt.Errorf("invalid schedule max_retries: %d (must be >= 0)", c.Schedule.MaxRetries)
	}

	if c.Zone.Enabled && c.Zone.RadiusKm <= 0 {
		return fmt.Errorf("invalid zone radius_km: %f (must be > 0)", c.Zone.RadiusKm)
	}

	if c.Enrichment.IntervalSecs == 0 {
		c.Enrichment.IntervalSecs = 30
	}
	if c.Enrichment.IntervalSecs < 0 {
		return fmt.Errorf("invalid enrichment interval_seconds: %d", c.Enrichment.IntervalSecs)
	}

	if c.Demo.AircraftCount <= 0 {
		c.Demo.AircraftCount = 12
	}
	if c.Demo.Seed == 0 {
		c.Demo.Seed = 42
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.TTLSecs <= 0 {
		c.Redis.TTLSecs = 300
	}

	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/schedules.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// ValidateStation validates the station configuration
func (c *Config) ValidateStation() error {
	if c.Station.AirportCode == "" && c.Station.AirportIATA == "" {
		return fmt.Errorf("station airport_code or airport_iata is required")
	}
	c.Station.AirportCode = strings.ToUpper(strings.TrimSpace(c.Station.AirportCode))
	c.Station.AirportIATA = strings.ToUpper(strings.TrimSpace(c.Station.AirportIATA))

	if c.Station.Latitude < -90 || c.Station.Latitude > 90 {
		return fmt.Errorf("invalid station latitude: %f", c.Station.Latitude)
	}
	if c.Station.Longitude < -180 || c.Station.Longitude > 180 {
		return fmt.Errorf("invalid station longitude: %f", c.Station.Longitude)
	}
	if c.Station.ElevationFeet < -2000 || c.Station.ElevationFeet > 30000 {
		return fmt.Errorf("station elevation out of typical range: %d ft", c.Station.ElevationFeet)
	}

	return nil
}

// Interval returns the enrichment interval as a duration
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Enrichment.IntervalSecs) * time.Second
}

// Seconds converts a seconds setting to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
