package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Storage  StorageConfig  `toml:"storage"`  // Data persistence settings
	Sessions SessionsConfig `toml:"sessions"` // Remote-control session settings
	Capture  CaptureConfig  `toml:"capture"`  // Screen capture settings
	Input    InputConfig    `toml:"input"`    // Remote input injection settings
	Auth     AuthConfig     `toml:"auth"`     // Staff authentication settings
	SMTP     SMTPConfig     `toml:"smtp"`     // Email notification settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for streaming)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Type       string `toml:"type"`        // Storage backend type (only "sqlite" is supported)
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file (e.g., "data/helpdesk.db")
}

// SessionsConfig contains remote-control session configuration.
// Sessions are held in memory only and do not survive a restart.
type SessionsConfig struct {
	TTLMinutes           int `toml:"ttl_minutes"`            // Fixed session lifetime from creation (default: 120)
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"` // How often expired sessions are purged (default: 5)
}

// CaptureConfig contains screen capture configuration
type CaptureConfig struct {
	FPS         int `toml:"fps"`          // Target capture rate in frames per second (default: 15)
	JPEGQuality int `toml:"jpeg_quality"` // JPEG encoding quality, 1-100 (default: 70)
	MaxWidth    int `toml:"max_width"`    // Frames wider than this are downscaled preserving aspect ratio (default: 1920)
	Display     int `toml:"display"`      // Display index to capture (0 = primary)
}

// InputConfig contains remote input injection configuration
type InputConfig struct {
	ActionDelayMs int `toml:"action_delay_ms"` // Pause applied by the OS automation layer after each action (default: 10)
}

// AuthConfig contains staff authentication configuration
type AuthConfig struct {
	JWTSecret            string `toml:"jwt_secret"`             // Secret used to sign staff web tokens (required)
	TokenTTLMinutes      int    `toml:"token_ttl_minutes"`      // Staff token lifetime in minutes (default: 120)
	DefaultAdminUsername string `toml:"default_admin_username"` // Admin account seeded when the staff table is empty (default: "admin")
	DefaultAdminPassword string `toml:"default_admin_password"` // Password for the seeded admin account (default: "admin123" - change it)
}

// SMTPConfig contains email notification configuration.
// When disabled (or host is empty) notifications are skipped silently.
type SMTPConfig struct {
	Enabled     bool   `toml:"enabled"`      // Enable outgoing email notifications
	Host        string `toml:"host"`         // SMTP server hostname
	Port        int    `toml:"port"`         // SMTP server port (default: 587)
	Username    string `toml:"username"`     // SMTP authentication username
	Password    string `toml:"password"`     // SMTP authentication password
	FromAddress string `toml:"from_address"` // Sender address for outgoing mail
	ITAddress   string `toml:"it_address"`   // IT staff mailbox that receives new-ticket notifications
}

// Load loads the configuration from the given TOML file
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
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
			// File exists, try to load it
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

// Validate validates the configuration and applies defaults for optional fields
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	for _, port := range c.Server.AdditionalPorts {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid additional port: %d", port)
		}
		if port == c.Server.Port {
			return fmt.Errorf("additional port %d duplicates the primary port", port)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Validate storage config
	if c.Storage.Type != "sqlite" {
		return fmt.Errorf("invalid storage type: %s (only 'sqlite' is supported)", c.Storage.Type)
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite_path is required when storage type is sqlite")
	}

	// Apply session defaults
	if c.Sessions.TTLMinutes <= 0 {
		c.Sessions.TTLMinutes = 120 // Two hours from creation
	}
	if c.Sessions.SweepIntervalMinutes <= 0 {
		c.Sessions.SweepIntervalMinutes = 5
	}

	if err := c.ValidateCapture(); err != nil {
		return err
	}

	// Apply input defaults
	if c.Input.ActionDelayMs < 0 {
		return fmt.Errorf("action_delay_ms must not be negative: %d", c.Input.ActionDelayMs)
	}
	if c.Input.ActionDelayMs == 0 {
		c.Input.ActionDelayMs = 10
	}

	if err := c.ValidateAuth(); err != nil {
		return err
	}

	// Validate SMTP config only when notifications are enabled
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp host is required when smtp is enabled")
		}
		if c.SMTP.Port <= 0 {
			c.SMTP.Port = 587
		}
		if c.SMTP.FromAddress == "" {
			return fmt.Errorf("smtp from_address is required when smtp is enabled")
		}
	}

	return nil
}

// ValidateCapture validates the screen capture configuration and applies defaults
func (c *Config) ValidateCapture() error {
	if c.Capture.FPS == 0 {
		c.Capture.FPS = 15
	}
	if c.Capture.FPS < 1 || c.Capture.FPS > 60 {
		return fmt.Errorf("capture fps must be between 1 and 60: %d", c.Capture.FPS)
	}
	if c.Capture.JPEGQuality == 0 {
		c.Capture.JPEGQuality = 70
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture jpeg_quality must be between 1 and 100: %d", c.Capture.JPEGQuality)
	}
	if c.Capture.MaxWidth == 0 {
		c.Capture.MaxWidth = 1920
	}
	if c.Capture.MaxWidth < 320 {
		return fmt.Errorf("capture max_width must be at least 320: %d", c.Capture.MaxWidth)
	}
	if c.Capture.Display < 0 {
		return fmt.Errorf("capture display index must not be negative: %d", c.Capture.Display)
	}
	return nil
}

// ValidateAuth validates the staff authentication configuration and applies defaults
func (c *Config) ValidateAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		c.Auth.TokenTTLMinutes = 120
	}
	if c.Auth.DefaultAdminUsername == "" {
		c.Auth.DefaultAdminUsername = "admin"
	}
	if c.Auth.DefaultAdminPassword == "" {
		c.Auth.DefaultAdminPassword = "admin123"
	}
	return nil
}
