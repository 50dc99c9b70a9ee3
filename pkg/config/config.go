// Package config provides configuration management for the Exact Online connector.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultAPIURL      = "https://start.exactonline.nl"
	DefaultAuthMode    = "oAuth2"
	DefaultHTTPTimeout = 30 * time.Second
)

// Config represents the application configuration.
type Config struct {
	Exact ExactConfig
	State StateConfig
	Debug bool
}

// ExactConfig represents Exact Online API configuration.
type ExactConfig struct {
	AuthMode     string
	APIURL       string
	AccessToken  string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RefreshToken string
	// Division is the default division. Empty means resolve via current/Me.
	Division    string
	HTTPTimeout time.Duration
}

// StateConfig represents local state locations. Empty values fall back to
// defaults under StateDir.
type StateConfig struct {
	StateDir  string
	DBPath    string
	TokenFile string
}

// Load loads configuration from environment variables.
// It automatically loads .env file from the current directory if available.
// You can optionally specify a custom .env file path.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		// Try to load .env from current directory (ignore error if not found)
		_ = godotenv.Load()
	}

	timeout, err := parseDurationEnv("EXACT_HTTP_TIMEOUT", DefaultHTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid EXACT_HTTP_TIMEOUT: %w", err)
	}

	config := &Config{
		Exact: ExactConfig{
			AuthMode:     getEnvOrDefault("EXACT_AUTH_MODE", DefaultAuthMode),
			APIURL:       strings.TrimSuffix(getEnvOrDefault("EXACT_API_URL", DefaultAPIURL), "/"),
			AccessToken:  os.Getenv("EXACT_ACCESS_TOKEN"),
			ClientID:     os.Getenv("EXACT_CLIENT_ID"),
			ClientSecret: os.Getenv("EXACT_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("EXACT_REDIRECT_URI"),
			RefreshToken: os.Getenv("EXACT_REFRESH_TOKEN"),
			Division:     os.Getenv("EXACT_DIVISION"),
			HTTPTimeout:  timeout,
		},
		State: StateConfig{
			StateDir:  os.Getenv("EXACT_STATE_DIR"),
			DBPath:    os.Getenv("EXACT_DB_PATH"),
			TokenFile: os.Getenv("EXACT_TOKEN_FILE"),
		},
		Debug: os.Getenv("DEBUG") == "true",
	}

	return config, nil
}

// RequiredFor returns the configuration paths a mode needs.
func RequiredFor(mode string) [][]string {
	if strings.EqualFold(mode, "accessToken") {
		return [][]string{{"exact", "apiUrl"}, {"exact", "accessToken"}}
	}
	return [][]string{{"exact", "apiUrl"}, {"exact", "clientId"}, {"exact", "clientSecret"}}
}

// Validate validates the configuration.
// It checks if all required fields are set.
func (c *Config) Validate(required ...[]string) error {
	var missing []string

	for _, path := range required {
		if len(path) < 2 {
			continue
		}

		var value string
		switch path[0] {
		case "exact":
			switch path[1] {
			case "authMode":
				value = c.Exact.AuthMode
			case "apiUrl":
				value = c.Exact.APIURL
			case "accessToken":
				value = c.Exact.AccessToken
			case "clientId":
				value = c.Exact.ClientID
			case "clientSecret":
				value = c.Exact.ClientSecret
			case "redirectUri":
				value = c.Exact.RedirectURI
			case "refreshToken":
				value = c.Exact.RefreshToken
			case "division":
				value = c.Exact.Division
			}
		case "state":
			switch path[1] {
			case "stateDir":
				value = c.State.StateDir
			case "dbPath":
				value = c.State.DBPath
			case "tokenFile":
				value = c.State.TokenFile
			}
		}

		if value == "" {
			missing = append(missing, strings.Join(path, "."))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v\nPlease check your .env file or environment variables", missing)
	}

	return nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDurationEnv parses a duration from an environment variable.
// A bare integer is taken as seconds.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	if d, err := time.ParseDuration(value); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration for %s must be positive: %s", key, value)
		}
		return d, nil
	}
	if d, err := time.ParseDuration(value + "s"); err == nil && d > 0 {
		return d, nil
	}

	return 0, fmt.Errorf("invalid duration value for %s: %s", key, value)
}
