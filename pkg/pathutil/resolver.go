// Package pathutil provides centralized path management for the connector's local state.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultStateDirName is the state directory created under the user's home.
const DefaultStateDirName = ".exact-cli"

// PathResolver manages paths for the history database, token file and metrics output.
type PathResolver struct {
	stateDir     string
	databasePath string
	tokenPath    string
	metricsPath  string
}

// Config represents the configuration for PathResolver.
type Config struct {
	// StateDir is the root for all local state (e.g., ~/.exact-cli)
	StateDir string
	// DatabasePath is the SQLite history file
	DatabasePath string
	// TokenPath is the persisted OAuth2 token
	TokenPath string
	// MetricsPath is the Prometheus textfile written after a run
	MetricsPath string
}

// New creates a new PathResolver with the given configuration.
// If StateDir is empty, it defaults to ~/.exact-cli.
// Empty file paths default to history.db and token.json inside StateDir.
// A leading ~ is expanded in every path.
func New(config Config) (*PathResolver, error) {
	stateDir, err := expandHome(config.StateDir)
	if err != nil {
		return nil, err
	}
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		stateDir = filepath.Join(home, DefaultStateDirName)
	}

	dbPath, err := expandHome(config.DatabasePath)
	if err != nil {
		return nil, err
	}
	if dbPath == "" {
		dbPath = filepath.Join(stateDir, "history.db")
	}

	tokenPath, err := expandHome(config.TokenPath)
	if err != nil {
		return nil, err
	}
	if tokenPath == "" {
		tokenPath = filepath.Join(stateDir, "token.json")
	}

	metricsPath, err := expandHome(config.MetricsPath)
	if err != nil {
		return nil, err
	}

	return &PathResolver{
		stateDir:     stateDir,
		databasePath: dbPath,
		tokenPath:    tokenPath,
		metricsPath:  metricsPath,
	}, nil
}

// GetStateDir returns the state directory.
func (p *PathResolver) GetStateDir() string {
	return p.stateDir
}

// GetDatabasePath returns the database file path.
func (p *PathResolver) GetDatabasePath() string {
	return p.databasePath
}

// GetTokenPath returns the OAuth2 token file path.
func (p *PathResolver) GetTokenPath() string {
	return p.tokenPath
}

// GetMetricsPath returns the metrics textfile path, or "" when metrics are not exported.
func (p *PathResolver) GetMetricsPath() string {
	return p.metricsPath
}

// EnsureDir creates a directory if it doesn't exist.
// It creates all parent directories as needed (like mkdir -p).
func (p *PathResolver) EnsureDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	return nil
}

// EnsureParentDir ensures the parent directory of a file exists.
func (p *PathResolver) EnsureParentDir(filePath string) error {
	return p.EnsureDir(filepath.Dir(filePath))
}

// FileExists checks if a file exists.
func (p *PathResolver) FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
