package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// DefaultDirName is the default name for the lootscan home directory.
	DefaultDirName = ".lootscan"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// EnvFileName holds secrets such as the RCON password.
	EnvFileName = ".env"
)

// Dir represents the lootscan home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.lootscan).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnvPath returns the path to the home .env file.
func (d *Dir) EnvPath() string {
	return filepath.Join(d.path, EnvFileName)
}

// DiscoveryCacheDir holds discovered targets keyed by fingerprint.
func (d *Dir) DiscoveryCacheDir() string {
	return filepath.Join(d.path, "cache", "discovery")
}

// ReportsDir holds scan results.
func (d *Dir) ReportsDir() string {
	return filepath.Join(d.path, "reports")
}

// ReportPath returns the default result file for a seed.
func (d *Dir) ReportPath(seed int64) string {
	return filepath.Join(d.ReportsDir(), "scan-"+strconv.FormatInt(seed, 10)+".json")
}

// ServersDir holds the data directories of launched servers.
func (d *Dir) ServersDir() string {
	return filepath.Join(d.path, "servers")
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.DiscoveryCacheDir(), d.ReportsDir(), d.ServersDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
