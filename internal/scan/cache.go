package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"

	"github.com/jackzampolin/lootscan/internal/report"
)

type cacheFile struct {
	CreatedUTC time.Time       `json:"createdUtc"`
	Starts     []report.Target `json:"starts"`
}

// Cache stores discovered targets by fingerprint.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{dir: dir, logger: logger}
}

// Path returns the cache file for a fingerprint.
func (c *Cache) Path(fingerprint string) string {
	return filepath.Join(c.dir, "starts-"+fingerprint+".json")
}

// Load returns the cached targets. Missing, unreadable and empty entries
// are misses. Entries without an id or dimension are dropped.
func (c *Cache) Load(fingerprint string) ([]report.Target, bool) {
	path := c.Path(fingerprint)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("discovery cache unreadable", "path", path, "error", err)
		}
		return nil, false
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("discovery cache corrupt", "path", path, "error", err)
		return nil, false
	}

	out := make([]report.Target, 0, len(f.Starts))
	for _, t := range f.Starts {
		if t.ID == "" || t.Dimension == "" {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Save writes targets under fingerprint. Empty lists are not cached.
func (c *Cache) Save(fingerprint string, targets []report.Target) error {
	if len(targets) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(cacheFile{CreatedUTC: time.Now().UTC(), Starts: targets}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal discovery cache: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := atomicwriter.WriteFile(c.Path(fingerprint), data, 0o644); err != nil {
		return fmt.Errorf("write discovery cache: %w", err)
	}
	return nil
}
