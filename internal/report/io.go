package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
)

// Write stores r as indented JSON at path, atomically.
func Write(path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := atomicwriter.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Load reads a previously written result. A missing file returns
// (nil, nil).
func Load(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}

// Resumable returns the successful entries of prior, keyed for lookup. A
// prior run of a different seed or world version yields nothing.
func Resumable(prior *Result, seed int64, worldVersion string) map[Key]Entry {
	out := make(map[Key]Entry)
	if prior == nil || prior.Scan == nil {
		return out
	}
	if prior.Seed != seed || prior.WorldVersion != worldVersion {
		return out
	}
	for _, e := range prior.Scan.Structures {
		if e.Succeeded() {
			out[e.Key()] = e
		}
	}
	return out
}
