package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// Entry is one default configuration value.
type Entry struct {
	Key         string
	Value       any
	Description string
}

// DefaultEntries returns the default configuration entries, one per leaf
// key, in file order.
func DefaultEntries() []Entry {
	return []Entry{
		{Key: "log_level", Value: "info", Description: "Log level: debug, info, warn or error"},
		{Key: "namespace", Value: "lootscan", Description: "Namespace of the server's extraction commands"},

		// ===================
		// Server
		// ===================
		{Key: "server.mode", Value: "static", Description: "static attaches to a running server, docker launches one"},
		{Key: "server.host", Value: "127.0.0.1", Description: "RCON host"},
		{Key: "server.port", Value: 25575, Description: "RCON port"},
		{Key: "server.password", Value: "${LOOTSCAN_RCON_PASSWORD}", Description: "RCON password (uses environment variable)"},
		{Key: "server.artifact_dir", Value: "", Description: "Directory the server writes artifacts to (static mode)"},
		{Key: "server.image", Value: "itzg/minecraft-server:latest", Description: "Server image (docker mode)"},
		{Key: "server.server_type", Value: "PAPER", Description: "Server distribution (docker mode)"},
		{Key: "server.container_prefix", Value: "lootscan-mc", Description: "Container name prefix (docker mode)"},
		{Key: "server.plugin", Value: "", Description: "Path to the extraction plugin jar (docker mode)"},
		{Key: "server.keep_container", Value: false, Description: "Leave the container running after the scan"},
		{Key: "server.ready_timeout", Value: "5m", Description: "How long to wait for RCON after launch"},

		// ===================
		// Scan
		// ===================
		{Key: "scan.version", Value: "1.21.4", Description: "World version"},
		{Key: "scan.seed", Value: 0, Description: "World seed"},
		{Key: "scan.radius", Value: 2048, Description: "Scan radius in blocks around the center"},
		{Key: "scan.structures", Value: []string{"minecraft:desert_pyramid", "minecraft:jungle_pyramid", "minecraft:village"}, Description: "Structure ids, optionally prefixed with dimension/"},
		{Key: "scan.locate_step", Value: 512, Description: "Discovery sample grid step in blocks"},
		{Key: "scan.region_radius", Value: 2, Description: "Extraction radius in regions"},
		{Key: "scan.parallel_regions", Value: true, Description: "Load several regions per job at once"},
		{Key: "scan.parallel_region_count", Value: 4, Description: "Regions in flight per job (max 12)"},
		{Key: "scan.parallel_jobs", Value: 2, Description: "Extraction jobs in flight (max 8)"},
		{Key: "scan.max_targets", Value: 0, Description: "Cap on extracted targets, 0 for no cap"},
		{Key: "scan.datapacks", Value: []string{}, Description: "Datapack directories or zip files"},
		{Key: "scan.datapack_structures", Value: false, Description: "Also scan structures added by datapacks"},
		{Key: "scan.lean", Value: true, Description: "Apply the lean gamerule profile before scanning"},
		{Key: "scan.resume", Value: true, Description: "Reuse successful entries of the previous result"},

		// ===================
		// Timeouts
		// ===================
		{Key: "timeouts.poll", Value: "200ms", Description: "Job status poll interval"},
		{Key: "timeouts.start", Value: "8s", Description: "Start command response timeout"},
		{Key: "timeouts.status", Value: "12s", Description: "Status command response timeout"},
		{Key: "timeouts.legacy", Value: "20s", Description: "Legacy synchronous extract timeout"},
		{Key: "timeouts.job", Value: "90s", Description: "Per-job deadline"},
		{Key: "timeouts.artifact", Value: "30s", Description: "Wait for an artifact after a job finishes"},
	}
}

// GetDefault returns the default entry for a key, or ErrNoDefault.
func GetDefault(key string) (Entry, error) {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("%w for key %q", ErrNoDefault, key)
}

// defaultDocument nests the default entries into an ordered YAML document.
func defaultDocument() yaml.MapSlice {
	var doc yaml.MapSlice
	for _, e := range DefaultEntries() {
		doc = insert(doc, strings.Split(e.Key, "."), e.Value)
	}
	return doc
}

func insert(doc yaml.MapSlice, path []string, value any) yaml.MapSlice {
	if len(path) == 1 {
		return append(doc, yaml.MapItem{Key: path[0], Value: value})
	}
	for i, item := range doc {
		if item.Key == path[0] {
			child, _ := item.Value.(yaml.MapSlice)
			doc[i].Value = insert(child, path[1:], value)
			return doc
		}
	}
	return append(doc, yaml.MapItem{Key: path[0], Value: insert(nil, path[1:], value)})
}
