package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewManager_Defaults(t *testing.T) {
	cm, err := NewManager("", t.TempDir())
	require.NoError(t, err)

	cfg := cm.Get()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "lootscan", cfg.Namespace)
	assert.Equal(t, "static", cfg.Server.Mode)
	assert.Equal(t, 25575, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Server.ReadyTimeout)
	assert.Equal(t, 2048, cfg.Scan.Radius)
	assert.Equal(t, []string{"minecraft:desert_pyramid", "minecraft:jungle_pyramid", "minecraft:village"}, cfg.Scan.Structures)
	assert.Equal(t, 200*time.Millisecond, cfg.Timeouts.Poll)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Job)
}

func TestNewManager_File(t *testing.T) {
	path := writeFile(t, "config.yaml", `
log_level: debug
server:
  mode: docker
  port: 25580
scan:
  seed: -1234
  structures:
    - minecraft:the_nether/minecraft:fortress
timeouts:
  job: 2m
`)
	cm, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, path, cm.ConfigFile())

	cfg := cm.Get()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "docker", cfg.Server.Mode)
	assert.Equal(t, 25580, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset keys keep defaults")
	assert.Equal(t, int64(-1234), cfg.Scan.Seed)
	assert.Equal(t, []string{"minecraft:the_nether/minecraft:fortress"}, cfg.Scan.Structures)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Job)
	assert.Equal(t, 8*time.Second, cfg.Timeouts.Start)
}

func TestNewManager_Env(t *testing.T) {
	t.Setenv("LOOTSCAN_SERVER_PORT", "25590")
	t.Setenv("LOOTSCAN_SCAN_PARALLEL_JOBS", "6")
	t.Setenv("LOOTSCAN_TIMEOUTS_POLL", "50ms")

	cm, err := NewManager("", t.TempDir())
	require.NoError(t, err)

	cfg := cm.Get()
	assert.Equal(t, 25590, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Scan.ParallelJobs)
	assert.Equal(t, 50*time.Millisecond, cfg.Timeouts.Poll)
}

func TestNewManager_Invalid(t *testing.T) {
	tests := map[string]string{
		"mode":           "server:\n  mode: ftp\n",
		"port":           "server:\n  port: 70000\n",
		"log level":      "log_level: loud\n",
		"parallel jobs":  "scan:\n  parallel_jobs: 9\n",
		"region count":   "scan:\n  parallel_region_count: 13\n",
		"zero radius":    "scan:\n  radius: 0\n",
		"malformed yaml": "server: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewManager(writeFile(t, "config.yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestNewManager_MissingExplicitFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("TEST_RCON_PW", "secret123")

	assert.Equal(t, "secret123", ResolveEnvVars("${TEST_RCON_PW}"))
	assert.Equal(t, "pre-secret123-post", ResolveEnvVars("pre-${TEST_RCON_PW}-post"))
	assert.Equal(t, "", ResolveEnvVars("${DEFINITELY_NOT_SET_12345}"))
	assert.Equal(t, "literal-value", ResolveEnvVars("literal-value"))

	cfg := &Config{Server: ServerCfg{Password: "${TEST_RCON_PW}"}}
	assert.Equal(t, "secret123", cfg.RCONPassword())
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "LOOTSCAN_TEST_DOTENV=from-file\nLOOTSCAN_TEST_DOTENV_SET=from-file\n")
	t.Setenv("LOOTSCAN_TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("LOOTSCAN_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("LOOTSCAN_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("LOOTSCAN_TEST_DOTENV_SET"))
}

func TestWatchConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", "log_level: info\n")
	cm, err := NewManager(path)
	require.NoError(t, err)

	var calls atomic.Int32
	cm.OnChange(func(*Config) { calls.Add(1) })
	cm.WatchConfig()

	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))
	assert.Eventually(t, func() bool {
		return cm.Get().LogLevel == "warn" && calls.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
}
