package testutil

import (
	"net"
	"os"
	"testing"
)

// DockerTestsEnv enables tests that pull and run a game server image.
const DockerTestsEnv = "LOOTSCAN_DOCKER_TESTS"

// RequireDockerTests skips the test unless DockerTestsEnv is set and the
// run is not short.
func RequireDockerTests(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker test in short mode")
	}
	if os.Getenv(DockerTestsEnv) == "" {
		t.Skipf("set %s=1 to run docker tests", DockerTestsEnv)
	}
}

// FindFreePort returns a TCP port that was free a moment ago.
func FindFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
