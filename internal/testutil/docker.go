// Package testutil holds helpers for tests that need a Docker daemon.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

const (
	// CleanupLabel marks containers created by tests.
	CleanupLabel = "lootscan-test"
)

// TestingT is the subset of testing.T used for Docker setup.
type TestingT interface {
	Name() string
	Cleanup(func())
	Logf(format string, args ...any)
	Skipf(format string, args ...any)
	Helper()
}

// DockerClient returns a client for the environment's daemon and removes
// this test's containers when it finishes. The test is skipped when no
// daemon answers.
func DockerClient(t TestingT) *client.Client {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		t.Skipf("docker is not running: %v", err)
		return nil
	}

	t.Cleanup(func() {
		cleanupTestContainers(t, cli)
		cli.Close()
	})
	return cli
}

// UniqueName returns a container name prefix unique to this test run.
// Format: lootscan-test-<prefix>-<testname>-<random>
func UniqueName(t TestingT, prefix string) string {
	t.Helper()
	return fmt.Sprintf("lootscan-test-%s-%s-%s", prefix, sanitizeName(t.Name()), randString(4))
}

// ContainerLabels returns the labels cleanup looks for.
func ContainerLabels(t TestingT) map[string]string {
	return map[string]string{CleanupLabel: sanitizeName(t.Name())}
}

func cleanupTestContainers(t TestingT, cli *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := filters.NewArgs()
	args.Add("label", fmt.Sprintf("%s=%s", CleanupLabel, sanitizeName(t.Name())))

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		t.Logf("Failed to list containers for cleanup: %v", err)
		return
	}

	for _, c := range containers {
		timeout := 10
		if err := cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			t.Logf("Failed to stop container %s: %v", c.Names[0], err)
		}
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			t.Logf("Failed to remove container %s: %v", c.Names[0], err)
		} else {
			t.Logf("Cleaned up container: %s", c.Names[0])
		}
	}
}

func randString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// sanitizeName converts a test name to a valid container name component.
func sanitizeName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			result = append(result, c)
		case c == '/' || c == '_' || c == '-':
			result = append(result, '-')
		}
	}
	if len(result) > 30 {
		result = result[:30]
	}
	return string(result)
}
