package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/jackzampolin/lootscan/internal/rcon"
)

const (
	DefaultImage           = "itzg/minecraft-server:latest"
	DefaultContainerPrefix = "lootscan-mc"
	DefaultServerType      = "PAPER"
	DefaultRCONPort        = 25575
	DefaultReadyTimeout    = 5 * time.Minute

	ContainerRCONPort = "25575/tcp"
	DataDir           = "/data"
	DatapackDir       = "/datapacks"
	PluginDir         = "/plugins-src"
	Label             = "lootscan"

	// ArtifactSubdir is where the server plugin writes artifacts, relative
	// to the server directory.
	ArtifactSubdir = "lootscan"

	readyDelay = 2 * time.Second
	logTail    = "40"
)

// ContainerStatus is the state of a server container.
type ContainerStatus string

const (
	StatusRunning  ContainerStatus = "running"
	StatusStopped  ContainerStatus = "stopped"
	StatusNotFound ContainerStatus = "not_found"
	StatusStarting ContainerStatus = "starting"
)

// DockerConfig configures the Docker launcher.
type DockerConfig struct {
	Image           string
	ContainerPrefix string
	ServerType      string

	// DataRoot holds one server directory per launch key.
	DataRoot string

	HostPort     int
	Password     string
	ReadyTimeout time.Duration

	// KeepContainer leaves the container running when its session closes.
	KeepContainer bool

	Labels map[string]string
	Logger *slog.Logger
}

// Docker launches servers as containers.
type Docker struct {
	cli    *client.Client
	cfg    DockerConfig
	labels map[string]string
	logger *slog.Logger
}

// NewDocker creates a Docker launcher using the environment's daemon.
func NewDocker(cfg DockerConfig) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	cfg = cfg.withDefaults()
	labels := map[string]string{Label: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Docker{cli: cli, cfg: cfg, labels: labels, logger: logger}, nil
}

func (c DockerConfig) withDefaults() DockerConfig {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.ContainerPrefix == "" {
		c.ContainerPrefix = DefaultContainerPrefix
	}
	if c.ServerType == "" {
		c.ServerType = DefaultServerType
	}
	if c.HostPort == 0 {
		c.HostPort = DefaultRCONPort
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	return c
}

// Close closes the Docker client.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// ContainerName returns the container used for a launch key.
func ContainerName(prefix, key string) string {
	return prefix + "-" + short(key)
}

// Launch starts (or resumes) the container for spec and waits until RCON
// accepts the password.
func (d *Docker) Launch(ctx context.Context, spec LaunchSpec) (*Session, error) {
	if _, err := d.cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker is not running: %w", err)
	}

	key := spec.Key()
	name := ContainerName(d.cfg.ContainerPrefix, key)
	dataPath := filepath.Join(d.cfg.DataRoot, short(key))
	if err := os.MkdirAll(filepath.Join(dataPath, ArtifactSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("create server dir: %w", err)
	}

	status, id, err := d.containerStatus(ctx, name)
	if err != nil {
		return nil, err
	}
	switch status {
	case StatusRunning, StatusStarting:
	case StatusStopped:
		if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return nil, fmt.Errorf("failed to start existing container: %w", err)
		}
	case StatusNotFound:
		if id, err = d.createAndStart(ctx, name, dataPath, spec); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("container in unexpected state: %s", status)
	}

	logger := d.logger.With("container", name)
	logger.Info("waiting for server", "version", spec.Version, "seed", spec.Seed)

	rc, err := d.waitForReady(ctx, logger)
	if err != nil {
		if logs, lerr := d.logs(ctx, id); lerr == nil {
			logger.Error("server did not become ready", "logs", logs)
		}
		return nil, err
	}

	closeFn := func(ctx context.Context) error {
		if d.cfg.KeepContainer {
			return nil
		}
		return d.remove(ctx, id)
	}
	return NewSession(key, rc, filepath.Join(dataPath, ArtifactSubdir), closeFn), nil
}

// containerSpec builds the container and host configuration for spec.
func (d *Docker) containerSpec(dataPath string, spec LaunchSpec) (*container.Config, *container.HostConfig) {
	env := []string{
		"EULA=TRUE",
		"TYPE=" + d.cfg.ServerType,
		"VERSION=" + spec.Version,
		"SEED=" + strconv.FormatInt(spec.Seed, 10),
		"ENABLE_RCON=true",
		"RCON_PASSWORD=" + d.cfg.Password,
		"RCON_PORT=" + strconv.Itoa(DefaultRCONPort),
		"ONLINE_MODE=FALSE",
		"SPAWN_PROTECTION=0",
	}
	if spec.Lean {
		env = append(env, "DIFFICULTY=peaceful", "SPAWN_MONSTERS=false", "SPAWN_ANIMALS=false", "SPAWN_NPCS=false")
	}

	mounts := []mount.Mount{{Type: mount.TypeBind, Source: dataPath, Target: DataDir}}

	var packs []string
	for _, p := range spec.Datapacks {
		target := DatapackDir + "/" + filepath.Base(p)
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: p, Target: target, ReadOnly: true})
		packs = append(packs, target)
	}
	if len(packs) > 0 {
		env = append(env, "DATAPACKS="+strings.Join(packs, ","))
	}
	if spec.Plugin != "" {
		target := PluginDir + "/" + filepath.Base(spec.Plugin)
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: spec.Plugin, Target: target, ReadOnly: true})
		env = append(env, "PLUGINS="+target)
	}

	ref := spec.Image
	if ref == "" {
		ref = d.cfg.Image
	}

	return &container.Config{
			Image:  ref,
			Env:    env,
			Labels: d.labels,
			ExposedPorts: nat.PortSet{
				ContainerRCONPort: struct{}{},
			},
		}, &container.HostConfig{
			PortBindings: nat.PortMap{
				ContainerRCONPort: []nat.PortBinding{
					{HostIP: "127.0.0.1", HostPort: strconv.Itoa(d.cfg.HostPort)},
				},
			},
			Mounts: mounts,
		}
}

func (d *Docker) createAndStart(ctx context.Context, name, dataPath string, spec LaunchSpec) (string, error) {
	cfg, hostCfg := d.containerSpec(dataPath, spec)
	if err := d.ensureImage(ctx, cfg.Image); err != nil {
		return "", err
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

func (d *Docker) containerStatus(ctx context.Context, name string) (ContainerStatus, string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", name)

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return StatusNotFound, "", nil
	}

	c := containers[0]
	return statusOf(c.State), c.ID, nil
}

func statusOf(state string) ContainerStatus {
	switch state {
	case "running":
		return StatusRunning
	case "exited", "dead":
		return StatusStopped
	case "created", "restarting":
		return StatusStarting
	}
	return ContainerStatus(state)
}

// waitForReady retries RCON auth until it succeeds or the ready timeout
// elapses. A rejected password is not retried.
func (d *Docker) waitForReady(ctx context.Context, logger *slog.Logger) (*rcon.Client, error) {
	rc := rcon.NewClient(rcon.Config{
		Host:     "127.0.0.1",
		Port:     d.cfg.HostPort,
		Password: d.cfg.Password,
		Logger:   logger,
	})

	err := retry.Do(
		func() error {
			return rc.Connect(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(1, d.cfg.ReadyTimeout/readyDelay))),
		retry.Delay(readyDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, rcon.ErrAuth)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("server not ready after %s: %w", d.cfg.ReadyTimeout, err)
	}
	return rc, nil
}

func (d *Docker) remove(ctx context.Context, id string) error {
	timeout := 30
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		d.logger.Warn("failed to stop container", "id", id, "error", err)
	}
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (d *Docker) logs(ctx context.Context, id string) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       logTail,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(b), nil
}

// ensureImage pulls ref if it is not present locally.
func (d *Docker) ensureImage(ctx context.Context, ref string) error {
	if _, err := d.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	d.logger.Info("pulling image", "image", ref)
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}
