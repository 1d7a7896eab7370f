// Package rcon implements the Source RCON framing used by game servers, with
// a reconnecting client and a small server for hosting command handlers.
package rcon

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultReadTimeout    = 300 * time.Second
	DefaultReconnectDelay = 250 * time.Millisecond

	// MinCommandTimeout is the floor applied to ExecuteOnce timeouts.
	MinCommandTimeout = time.Second

	maxAuthReads = 3
)

// Config configures a Client.
type Config struct {
	Host     string
	Port     int
	Password string

	// DialTimeout bounds the TCP dial and the auth handshake.
	DialTimeout time.Duration

	// ReadTimeout bounds a full Execute response.
	ReadTimeout time.Duration

	// ReconnectDelay is slept before the single reconnect attempt.
	ReconnectDelay time.Duration

	Logger *slog.Logger
}

// Client is an authenticated RCON connection. Commands are serialized: a
// second caller blocks until the first command's response is complete.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	nextID int32
}

// NewClient creates an unconnected client. Call Connect before issuing
// commands.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("rcon", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
	}
}

// Addr returns host:port of the remote server.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Connect dials and authenticates, replacing any existing connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// Close drops the connection. The client may be reconnected afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// Execute sends a command and returns the assembled, trimmed response using
// the configured read timeout.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	return c.execute(ctx, command, c.cfg.ReadTimeout)
}

// ExecuteOnce sends a command with a caller-supplied read timeout and never
// retries it. Timeouts below MinCommandTimeout are raised to it. A failed
// command drops the connection, and the next command dials a fresh one.
func (c *Client) ExecuteOnce(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if timeout < MinCommandTimeout {
		timeout = MinCommandTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return "", fmt.Errorf("rcon %q: %w", verbOf(command), err)
		}
	}
	resp, err := c.roundTripLocked(ctx, command, timeout)
	if err != nil {
		// the stream may still carry a partial or late frame
		_ = c.closeLocked()
		return "", fmt.Errorf("rcon %q: %w", verbOf(command), err)
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		response string
		attempt  int
	)
	err := retry.Do(
		func() error {
			attempt++
			if attempt > 1 {
				c.logger.Warn("reconnecting rcon", "command", verbOf(command))
				if err := c.connectLocked(ctx); err != nil {
					return fmt.Errorf("reconnect: %w", err)
				}
			}
			r, err := c.roundTripLocked(ctx, command, timeout)
			if err != nil {
				return err
			}
			response = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(c.cfg.ReconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRecoverable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("rcon command failed, will retry", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("rcon %q: %w", verbOf(command), err)
	}
	return response, nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	_ = c.closeLocked()

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		return fmt.Errorf("dial rcon: %w", err)
	}

	if err := conn.SetDeadline(deadlineFor(ctx, c.cfg.DialTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("set auth deadline: %w", err)
	}

	id := c.allocID()
	if err := WritePacket(conn, Packet{ID: id, Type: PacketTypeAuth, Payload: c.cfg.Password}); err != nil {
		conn.Close()
		return err
	}

	// Some servers send an empty response frame ahead of the auth result.
	for i := 0; i < maxAuthReads; i++ {
		p, err := ReadPacket(conn)
		if err != nil {
			conn.Close()
			return fmt.Errorf("read auth response: %w", err)
		}
		if p.ID == -1 {
			conn.Close()
			return &AuthError{Reason: "password rejected"}
		}
		if p.ID == id {
			c.conn = conn
			c.logger.Debug("rcon authenticated")
			return nil
		}
	}

	conn.Close()
	return &AuthError{Reason: "no response matched the auth request"}
}

func (c *Client) roundTripLocked(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if c.conn == nil {
		return "", ErrNotConnected
	}
	if err := c.conn.SetDeadline(deadlineFor(ctx, timeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	id := c.allocID()
	if err := WritePacket(c.conn, Packet{ID: id, Type: PacketTypeCommand, Payload: command}); err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		p, err := ReadPacket(c.conn)
		if err != nil {
			if !IsRecoverable(err) {
				_ = c.closeLocked()
			}
			return "", err
		}
		if p.ID != id {
			// late response to an earlier, timed-out request
			c.logger.Debug("discarding stray rcon packet", "id", p.ID, "want", id)
			continue
		}
		sb.WriteString(p.Payload)
		if len(p.Payload) < FragmentSize {
			break
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) allocID() int32 {
	if c.nextID >= math.MaxInt32 || c.nextID < 0 {
		c.nextID = 0
	}
	c.nextID++
	return c.nextID
}

func deadlineFor(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func verbOf(command string) string {
	if i := strings.IndexByte(command, ' '); i >= 0 {
		return command[:i]
	}
	return command
}
