// Package session launches and reuses the game servers a scan talks to.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/lootscan/internal/rcon"
)

// aliveTimeout bounds the liveness probe of a pooled session.
const aliveTimeout = 2 * time.Second

// LaunchSpec is everything that makes two servers interchangeable.
type LaunchSpec struct {
	Version   string
	Seed      int64
	Image     string
	Datapacks []string
	Plugin    string
	Lean      bool
}

// Key fingerprints the launch parameters. Datapack order does not matter.
func (s LaunchSpec) Key() string {
	packs := append([]string(nil), s.Datapacks...)
	sort.Strings(packs)

	h := sha256.New()
	fmt.Fprintf(h, "version=%s\nseed=%d\nimage=%s\nplugin=%s\nlean=%t\n",
		strings.TrimSpace(s.Version), s.Seed, s.Image, s.Plugin, s.Lean)
	for _, p := range packs {
		fmt.Fprintf(h, "datapack=%s\n", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Session is a running server with an authenticated RCON client.
type Session struct {
	Key         string
	Client      *rcon.Client
	ArtifactDir string

	closeFn func(context.Context) error
}

// NewSession wraps a connected client. closeFn releases whatever backs the
// session after the client is closed; it may be nil.
func NewSession(key string, client *rcon.Client, artifactDir string, closeFn func(context.Context) error) *Session {
	return &Session{Key: key, Client: client, ArtifactDir: artifactDir, closeFn: closeFn}
}

// Alive reports whether the server still answers commands.
func (s *Session) Alive(ctx context.Context) bool {
	_, err := s.Client.ExecuteOnce(ctx, "list", aliveTimeout)
	return err == nil
}

// Close drops the connection and releases the server.
func (s *Session) Close(ctx context.Context) error {
	err := s.Client.Close()
	if s.closeFn != nil {
		if cerr := s.closeFn(ctx); cerr != nil {
			return cerr
		}
	}
	return err
}

// Launcher starts servers.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (*Session, error)
}

// Pool keeps at most one session and reuses it while the launch spec is
// unchanged and the server is alive.
type Pool struct {
	launcher Launcher
	logger   *slog.Logger

	mu      sync.Mutex
	current *Session
}

// NewPool creates a pool over launcher.
func NewPool(launcher Launcher, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{launcher: launcher, logger: logger}
}

// Acquire returns a session for spec, launching one when the pooled session
// does not match or no longer answers.
func (p *Pool) Acquire(ctx context.Context, spec LaunchSpec) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := spec.Key()
	if cur := p.current; cur != nil {
		if cur.Key == key && cur.Alive(ctx) {
			p.logger.Debug("reusing session", "key", short(key))
			return cur, nil
		}
		p.logger.Info("replacing session", "old", short(cur.Key), "new", short(key))
		if err := cur.Close(ctx); err != nil {
			p.logger.Warn("failed to close session", "key", short(cur.Key), "error", err)
		}
		p.current = nil
	}

	s, err := p.launcher.Launch(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("launch session: %w", err)
	}
	if s.Key == "" {
		s.Key = key
	}
	p.current = s
	p.logger.Info("session ready", "key", short(key), "rcon", s.Client.Addr())
	return s, nil
}

// Close releases the pooled session, if any.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	err := p.current.Close(ctx)
	p.current = nil
	return err
}

func short(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
