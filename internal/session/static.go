package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/lootscan/internal/rcon"
)

// Static attaches to a server that is already running. The launch spec is
// not applied to it.
type Static struct {
	Host        string
	Port        int
	Password    string
	ArtifactDir string
	Logger      *slog.Logger
}

// Launch connects to the configured server.
func (s Static) Launch(ctx context.Context, spec LaunchSpec) (*Session, error) {
	client := rcon.NewClient(rcon.Config{
		Host:     s.Host,
		Port:     s.Port,
		Password: s.Password,
		Logger:   s.Logger,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", client.Addr(), err)
	}
	return NewSession(spec.Key(), client, s.ArtifactDir, nil), nil
}
