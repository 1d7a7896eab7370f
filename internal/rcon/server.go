package rcon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Handler answers a single authenticated command line.
type Handler interface {
	HandleCommand(ctx context.Context, command string) string
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, command string) string

func (f HandlerFunc) HandleCommand(ctx context.Context, command string) string {
	return f(ctx, command)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Password string
	Handler  Handler
	Logger   *slog.Logger
}

// Server accepts RCON connections and dispatches commands to a Handler.
type Server struct {
	password string
	handler  Handler
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a server. Call Listen then Serve.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		password: cfg.Password,
		handler:  cfg.Handler,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Listen binds the server to addr. Use ":0" for an ephemeral port.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rcon server: Listen not called")
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.logger.Info("rcon server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	authed := false
	for {
		p, err := ReadPacket(conn)
		if err != nil {
			if !errors.Is(err, ErrConnectionClosed) {
				s.logger.Debug("rcon connection ended", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}

		switch {
		case p.Type == PacketTypeAuth:
			if p.Payload != s.password {
				s.logger.Warn("rcon auth rejected", "remote", conn.RemoteAddr().String())
				_ = WritePacket(conn, Packet{ID: -1, Type: PacketTypeAuthResponse})
				return
			}
			authed = true
			if err := WritePacket(conn, Packet{ID: p.ID, Type: PacketTypeAuthResponse}); err != nil {
				return
			}

		case !authed:
			_ = WritePacket(conn, Packet{ID: -1, Type: PacketTypeResponse})
			return

		default:
			resp := ""
			if s.handler != nil {
				resp = s.handler.HandleCommand(ctx, p.Payload)
			}
			if err := writeFragmented(conn, p.ID, resp); err != nil {
				return
			}
		}
	}
}

// writeFragmented splits resp into FragmentSize chunks. A response whose
// final chunk is exactly FragmentSize gets an empty terminator so clients
// know the response ended.
func writeFragmented(conn net.Conn, id int32, resp string) error {
	for {
		n := len(resp)
		if n > FragmentSize {
			n = FragmentSize
		}
		if err := WritePacket(conn, Packet{ID: id, Type: PacketTypeResponse, Payload: resp[:n]}); err != nil {
			return err
		}
		resp = resp[n:]
		if n < FragmentSize {
			return nil
		}
	}
}
