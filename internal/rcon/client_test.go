package rcon

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, password string, h Handler) *Server {
	t.Helper()
	srv := NewServer(ServerConfig{Password: password, Handler: h})
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func clientFor(t *testing.T, addr net.Addr, password string) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(Config{
		Host:           host,
		Port:           port,
		Password:       password,
		DialTimeout:    2 * time.Second,
		ReadTimeout:    2 * time.Second,
		ReconnectDelay: 10 * time.Millisecond,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientExecute(t *testing.T) {
	srv := startServer(t, "secret", HandlerFunc(func(_ context.Context, cmd string) string {
		return "  echo " + cmd + "\n"
	}))
	c := clientFor(t, srv.Addr(), "secret")
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))

	resp, err := c.Execute(ctx, "list")
	require.NoError(t, err)
	assert.Equal(t, "echo list", resp)

	resp, err = c.ExecuteOnce(ctx, "time query", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "echo time query", resp)
}

func TestClientBadPassword(t *testing.T) {
	srv := startServer(t, "secret", nil)
	c := clientFor(t, srv.Addr(), "wrong")

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))

	var authErr *AuthError
	assert.True(t, errors.As(err, &authErr))
}

func TestClientFragmentedResponse(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"single fragment", 100},
		{"exact fragment", FragmentSize},
		{"two fragments", FragmentSize + 17},
		{"exact multiple", FragmentSize * 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Repeat("x", tt.size)
			srv := startServer(t, "pw", HandlerFunc(func(context.Context, string) string { return body }))
			c := clientFor(t, srv.Addr(), "pw")
			require.NoError(t, c.Connect(context.Background()))

			resp, err := c.Execute(context.Background(), "dump")
			require.NoError(t, err)
			assert.Len(t, resp, tt.size)
		})
	}
}

func TestClientNotConnectedReconnects(t *testing.T) {
	srv := startServer(t, "pw", HandlerFunc(func(context.Context, string) string { return "ok" }))
	c := clientFor(t, srv.Addr(), "pw")

	// never connected: the single recovery attempt dials
	resp, err := c.Execute(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

// rawServer accepts connections and hands each to fn.
func rawServer(t *testing.T, fn func(n int, conn net.Conn)) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var count int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := int(atomic.AddInt32(&count, 1))
			go func() {
				defer conn.Close()
				fn(n, conn)
			}()
		}
	}()
	return ln.Addr()
}

func acceptAuth(t *testing.T, conn net.Conn) bool {
	p, err := ReadPacket(conn)
	if err != nil || p.Type != PacketTypeAuth {
		return false
	}
	// empty response frame first, like vanilla servers
	_ = WritePacket(conn, Packet{ID: p.ID, Type: PacketTypeResponse})
	return WritePacket(conn, Packet{ID: p.ID, Type: PacketTypeAuthResponse}) == nil
}

func TestClientReconnectsOnceAfterDrop(t *testing.T) {
	addr := rawServer(t, func(n int, conn net.Conn) {
		if !acceptAuth(t, conn) {
			return
		}
		p, err := ReadPacket(conn)
		if err != nil {
			return
		}
		if n == 1 {
			return // drop the first connection mid-command
		}
		_ = WritePacket(conn, Packet{ID: p.ID, Type: PacketTypeResponse, Payload: "second"})
	})

	c := clientFor(t, addr, "pw")
	require.NoError(t, c.Connect(context.Background()))

	resp, err := c.Execute(context.Background(), "status")
	require.NoError(t, err)
	assert.Equal(t, "second", resp)
}

func TestClientGivesUpAfterOneRetry(t *testing.T) {
	addr := rawServer(t, func(_ int, conn net.Conn) {
		if !acceptAuth(t, conn) {
			return
		}
		_, _ = ReadPacket(conn)
	})

	c := clientFor(t, addr, "pw")
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Execute(context.Background(), "status")
	require.Error(t, err)
	assert.True(t, IsRecoverable(err))
}

func TestClientSkipsStrayPackets(t *testing.T) {
	addr := rawServer(t, func(_ int, conn net.Conn) {
		if !acceptAuth(t, conn) {
			return
		}
		p, err := ReadPacket(conn)
		if err != nil {
			return
		}
		_ = WritePacket(conn, Packet{ID: p.ID + 100, Type: PacketTypeResponse, Payload: "late"})
		_ = WritePacket(conn, Packet{ID: p.ID, Type: PacketTypeResponse, Payload: "mine"})
	})

	c := clientFor(t, addr, "pw")
	require.NoError(t, c.Connect(context.Background()))

	resp, err := c.Execute(context.Background(), "status")
	require.NoError(t, err)
	assert.Equal(t, "mine", resp)
}

func TestClientExecuteOnceDoesNotRetry(t *testing.T) {
	var commands atomic.Int32
	addr := rawServer(t, func(n int, conn net.Conn) {
		if !acceptAuth(t, conn) {
			return
		}
		p, err := ReadPacket(conn)
		if err != nil {
			return
		}
		commands.Add(1)
		if n == 1 {
			// never answer; block until the client hangs up
			_, _ = ReadPacket(conn)
			return
		}
		_ = WritePacket(conn, Packet{ID: p.ID, Type: PacketTypeResponse, Payload: "fresh"})
	})

	c := clientFor(t, addr, "pw")
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.ExecuteOnce(context.Background(), "extract_start a b", time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), err)
	assert.Equal(t, int32(1), commands.Load())

	// the timed-out connection is dropped and the next command redials
	resp, err := c.ExecuteOnce(context.Background(), "extract_status x", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp)
	assert.Equal(t, int32(2), commands.Load())
}
