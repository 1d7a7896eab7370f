package rcon

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

var (
	// ErrAuth is returned when the server rejects the password or never
	// acknowledges the auth request.
	ErrAuth = errors.New("rcon authentication failed")

	// ErrConnectionClosed is returned when the peer closed the stream.
	ErrConnectionClosed = errors.New("rcon connection closed")

	// ErrMalformedFrame is returned for frames with an impossible length.
	ErrMalformedFrame = errors.New("malformed rcon frame")

	// ErrNotConnected is returned when a command is issued before Connect.
	ErrNotConnected = errors.New("rcon client not connected")
)

// AuthError describes why authentication failed.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "rcon authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return ErrAuth
}

// IsRecoverable reports whether err is a transport failure that a fresh
// connection may fix: timeouts, resets, closed streams and broken pipes.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, ErrAuth) {
		return false
	}

	if errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "timed out")
}
