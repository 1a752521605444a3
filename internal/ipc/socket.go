// Package ipc is the keypad device transport: a unix socket carrying newline-delimited JSON
// requests to the running kiosk.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning means another kiosk answers on the socket.
var ErrAlreadyRunning = errors.New("teller kiosk already running")

// SocketName is the socket file name under XDG_RUNTIME_DIR.
const SocketName = "teller.sock"

// RuntimeSocketPath is $XDG_RUNTIME_DIR/teller.sock.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// ResolveSocketPath prefers a configured path over the runtime default.
func ResolveSocketPath(configured string) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured, nil
	}
	return RuntimeSocketPath()
}

// AcquireOptions tunes Acquire. Zero values use the defaults.
type AcquireOptions struct {
	// ProbeTimeout bounds the status round trip sent to a socket already on disk. Default 200ms.
	ProbeTimeout time.Duration
	// Retries is how often Acquire tries again after removing a dead socket. Default 3.
	Retries int
}

// Acquire claims the keypad socket at path. A socket left behind by a dead kiosk is removed; a
// kiosk that still answers yields ErrAlreadyRunning. Anything at path that is not a socket is left
// alone and reported.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 200 * time.Millisecond
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			if err := os.Chmod(path, 0o600); err != nil {
				_ = listener.Close()
				return nil, fmt.Errorf("restrict socket %s: %w", path, err)
			}
			return listener, nil
		}
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		if attempt >= opts.Retries {
			return nil, fmt.Errorf("acquire socket %s: gave up after %d attempts: %w", path, attempt+1, err)
		}

		if err := removeDeadSocket(ctx, path, opts.ProbeTimeout); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}

// removeDeadSocket unlinks path when it is a socket nobody answers on.
func removeDeadSocket(ctx context.Context, path string, probeTimeout time.Duration) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket %s: %w", path, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("socket path %s exists and is not a socket", path)
	}

	alive, err := Probe(ctx, path, probeTimeout)
	if alive {
		return ErrAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("probe existing socket %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove dead socket %s: %w", path, err)
	}
	return nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use")
}
