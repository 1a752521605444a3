package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// deadSocket leaves a socket file on disk with nobody listening, as a crashed kiosk would.
func deadSocket(t *testing.T, path string) {
	t.Helper()
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)
	listener.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, listener.Close())

	info, err := os.Lstat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSocket)
}

func TestAcquireRemovesDeadSocket(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "teller.sock")
	deadSocket(t, socketPath)

	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer listener.Close()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAcquireCreatesSocketDir(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "run", "kiosk", "teller.sock")
	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, listener.Close())
}

func TestAcquireRefusesToRemoveRegularFile(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "teller.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("keep me"), 0o600))

	_, err := Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 50 * time.Millisecond})
	require.ErrorContains(t, err, "is not a socket")

	data, readErr := os.ReadFile(socketPath)
	require.NoError(t, readErr)
	require.Equal(t, "keep me", string(data))
}

func TestAcquireReturnsAlreadyRunningWhenSocketResponsive(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "teller.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return Response{OK: true, State: "welcome"}
		}))
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 80 * time.Millisecond, Retries: 1})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-serverDone)
}

func TestAcquireDoesNotUnlinkWhenProbeInconclusive(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "teller.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(250 * time.Millisecond)
			}(conn)
		}
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 30 * time.Millisecond})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyRunning)
	require.Contains(t, err.Error(), "probe existing socket")

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
	<-acceptDone
}

func TestRuntimeSocketPathRequiresXDG(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	_, err := RuntimeSocketPath()
	require.ErrorContains(t, err, "XDG_RUNTIME_DIR")
}

func TestResolveSocketPath(t *testing.T) {
	got, err := ResolveSocketPath(" /run/kiosk/teller.sock ")
	require.NoError(t, err)
	require.Equal(t, "/run/kiosk/teller.sock", got)

	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	got, err = ResolveSocketPath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, SocketName), got)
}

func TestRequestConstructors(t *testing.T) {
	require.Equal(t, Request{Command: CommandPress, Arg: "enter"}, Press("enter"))
	require.Equal(t, Request{Command: CommandInsert, Arg: "4000123412341234"}, Insert("4000123412341234"))
}
