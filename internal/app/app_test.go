package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rbright/teller/internal/bankapi"
	"github.com/rbright/teller/internal/bankd"
	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/idle"
	"github.com/rbright/teller/internal/ipc"
	"github.com/rbright/teller/internal/logging"
	"github.com/rbright/teller/internal/session"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Contains(t, stdout.String(), "serve-bank")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	for _, args := range [][]string{{"version"}, {"--version"}} {
		var stdout bytes.Buffer
		var stderr bytes.Buffer

		exitCode := Execute(context.Background(), args, &stdout, &stderr)
		require.Equal(t, 0, exitCode, args)
		require.Contains(t, stdout.String(), "teller dev")
		require.Empty(t, stderr.String())
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestPressArgumentErrorsAreUsageErrors(t *testing.T) {
	var stderr bytes.Buffer
	exitCode := Execute(context.Background(), []string{"press"}, &bytes.Buffer{}, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "requires at least 1 arg")
	require.Contains(t, stderr.String(), "teller press <key>...")

	stderr.Reset()
	exitCode = Execute(context.Background(), []string{"press", "12", "banana"}, &bytes.Buffer{}, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), `unknown key "banana"`)
}

func TestExpandKeys(t *testing.T) {
	keys, err := expandKeys([]string{"1234", "Enter", "clear", "0", "cancel"})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3", "4", "enter", "clear", "0", "cancel"}, keys)

	_, err = expandKeys([]string{""})
	require.Error(t, err)
}

func TestStatusOfflineWhenNoKiosk(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "offline\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestPressWithoutKioskFails(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "press", "enter"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no running teller kiosk")
}

func TestCommandsForwardToKiosk(t *testing.T) {
	paths := setupRunnerEnv(t)

	var mu sync.Mutex
	var seen []ipc.Request
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "welcome", Message: "screen=welcome session=none"}
		case "press":
			return ipc.Response{OK: true, State: "welcome", Message: "pressed"}
		case "insert":
			return ipc.Response{OK: true, State: "pin_entry", Message: "card inserted"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "press", "12", "enter"}), stderr.String())
	require.Equal(t, "[OK] pressed 3 key(s), screen welcome\n", stdout.String())

	stdout.Reset()
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "insert", "4000123412341234"}), stderr.String())
	require.Equal(t, "[OK] card inserted\n", stdout.String())

	stdout.Reset()
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"}), stderr.String())
	require.Equal(t, "screen=welcome session=none\n", stdout.String())
	require.Empty(t, stderr.String())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []ipc.Request{
		{Command: "press", Arg: "1"},
		{Command: "press", Arg: "2"},
		{Command: "press", Arg: "enter"},
		{Command: "insert", Arg: "4000123412341234"},
		{Command: "status"},
	}, seen)
}

func TestPressStopsAtFirstRejectedKey(t *testing.T) {
	paths := setupRunnerEnv(t)

	var mu sync.Mutex
	presses := 0
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		mu.Lock()
		defer mu.Unlock()
		presses++
		return ipc.Response{OK: false, State: "maintenance", Error: "keypad disabled"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "press", "1", "2"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "press 1 on maintenance: keypad disabled")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, presses)
}

type staticHandler struct {
	requests []ipc.Request
}

func (h *staticHandler) Handle(_ context.Context, req ipc.Request) ipc.Response {
	h.requests = append(h.requests, req)
	return ipc.Response{OK: true, State: "welcome", Message: req.Command}
}

func TestKioskHandlerGatesCardInsertion(t *testing.T) {
	inner := &staticHandler{}
	handler := kioskHandler(inner, false)

	resp := handler.Handle(context.Background(), ipc.Request{Command: "insert", Arg: "4000123412341234"})
	require.False(t, resp.OK)
	require.Equal(t, "welcome", resp.State)
	require.Equal(t, "simulated card reader is disabled", resp.Error)

	resp = handler.Handle(context.Background(), ipc.Request{Command: "press", Arg: "1"})
	require.True(t, resp.OK)
	require.Equal(t, []ipc.Request{{Command: "status"}, {Command: "press", Arg: "1"}}, inner.requests)

	inner.requests = nil
	resp = kioskHandler(inner, true).Handle(context.Background(), ipc.Request{Command: "insert", Arg: "4000123412341234"})
	require.True(t, resp.OK)
	require.Equal(t, []ipc.Request{{Command: "insert", Arg: "4000123412341234"}}, inner.requests)
}

type recordingDrawer struct {
	mu       sync.Mutex
	statuses []idle.Status
	screens  []fsm.Screen
}

func (d *recordingDrawer) Draw(view session.View, status idle.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, status)
	d.screens = append(d.screens, view.State.Screen)
	return nil
}

func (d *recordingDrawer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.screens)
}

func TestDisplayReportsWarningStartOnce(t *testing.T) {
	disp := newDisplay(&recordingDrawer{}, logging.Discard())

	require.False(t, disp.setStatus(idle.Status{Phase: idle.PhaseArmed}))
	require.True(t, disp.setStatus(idle.Status{Phase: idle.PhaseWarning, ShowWarning: true, SecondsLeft: 30}))
	require.False(t, disp.setStatus(idle.Status{Phase: idle.PhaseWarning, ShowWarning: true, SecondsLeft: 29}))
	require.False(t, disp.setStatus(idle.Status{Phase: idle.PhaseArmed}))
	require.True(t, disp.setStatus(idle.Status{Phase: idle.PhaseWarning, ShowWarning: true, SecondsLeft: 30}))
}

func TestDisplayDrawsOnPoke(t *testing.T) {
	drawer := &recordingDrawer{}
	disp := newDisplay(drawer, logging.Discard())
	disp.view = func() session.View { return session.View{State: fsm.Initial()} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		disp.run(ctx)
	}()

	require.Eventually(t, func() bool { return drawer.count() >= 1 }, time.Second, 5*time.Millisecond)
	disp.setStatus(idle.Status{Phase: idle.PhaseWarning, ShowWarning: true, SecondsLeft: 12})
	require.Eventually(t, func() bool {
		drawer.mu.Lock()
		defer drawer.mu.Unlock()
		last := drawer.statuses[len(drawer.statuses)-1]
		return last.SecondsLeft == 12
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, fsm.ScreenWelcome, drawer.screens[0])
}

func TestRunFailsWhenBankUnreachableAndReleasesSocket(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeConfig(t, paths.configPath, "bank:\n  grpc: 127.0.0.1:1\n  dial_timeout: 200ms\ncue:\n  enable: false\n")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "run"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
	require.Contains(t, stderr.String(), "bank grpc")

	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunRefusesSecondKiosk(t *testing.T) {
	paths := setupRunnerEnv(t)
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "welcome"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "run"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), ipc.ErrAlreadyRunning.Error())
}

func TestRunServesKeypadEndToEnd(t *testing.T) {
	paths := setupRunnerEnv(t)
	_, addr, adminURL := startBank(t)
	writeConfig(t, paths.configPath, fmt.Sprintf(
		"bank:\n  grpc: %q\n  health_url: %q\ncue:\n  enable: false\n",
		addr, adminURL+"/v1/health/ready",
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		runner := Runner{Stdout: &stdout, Stderr: &stderr, Logger: logging.Discard()}
		done <- runner.Execute(ctx, []string{"--config", paths.configPath, "run"})
	}()

	require.Eventually(t, func() bool {
		alive, _ := ipc.Probe(context.Background(), paths.socketPath(), 200*time.Millisecond)
		return alive
	}, 5*time.Second, 20*time.Millisecond)

	send := func(args ...string) string {
		t.Helper()
		var out, errOut bytes.Buffer
		runner := Runner{Stdout: &out, Stderr: &errOut, Logger: logging.Discard()}
		code := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, code, errOut.String())
		return out.String()
	}

	require.Contains(t, send("press", "4000123412341234", "enter"), "screen pin_entry")
	require.Contains(t, send("press", "1234", "enter"), "screen main_menu")
	require.Contains(t, send("status"), "screen=main_menu session=active customer=Ada Lovelace")

	stored, err := os.ReadFile(filepath.Join(paths.stateDir, "teller", "session"))
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(string(stored)))

	cancel()
	select {
	case code := <-done:
		require.Equal(t, 0, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("kiosk did not stop")
	}
	require.Contains(t, stdout.String(), "== Main menu ==")
	require.Contains(t, stdout.String(), "Ada Lovelace")
}

func TestDoctorCommandPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeConfig(t, paths.configPath, "bank:\n  grpc: 127.0.0.1:1\n  dial_timeout: 200ms\n  health_url: http://127.0.0.1:1/v1/health/ready\ncue:\n  enable: false\n")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] bank.grpc")
	require.Contains(t, stdout.String(), "[OK] cue.sink: audio cues disabled")
}

func TestDevicesCommandFailsWithoutPulse(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestConfigErrorsExitOne(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeConfig(t, paths.configPath, "store:\n  backend: redis\n")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "store.backend")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "teller.sock")
	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		if req.Command == "status" {
			return ipc.Response{OK: true, State: "welcome"}
		}
		return ipc.Response{OK: false, Error: "unsupported"}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, time.Second)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "welcome", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: "logout"}, time.Second)
	require.True(t, handled)
	require.ErrorContains(t, err, "unsupported")
}

func TestTryForwardTreatsStaleSocketFileAsUnhandled(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "teller.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, time.Second)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "teller.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, time.Second)
	require.True(t, handled)
	require.ErrorContains(t, err, "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/teller.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

type runnerPaths struct {
	configPath string
	runtimeDir string
	stateDir   string
}

func (p runnerPaths) socketPath() string {
	return filepath.Join(p.runtimeDir, ipc.SocketName)
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	stateDir := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", stateDir)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "cue:\n  enable: false\n")

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir, stateDir: stateDir}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

// startBank serves a seeded bank on loopback and returns it with its grpc address and admin URL.
func startBank(t *testing.T) (*bankd.Bank, string, string) {
	t.Helper()
	bank, err := bankd.New(bankd.Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	bankapi.RegisterServer(server, bank)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	admin := httptest.NewServer(bank.AdminRouter())
	t.Cleanup(admin.Close)
	return bank, lis.Addr().String(), admin.URL
}
