package doctor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/teller/internal/bankapi"
	"github.com/rbright/teller/internal/bankd"
	"github.com/rbright/teller/internal/config"
	"github.com/rbright/teller/internal/ipc"
	"github.com/rbright/teller/internal/sessionstore"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

// startBank serves a seeded bank over real TCP listeners and returns the grpc address and the admin URL.
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

func TestCheckBankGRPC(t *testing.T) {
	_, addr, _ := startBank(t)

	check := checkBankGRPC(context.Background(), config.BankConfig{GRPC: addr, DialTimeout: 2 * time.Second})
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "reachable at "+addr)

	check = checkBankGRPC(context.Background(), config.BankConfig{GRPC: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	require.False(t, check.Pass)
	require.Equal(t, "bank.grpc", check.Name)
}

func TestCheckBankHealthFollowsMaintenance(t *testing.T) {
	bank, _, adminURL := startBank(t)
	cfg := config.BankConfig{HealthURL: adminURL + "/v1/health/ready"}

	check := checkBankHealth(context.Background(), cfg)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "ready at")

	bank.SetMaintenance(true, "Nightly batch")
	check = checkBankHealth(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "503")
}

func TestCheckBankHealthEmptyURL(t *testing.T) {
	check := checkBankHealth(context.Background(), config.BankConfig{})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "bank.health_url is empty")
}

func TestCheckBankHealthUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(server.Close)

	check := checkBankHealth(context.Background(), config.BankConfig{HealthURL: server.URL})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "418")
}

func TestCheckStoreReportsStaleSession(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "session")

	check := checkStore(context.Background(), cfg)
	require.True(t, check.Pass, check.Message)
	require.Equal(t, "file "+cfg.Store.Path, check.Message)

	require.NoError(t, sessionstore.NewFileStore(cfg.Store.Path).Save(context.Background(), "s-1"))
	check = checkStore(context.Background(), cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "stale session")
}

func TestCheckStoreMySQLWithoutDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "mysql"

	check := checkStore(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "dsn is required")
}

func TestCheckSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teller.sock")

	check := checkSocket(context.Background(), config.TerminalConfig{Socket: path})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "is free")

	listener, err := net.Listen("unix", path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(func(context.Context, ipc.Request) ipc.Response {
			return ipc.Response{OK: true, State: "welcome"}
		}))
	}()

	check = checkSocket(context.Background(), config.TerminalConfig{Socket: path})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "kiosk running")

	cancel()
	require.NoError(t, <-done)
}

func TestCheckSocketWithoutRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	check := checkSocket(context.Background(), config.TerminalConfig{})
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "XDG_RUNTIME_DIR")
}

func TestCheckCueSink(t *testing.T) {
	check := checkCueSink(context.Background(), config.CueConfig{Enable: false})
	require.True(t, check.Pass)
	require.Equal(t, "audio cues disabled", check.Message)

	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	check = checkCueSink(context.Background(), config.CueConfig{Enable: true, Sink: "default"})
	require.False(t, check.Pass)
	require.Equal(t, "cue.sink", check.Name)
}

func TestRunIncludesWarningsAndEveryCheck(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, addr, adminURL := startBank(t)

	cfg := config.Default()
	cfg.Bank.GRPC = addr
	cfg.Bank.HealthURL = adminURL + "/v1/health/ready"
	cfg.Store.Path = filepath.Join(t.TempDir(), "session")
	cfg.Cue.Enable = false

	report := Run(context.Background(), config.Loaded{
		Path:     "/tmp/teller.yaml",
		Config:   cfg,
		Warnings: []config.Warning{{Key: "log.level", Message: `unknown log level "loud"`}},
	})

	names := make([]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		names = append(names, check.Name)
	}
	require.Equal(t, []string{"config", "log.level", "bank.grpc", "bank.health", "store", "terminal.socket", "cue.sink"}, names)
	require.True(t, report.OK(), report.String())
	require.Contains(t, report.String(), `"/tmp/teller.yaml" not found, using defaults`)
}
