// Package doctor runs kiosk readiness diagnostics for config, bank reachability, session storage,
// the keypad socket, and the audio cue sink.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rbright/teller/internal/audio"
	"github.com/rbright/teller/internal/bankapi"
	"github.com/rbright/teller/internal/config"
	"github.com/rbright/teller/internal/ipc"
	"github.com/rbright/teller/internal/sessionstore"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	for _, w := range loaded.Warnings {
		checks = append(checks, Check{Name: w.Key, Pass: true, Message: "warning: " + w.Message})
	}

	checks = append(checks,
		checkBankGRPC(ctx, cfg.Bank),
		checkBankHealth(ctx, cfg.Bank),
		checkStore(ctx, cfg),
		checkSocket(ctx, cfg.Terminal),
		checkCueSink(ctx, cfg.Cue),
	)
	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found, using defaults", loaded.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", loaded.Path)}
}

// checkBankGRPC dials the bank service and waits for the channel to become ready.
func checkBankGRPC(ctx context.Context, cfg config.BankConfig) Check {
	if err := bankapi.Probe(ctx, cfg.GRPC, cfg.DialTimeout); err != nil {
		return Check{Name: "bank.grpc", Pass: false, Message: err.Error()}
	}
	return Check{Name: "bank.grpc", Pass: true, Message: fmt.Sprintf("reachable at %s", cfg.GRPC)}
}

// checkBankHealth asks the admin endpoint whether the bank serves customers (not in maintenance).
func checkBankHealth(ctx context.Context, cfg config.BankConfig) Check {
	url := strings.TrimSpace(cfg.HealthURL)
	if url == "" {
		return Check{Name: "bank.health", Pass: false, Message: "bank.health_url is empty"}
	}
	probe := bankapi.HealthProbe{URL: url, Client: &http.Client{Timeout: 2 * time.Second}}
	if err := probe.Ready(ctx); err != nil {
		return Check{Name: "bank.health", Pass: false, Message: err.Error()}
	}
	return Check{Name: "bank.health", Pass: true, Message: fmt.Sprintf("ready at %s", url)}
}

// checkStore opens the session store and reports a session id left behind by a previous run.
func checkStore(ctx context.Context, cfg config.Config) Check {
	store, closeStore, err := sessionstore.Open(ctx, cfg.Store.Backend, cfg.Store.Path, sessionstore.SQLConfig{
		DSN:        cfg.Store.DSN,
		Table:      cfg.Store.Table,
		TerminalID: cfg.Terminal.ID,
	})
	if err != nil {
		return Check{Name: "store", Pass: false, Message: err.Error()}
	}
	defer func() { _ = closeStore() }()

	where := describeStore(cfg.Store, store)
	_, err = store.Load(ctx)
	switch {
	case errors.Is(err, sessionstore.ErrNotFound):
		return Check{Name: "store", Pass: true, Message: where}
	case err != nil:
		return Check{Name: "store", Pass: false, Message: fmt.Sprintf("%s: %v", where, err)}
	default:
		return Check{Name: "store", Pass: true, Message: where + " (stale session will be discarded at start)"}
	}
}

func describeStore(cfg config.StoreConfig, store sessionstore.Store) string {
	if fs, ok := store.(*sessionstore.FileStore); ok {
		return "file " + fs.Path()
	}
	return fmt.Sprintf("%s table %s", cfg.Backend, cfg.Table)
}

// checkSocket resolves the keypad socket and reports whether a kiosk already owns it.
func checkSocket(ctx context.Context, cfg config.TerminalConfig) Check {
	path, err := ipc.ResolveSocketPath(cfg.Socket)
	if err != nil {
		return Check{Name: "terminal.socket", Pass: false, Message: err.Error()}
	}
	alive, err := ipc.Probe(ctx, path, 250*time.Millisecond)
	if err != nil {
		return Check{Name: "terminal.socket", Pass: false, Message: err.Error()}
	}
	if alive {
		return Check{Name: "terminal.socket", Pass: true, Message: fmt.Sprintf("kiosk running on %s", path)}
	}
	return Check{Name: "terminal.socket", Pass: true, Message: fmt.Sprintf("%s is free", path)}
}

// checkCueSink runs live sink selection to surface selection/fallback issues.
func checkCueSink(ctx context.Context, cfg config.CueConfig) Check {
	if !cfg.Enable {
		return Check{Name: "cue.sink", Pass: true, Message: "audio cues disabled"}
	}
	selection, err := audio.SelectDevice(ctx, cfg.Sink, cfg.Fallback)
	if err != nil {
		return Check{Name: "cue.sink", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "cue.sink", Pass: true, Message: message}
}
