package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rbright/teller/internal/bankapi"
	"github.com/rbright/teller/internal/bankd"
	"github.com/rbright/teller/internal/config"
	"github.com/rbright/teller/internal/cue"
	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/idle"
	"github.com/rbright/teller/internal/ipc"
	"github.com/rbright/teller/internal/screen"
	"github.com/rbright/teller/internal/session"
	"github.com/rbright/teller/internal/sessionstore"
	"github.com/spf13/cobra"
)

func (r Runner) runCommand(opts *options) *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kiosk on this terminal",
		Long: `Run the kiosk: connect to the bank, own the keypad socket and redraw the screen
until interrupted. A session left behind by a previous run is logged out first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.prepare(cmd, opts)
			if err != nil {
				return err
			}
			defer e.close()
			if noColor {
				e.loaded.Config.Display.NoColor = true
			}
			return r.runKiosk(cmd.Context(), e)
		},
	}
	cmd.Flags().BoolVar(&noColor, "no-color", false, "draw plain frames")
	return cmd
}

// runKiosk owns the keypad socket and drives one terminal until ctx is cancelled.
func (r Runner) runKiosk(ctx context.Context, e *env) error {
	cfg := e.cfg()
	logger := e.logger

	socketPath, err := ipc.ResolveSocketPath(cfg.Terminal.Socket)
	if err != nil {
		return failed(err)
	}
	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: 180 * time.Millisecond, Retries: 8})
	if err != nil {
		return failed(err)
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	stored, closeStore, err := sessionstore.Open(ctx, cfg.Store.Backend, cfg.Store.Path, sessionstore.SQLConfig{
		DSN:        cfg.Store.DSN,
		Table:      cfg.Store.Table,
		TerminalID: cfg.Terminal.ID,
	})
	if err != nil {
		return failed(fmt.Errorf("open session store: %w", err))
	}
	defer func() { _ = closeStore() }()

	store := session.NewStore(session.StoreOptions{
		Logger:         logger,
		Persister:      stored,
		SessionTimeout: cfg.Session.Timeout,
	})

	client, err := bankapi.Dial(ctx, bankapi.Config{
		Endpoint:       cfg.Bank.GRPC,
		DialTimeout:    cfg.Bank.DialTimeout,
		RequestTimeout: cfg.Bank.RequestTimeout,
		Notifier:       store,
		Logger:         logger,
	})
	if err != nil {
		return failed(err)
	}
	defer func() { _ = client.Close() }()

	if _, err := session.DiscardStale(ctx, stored, func(ctx context.Context, id string) error {
		client.SetSessionID(id)
		return client.Logout(ctx)
	}, logger); err != nil {
		logger.Warn("discard stale session", "error", err)
	}

	watchdog, err := idle.New(idleConfig(cfg.Session), idle.SystemClock(), store, idle.RefreshFunc(func(ctx context.Context) error {
		_, err := client.RefreshSession(ctx)
		return err
	}), logger)
	if err != nil {
		return failed(fmt.Errorf("idle timer: %w", err))
	}

	player := cue.NewPlayer(cfg.Cue, logger)
	disp := newDisplay(screen.New(r.Stdout, cfg.Display, cfg.Session.WarningThreshold), logger)
	watchdog.SetListener(func(status idle.Status) {
		if disp.setStatus(status) {
			player.Warning(ctx)
		}
	})

	kiosk := session.NewKiosk(store, client, session.KioskOptions{
		Logger: logger,
		Cues:   player,
		Activity: func(ctx context.Context) {
			watchdog.Activity(ctx)
		},
		Changed: disp.poke,
	})
	disp.view = kiosk.View

	kiosk.Start()
	unsubs := []func(){
		store.Subscribe(watchdog.Observe),
		store.Subscribe(session.ForgetEndedSession(client)),
		store.Subscribe(func(_, _ fsm.State, _ fsm.Event) { disp.poke() }),
	}
	var maintenance *session.MaintenanceWatch
	if cfg.Bank.HealthURL != "" {
		maintenance = session.NewMaintenanceWatch(store, bankapi.HealthProbe{URL: cfg.Bank.HealthURL}, cfg.Bank.MaintenancePoll, logger)
		unsubs = append(unsubs, store.Subscribe(maintenance.Observe))
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ipc.Serve(serveCtx, listener, kioskHandler(kiosk, cfg.Terminal.SimulatedReader))
	}()
	drawDone := make(chan struct{})
	go func() {
		defer close(drawDone)
		disp.run(serveCtx)
	}()

	logger.Info("kiosk ready",
		"terminal", cfg.Terminal.ID,
		"socket", socketPath,
		"bank", cfg.Bank.GRPC,
		"store", cfg.Store.Backend,
	)

	select {
	case <-ctx.Done():
		cancelServe()
		err = <-serveErr
	case err = <-serveErr:
		cancelServe()
	}
	<-drawDone

	for _, unsub := range unsubs {
		unsub()
	}
	kiosk.Stop()
	watchdog.Stop()
	if maintenance != nil {
		maintenance.Stop()
	}
	player.Wait()

	if err != nil {
		logger.Error("kiosk stopped", "error", err)
		return failed(fmt.Errorf("ipc server failed: %w", err))
	}
	logger.Info("kiosk stopped")
	return nil
}

func idleConfig(cfg config.SessionConfig) idle.Config {
	return idle.Config{
		Timeout:           cfg.Timeout,
		WarningThreshold:  cfg.WarningThreshold,
		ActivityThrottle:  cfg.ActivityThrottle,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Tick:              time.Second,
	}
}

// kioskHandler serves the keypad socket. insert is refused on terminals with a physical card reader.
func kioskHandler(kiosk ipc.Handler, simulatedReader bool) ipc.Handler {
	return ipc.HandlerFunc(func(ctx context.Context, req ipc.Request) ipc.Response {
		if req.Command == ipc.CommandInsert && !simulatedReader {
			status := kiosk.Handle(ctx, ipc.Request{Command: ipc.CommandStatus})
			return ipc.Response{OK: false, State: status.State, Error: "simulated card reader is disabled"}
		}
		return kiosk.Handle(ctx, req)
	})
}

type drawer interface {
	Draw(view session.View, status idle.Status) error
}

// display redraws the operator frame from one goroutine. poke never blocks, so it is safe from
// store observers and key handlers.
type display struct {
	drawer drawer
	view   func() session.View
	logger *slog.Logger

	mu     sync.Mutex
	status idle.Status
	wake   chan struct{}
}

func newDisplay(d drawer, logger *slog.Logger) *display {
	return &display{drawer: d, logger: logger, wake: make(chan struct{}, 1)}
}

func (d *display) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// setStatus records the idle timer status and reports whether the timeout warning just appeared.
func (d *display) setStatus(status idle.Status) bool {
	d.mu.Lock()
	started := status.ShowWarning && !d.status.ShowWarning
	d.status = status
	d.mu.Unlock()
	d.poke()
	return started
}

// run draws until ctx is done, finishing with one last frame of the final state.
func (d *display) run(ctx context.Context) {
	d.draw()
	for {
		select {
		case <-ctx.Done():
			d.draw()
			return
		case <-d.wake:
			d.draw()
		}
	}
}

func (d *display) draw() {
	if d.view == nil {
		return
	}
	d.mu.Lock()
	status := d.status
	d.mu.Unlock()
	if err := d.drawer.Draw(d.view(), status); err != nil {
		d.logger.Warn("draw screen", "error", err)
	}
}

func (r Runner) serveBankCommand(opts *options) *cobra.Command {
	var grpcAddr, adminAddr string
	cmd := &cobra.Command{
		Use:   "serve-bank",
		Short: "Serve the simulated bank for local kiosks",
		Long: `Serve the in-memory bank: the gRPC service kiosks dial and the admin HTTP router.

Toggle maintenance from another terminal:
  curl -X PUT -d '{"reason":"Nightly batch"}' http://127.0.0.1:8061/maintenance
  curl -X DELETE http://127.0.0.1:8061/maintenance`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := r.prepare(cmd, opts)
			if err != nil {
				return err
			}
			defer e.close()

			cfg := e.cfg().Bankd
			if cmd.Flags().Changed("grpc-listen") {
				cfg.GRPCListen = grpcAddr
			}
			if cmd.Flags().Changed("admin-listen") {
				cfg.AdminListen = adminAddr
			}

			bank, err := bankd.New(bankd.Config{
				Customers:      cfg.Customers,
				SessionTTL:     cfg.SessionTTL,
				MaxPINAttempts: cfg.MaxPINAttempts,
				Logger:         e.logger,
			})
			if err != nil {
				return failed(fmt.Errorf("seed bank: %w", err))
			}

			fmt.Fprintf(r.Stdout, "bank listening on %s (admin %s)\n", cfg.GRPCListen, cfg.AdminListen)
			if err := bank.Serve(cmd.Context(), bankd.ServeConfig{
				GRPCAddr:  cfg.GRPCListen,
				AdminAddr: cfg.AdminListen,
			}); err != nil && !errors.Is(err, context.Canceled) {
				return failed(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&grpcAddr, "grpc-listen", "", "override bankd.grpc_listen")
	cmd.Flags().StringVar(&adminAddr, "admin-listen", "", "override bankd.admin_listen")
	return cmd
}
