// Package idle runs the inactivity timer that keeps an authenticated kiosk session alive or expires it.
//
// Two callbacks are scheduled from every reset: a warning at Timeout-WarningThreshold and the hard
// timeout at Timeout. The visible countdown started by the warning only reports the seconds left until
// the hard deadline; the hard-timeout callback alone dispatches SESSION_TIMEOUT.
package idle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/logging"
)

// Config controls timer lengths.
type Config struct {
	Timeout           time.Duration
	WarningThreshold  time.Duration
	ActivityThrottle  time.Duration
	HeartbeatInterval time.Duration
	Tick              time.Duration
}

// DefaultConfig is a two minute session with a thirty second warning.
func DefaultConfig() Config {
	return Config{
		Timeout:           2 * time.Minute,
		WarningThreshold:  30 * time.Second,
		ActivityThrottle:  time.Second,
		HeartbeatInterval: time.Minute,
		Tick:              time.Second,
	}
}

// Validate rejects configurations where the warning cannot precede the timeout.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("session timeout must be > 0")
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold >= c.Timeout {
		return fmt.Errorf("warning threshold %s must be > 0 and < timeout %s", c.WarningThreshold, c.Timeout)
	}
	if c.Tick <= 0 {
		return errors.New("countdown tick must be > 0")
	}
	if c.ActivityThrottle < 0 || c.HeartbeatInterval < 0 {
		return errors.New("throttle and heartbeat interval must be >= 0")
	}
	return nil
}

// Dispatcher delivers events to the session store.
type Dispatcher interface {
	Dispatch(ctx context.Context, event fsm.Event) (fsm.State, error)
}

// Refresher extends the server-side session.
type Refresher interface {
	RefreshSession(ctx context.Context) error
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context) error

func (f RefreshFunc) RefreshSession(ctx context.Context) error { return f(ctx) }

// Phase is the timer's externally visible state.
type Phase string

const (
	PhaseDisarmed Phase = "disarmed"
	PhaseArmed    Phase = "armed"
	PhaseWarning  Phase = "warning"
)

// Status is what the screen shows about the idle timer.
type Status struct {
	Phase       Phase
	ShowWarning bool
	SecondsLeft int
	Deadline    time.Time
}

// activeScreens are the authenticated, input-capable screens the timer runs on.
var activeScreens = map[fsm.Screen]struct{}{
	fsm.ScreenMainMenu:          {},
	fsm.ScreenBalanceInquiry:    {},
	fsm.ScreenWithdrawal:        {},
	fsm.ScreenWithdrawalConfirm: {},
	fsm.ScreenWithdrawalReceipt: {},
	fsm.ScreenDeposit:           {},
	fsm.ScreenDepositReceipt:    {},
	fsm.ScreenTransfer:          {},
	fsm.ScreenTransferConfirm:   {},
	fsm.ScreenTransferReceipt:   {},
	fsm.ScreenStatement:         {},
	fsm.ScreenPinChange:         {},
}

// Runs reports whether the timer should be armed in s.
func Runs(s fsm.State) bool {
	if !s.Authenticated() {
		return false
	}
	_, ok := activeScreens[s.Screen]
	return ok
}

// Watchdog is the idle and session timer.
type Watchdog struct {
	cfg        Config
	clock      Clock
	dispatcher Dispatcher
	refresher  Refresher
	logger     *slog.Logger

	mu            sync.Mutex
	phase         Phase
	screen        fsm.Screen
	generation    uint64
	deadline      time.Time
	lastReset     time.Time
	lastHeartbeat time.Time
	secondsLeft   int
	warnTimer     Timer
	hardTimer     Timer
	tickTimer     Timer
	listener      func(Status)

	inflight sync.WaitGroup
}

// New builds a disarmed watchdog. refresher may be nil.
func New(cfg Config, clock Clock, dispatcher Dispatcher, refresher Refresher, logger *slog.Logger) (*Watchdog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Watchdog{
		cfg:        cfg,
		clock:      clock,
		dispatcher: dispatcher,
		refresher:  refresher,
		logger:     logging.OrDiscard(logger),
		phase:      PhaseDisarmed,
	}, nil
}

// SetListener registers the callback invoked after every status change.
func (w *Watchdog) SetListener(fn func(Status)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listener = fn
}

// Status returns the current timer status.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusLocked()
}

func (w *Watchdog) statusLocked() Status {
	return Status{
		Phase:       w.phase,
		ShowWarning: w.phase == PhaseWarning,
		SecondsLeft: w.secondsLeft,
		Deadline:    w.deadline,
	}
}

// Observe follows session state changes. It arms the timer when a session enters the active screen
// set, re-arms on every screen change inside it, and disarms as soon as either condition fails.
func (w *Watchdog) Observe(_, next fsm.State, _ fsm.Event) {
	w.mu.Lock()
	var changed bool
	switch {
	case !Runs(next):
		changed = w.phase != PhaseDisarmed
		w.disarmLocked()
	case w.phase == PhaseDisarmed:
		w.lastHeartbeat = w.clock.Now()
		w.armLocked()
		changed = true
	case next.Screen != w.screen:
		w.armLocked()
		changed = true
	}
	w.screen = next.Screen
	status, listener := w.statusLocked(), w.listener
	w.mu.Unlock()

	if changed && listener != nil {
		listener(status)
	}
}

// Activity records one user interaction. Resets closer together than ActivityThrottle are ignored.
// An accepted reset re-arms both callbacks, dispatches REFRESH_SESSION_TIMER, and when the last
// heartbeat is older than HeartbeatInterval also fires a best-effort remote refresh.
func (w *Watchdog) Activity(ctx context.Context) bool {
	w.mu.Lock()
	if w.phase == PhaseDisarmed {
		w.mu.Unlock()
		return false
	}
	now := w.clock.Now()
	if now.Sub(w.lastReset) < w.cfg.ActivityThrottle {
		w.mu.Unlock()
		return false
	}
	w.armLocked()

	heartbeatDue := w.refresher != nil && now.Sub(w.lastHeartbeat) > w.cfg.HeartbeatInterval
	if heartbeatDue {
		w.lastHeartbeat = now
	}
	status, listener := w.statusLocked(), w.listener
	w.mu.Unlock()

	if listener != nil {
		listener(status)
	}
	if w.dispatcher != nil {
		if _, err := w.dispatcher.Dispatch(ctx, fsm.RefreshSessionTimer{}); err != nil {
			w.logger.Warn("refresh session timer", "error", err)
		}
	}
	if heartbeatDue {
		w.heartbeat(context.WithoutCancel(ctx))
	}
	return true
}

func (w *Watchdog) heartbeat(ctx context.Context) {
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		if err := w.refresher.RefreshSession(ctx); err != nil {
			w.logger.Info("session heartbeat failed", "error", err)
			return
		}
		w.logger.Debug("session heartbeat sent")
	}()
}

// Stop disarms the timer and waits for an in-flight heartbeat.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.disarmLocked()
	w.mu.Unlock()
	w.inflight.Wait()
}

// armLocked cancels every pending callback and schedules a fresh warning and hard timeout.
func (w *Watchdog) armLocked() {
	w.stopTimersLocked()
	w.generation++
	gen := w.generation

	now := w.clock.Now()
	w.phase = PhaseArmed
	w.lastReset = now
	w.deadline = now.Add(w.cfg.Timeout)
	w.secondsLeft = 0

	w.hardTimer = w.clock.AfterFunc(w.cfg.Timeout, func() { w.onHardTimeout(gen) })
	w.warnTimer = w.clock.AfterFunc(w.cfg.Timeout-w.cfg.WarningThreshold, func() { w.onWarning(gen) })
}

func (w *Watchdog) disarmLocked() {
	w.stopTimersLocked()
	w.generation++
	w.phase = PhaseDisarmed
	w.deadline = time.Time{}
	w.secondsLeft = 0
}

func (w *Watchdog) stopTimersLocked() {
	for _, t := range []Timer{w.warnTimer, w.hardTimer, w.tickTimer} {
		if t != nil {
			t.Stop()
		}
	}
	w.warnTimer, w.hardTimer, w.tickTimer = nil, nil, nil
}

func (w *Watchdog) onWarning(gen uint64) {
	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return
	}
	w.phase = PhaseWarning
	w.warnTimer = nil
	w.secondsLeft = w.remainingLocked()
	w.scheduleTickLocked(gen)
	status, listener := w.statusLocked(), w.listener
	w.mu.Unlock()

	w.logger.Info("session timeout warning", "seconds_left", status.SecondsLeft)
	if listener != nil {
		listener(status)
	}
}

func (w *Watchdog) onTick(gen uint64) {
	w.mu.Lock()
	if gen != w.generation || w.phase != PhaseWarning {
		w.mu.Unlock()
		return
	}
	w.secondsLeft = w.remainingLocked()
	w.tickTimer = nil
	if w.secondsLeft > 0 {
		w.scheduleTickLocked(gen)
	}
	status, listener := w.statusLocked(), w.listener
	w.mu.Unlock()

	if listener != nil {
		listener(status)
	}
}

func (w *Watchdog) scheduleTickLocked(gen uint64) {
	w.tickTimer = w.clock.AfterFunc(w.cfg.Tick, func() { w.onTick(gen) })
}

// remainingLocked is the whole seconds left until the hard deadline.
func (w *Watchdog) remainingLocked() int {
	left := w.deadline.Sub(w.clock.Now())
	if left <= 0 {
		return 0
	}
	return int(math.Round(left.Seconds()))
}

func (w *Watchdog) onHardTimeout(gen uint64) {
	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return
	}
	w.disarmLocked()
	status, listener := w.statusLocked(), w.listener
	w.mu.Unlock()

	w.logger.Info("session timed out")
	if listener != nil {
		listener(status)
	}
	if w.dispatcher == nil {
		return
	}
	if _, err := w.dispatcher.Dispatch(context.Background(), fsm.SessionTimeout{}); err != nil {
		w.logger.Warn("dispatch session timeout", "error", err)
	}
}
