package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/logging"
)

// Prober reports whether the bank accepts traffic again.
type Prober interface {
	Ready(ctx context.Context) error
}

// MaintenanceWatch polls the bank while the maintenance screen is up and dispatches
// MAINTENANCE_CLEARED once it reports ready. Subscribe Observe to the store.
type MaintenanceWatch struct {
	store    *Store
	prober   Prober
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMaintenanceWatch builds an idle watch. interval defaults to five seconds.
func NewMaintenanceWatch(store *Store, prober Prober, interval time.Duration, logger *slog.Logger) *MaintenanceWatch {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MaintenanceWatch{store: store, prober: prober, interval: interval, logger: logging.OrDiscard(logger)}
}

// Observe starts polling on entering maintenance and stops on leaving it.
func (m *MaintenanceWatch) Observe(_, next fsm.State, _ fsm.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inMaintenance := next.Screen == fsm.ScreenMaintenance
	switch {
	case inMaintenance && m.cancel == nil:
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(1)
		go m.poll(ctx)
	case !inMaintenance && m.cancel != nil:
		m.cancel()
		m.cancel = nil
	}
}

func (m *MaintenanceWatch) poll(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.interval)
		err := m.prober.Ready(probeCtx)
		cancel()
		if err != nil {
			m.logger.Debug("bank still in maintenance", "error", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.Info("bank maintenance cleared")
		if _, err := m.store.Dispatch(ctx, fsm.MaintenanceCleared{}); err != nil {
			m.logger.Warn("dispatch maintenance cleared", "error", err)
		}
		return
	}
}

// Stop ends polling and waits for the poller.
func (m *MaintenanceWatch) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}
