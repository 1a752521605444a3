// Package session owns the kiosk session state and runs the screen controllers against it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/logging"
)

// ErrBusy is returned when a remote request is started while another one is in flight.
var ErrBusy = errors.New("a request is already in progress")

// Persister is the storage boundary for the session id.
type Persister interface {
	Save(ctx context.Context, sessionID string) error
	Clear(ctx context.Context) error
}

type noopPersister struct{}

func (noopPersister) Save(context.Context, string) error { return nil }
func (noopPersister) Clear(context.Context) error        { return nil }

// Observer is told about every committed transition. Observers run while the store
// holds its dispatch lock and must not dispatch themselves.
type Observer func(prev, next fsm.State, event fsm.Event)

// Store holds the session state and serializes every event through fsm.Transition.
type Store struct {
	logger  *slog.Logger
	persist Persister
	now     func() time.Time
	timeout time.Duration

	dispatchMu sync.Mutex

	mu    sync.RWMutex
	state fsm.State

	obsMu     sync.Mutex
	observers map[uint64]Observer
	nextObs   uint64
}

// StoreOptions tunes NewStore. Zero values fall back to defaults.
type StoreOptions struct {
	Logger         *slog.Logger
	Persister      Persister
	SessionTimeout time.Duration
	Now            func() time.Time
}

// NewStore returns a store at the welcome screen.
func NewStore(opts StoreOptions) *Store {
	if opts.Persister == nil {
		opts.Persister = noopPersister{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 2 * time.Minute
	}
	return &Store{
		logger:    logging.OrDiscard(opts.Logger),
		persist:   opts.Persister,
		now:       opts.Now,
		timeout:   opts.SessionTimeout,
		state:     fsm.Initial(),
		observers: make(map[uint64]Observer),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() fsm.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe adds an observer and returns its removal func.
func (s *Store) Subscribe(o Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = o
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// Dispatch applies one event. A rejected event leaves the state untouched and returns the error.
func (s *Store) Dispatch(ctx context.Context, event fsm.Event) (fsm.State, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	return s.dispatchLocked(ctx, event)
}

// BeginRequest dispatches BEGIN_REQUEST unless a request is already in flight, and returns the
// state the request was started from. The check and the transition happen under one lock, so two
// racing confirmations cannot both reach the bank.
func (s *Store) BeginRequest(ctx context.Context) (fsm.State, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.Snapshot().Loading {
		return s.Snapshot(), ErrBusy
	}
	return s.dispatchLocked(ctx, fsm.BeginRequest{})
}

func (s *Store) dispatchLocked(ctx context.Context, event fsm.Event) (fsm.State, error) {
	prev := s.Snapshot()
	next, err := fsm.Transition(prev, event, fsm.Timing{Now: s.now(), SessionTimeout: s.timeout})
	if err != nil {
		s.logger.Warn("event rejected", "screen", string(prev.Screen), "error", err)
		return prev, err
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("event",
		"kind", string(event.Kind()),
		"from", string(prev.Screen),
		"to", string(next.Screen),
		"loading", next.Loading,
	)

	s.persistBoundary(ctx, event, prev, next)

	for _, o := range s.observerList() {
		o(prev, next, event)
	}
	return next, nil
}

// persistBoundary writes or clears the stored session id after the transition committed. Any
// transition that drops the session clears it, including leaving maintenance.
// Storage failures are logged; the in-memory session stays authoritative.
func (s *Store) persistBoundary(ctx context.Context, event fsm.Event, prev, next fsm.State) {
	ctx = context.WithoutCancel(ctx)
	switch {
	case fsm.ClearsPersistedSession(event) || fsm.SessionEnded(prev, next):
		if err := s.persist.Clear(ctx); err != nil {
			s.logger.Warn("clear persisted session", "error", err)
		}
	case event.Kind() == fsm.KindLoginSuccess:
		if err := s.persist.Save(ctx, next.SessionID); err != nil {
			s.logger.Warn("persist session", "error", err)
		}
	}
}

func (s *Store) observerList() []Observer {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	list := make([]Observer, 0, len(s.observers))
	for id := uint64(1); id <= s.nextObs; id++ {
		if o, ok := s.observers[id]; ok {
			list = append(list, o)
		}
	}
	return list
}

// SessionExpired reacts to the bank rejecting the session. Ignored when no session is active.
func (s *Store) SessionExpired(ctx context.Context) {
	if !s.Snapshot().Authenticated() {
		return
	}
	if _, err := s.Dispatch(ctx, fsm.SessionTimeout{}); err != nil {
		s.logger.Warn("dispatch session timeout", "error", err)
	}
}

// Maintenance switches the kiosk to the maintenance screen.
func (s *Store) Maintenance(ctx context.Context, reason string) {
	if s.Snapshot().Screen == fsm.ScreenMaintenance {
		return
	}
	if _, err := s.Dispatch(ctx, fsm.MaintenanceMode{Reason: reason}); err != nil {
		s.logger.Warn("dispatch maintenance mode", "error", err)
	}
}
