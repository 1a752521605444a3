// Package keypad routes numeric keypad input to whichever screen controller is active.
package keypad

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rbright/teller/internal/flow"
	"github.com/rbright/teller/internal/fsm"
)

var (
	// ErrDisabled is returned when input arrives while a request is in flight or the screen is inert.
	ErrDisabled = errors.New("keypad disabled")
	// ErrNoHandler is returned when no controller is registered for the active screen.
	ErrNoHandler = errors.New("no handler for active screen")
)

// Key selects one registered handler. It is a screen identifier, except for the
// deposit screen which has a second key once a deposit is staged.
type Key string

// KeyDepositPending routes the deposit screen while its deposit is being submitted.
const KeyDepositPending Key = "deposit_pending"

// Handler receives the four primitive keypad actions.
type Handler interface {
	OnDigit(ctx context.Context, d int)
	OnClear(ctx context.Context)
	OnCancel(ctx context.Context)
	OnEnter(ctx context.Context)
}

// InputFunc adapts a single input function to Handler.
type InputFunc func(context.Context, flow.Input)

func (f InputFunc) OnDigit(ctx context.Context, d int) { f(ctx, flow.Digit(d)) }
func (f InputFunc) OnClear(ctx context.Context)        { f(ctx, flow.Clear) }
func (f InputFunc) OnCancel(ctx context.Context)       { f(ctx, flow.Cancel) }
func (f InputFunc) OnEnter(ctx context.Context)        { f(ctx, flow.Enter) }

// StateSource exposes the current session state snapshot.
type StateSource interface {
	Snapshot() fsm.State
}

// KeyFor returns the routing key for s.
func KeyFor(s fsm.State) Key {
	if s.Screen == fsm.ScreenDeposit {
		if _, staged := s.Pending.(fsm.Deposit); staged {
			return KeyDepositPending
		}
	}
	return Key(s.Screen)
}

// Disabled reports whether the keypad must ignore input in s.
func Disabled(s fsm.State) bool {
	return s.Loading || !s.Screen.AcceptsInput()
}

type registration struct {
	id      uint64
	handler Handler
}

// Router is the dispatch table from routing key to the mounted controller.
type Router struct {
	source StateSource

	mu       sync.Mutex
	handlers map[Key]registration
	nextID   uint64
}

// NewRouter builds an empty router reading state from source.
func NewRouter(source StateSource) *Router {
	return &Router{
		source:   source,
		handlers: make(map[Key]registration),
	}
}

// Register mounts h under key and returns its unregister func. A later registration for the
// same key replaces h; the stale unregister func then does nothing.
func (r *Router) Register(key Key, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[key] = registration{id: id, handler: h}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if current, ok := r.handlers[key]; ok && current.id == id {
			delete(r.handlers, key)
		}
	}
}

// Active returns the handler for the current state, or nil when input is disabled.
func (r *Router) Active() (Handler, Key, error) {
	state := r.source.Snapshot()
	key := KeyFor(state)
	if Disabled(state) {
		return nil, key, ErrDisabled
	}

	r.mu.Lock()
	reg, ok := r.handlers[key]
	r.mu.Unlock()
	if !ok {
		return nil, key, fmt.Errorf("%w: %s", ErrNoHandler, key)
	}
	return reg.handler, key, nil
}

// Press delivers one input to the active handler.
func (r *Router) Press(ctx context.Context, in flow.Input) error {
	h, _, err := r.Active()
	if err != nil {
		return err
	}

	switch in.Key {
	case flow.KeyDigit:
		h.OnDigit(ctx, in.Digit)
	case flow.KeyClear:
		h.OnClear(ctx)
	case flow.KeyCancel:
		h.OnCancel(ctx)
	case flow.KeyEnter:
		h.OnEnter(ctx)
	default:
		return fmt.Errorf("unsupported key %s", in.Key)
	}
	return nil
}
