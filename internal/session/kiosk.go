package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/teller/internal/bankapi"
	"github.com/rbright/teller/internal/flow"
	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/ipc"
	"github.com/rbright/teller/internal/keypad"
	"github.com/rbright/teller/internal/logging"
)

// Bank is the remote service as seen by the screen controllers.
type Bank interface {
	Login(ctx context.Context, cardNumber, pin string) (bankapi.LoginResult, error)
	ListAccounts(ctx context.Context) ([]fsm.Account, error)
	GetBalance(ctx context.Context, accountID string) (bankapi.Balance, error)
	Withdraw(ctx context.Context, amountCents int64) (fsm.WithdrawalReceipt, error)
	Deposit(ctx context.Context, amountCents int64, medium fsm.DepositMedium, checkNumber string) (fsm.DepositReceipt, error)
	Transfer(ctx context.Context, destination string, amountCents int64) (fsm.TransferReceipt, error)
	GenerateStatement(ctx context.Context, periodDays int) (bankapi.Statement, error)
	ChangePin(ctx context.Context, current, next, confirm string) error
	Logout(ctx context.Context) error
}

// Cues is the audible feedback surface.
type Cues interface {
	Key(context.Context)
	Error(context.Context)
	Complete(context.Context)
}

// noopCues keeps the kiosk silent when no sink is wired.
type noopCues struct{}

func (noopCues) Key(context.Context)      {}
func (noopCues) Error(context.Context)    {}
func (noopCues) Complete(context.Context) {}

// KioskOptions carries the optional collaborators of a Kiosk.
type KioskOptions struct {
	Logger *slog.Logger
	Cues   Cues
	// Activity is called for every key press before it is routed. The idle watchdog hooks in here.
	Activity func(context.Context)
	// Changed is called whenever the rendered view may have changed without a state transition.
	Changed func()
}

// Kiosk mounts one screen controller at a time and executes what the flows ask for.
type Kiosk struct {
	store    *Store
	bank     Bank
	router   *keypad.Router
	logger   *slog.Logger
	cues     Cues
	activity func(context.Context)
	changed  func()

	mu         sync.Mutex
	key        keypad.Key
	active     controller
	unregister func()
	unsub      func()
}

// NewKiosk wires a kiosk over store and bank. Start mounts the first controller.
func NewKiosk(store *Store, bank Bank, opts KioskOptions) *Kiosk {
	if opts.Cues == nil {
		opts.Cues = noopCues{}
	}
	if opts.Activity == nil {
		opts.Activity = func(context.Context) {}
	}
	if opts.Changed == nil {
		opts.Changed = func() {}
	}
	return &Kiosk{
		store:    store,
		bank:     bank,
		router:   keypad.NewRouter(store),
		logger:   logging.OrDiscard(opts.Logger),
		cues:     opts.Cues,
		activity: opts.Activity,
		changed:  opts.Changed,
	}
}

// Start mounts the controller for the current state and follows the store from then on.
func (k *Kiosk) Start() {
	unsub := k.store.Subscribe(k.observe)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.unsub = unsub
	if k.active == nil {
		k.mountLocked(k.store.Snapshot())
	}
}

// Stop unmounts the active controller and detaches from the store.
func (k *Kiosk) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.unsub != nil {
		k.unsub()
		k.unsub = nil
	}
	k.unmountLocked()
}

func (k *Kiosk) observe(_, next fsm.State, _ fsm.Event) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if keypad.KeyFor(next) == k.key && k.active != nil {
		return
	}
	k.mountLocked(next)
}

func (k *Kiosk) mountLocked(state fsm.State) {
	k.unmountLocked()
	k.key = keypad.KeyFor(state)
	k.active = k.controllerFor(k.key, state)
	if k.active == nil {
		return
	}
	k.unregister = k.router.Register(k.key, keypad.InputFunc(k.active.handle))
	k.logger.Debug("controller mounted", "key", string(k.key))
}

func (k *Kiosk) unmountLocked() {
	if k.unregister != nil {
		k.unregister()
		k.unregister = nil
	}
	if k.active != nil {
		k.active.unmount()
		k.active = nil
	}
}

// View is everything the renderer needs for one frame.
type View struct {
	State  fsm.State
	Prompt Prompt
}

// Prompt is the controller-local part of a frame.
type Prompt struct {
	// Label names the field being typed, Entry is its (masked) content.
	Label string
	Entry string
	// Lines are controller-specific details such as cached confirm values or a balance.
	Lines []string
	// Hint is a local validation message. It never reaches LastError.
	Hint string
}

// View returns the current frame.
func (k *Kiosk) View() View {
	k.mu.Lock()
	active := k.active
	k.mu.Unlock()

	view := View{State: k.store.Snapshot()}
	if active != nil {
		view.Prompt = active.prompt()
	}
	return view
}

// Press routes one key press to the active controller.
func (k *Kiosk) Press(ctx context.Context, in flow.Input) error {
	if keypad.Disabled(k.store.Snapshot()) {
		return keypad.ErrDisabled
	}
	k.activity(ctx)
	if err := k.router.Press(ctx, in); err != nil {
		return err
	}
	k.cues.Key(ctx)
	k.changed()
	return nil
}

// InsertCard feeds the simulated card reader. Only the welcome screen accepts a card.
func (k *Kiosk) InsertCard(ctx context.Context, cardNumber string) error {
	cardNumber = strings.TrimSpace(cardNumber)
	if state := k.store.Snapshot(); state.Screen != fsm.ScreenWelcome {
		return fmt.Errorf("card reader is closed on screen %s", state.Screen)
	}
	_, err := k.store.Dispatch(ctx, fsm.InsertCard{CardNumber: cardNumber})
	return err
}

// Handle serves socket commands from `teller press`, `teller insert` and `teller status`.
func (k *Kiosk) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		state := k.store.Snapshot()
		return ipc.Response{OK: true, State: string(state.Screen), Message: statusLine(state)}
	case ipc.CommandPress:
		in, err := flow.ParseInput(strings.ToLower(strings.TrimSpace(req.Arg)))
		if err != nil {
			return k.failure(err)
		}
		if err := k.Press(ctx, in); err != nil {
			return k.failure(err)
		}
		return k.success("pressed " + in.Key.String())
	case ipc.CommandInsert:
		if err := k.InsertCard(ctx, req.Arg); err != nil {
			return k.failure(err)
		}
		return k.success("card inserted")
	case ipc.CommandLogout:
		k.endSession(ctx)
		return k.success("logged out")
	default:
		return k.failure(fmt.Errorf("unknown command: %s", req.Command))
	}
}

func (k *Kiosk) success(msg string) ipc.Response {
	return ipc.Response{OK: true, State: string(k.store.Snapshot().Screen), Message: msg}
}

func (k *Kiosk) failure(err error) ipc.Response {
	return ipc.Response{OK: false, State: string(k.store.Snapshot().Screen), Error: err.Error()}
}

func statusLine(s fsm.State) string {
	parts := []string{"screen=" + string(s.Screen)}
	if s.Authenticated() {
		parts = append(parts, "session=active", "customer="+s.CustomerName)
	} else {
		parts = append(parts, "session=none")
	}
	if s.Loading {
		parts = append(parts, "loading")
	}
	if s.LastError != "" {
		parts = append(parts, fmt.Sprintf("error=%q", s.LastError))
	}
	return strings.Join(parts, " ")
}

// dispatch forwards to the store and logs rejected events; controllers have nothing better to do with them.
func (k *Kiosk) dispatch(ctx context.Context, event fsm.Event) bool {
	if _, err := k.store.Dispatch(ctx, event); err != nil {
		k.logger.Warn("dispatch", "kind", string(event.Kind()), "error", err)
		return false
	}
	return true
}

// execute runs the outcomes shared by every screen. Controller-specific outcomes are
// handled by the controller before it gets here.
func (k *Kiosk) execute(ctx context.Context, out flow.Outcome) {
	switch o := out.(type) {
	case nil:
	case flow.Back:
		k.dispatch(ctx, fsm.GoBack{})
	case flow.Stage:
		k.dispatch(ctx, fsm.StageTransaction{Tx: o.Tx})
	case flow.Open:
		k.dispatch(ctx, fsm.Navigate{Screen: o.Screen})
	case flow.InsertCard:
		if err := k.InsertCard(ctx, o.CardNumber); err != nil {
			k.logger.Warn("insert card", "error", err)
		}
	case flow.EndSession:
		k.endSession(ctx)
	case flow.Acknowledge:
		k.dispatch(ctx, fsm.ClearError{})
		k.dispatch(ctx, fsm.GoBack{})
	default:
		k.logger.Warn("outcome not handled on this screen", "outcome", fmt.Sprintf("%T", out), "key", string(k.currentKey()))
	}
}

func (k *Kiosk) currentKey() keypad.Key {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key
}

// endSession logs out remotely on a best-effort basis, then ends the local session.
func (k *Kiosk) endSession(ctx context.Context) {
	if k.store.Snapshot().Authenticated() {
		if err := k.bank.Logout(ctx); err != nil {
			k.logger.Info("remote logout failed", "error", err)
		}
	}
	k.dispatch(ctx, fsm.Logout{})
}

// submitStaged sends the staged transaction to the bank and dispatches exactly one result event.
func (k *Kiosk) submitStaged(ctx context.Context) error {
	if k.store.Snapshot().Pending == nil {
		return errNothingStaged
	}
	state, err := k.store.BeginRequest(ctx)
	if err != nil {
		return err
	}

	var (
		receipt fsm.Receipt
		callErr error
	)
	switch tx := state.Pending.(type) {
	case fsm.Withdrawal:
		receipt, callErr = k.bank.Withdraw(ctx, tx.Amount)
	case fsm.Deposit:
		receipt, callErr = k.bank.Deposit(ctx, tx.Amount, tx.Medium, tx.CheckNumber)
	case fsm.Transfer:
		receipt, callErr = k.bank.Transfer(ctx, tx.Destination, tx.Amount)
	case nil:
		k.dispatch(ctx, fsm.RequestDone{})
		return errNothingStaged
	default:
		callErr = fmt.Errorf("unsupported transaction %T", tx)
	}

	k.finish(ctx, receipt, callErr)
	return nil
}

var errNothingStaged = errors.New("nothing staged")

// finish dispatches the single success or failure event that ends a transaction request.
func (k *Kiosk) finish(ctx context.Context, receipt fsm.Receipt, err error) {
	if err != nil {
		k.logger.Info("transaction failed", "error", err)
		k.failRequest(ctx, fsm.TransactionFailure{Message: bankapi.Message(err)}, err)
		return
	}
	k.cues.Complete(ctx)
	k.dispatch(ctx, fsm.TransactionSuccess{Receipt: receipt})
}

// failRequest ends a remote call with its failure event. Faults the customer cannot correct
// continue to the error screen.
func (k *Kiosk) failRequest(ctx context.Context, failure fsm.Event, err error) {
	k.cues.Error(ctx)
	k.dispatch(ctx, failure)
	if bankapi.Fatal(err) {
		k.showError(ctx, err)
	}
}

// showError raises the error screen over the current one. Enter acknowledges it and returns.
func (k *Kiosk) showError(ctx context.Context, err error) {
	state := k.store.Snapshot()
	if state.Screen == fsm.ScreenMaintenance || state.Screen == fsm.ScreenError {
		return
	}
	if !state.Authenticated() && state.Screen != fsm.ScreenPinEntry {
		return
	}
	k.dispatch(ctx, fsm.ShowError{Message: bankapi.Message(err)})
}
