// Package fsm holds the kiosk session state record and its transition function.
package fsm

import (
	"fmt"
	"slices"
	"time"
)

// State is the whole client session. Values are never mutated in place; Transition returns copies.
type State struct {
	Screen  Screen
	History []Screen

	SessionID     string
	CustomerName  string
	AccountNumber string
	CardNumber    string

	Accounts          []Account
	SelectedAccountID string

	Pending     Pending
	LastReceipt Receipt

	LastError         string
	MaintenanceReason string
	Loading           bool
	SessionExpiresAt  time.Time
}

// Initial returns the boot state shown before a card is inserted.
func Initial() State {
	return State{Screen: ScreenWelcome}
}

// Authenticated reports whether a session is active.
func (s State) Authenticated() bool {
	return s.SessionID != ""
}

// SelectedAccount returns the account in focus.
func (s State) SelectedAccount() (Account, bool) {
	for _, acct := range s.Accounts {
		if acct.ID == s.SelectedAccountID {
			return acct, true
		}
	}
	return Account{}, false
}

// Transition applies one event and returns the next state.
//
// Invalid events leave the state unchanged and return an error.
func Transition(current State, event Event, timing Timing) (State, error) {
	if event == nil {
		return current, fmt.Errorf("invalid transition: %s --(nil)--> ?", current.Screen)
	}

	next := current

	switch e := event.(type) {
	case InsertCard:
		if current.Authenticated() {
			return current, invalidTransition(current, event, "session already active")
		}
		if e.CardNumber == "" {
			return current, invalidTransition(current, event, "card number is empty")
		}
		next.History = push(current.History, current.Screen)
		next.CardNumber = e.CardNumber
		next.Screen = ScreenPinEntry
		next.LastError = ""
		return next, nil

	case BeginRequest:
		next.Loading = true
		next.LastError = ""
		return next, nil

	case RequestDone:
		next.Loading = false
		return next, nil

	case LoginSuccess:
		if e.SessionID == "" {
			return current, invalidTransition(current, event, "session id is empty")
		}
		next.SessionID = e.SessionID
		next.CustomerName = e.CustomerName
		next.AccountNumber = e.AccountNumber
		next.Accounts = slices.Clone(e.Accounts)
		next.SelectedAccountID = ""
		if len(e.Accounts) > 0 {
			next.SelectedAccountID = e.Accounts[0].ID
		}
		next.Screen = ScreenMainMenu
		next.History = nil
		next.Loading = false
		next.LastError = ""
		next.SessionExpiresAt = timing.Now.Add(timing.SessionTimeout)
		return next, nil

	case LoginFailure:
		if current.Authenticated() {
			return current, nil
		}
		next.Loading = false
		if current.Screen == ScreenPinEntry {
			next.LastError = e.Message
		}
		return next, nil

	case Navigate:
		if err := checkReachable(current, e.Screen); err != nil {
			return current, invalidTransition(current, event, err.Error())
		}
		next.History = push(current.History, current.Screen)
		next.Screen = e.Screen
		next.LastError = ""
		return next, nil

	case GoBack:
		next.History, next.Screen = pop(current)
		next.LastError = ""
		next.Pending = nil
		return next, nil

	case StageTransaction:
		if !current.Authenticated() {
			return current, invalidTransition(current, event, "no active session")
		}
		var target Screen
		switch e.Tx.(type) {
		case Withdrawal:
			target = ScreenWithdrawalConfirm
		case Transfer:
			target = ScreenTransferConfirm
		case Deposit:
			target = ScreenDeposit
		default:
			return current, invalidTransition(current, event, "unknown transaction")
		}
		next.Pending = e.Tx
		if target != current.Screen {
			next.History = push(current.History, current.Screen)
			next.Screen = target
		}
		return next, nil

	case TransactionSuccess:
		if e.Receipt == nil {
			return current, invalidTransition(current, event, "receipt is empty")
		}
		if !current.Authenticated() {
			return current, invalidTransition(current, event, "no active session")
		}
		target, ok := ReceiptScreen(e.Receipt.ReceiptType())
		if !ok {
			return current, invalidTransition(current, event, "unknown receipt type")
		}
		next.LastReceipt = e.Receipt
		next.Pending = nil
		next.Loading = false
		next.LastError = ""
		next.History = push(current.History, current.Screen)
		next.Screen = target
		return next, nil

	case TransactionFailure:
		// A late result after logout or timeout must not write onto the anonymous screens.
		if !current.Authenticated() {
			return current, nil
		}
		next.LastError = e.Message
		next.Pending = nil
		next.Loading = false
		return next, nil

	case SessionTimeout:
		next = Initial()
		next.Screen = ScreenSessionTimeout
		return next, nil

	case MaintenanceMode:
		next.Screen = ScreenMaintenance
		next.MaintenanceReason = e.Reason
		return next, nil

	case MaintenanceCleared:
		if current.Screen != ScreenMaintenance {
			return current, nil
		}
		return Initial(), nil

	case Logout:
		return Initial(), nil

	case RefreshSessionTimer:
		if !current.Authenticated() {
			return current, nil
		}
		next.SessionExpiresAt = timing.Now.Add(timing.SessionTimeout)
		return next, nil

	case AccountsLoaded:
		next.Accounts = slices.Clone(e.Accounts)
		next.SelectedAccountID = ""
		for _, acct := range e.Accounts {
			if acct.ID == current.SelectedAccountID {
				next.SelectedAccountID = acct.ID
				break
			}
		}
		if next.SelectedAccountID == "" && len(e.Accounts) > 0 {
			next.SelectedAccountID = e.Accounts[0].ID
		}
		return next, nil

	case SelectAccount:
		for _, acct := range current.Accounts {
			if acct.ID == e.AccountID {
				next.SelectedAccountID = acct.ID
				return next, nil
			}
		}
		return current, invalidTransition(current, event, fmt.Sprintf("unknown account %q", e.AccountID))

	case ShowError:
		next.History = push(current.History, current.Screen)
		next.Screen = ScreenError
		next.LastError = e.Message
		next.Loading = false
		return next, nil

	case ClearError:
		next.LastError = ""
		return next, nil

	default:
		return current, fmt.Errorf("unknown event %q", event.Kind())
	}
}

// checkReachable enforces the session/screen invariant for explicit navigation.
func checkReachable(current State, target Screen) error {
	if !target.Valid() {
		return fmt.Errorf("unknown screen %q", target)
	}
	if target.Authenticated() && !current.Authenticated() {
		return fmt.Errorf("screen %s requires a session", target)
	}
	if target.Anonymous() && current.Authenticated() {
		return fmt.Errorf("screen %s is not available during a session", target)
	}
	return nil
}

// push returns a new history with screen appended; the input slice is left untouched.
func push(history []Screen, screen Screen) []Screen {
	out := make([]Screen, len(history), len(history)+1)
	copy(out, history)
	return append(out, screen)
}

// pop returns the remaining history and the screen to show after going back.
func pop(current State) ([]Screen, Screen) {
	fallback := ScreenMainMenu
	if !current.Authenticated() {
		fallback = ScreenWelcome
	}
	if len(current.History) == 0 {
		return nil, fallback
	}

	last := len(current.History) - 1
	target := current.History[last]
	rest := slices.Clone(current.History[:last])
	if checkReachable(current, target) != nil {
		return rest, fallback
	}
	return rest, target
}

func invalidTransition(state State, event Event, reason string) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ? (%s)", state.Screen, event.Kind(), reason)
}
