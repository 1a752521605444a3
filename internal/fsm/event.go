package fsm

import "time"

// Kind names an event for logging and dispatch tables.
type Kind string

const (
	KindInsertCard          Kind = "insert_card"
	KindBeginRequest        Kind = "begin_request"
	KindRequestDone         Kind = "request_done"
	KindLoginSuccess        Kind = "login_success"
	KindLoginFailure        Kind = "login_failure"
	KindNavigate            Kind = "navigate"
	KindGoBack              Kind = "go_back"
	KindStageTransaction    Kind = "stage_transaction"
	KindTransactionSuccess  Kind = "transaction_success"
	KindTransactionFailure  Kind = "transaction_failure"
	KindSessionTimeout      Kind = "session_timeout"
	KindMaintenanceMode     Kind = "maintenance_mode"
	KindMaintenanceCleared  Kind = "maintenance_cleared"
	KindLogout              Kind = "logout"
	KindRefreshSessionTimer Kind = "refresh_session_timer"
	KindAccountsLoaded      Kind = "accounts_loaded"
	KindSelectAccount       Kind = "select_account"
	KindShowError           Kind = "show_error"
	KindClearError          Kind = "clear_error"
)

// Event is one input to Transition. The implementations below are the complete set.
type Event interface {
	Kind() Kind
	event()
}

type (
	InsertCard struct{ CardNumber string }

	// BeginRequest marks a remote call as in flight.
	BeginRequest struct{}

	// RequestDone ends a remote call that produces neither a receipt nor an error.
	RequestDone struct{}

	LoginSuccess struct {
		SessionID     string
		CustomerName  string
		AccountNumber string
		Accounts      []Account
	}

	LoginFailure struct{ Message string }

	Navigate struct{ Screen Screen }

	GoBack struct{}

	StageTransaction struct{ Tx Pending }

	TransactionSuccess struct{ Receipt Receipt }

	TransactionFailure struct{ Message string }

	SessionTimeout struct{}

	MaintenanceMode struct{ Reason string }

	MaintenanceCleared struct{}

	Logout struct{}

	RefreshSessionTimer struct{}

	AccountsLoaded struct{ Accounts []Account }

	SelectAccount struct{ AccountID string }

	ShowError struct{ Message string }

	ClearError struct{}
)

func (InsertCard) Kind() Kind          { return KindInsertCard }
func (BeginRequest) Kind() Kind        { return KindBeginRequest }
func (RequestDone) Kind() Kind         { return KindRequestDone }
func (LoginSuccess) Kind() Kind        { return KindLoginSuccess }
func (LoginFailure) Kind() Kind        { return KindLoginFailure }
func (Navigate) Kind() Kind            { return KindNavigate }
func (GoBack) Kind() Kind              { return KindGoBack }
func (StageTransaction) Kind() Kind    { return KindStageTransaction }
func (TransactionSuccess) Kind() Kind  { return KindTransactionSuccess }
func (TransactionFailure) Kind() Kind  { return KindTransactionFailure }
func (SessionTimeout) Kind() Kind      { return KindSessionTimeout }
func (MaintenanceMode) Kind() Kind     { return KindMaintenanceMode }
func (MaintenanceCleared) Kind() Kind  { return KindMaintenanceCleared }
func (Logout) Kind() Kind              { return KindLogout }
func (RefreshSessionTimer) Kind() Kind { return KindRefreshSessionTimer }
func (AccountsLoaded) Kind() Kind      { return KindAccountsLoaded }
func (SelectAccount) Kind() Kind       { return KindSelectAccount }
func (ShowError) Kind() Kind           { return KindShowError }
func (ClearError) Kind() Kind          { return KindClearError }

func (InsertCard) event()          {}
func (BeginRequest) event()        {}
func (RequestDone) event()         {}
func (LoginSuccess) event()        {}
func (LoginFailure) event()        {}
func (Navigate) event()            {}
func (GoBack) event()              {}
func (StageTransaction) event()    {}
func (TransactionSuccess) event()  {}
func (TransactionFailure) event()  {}
func (SessionTimeout) event()      {}
func (MaintenanceMode) event()     {}
func (MaintenanceCleared) event()  {}
func (Logout) event()              {}
func (RefreshSessionTimer) event() {}
func (AccountsLoaded) event()      {}
func (SelectAccount) event()       {}
func (ShowError) event()           {}
func (ClearError) event()          {}

// Timing supplies the clock reading and session length used by time-dependent transitions.
type Timing struct {
	Now            time.Time
	SessionTimeout time.Duration
}

// SessionEnded reports whether the transition from prev to next ended a session, whatever the event.
func SessionEnded(prev, next State) bool {
	return prev.Authenticated() && !next.Authenticated()
}

// ClearsPersistedSession reports whether e ends the session and must drop the stored session id.
func ClearsPersistedSession(e Event) bool {
	switch e.(type) {
	case Logout, SessionTimeout:
		return true
	default:
		return false
	}
}
