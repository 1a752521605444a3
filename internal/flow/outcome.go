package flow

import "github.com/rbright/teller/internal/fsm"

// Outcome is what the caller must do after a flow consumed an input. A nil Outcome means nothing.
type Outcome interface {
	outcome()
}

type (
	// Back leaves the screen (GO_BACK).
	Back struct{}

	// Stage hands a validated transaction to the state machine.
	Stage struct{ Tx fsm.Pending }

	// SubmitDeposit stages the deposit and submits it without a confirm screen.
	SubmitDeposit struct{ Tx fsm.Deposit }

	// SubmitLogin authenticates the inserted card with PIN.
	SubmitLogin struct{ PIN string }

	// SubmitPinChange asks the bank to replace the PIN.
	SubmitPinChange struct {
		Current string
		New     string
		Confirm string
	}

	// SubmitStatement requests a statement for the trailing PeriodDays.
	SubmitStatement struct{ PeriodDays int }

	// Confirm approves the staged transaction shown on a confirm screen.
	Confirm struct{}

	// Open navigates to another screen.
	Open struct{ Screen fsm.Screen }

	// InsertCard simulates the card reader.
	InsertCard struct{ CardNumber string }

	// EndSession logs the customer out.
	EndSession struct{}

	// Acknowledge dismisses the error screen.
	Acknowledge struct{}
)

func (Back) outcome()            {}
func (Stage) outcome()           {}
func (SubmitDeposit) outcome()   {}
func (SubmitLogin) outcome()     {}
func (SubmitPinChange) outcome() {}
func (SubmitStatement) outcome() {}
func (Confirm) outcome()         {}
func (Open) outcome()            {}
func (InsertCard) outcome()      {}
func (EndSession) outcome()      {}
func (Acknowledge) outcome()     {}
