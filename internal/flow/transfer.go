package flow

import "github.com/rbright/teller/internal/fsm"

// TransferPhase is the active step of a transfer.
type TransferPhase int

const (
	TransferDestination TransferPhase = iota
	TransferAmount
)

// Transfer collects a destination account and an amount.
type Transfer struct {
	Phase       TransferPhase
	Destination string
	Amount      string
	Err         string
}

// Apply consumes one input.
func (t Transfer) Apply(in Input) (Transfer, Outcome) {
	switch t.Phase {
	case TransferDestination:
		switch in.Key {
		case KeyDigit:
			t.Destination = appendDigit(t.Destination, in.Digit, MaxDestinationDigits, false)
			t.Err = ""
		case KeyClear:
			t.Destination = dropDigit(t.Destination)
			t.Err = ""
		case KeyCancel:
			return t, Back{}
		case KeyEnter:
			if t.Destination == "" {
				t.Err = MsgEnterDestination
				return t, nil
			}
			t.Phase = TransferAmount
			t.Err = ""
		}
		return t, nil

	case TransferAmount:
		switch in.Key {
		case KeyDigit:
			t.Amount = appendDigit(t.Amount, in.Digit, MaxAmountDigits, true)
			t.Err = ""
		case KeyClear:
			t.Amount = dropDigit(t.Amount)
			t.Err = ""
		case KeyCancel:
			return Transfer{}, nil
		case KeyEnter:
			units := amountUnits(t.Amount)
			if units <= 0 {
				t.Err = MsgEnterAmount
				return t, nil
			}
			return t, Stage{Tx: fsm.Transfer{Amount: units * 100, Destination: t.Destination}}
		}
		return t, nil

	default:
		return Transfer{}, nil
	}
}
