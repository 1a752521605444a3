package flow

import "github.com/rbright/teller/internal/fsm"

// DispenseUnit is the smallest note the dispenser holds, in major units.
const DispenseUnit = 20

// Withdrawal collects a cash amount. It has a single phase.
type Withdrawal struct {
	Amount string
	Err    string
}

// Apply consumes one input.
func (w Withdrawal) Apply(in Input) (Withdrawal, Outcome) {
	switch in.Key {
	case KeyDigit:
		w.Amount = appendDigit(w.Amount, in.Digit, MaxAmountDigits, true)
		w.Err = ""
		return w, nil
	case KeyClear:
		w.Amount = dropDigit(w.Amount)
		w.Err = ""
		return w, nil
	case KeyCancel:
		return w, Back{}
	case KeyEnter:
		units := amountUnits(w.Amount)
		if units <= 0 {
			w.Err = MsgEnterAmount
			return w, nil
		}
		if units%DispenseUnit != 0 {
			w.Err = MsgMultipleOf20
			return w, nil
		}
		return w, Stage{Tx: fsm.Withdrawal{Amount: units * 100}}
	default:
		return w, nil
	}
}
