package flow

import "github.com/rbright/teller/internal/fsm"

// DepositPhase is the active step of a deposit.
type DepositPhase int

const (
	DepositMedium DepositPhase = iota
	DepositAmount
	DepositCheckNumber
)

// Deposit collects the medium, the amount and, for checks, the check number.
// Cash deposits submit straight after the amount.
type Deposit struct {
	Phase       DepositPhase
	Medium      fsm.DepositMedium
	Amount      string
	CheckNumber string
	Err         string
}

// Apply consumes one input.
func (d Deposit) Apply(in Input) (Deposit, Outcome) {
	switch d.Phase {
	case DepositMedium:
		return d.applyMedium(in)
	case DepositAmount:
		return d.applyAmount(in)
	case DepositCheckNumber:
		return d.applyCheckNumber(in)
	default:
		return Deposit{}, nil
	}
}

func (d Deposit) applyMedium(in Input) (Deposit, Outcome) {
	switch in.Key {
	case KeyDigit:
		switch in.Digit {
		case 1:
			d.Medium = fsm.MediumCash
		case 2:
			d.Medium = fsm.MediumCheck
		default:
			d.Err = MsgChooseMedium
			return d, nil
		}
		d.Phase = DepositAmount
		d.Err = ""
	case KeyEnter:
		d.Err = MsgChooseMedium
	case KeyCancel:
		return d, Back{}
	}
	return d, nil
}

func (d Deposit) applyAmount(in Input) (Deposit, Outcome) {
	switch in.Key {
	case KeyDigit:
		d.Amount = appendDigit(d.Amount, in.Digit, MaxAmountDigits, true)
		d.Err = ""
	case KeyClear:
		d.Amount = dropDigit(d.Amount)
		d.Err = ""
	case KeyCancel:
		return Deposit{}, nil
	case KeyEnter:
		if amountUnits(d.Amount) <= 0 {
			d.Err = MsgEnterAmount
			return d, nil
		}
		if d.Medium == fsm.MediumCash {
			return d, SubmitDeposit{Tx: d.staged()}
		}
		d.Phase = DepositCheckNumber
		d.Err = ""
	}
	return d, nil
}

func (d Deposit) applyCheckNumber(in Input) (Deposit, Outcome) {
	switch in.Key {
	case KeyDigit:
		d.CheckNumber = appendDigit(d.CheckNumber, in.Digit, MaxCheckDigits, false)
		d.Err = ""
	case KeyClear:
		d.CheckNumber = dropDigit(d.CheckNumber)
		d.Err = ""
	case KeyCancel:
		return Deposit{}, nil
	case KeyEnter:
		if d.CheckNumber == "" {
			d.Err = MsgEnterCheckNumber
			return d, nil
		}
		return d, SubmitDeposit{Tx: d.staged()}
	}
	return d, nil
}

func (d Deposit) staged() fsm.Deposit {
	tx := fsm.Deposit{Amount: amountUnits(d.Amount) * 100, Medium: d.Medium}
	if d.Medium == fsm.MediumCheck {
		tx.CheckNumber = d.CheckNumber
	}
	return tx
}
