package flow

import "github.com/rbright/teller/internal/fsm"

// CardEntry is the welcome screen. Typed digits stand in for the card reader.
type CardEntry struct {
	Number string
	Err    string
}

// Apply consumes one input.
func (c CardEntry) Apply(in Input) (CardEntry, Outcome) {
	switch in.Key {
	case KeyDigit:
		c.Number = appendDigit(c.Number, in.Digit, MaxCardDigits, false)
		c.Err = ""
	case KeyClear:
		c.Number = dropDigit(c.Number)
		c.Err = ""
	case KeyCancel:
		return CardEntry{}, nil
	case KeyEnter:
		if len(c.Number) < MinCardDigits {
			c.Err = MsgCardTooShort
			return c, nil
		}
		return CardEntry{}, InsertCard{CardNumber: c.Number}
	}
	return c, nil
}

var menuOptions = map[int]fsm.Screen{
	1: fsm.ScreenBalanceInquiry,
	2: fsm.ScreenWithdrawal,
	3: fsm.ScreenDeposit,
	4: fsm.ScreenTransfer,
	5: fsm.ScreenStatement,
	6: fsm.ScreenPinChange,
}

// MenuOption returns the screen opened by a main menu digit.
func MenuOption(d int) (fsm.Screen, bool) {
	screen, ok := menuOptions[d]
	return screen, ok
}

// Menu is the main menu. It holds only the last selection error.
type Menu struct {
	Err string
}

// Apply consumes one input.
func (m Menu) Apply(in Input) (Menu, Outcome) {
	switch in.Key {
	case KeyDigit:
		screen, ok := MenuOption(in.Digit)
		if !ok {
			m.Err = MsgChooseMenuOption
			return m, nil
		}
		return Menu{}, Open{Screen: screen}
	case KeyCancel:
		return Menu{}, EndSession{}
	case KeyEnter:
		m.Err = MsgChooseMenuOption
	case KeyClear:
		m.Err = ""
	}
	return m, nil
}

// Statement periods selectable with keys 1 to 3.
var statementPeriods = map[int]int{1: 30, 2: 60, 3: 90}

// Statement chooses a statement period.
type Statement struct {
	PeriodDays int
	Err        string
}

// Apply consumes one input.
func (s Statement) Apply(in Input) (Statement, Outcome) {
	switch in.Key {
	case KeyDigit:
		days, ok := statementPeriods[in.Digit]
		if !ok {
			s.Err = MsgChoosePeriod
			return s, nil
		}
		s.PeriodDays = days
		s.Err = ""
	case KeyClear:
		s.PeriodDays = 0
		s.Err = ""
	case KeyCancel:
		if s.PeriodDays != 0 {
			return Statement{}, nil
		}
		return s, Back{}
	case KeyEnter:
		if s.PeriodDays == 0 {
			s.Err = MsgChoosePeriod
			return s, nil
		}
		return s, SubmitStatement{PeriodDays: s.PeriodDays}
	}
	return s, nil
}

// ConfirmInput maps keys on a confirm screen. Only Enter confirms.
func ConfirmInput(in Input) Outcome {
	switch in.Key {
	case KeyEnter:
		return Confirm{}
	case KeyCancel:
		return Back{}
	default:
		return nil
	}
}

// ReceiptInput maps keys on a receipt screen.
func ReceiptInput(in Input) Outcome {
	switch in.Key {
	case KeyEnter:
		return Open{Screen: fsm.ScreenMainMenu}
	case KeyCancel:
		return EndSession{}
	default:
		return nil
	}
}

// BalanceInput maps keys on the balance inquiry screen.
func BalanceInput(in Input) Outcome {
	switch in.Key {
	case KeyEnter, KeyCancel:
		return Back{}
	default:
		return nil
	}
}

// TimeoutInput maps keys on the session timeout screen.
func TimeoutInput(in Input) Outcome {
	if in.Key == KeyEnter || in.Key == KeyCancel {
		return Open{Screen: fsm.ScreenWelcome}
	}
	return nil
}

// ErrorInput maps keys on the error screen.
func ErrorInput(in Input) Outcome {
	if in.Key == KeyEnter || in.Key == KeyCancel {
		return Acknowledge{}
	}
	return nil
}
