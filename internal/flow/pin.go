package flow

// PinEntry collects the PIN for the inserted card.
type PinEntry struct {
	PIN string
	Err string
}

// Apply consumes one input.
func (p PinEntry) Apply(in Input) (PinEntry, Outcome) {
	switch in.Key {
	case KeyDigit:
		p.PIN = appendDigit(p.PIN, in.Digit, MaxPINDigits, false)
		p.Err = ""
	case KeyClear:
		p.PIN = dropDigit(p.PIN)
		p.Err = ""
	case KeyCancel:
		return PinEntry{}, Back{}
	case KeyEnter:
		if len(p.PIN) < MinPINDigits {
			p.Err = MsgPINTooShort
			return p, nil
		}
		return p, SubmitLogin{PIN: p.PIN}
	}
	return p, nil
}

// Reset drops the entered digits after a rejected login.
func (p PinEntry) Reset() PinEntry {
	return PinEntry{}
}

// PinChangePhase is the active step of a PIN change.
type PinChangePhase int

const (
	PinCurrent PinChangePhase = iota
	PinNew
	PinConfirm
)

func (p PinChangePhase) String() string {
	switch p {
	case PinCurrent:
		return "current"
	case PinNew:
		return "new"
	case PinConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

// PinChange collects the current PIN, the new PIN and its confirmation.
type PinChange struct {
	Phase   PinChangePhase
	Current string
	New     string
	Confirm string
	Err     string
}

// Apply consumes one input.
func (p PinChange) Apply(in Input) (PinChange, Outcome) {
	field := p.field()
	switch in.Key {
	case KeyDigit:
		*field = appendDigit(*field, in.Digit, MaxPINDigits, false)
		p.Err = ""
		return p, nil
	case KeyClear:
		*field = dropDigit(*field)
		p.Err = ""
		return p, nil
	case KeyCancel:
		if p.Phase == PinCurrent {
			return p, Back{}
		}
		return PinChange{}, nil
	case KeyEnter:
		return p.commit()
	}
	return p, nil
}

func (p *PinChange) field() *string {
	switch p.Phase {
	case PinNew:
		return &p.New
	case PinConfirm:
		return &p.Confirm
	default:
		return &p.Current
	}
}

func (p PinChange) commit() (PinChange, Outcome) {
	switch p.Phase {
	case PinCurrent:
		if len(p.Current) < MinPINDigits {
			p.Err = MsgPINTooShort
			return p, nil
		}
		p.Phase = PinNew
	case PinNew:
		if len(p.New) < MinPINDigits {
			p.Err = MsgPINTooShort
			return p, nil
		}
		p.Phase = PinConfirm
	case PinConfirm:
		if p.Confirm != p.New {
			p.Err = MsgPINMismatch
			p.Confirm = ""
			return p, nil
		}
		return p, SubmitPinChange{Current: p.Current, New: p.New, Confirm: p.Confirm}
	}
	p.Err = ""
	return p, nil
}

// Reset returns to the first phase with every field cleared. The PIN change controller calls it
// after any remote failure.
func (p PinChange) Reset() PinChange {
	return PinChange{}
}
