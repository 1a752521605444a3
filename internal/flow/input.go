// Package flow models the local phase machines of each multi-step kiosk screen.
//
// Every flow is a value type with a pure Apply method: it consumes one keypad input and returns the
// next flow value plus an Outcome for the caller to execute. Flows never call the bank or touch the
// global session state.
package flow

import (
	"fmt"
	"strconv"
)

// Key is one primitive keypad action.
type Key int

const (
	KeyDigit Key = iota + 1
	KeyClear
	KeyCancel
	KeyEnter
)

func (k Key) String() string {
	switch k {
	case KeyDigit:
		return "digit"
	case KeyClear:
		return "clear"
	case KeyCancel:
		return "cancel"
	case KeyEnter:
		return "enter"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

// Input is one keypad press.
type Input struct {
	Key   Key
	Digit int
}

var (
	Clear  = Input{Key: KeyClear}
	Cancel = Input{Key: KeyCancel}
	Enter  = Input{Key: KeyEnter}
)

// Digit returns the input for a numeric key press.
func Digit(d int) Input {
	return Input{Key: KeyDigit, Digit: d}
}

// ParseInput maps a textual key name ("0".."9", "clear", "cancel", "enter") to an Input.
func ParseInput(raw string) (Input, error) {
	switch raw {
	case "clear", "backspace":
		return Clear, nil
	case "cancel", "esc":
		return Cancel, nil
	case "enter", "ok":
		return Enter, nil
	}
	if len(raw) == 1 && raw[0] >= '0' && raw[0] <= '9' {
		return Digit(int(raw[0] - '0')), nil
	}
	return Input{}, fmt.Errorf("unknown key %q", raw)
}

// Field caps.
const (
	MaxAmountDigits      = 5
	MaxDestinationDigits = 14
	MaxCheckDigits       = 10
	MaxPINDigits         = 6
	MaxCardDigits        = 19
	MinPINDigits         = 4
	MinCardDigits        = 12
)

// appendDigit adds d to digits when the cap allows it.
// Amount fields reject a leading zero.
func appendDigit(digits string, d int, max int, amount bool) string {
	if d < 0 || d > 9 || len(digits) >= max {
		return digits
	}
	if amount && digits == "" && d == 0 {
		return digits
	}
	return digits + strconv.Itoa(d)
}

// dropDigit removes the last entered digit.
func dropDigit(digits string) string {
	if digits == "" {
		return digits
	}
	return digits[:len(digits)-1]
}

// amountUnits parses an amount field in major currency units.
func amountUnits(digits string) int64 {
	if digits == "" {
		return 0
	}
	units, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return units
}

// Validation messages shown by the flows.
const (
	MsgEnterAmount      = "Enter an amount"
	MsgMultipleOf20     = "Amount must be a multiple of $20"
	MsgEnterDestination = "Enter a destination account"
	MsgEnterCheckNumber = "Enter the check number"
	MsgChooseMedium     = "Press 1 for cash or 2 for check"
	MsgPINTooShort      = "PIN must be at least 4 digits"
	MsgPINMismatch      = "PINs do not match"
	MsgCardTooShort     = "Card number is too short"
	MsgChoosePeriod     = "Press 1, 2 or 3 to choose a period"
	MsgChooseMenuOption = "Choose an option from 1 to 6"
)
