package fsm

// Screen identifies one kiosk view.
type Screen string

const (
	ScreenWelcome           Screen = "welcome"
	ScreenPinEntry          Screen = "pin_entry"
	ScreenMainMenu          Screen = "main_menu"
	ScreenBalanceInquiry    Screen = "balance_inquiry"
	ScreenWithdrawal        Screen = "withdrawal"
	ScreenWithdrawalConfirm Screen = "withdrawal_confirm"
	ScreenWithdrawalReceipt Screen = "withdrawal_receipt"
	ScreenDeposit           Screen = "deposit"
	ScreenDepositReceipt    Screen = "deposit_receipt"
	ScreenTransfer          Screen = "transfer"
	ScreenTransferConfirm   Screen = "transfer_confirm"
	ScreenTransferReceipt   Screen = "transfer_receipt"
	ScreenStatement         Screen = "statement"
	ScreenPinChange         Screen = "pin_change"
	ScreenSessionTimeout    Screen = "session_timeout"
	ScreenError             Screen = "error"
	ScreenMaintenance       Screen = "maintenance"
)

var knownScreens = map[Screen]struct{}{
	ScreenWelcome:           {},
	ScreenPinEntry:          {},
	ScreenMainMenu:          {},
	ScreenBalanceInquiry:    {},
	ScreenWithdrawal:        {},
	ScreenWithdrawalConfirm: {},
	ScreenWithdrawalReceipt: {},
	ScreenDeposit:           {},
	ScreenDepositReceipt:    {},
	ScreenTransfer:          {},
	ScreenTransferConfirm:   {},
	ScreenTransferReceipt:   {},
	ScreenStatement:         {},
	ScreenPinChange:         {},
	ScreenSessionTimeout:    {},
	ScreenError:             {},
	ScreenMaintenance:       {},
}

// anonymousScreens are the only screens reachable without a session.
var anonymousScreens = map[Screen]struct{}{
	ScreenWelcome:        {},
	ScreenPinEntry:       {},
	ScreenSessionTimeout: {},
}

// overlayScreens may be shown with or without a session.
var overlayScreens = map[Screen]struct{}{
	ScreenError:       {},
	ScreenMaintenance: {},
}

// Valid reports whether s is a known screen identifier.
func (s Screen) Valid() bool {
	_, ok := knownScreens[s]
	return ok
}

// Anonymous reports whether s is shown only while no session exists.
func (s Screen) Anonymous() bool {
	_, ok := anonymousScreens[s]
	return ok
}

// Authenticated reports whether s requires an active session.
func (s Screen) Authenticated() bool {
	if !s.Valid() || s.Anonymous() {
		return false
	}
	_, overlay := overlayScreens[s]
	return !overlay
}

// AcceptsInput reports whether the keypad is live on s.
func (s Screen) AcceptsInput() bool {
	return s.Valid() && s != ScreenMaintenance
}

// ReceiptScreen maps a receipt discriminator to the screen that shows it.
func ReceiptScreen(kind ReceiptType) (Screen, bool) {
	switch kind {
	case ReceiptWithdrawal:
		return ScreenWithdrawalReceipt, true
	case ReceiptDeposit:
		return ScreenDepositReceipt, true
	case ReceiptTransfer:
		return ScreenTransferReceipt, true
	default:
		return "", false
	}
}
