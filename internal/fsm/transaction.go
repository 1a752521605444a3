package fsm

import "time"

// Account is one account summary shown to the customer.
type Account struct {
	ID           string
	Number       string
	Type         string
	Name         string
	BalanceCents int64
}

// DepositMedium is what the customer feeds into the deposit slot.
type DepositMedium string

const (
	MediumCash  DepositMedium = "cash"
	MediumCheck DepositMedium = "check"
)

// Pending is a staged transaction awaiting submission.
//
// The set of implementations is closed: Withdrawal, Deposit and Transfer.
type Pending interface {
	AmountCents() int64
	pending()
}

// Withdrawal is a staged cash withdrawal.
type Withdrawal struct {
	Amount int64
}

// Deposit is a staged cash or check deposit.
type Deposit struct {
	Amount      int64
	Medium      DepositMedium
	CheckNumber string
}

// Transfer is a staged transfer to another account number.
type Transfer struct {
	Amount      int64
	Destination string
}

func (w Withdrawal) AmountCents() int64 { return w.Amount }
func (d Deposit) AmountCents() int64    { return d.Amount }
func (t Transfer) AmountCents() int64   { return t.Amount }

func (Withdrawal) pending() {}
func (Deposit) pending()    {}
func (Transfer) pending()   {}

// ReceiptType discriminates receipt variants.
type ReceiptType string

const (
	ReceiptWithdrawal ReceiptType = "withdrawal"
	ReceiptDeposit    ReceiptType = "deposit"
	ReceiptTransfer   ReceiptType = "transfer"
)

// Receipt is the immutable result of a completed remote transaction.
//
// The set of implementations is closed: WithdrawalReceipt, DepositReceipt and TransferReceipt.
type Receipt interface {
	ReceiptType() ReceiptType
	receipt()
}

// WithdrawalReceipt is returned by a successful withdrawal.
type WithdrawalReceipt struct {
	TransactionID string
	AccountNumber string
	Amount        string
	Balance       string
	Timestamp     time.Time
}

// DepositReceipt is returned by a successful deposit.
type DepositReceipt struct {
	TransactionID string
	AccountNumber string
	Amount        string
	Balance       string
	Medium        DepositMedium
	CheckNumber   string
	Timestamp     time.Time
}

// TransferReceipt is returned by a successful transfer.
type TransferReceipt struct {
	TransactionID string
	FromAccount   string
	ToAccount     string
	Amount        string
	Balance       string
	Timestamp     time.Time
}

func (WithdrawalReceipt) ReceiptType() ReceiptType { return ReceiptWithdrawal }
func (DepositReceipt) ReceiptType() ReceiptType    { return ReceiptDeposit }
func (TransferReceipt) ReceiptType() ReceiptType   { return ReceiptTransfer }

func (WithdrawalReceipt) receipt() {}
func (DepositReceipt) receipt()    {}
func (TransferReceipt) receipt()   {}
