package bankapi

import (
	"time"

	"github.com/rbright/teller/internal/fsm"
	"google.golang.org/protobuf/types/known/structpb"
)

// LoginRequest authenticates a card.
type LoginRequest struct {
	CardNumber string
	PIN        string
}

// LoginResult identifies the new session.
type LoginResult struct {
	SessionID     string
	CustomerName  string
	AccountNumber string
	Accounts      []fsm.Account
}

// BalanceRequest asks for one account's balance.
type BalanceRequest struct {
	AccountID string
}

// Balance is the balance of one account.
type Balance struct {
	AccountID      string
	AvailableCents int64
	LedgerCents    int64
}

// WithdrawRequest dispenses cash from the session's primary account.
type WithdrawRequest struct {
	AmountCents int64
}

// DepositRequest credits the session's primary account.
type DepositRequest struct {
	AmountCents int64
	Medium      fsm.DepositMedium
	CheckNumber string
}

// TransferRequest moves funds to another account number.
type TransferRequest struct {
	Destination string
	AmountCents int64
}

// StatementRequest asks for the trailing PeriodDays of activity.
type StatementRequest struct {
	PeriodDays int
}

// Statement summarizes account activity.
type Statement struct {
	AccountNumber string
	PeriodDays    int
	OpeningCents  int64
	ClosingCents  int64
	Lines         []StatementLine
}

// StatementLine is one posted entry.
type StatementLine struct {
	Date        time.Time
	Description string
	AmountCents int64
}

// PinChangeRequest replaces the card PIN.
type PinChangeRequest struct {
	Current string
	New     string
	Confirm string
}

// RefreshResult reports the server-side session expiry after a heartbeat.
type RefreshResult struct {
	ExpiresAt time.Time
}

func (r LoginRequest) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{
		"card_number": structpb.NewStringValue(r.CardNumber),
		"pin":         structpb.NewStringValue(r.PIN),
	})
}

func DecodeLoginRequest(s *structpb.Struct) LoginRequest {
	return LoginRequest{CardNumber: getString(s, "card_number"), PIN: getString(s, "pin")}
}

func (r LoginResult) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{
		"session_id":     structpb.NewStringValue(r.SessionID),
		"customer_name":  structpb.NewStringValue(r.CustomerName),
		"account_number": structpb.NewStringValue(r.AccountNumber),
		"accounts":       accountsValue(r.Accounts),
	})
}

func DecodeLoginResult(s *structpb.Struct) LoginResult {
	return LoginResult{
		SessionID:     getString(s, "session_id"),
		CustomerName:  getString(s, "customer_name"),
		AccountNumber: getString(s, "account_number"),
		Accounts:      DecodeAccounts(s),
	}
}

// EncodeAccounts wraps an account list as a ListAccounts response.
func EncodeAccounts(accounts []fsm.Account) *structpb.Struct {
	return fields(map[string]*structpb.Value{"accounts": accountsValue(accounts)})
}

// DecodeAccounts reads the "accounts" list of s.
func DecodeAccounts(s *structpb.Struct) []fsm.Account {
	values := s.GetFields()["accounts"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]fsm.Account, 0, len(values))
	for _, v := range values {
		a := v.GetStructValue()
		out = append(out, fsm.Account{
			ID:           getString(a, "id"),
			Number:       getString(a, "number"),
			Type:         getString(a, "type"),
			Name:         getString(a, "name"),
			BalanceCents: getInt(a, "balance_cents"),
		})
	}
	return out
}

func accountsValue(accounts []fsm.Account) *structpb.Value {
	values := make([]*structpb.Value, 0, len(accounts))
	for _, a := range accounts {
		values = append(values, structpb.NewStructValue(fields(map[string]*structpb.Value{
			"id":            structpb.NewStringValue(a.ID),
			"number":        structpb.NewStringValue(a.Number),
			"type":          structpb.NewStringValue(a.Type),
			"name":          structpb.NewStringValue(a.Name),
			"balance_cents": intValue(a.BalanceCents),
		})))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func (r BalanceRequest) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{"account_id": structpb.NewStringValue(r.AccountID)})
}

func DecodeBalanceRequest(s *structpb.Struct) BalanceRequest {
	return BalanceRequest{AccountID: getString(s, "account_id")}
}

func (b Balance) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{
		"account_id":      structpb.NewStringValue(b.AccountID),
		"available_cents": intValue(b.AvailableCents),
		"ledger_cents":    intValue(b.LedgerCents),
	})
}

func DecodeBalance(s *structpb.Struct) Balance {
	return Balance{
		AccountID:      getString(s, "account_id"),
		AvailableCents: getInt(s, "available_cents"),
		LedgerCents:    getInt(s, "ledger_cents"),
	}
}

func (r WithdrawRequest) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{"amount_cents": intValue(r.AmountCents)})
}

func DecodeWithdrawRequest(s *structpb.Struct) WithdrawRequest {
	return WithdrawRequest{AmountCents: getInt(s, "amount_cents")}
}

func (r DepositRequest) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{
		"amount_cents": intValue(r.AmountCents),
		"medium":       structpb.NewStringValue(string(r.Medium)),
		"check_number": structpb.NewStringValue(r.CheckNumber),
	})
}

func DecodeDepositRequest(s *structpb.Struct) DepositRequest {
	return DepositRequest{
		AmountCents: getInt(s, "amount_cents"),
		Medium:      fsm.DepositMedium(getString(s, "medium")),
		CheckNumber: getString(s, "check_number"),
	}
}

func (r TransferRequest) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{
		"destination":  structpb.NewStringValue(r.Destination),
		"amount_cents": intValue(r.AmountCents),
	})
}

func DecodeTransferRequest(s *structpb.Struct) TransferRequest {
	return TransferRequest{Destination: getString(s, "destination"), AmountCents: getInt(s, "amount_cents")}
}

func (r StatementRequest) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{"period_days": intValue(int64(r.PeriodDays))})
}

func DecodeStatementRequest(s *structpb.Struct) StatementRequest {
	return StatementRequest{PeriodDays: int(getInt(s, "period_days"))}
}

func (st Statement) Struct() *structpb.Struct {
	lines := make([]*structpb.Value, 0, len(st.Lines))
	for _, line := range st.Lines {
		lines = append(lines, structpb.NewStructValue(fields(map[string]*structpb.Value{
			"date":         timeValue(line.Date),
			"description":  structpb.NewStringValue(line.Description),
			"amount_cents": intValue(line.AmountCents),
		})))
	}
	return fields(map[string]*structpb.Value{
		"account_number": structpb.NewStringValue(st.AccountNumber),
		"period_days":    intValue(int64(st.PeriodDays)),
		"opening_cents":  intValue(st.OpeningCents),
		"closing_cents":  intValue(st.ClosingCents),
		"lines":          structpb.NewListValue(&structpb.ListValue{Values: lines}),
	})
}

func DecodeStatement(s *structpb.Struct) Statement {
	st := Statement{
		AccountNumber: getString(s, "account_number"),
		PeriodDays:    int(getInt(s, "period_days")),
		OpeningCents:  getInt(s, "opening_cents"),
		ClosingCents:  getInt(s, "closing_cents"),
	}
	for _, v := range s.GetFields()["lines"].GetListValue().GetValues() {
		line := v.GetStructValue()
		st.Lines = append(st.Lines, StatementLine{
			Date:        getTime(line, "date"),
			Description: getString(line, "description"),
			AmountCents: getInt(line, "amount_cents"),
		})
	}
	return st
}

func (r PinChangeRequest) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{
		"current": structpb.NewStringValue(r.Current),
		"new":     structpb.NewStringValue(r.New),
		"confirm": structpb.NewStringValue(r.Confirm),
	})
}

func DecodePinChangeRequest(s *structpb.Struct) PinChangeRequest {
	return PinChangeRequest{
		Current: getString(s, "current"),
		New:     getString(s, "new"),
		Confirm: getString(s, "confirm"),
	}
}

func (r RefreshResult) Struct() *structpb.Struct {
	return fields(map[string]*structpb.Value{"expires_at": timeValue(r.ExpiresAt)})
}

func DecodeRefreshResult(s *structpb.Struct) RefreshResult {
	return RefreshResult{ExpiresAt: getTime(s, "expires_at")}
}

// EncodeReceipt serializes any receipt variant.
func EncodeReceipt(r fsm.Receipt) *structpb.Struct {
	out := map[string]*structpb.Value{
		"receipt_type": structpb.NewStringValue(string(r.ReceiptType())),
	}
	switch rc := r.(type) {
	case fsm.WithdrawalReceipt:
		out["transaction_id"] = structpb.NewStringValue(rc.TransactionID)
		out["account_number"] = structpb.NewStringValue(rc.AccountNumber)
		out["amount"] = structpb.NewStringValue(rc.Amount)
		out["balance"] = structpb.NewStringValue(rc.Balance)
		out["timestamp"] = timeValue(rc.Timestamp)
	case fsm.DepositReceipt:
		out["transaction_id"] = structpb.NewStringValue(rc.TransactionID)
		out["account_number"] = structpb.NewStringValue(rc.AccountNumber)
		out["amount"] = structpb.NewStringValue(rc.Amount)
		out["balance"] = structpb.NewStringValue(rc.Balance)
		out["medium"] = structpb.NewStringValue(string(rc.Medium))
		out["check_number"] = structpb.NewStringValue(rc.CheckNumber)
		out["timestamp"] = timeValue(rc.Timestamp)
	case fsm.TransferReceipt:
		out["transaction_id"] = structpb.NewStringValue(rc.TransactionID)
		out["from_account"] = structpb.NewStringValue(rc.FromAccount)
		out["to_account"] = structpb.NewStringValue(rc.ToAccount)
		out["amount"] = structpb.NewStringValue(rc.Amount)
		out["balance"] = structpb.NewStringValue(rc.Balance)
		out["timestamp"] = timeValue(rc.Timestamp)
	}
	return fields(out)
}

func DecodeWithdrawalReceipt(s *structpb.Struct) fsm.WithdrawalReceipt {
	return fsm.WithdrawalReceipt{
		TransactionID: getString(s, "transaction_id"),
		AccountNumber: getString(s, "account_number"),
		Amount:        getString(s, "amount"),
		Balance:       getString(s, "balance"),
		Timestamp:     getTime(s, "timestamp"),
	}
}

func DecodeDepositReceipt(s *structpb.Struct) fsm.DepositReceipt {
	return fsm.DepositReceipt{
		TransactionID: getString(s, "transaction_id"),
		AccountNumber: getString(s, "account_number"),
		Amount:        getString(s, "amount"),
		Balance:       getString(s, "balance"),
		Medium:        fsm.DepositMedium(getString(s, "medium")),
		CheckNumber:   getString(s, "check_number"),
		Timestamp:     getTime(s, "timestamp"),
	}
}

func DecodeTransferReceipt(s *structpb.Struct) fsm.TransferReceipt {
	return fsm.TransferReceipt{
		TransactionID: getString(s, "transaction_id"),
		FromAccount:   getString(s, "from_account"),
		ToAccount:     getString(s, "to_account"),
		Amount:        getString(s, "amount"),
		Balance:       getString(s, "balance"),
		Timestamp:     getTime(s, "timestamp"),
	}
}

func fields(m map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: m}
}

// intValue stores n as a JSON number; amounts stay far below 2^53.
func intValue(n int64) *structpb.Value {
	return structpb.NewNumberValue(float64(n))
}

func timeValue(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewStringValue("")
	}
	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func getString(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func getInt(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func getTime(s *structpb.Struct, key string) time.Time {
	raw := getString(s, key)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
