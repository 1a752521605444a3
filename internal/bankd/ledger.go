// Package bankd is a small in-memory bank that serves the kiosk's gRPC contract.
//
// It exists so the kiosk can be run and exercised end to end. Amounts are int64 cents, every
// mutation happens under one mutex, and PINs are stored as bcrypt hashes.
package bankd

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/logging"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnknownCard    = errors.New("card not recognized")
	ErrIncorrectPIN   = errors.New("incorrect PIN")
	ErrCardLocked     = errors.New("card locked")
	ErrNoSession      = errors.New("session not found or expired")
	ErrUnknownAccount = errors.New("unknown account")
	ErrInsufficient   = errors.New("insufficient funds")
)

// FieldError rejects one request field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

func fieldError(field, msg string) error {
	return &FieldError{Field: field, Message: msg}
}

// AccountSeed describes one account created at startup.
type AccountSeed struct {
	ID           string `mapstructure:"id"`
	Number       string `mapstructure:"number"`
	Type         string `mapstructure:"type"`
	Name         string `mapstructure:"name"`
	BalanceCents int64  `mapstructure:"balance_cents"`
}

// CustomerSeed describes one card holder created at startup. The first account is the one
// the kiosk debits and credits.
type CustomerSeed struct {
	Name       string        `mapstructure:"name"`
	CardNumber string        `mapstructure:"card_number"`
	PIN        string        `mapstructure:"pin"`
	Accounts   []AccountSeed `mapstructure:"accounts"`
}

// DefaultCustomers is the demo data set.
func DefaultCustomers() []CustomerSeed {
	return []CustomerSeed{
		{
			Name:       "Ada Lovelace",
			CardNumber: "4000123412341234",
			PIN:        "1234",
			Accounts: []AccountSeed{
				{ID: "ada-chk", Number: "100200300", Type: "checking", Name: "Everyday Checking", BalanceCents: 250000},
				{ID: "ada-sav", Number: "100200301", Type: "savings", Name: "Savings", BalanceCents: 1200000},
			},
		},
		{
			Name:       "Grace Hopper",
			CardNumber: "4000567856785678",
			PIN:        "2468",
			Accounts: []AccountSeed{
				{ID: "grace-chk", Number: "200300400", Type: "checking", Name: "Checking", BalanceCents: 8000},
			},
		},
	}
}

// Config tunes a Bank.
type Config struct {
	Customers      []CustomerSeed
	SessionTTL     time.Duration
	MaxPINAttempts int
	// BcryptCost defaults to bcrypt.DefaultCost. Tests lower it.
	BcryptCost int
	Now        func() time.Time
	Logger     *slog.Logger
}

type entry struct {
	at          time.Time
	description string
	amount      int64
}

type account struct {
	id      string
	number  string
	typ     string
	name    string
	balance int64
	entries []entry
}

type customer struct {
	name     string
	card     string
	pinHash  []byte
	failures int
	accounts []*account
}

type session struct {
	id      string
	cust    *customer
	expires time.Time
}

// Bank is the ledger plus session table.
type Bank struct {
	ttl         time.Duration
	maxAttempts int
	cost        int
	now         func() time.Time
	logger      *slog.Logger

	mu          sync.Mutex
	cards       map[string]*customer
	byNumber    map[string]*account
	sessions    map[string]*session
	maintenance bool
	reason      string
}

// New seeds a bank from cfg.
func New(cfg Config) (*Bank, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 5 * time.Minute
	}
	if cfg.MaxPINAttempts <= 0 {
		cfg.MaxPINAttempts = 3
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Customers == nil {
		cfg.Customers = DefaultCustomers()
	}

	b := &Bank{
		ttl:         cfg.SessionTTL,
		maxAttempts: cfg.MaxPINAttempts,
		cost:        cfg.BcryptCost,
		now:         cfg.Now,
		logger:      logging.OrDiscard(cfg.Logger),
		cards:       make(map[string]*customer),
		byNumber:    make(map[string]*account),
		sessions:    make(map[string]*session),
	}
	for _, seed := range cfg.Customers {
		if err := b.addCustomer(seed); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bank) addCustomer(seed CustomerSeed) error {
	if seed.CardNumber == "" || len(seed.Accounts) == 0 {
		return fmt.Errorf("customer %q needs a card number and at least one account", seed.Name)
	}
	if _, dup := b.cards[seed.CardNumber]; dup {
		return fmt.Errorf("duplicate card number %s", seed.CardNumber)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(seed.PIN), b.cost)
	if err != nil {
		return fmt.Errorf("hash pin for %q: %w", seed.Name, err)
	}

	c := &customer{name: seed.Name, card: seed.CardNumber, pinHash: hash}
	for _, a := range seed.Accounts {
		if _, dup := b.byNumber[a.Number]; dup {
			return fmt.Errorf("duplicate account number %s", a.Number)
		}
		acct := &account{id: a.ID, number: a.Number, typ: a.Type, name: a.Name, balance: a.BalanceCents}
		if acct.id == "" {
			acct.id = uuid.NewString()
		}
		acct.entries = []entry{{at: b.now(), description: "Opening balance", amount: a.BalanceCents}}
		c.accounts = append(c.accounts, acct)
		b.byNumber[acct.number] = acct
	}
	b.cards[c.card] = c
	return nil
}

// SetMaintenance switches maintenance mode. While on, every call is rejected.
func (b *Bank) SetMaintenance(on bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maintenance = on
	b.reason = reason
	b.logger.Info("maintenance", "on", on, "reason", reason)
}

// Maintenance reports the maintenance flag and reason.
func (b *Bank) Maintenance() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maintenance, b.reason
}

// Holder is what a successful login reveals about the card holder.
type Holder struct {
	SessionID     string
	Name          string
	AccountNumber string
	Accounts      []fsm.Account
}

// Login checks the PIN and opens a session. A card locks after MaxPINAttempts failures.
func (b *Bank) Login(card, pin string) (Holder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cards[card]
	if !ok {
		return Holder{}, ErrUnknownCard
	}
	if c.failures >= b.maxAttempts {
		return Holder{}, ErrCardLocked
	}
	if err := bcrypt.CompareHashAndPassword(c.pinHash, []byte(pin)); err != nil {
		c.failures++
		if c.failures >= b.maxAttempts {
			return Holder{}, ErrCardLocked
		}
		return Holder{}, ErrIncorrectPIN
	}
	c.failures = 0

	s := &session{id: uuid.NewString(), cust: c, expires: b.now().Add(b.ttl)}
	b.sessions[s.id] = s
	b.logger.Info("session opened", "card", maskCard(card))
	return Holder{
		SessionID:     s.id,
		Name:          c.name,
		AccountNumber: c.accounts[0].number,
		Accounts:      summaries(c),
	}, nil
}

func maskCard(card string) string {
	if len(card) <= 4 {
		return card
	}
	return "****" + card[len(card)-4:]
}

// touch returns the live session and slides its expiry. Expired sessions are dropped.
func (b *Bank) touch(id string) (*session, error) {
	s, ok := b.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	now := b.now()
	if !now.Before(s.expires) {
		delete(b.sessions, id)
		return nil, ErrNoSession
	}
	s.expires = now.Add(b.ttl)
	return s, nil
}

// Refresh extends the session and returns the new expiry.
func (b *Bank) Refresh(id string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.touch(id)
	if err != nil {
		return time.Time{}, err
	}
	return s.expires, nil
}

// Logout ends the session. Unknown ids are not an error.
func (b *Bank) Logout(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// Accounts lists the session's accounts.
func (b *Bank) Accounts(id string) ([]fsm.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.touch(id)
	if err != nil {
		return nil, err
	}
	return summaries(s.cust), nil
}

func summaries(c *customer) []fsm.Account {
	out := make([]fsm.Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, fsm.Account{ID: a.id, Number: a.number, Type: a.typ, Name: a.name, BalanceCents: a.balance})
	}
	return out
}

// Balance returns one of the session's accounts. An empty id means the primary account.
func (b *Bank) Balance(id, accountID string) (fsm.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.touch(id)
	if err != nil {
		return fsm.Account{}, err
	}
	acct, err := owned(s.cust, accountID)
	if err != nil {
		return fsm.Account{}, err
	}
	return fsm.Account{ID: acct.id, Number: acct.number, Type: acct.typ, Name: acct.name, BalanceCents: acct.balance}, nil
}

func owned(c *customer, accountID string) (*account, error) {
	if accountID == "" {
		return c.accounts[0], nil
	}
	for _, a := range c.accounts {
		if a.id == accountID {
			return a, nil
		}
	}
	return nil, ErrUnknownAccount
}

// Posting is the result of a ledger mutation.
type Posting struct {
	TransactionID string
	AccountNumber string
	Counterparty  string
	AmountCents   int64
	BalanceCents  int64
	At            time.Time
}

// Withdraw debits cash from the primary account. Amounts must be whole multiples of $20.
func (b *Bank) Withdraw(id string, amount int64) (Posting, error) {
	if amount <= 0 {
		return Posting{}, fieldError("amount_cents", "Enter an amount")
	}
	if amount%2000 != 0 {
		return Posting{}, fieldError("amount_cents", "Amount must be a multiple of $20")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.touch(id)
	if err != nil {
		return Posting{}, err
	}
	acct := s.cust.accounts[0]
	if acct.balance < amount {
		return Posting{}, ErrInsufficient
	}
	return b.post(acct, -amount, "Cash withdrawal", ""), nil
}

// Deposit credits the primary account. Checks need a check number.
func (b *Bank) Deposit(id string, amount int64, medium fsm.DepositMedium, checkNumber string) (Posting, error) {
	if amount <= 0 {
		return Posting{}, fieldError("amount_cents", "Enter an amount")
	}
	var description string
	switch medium {
	case fsm.MediumCash:
		description = "Cash deposit"
	case fsm.MediumCheck:
		if checkNumber == "" {
			return Posting{}, fieldError("check_number", "Enter the check number")
		}
		description = "Check deposit #" + checkNumber
	default:
		return Posting{}, fieldError("medium", "Unsupported deposit type")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.touch(id)
	if err != nil {
		return Posting{}, err
	}
	return b.post(s.cust.accounts[0], amount, description, ""), nil
}

// Transfer moves money from the primary account to any other account number.
func (b *Bank) Transfer(id, destination string, amount int64) (Posting, error) {
	if destination == "" {
		return Posting{}, fieldError("destination", "Enter a destination account")
	}
	if amount <= 0 {
		return Posting{}, fieldError("amount_cents", "Enter an amount")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.touch(id)
	if err != nil {
		return Posting{}, err
	}
	from := s.cust.accounts[0]
	to, ok := b.byNumber[destination]
	if !ok {
		return Posting{}, fieldError("destination", "Destination account not found")
	}
	if to == from {
		return Posting{}, fieldError("destination", "Cannot transfer to the same account")
	}
	if from.balance < amount {
		return Posting{}, ErrInsufficient
	}

	p := b.post(from, -amount, "Transfer to "+to.number, to.number)
	b.post(to, amount, "Transfer from "+from.number, from.number)
	return p, nil
}

// post applies one signed entry. Callers hold b.mu.
func (b *Bank) post(acct *account, signed int64, description, counterparty string) Posting {
	now := b.now()
	acct.balance += signed
	acct.entries = append(acct.entries, entry{at: now, description: description, amount: signed})
	amount := signed
	if amount < 0 {
		amount = -amount
	}
	return Posting{
		TransactionID: uuid.NewString(),
		AccountNumber: acct.number,
		Counterparty:  counterparty,
		AmountCents:   amount,
		BalanceCents:  acct.balance,
		At:            now,
	}
}

// StatementLine is one posted entry in a statement window.
type StatementLine struct {
	At          time.Time
	Description string
	AmountCents int64
}

// StatementResult covers the primary account over the trailing period.
type StatementResult struct {
	AccountNumber string
	PeriodDays    int
	OpeningCents  int64
	ClosingCents  int64
	Lines         []StatementLine
}

// Statement lists the primary account's entries from the trailing periodDays.
func (b *Bank) Statement(id string, periodDays int) (StatementResult, error) {
	switch periodDays {
	case 30, 60, 90:
	default:
		return StatementResult{}, fieldError("period_days", "Choose 30, 60 or 90 days")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.touch(id)
	if err != nil {
		return StatementResult{}, err
	}
	acct := s.cust.accounts[0]
	since := b.now().AddDate(0, 0, -periodDays)

	out := StatementResult{AccountNumber: acct.number, PeriodDays: periodDays, ClosingCents: acct.balance}
	var moved int64
	for _, e := range acct.entries {
		if e.at.Before(since) {
			continue
		}
		out.Lines = append(out.Lines, StatementLine{At: e.at, Description: e.description, AmountCents: e.amount})
		moved += e.amount
	}
	sort.SliceStable(out.Lines, func(i, j int) bool { return out.Lines[i].At.Before(out.Lines[j].At) })
	out.OpeningCents = out.ClosingCents - moved
	return out, nil
}

// ChangePIN replaces the card PIN after checking the current one.
func (b *Bank) ChangePIN(id, current, next, confirm string) error {
	if len(next) < 4 || len(next) > 6 {
		return fieldError("new", "PIN must be 4 to 6 digits")
	}
	if next != confirm {
		return fieldError("confirm", "PINs do not match")
	}
	if next == current {
		return fieldError("new", "New PIN must differ from the current PIN")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.touch(id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword(s.cust.pinHash, []byte(current)); err != nil {
		return fieldError("current", "Current PIN is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), b.cost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	s.cust.pinHash = hash
	return nil
}

// ExpireSessions drops every session past its expiry and returns how many were dropped.
func (b *Bank) ExpireSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	dropped := 0
	for id, s := range b.sessions {
		if !now.Before(s.expires) {
			delete(b.sessions, id)
			dropped++
		}
	}
	return dropped
}
