package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rbright/teller/internal/bankapi"
	"github.com/rbright/teller/internal/flow"
	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/keypad"
	"github.com/rbright/teller/internal/money"
)

// controller is one mounted screen. handle is registered with the keypad router.
type controller interface {
	handle(ctx context.Context, in flow.Input)
	prompt() Prompt
	unmount()
}

// controllerFor builds the controller for key. Screens without keypad input get none.
func (k *Kiosk) controllerFor(key keypad.Key, state fsm.State) controller {
	switch key {
	case keypad.Key(fsm.ScreenWelcome):
		return &cardController{k: k}
	case keypad.Key(fsm.ScreenPinEntry):
		return &pinController{k: k}
	case keypad.Key(fsm.ScreenMainMenu):
		return &menuController{k: k}
	case keypad.Key(fsm.ScreenBalanceInquiry):
		return newBalanceController(k)
	case keypad.Key(fsm.ScreenWithdrawal):
		return &withdrawalController{k: k}
	case keypad.Key(fsm.ScreenTransfer):
		return &transferController{k: k}
	case keypad.Key(fsm.ScreenWithdrawalConfirm), keypad.Key(fsm.ScreenTransferConfirm):
		return &confirmController{k: k, cached: state.Pending}
	case keypad.Key(fsm.ScreenDeposit):
		return &depositController{k: k}
	case keypad.KeyDepositPending:
		return &depositPendingController{k: k, cached: state.Pending}
	case keypad.Key(fsm.ScreenStatement):
		return &statementController{k: k}
	case keypad.Key(fsm.ScreenPinChange):
		return &pinChangeController{k: k}
	case keypad.Key(fsm.ScreenWithdrawalReceipt), keypad.Key(fsm.ScreenDepositReceipt), keypad.Key(fsm.ScreenTransferReceipt):
		return &staticController{k: k, input: flow.ReceiptInput, lines: receiptLines(state.LastReceipt)}
	case keypad.Key(fsm.ScreenSessionTimeout):
		return &staticController{k: k, input: flow.TimeoutInput}
	case keypad.Key(fsm.ScreenError):
		return &staticController{k: k, input: flow.ErrorInput}
	default:
		return nil
	}
}

// phased guards one flow value.
type phased[F any] struct {
	mu   sync.Mutex
	flow F
}

func (p *phased[F]) step(apply func(F, flow.Input) (F, flow.Outcome), in flow.Input) flow.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, out := apply(p.flow, in)
	p.flow = next
	return out
}

func (p *phased[F]) get() F {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flow
}

func (p *phased[F]) set(f F) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flow = f
}

// note holds a controller-local message such as "Please wait".
type note struct {
	mu   sync.Mutex
	text string
}

func (n *note) set(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.text = text
}

func (n *note) get() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}

const (
	hintBusy          = "Please wait"
	hintNothingStaged = "Nothing to confirm. Press Cancel to go back"
)

func hintFor(err error) string {
	switch {
	case errors.Is(err, ErrBusy):
		return hintBusy
	case errors.Is(err, errNothingStaged):
		return hintNothingStaged
	default:
		return err.Error()
	}
}

func mask(digits string) string {
	return strings.Repeat("*", len(digits))
}

func dollars(digits string) string {
	if digits == "" {
		return "$"
	}
	return "$" + digits
}

type staticController struct {
	k     *Kiosk
	input func(flow.Input) flow.Outcome
	lines []string
}

func (c *staticController) handle(ctx context.Context, in flow.Input) {
	c.k.execute(ctx, c.input(in))
}

func (c *staticController) prompt() Prompt { return Prompt{Lines: c.lines} }
func (c *staticController) unmount()       {}

type cardController struct {
	k *Kiosk
	p phased[flow.CardEntry]
}

func (c *cardController) handle(ctx context.Context, in flow.Input) {
	c.k.execute(ctx, c.p.step(flow.CardEntry.Apply, in))
}

func (c *cardController) prompt() Prompt {
	f := c.p.get()
	return Prompt{Label: "Card number", Entry: f.Number, Hint: f.Err}
}

func (c *cardController) unmount() {}

type pinController struct {
	k    *Kiosk
	p    phased[flow.PinEntry]
	busy note
}

func (c *pinController) handle(ctx context.Context, in flow.Input) {
	c.busy.set("")
	out := c.p.step(flow.PinEntry.Apply, in)
	if login, ok := out.(flow.SubmitLogin); ok {
		c.login(ctx, login.PIN)
		return
	}
	c.k.execute(ctx, out)
}

func (c *pinController) login(ctx context.Context, pin string) {
	state, err := c.k.store.BeginRequest(ctx)
	if err != nil {
		c.busy.set(hintFor(err))
		return
	}
	result, err := c.k.bank.Login(ctx, state.CardNumber, pin)
	if err != nil {
		c.p.set(c.p.get().Reset())
		c.k.failRequest(ctx, fsm.LoginFailure{Message: bankapi.Message(err)}, err)
		return
	}
	c.k.dispatch(ctx, fsm.LoginSuccess{
		SessionID:     result.SessionID,
		CustomerName:  result.CustomerName,
		AccountNumber: result.AccountNumber,
		Accounts:      result.Accounts,
	})
}

func (c *pinController) prompt() Prompt {
	f := c.p.get()
	hint := f.Err
	if hint == "" {
		hint = c.busy.get()
	}
	return Prompt{Label: "PIN", Entry: mask(f.PIN), Hint: hint}
}

func (c *pinController) unmount() {}

type menuController struct {
	k *Kiosk
	p phased[flow.Menu]
}

func (c *menuController) handle(ctx context.Context, in flow.Input) {
	c.k.execute(ctx, c.p.step(flow.Menu.Apply, in))
}

func (c *menuController) prompt() Prompt {
	return Prompt{Lines: menuLines, Hint: c.p.get().Err}
}

func (c *menuController) unmount() {}

var menuLines = []string{
	"1  Balance inquiry",
	"2  Withdrawal",
	"3  Deposit",
	"4  Transfer",
	"5  Statement",
	"6  Change PIN",
	"Cancel  End session",
}

type withdrawalController struct {
	k *Kiosk
	p phased[flow.Withdrawal]
}

func (c *withdrawalController) handle(ctx context.Context, in flow.Input) {
	c.k.execute(ctx, c.p.step(flow.Withdrawal.Apply, in))
}

func (c *withdrawalController) prompt() Prompt {
	f := c.p.get()
	return Prompt{
		Label: "Amount",
		Entry: dollars(f.Amount),
		Lines: []string{fmt.Sprintf("Notes of $%d only", flow.DispenseUnit)},
		Hint:  f.Err,
	}
}

func (c *withdrawalController) unmount() {}

type transferController struct {
	k *Kiosk
	p phased[flow.Transfer]
}

func (c *transferController) handle(ctx context.Context, in flow.Input) {
	c.k.execute(ctx, c.p.step(flow.Transfer.Apply, in))
}

func (c *transferController) prompt() Prompt {
	f := c.p.get()
	if f.Phase == flow.TransferAmount {
		return Prompt{
			Label: "Amount",
			Entry: dollars(f.Amount),
			Lines: []string{"To account " + f.Destination},
			Hint:  f.Err,
		}
	}
	return Prompt{Label: "Destination account", Entry: f.Destination, Hint: f.Err}
}

func (c *transferController) unmount() {}

// confirmController shows the staged transaction captured at mount. The cached copy survives a
// failed submission, which clears Pending but leaves the confirm screen up.
type confirmController struct {
	k      *Kiosk
	cached fsm.Pending
	hint   note
}

func (c *confirmController) handle(ctx context.Context, in flow.Input) {
	c.hint.set("")
	out := flow.ConfirmInput(in)
	if _, ok := out.(flow.Confirm); !ok {
		c.k.execute(ctx, out)
		return
	}
	if err := c.k.submitStaged(ctx); err != nil {
		c.hint.set(hintFor(err))
	}
}

func (c *confirmController) prompt() Prompt {
	lines := pendingLines(c.cached)
	lines = append(lines, "Enter  Confirm", "Cancel  Back")
	return Prompt{Lines: lines, Hint: c.hint.get()}
}

func (c *confirmController) unmount() {}

type depositController struct {
	k *Kiosk
	p phased[flow.Deposit]
}

func (c *depositController) handle(ctx context.Context, in flow.Input) {
	out := c.p.step(flow.Deposit.Apply, in)
	submit, ok := out.(flow.SubmitDeposit)
	if !ok {
		c.k.execute(ctx, out)
		return
	}
	if !c.k.dispatch(ctx, fsm.StageTransaction{Tx: submit.Tx}) {
		return
	}
	if err := c.k.submitStaged(ctx); err != nil {
		c.k.logger.Info("deposit not submitted", "error", err)
	}
}

func (c *depositController) prompt() Prompt {
	f := c.p.get()
	switch f.Phase {
	case flow.DepositAmount:
		return Prompt{Label: "Amount", Entry: dollars(f.Amount), Lines: []string{"Depositing " + string(f.Medium)}, Hint: f.Err}
	case flow.DepositCheckNumber:
		return Prompt{Label: "Check number", Entry: f.CheckNumber, Hint: f.Err}
	default:
		return Prompt{Lines: []string{"1  Cash", "2  Check"}, Hint: f.Err}
	}
}

func (c *depositController) unmount() {}

// depositPendingController owns the deposit screen while a deposit is staged.
type depositPendingController struct {
	k      *Kiosk
	cached fsm.Pending
	hint   note
}

func (c *depositPendingController) handle(ctx context.Context, in flow.Input) {
	switch in.Key {
	case flow.KeyCancel:
		c.k.dispatch(ctx, fsm.GoBack{})
	case flow.KeyEnter:
		if err := c.k.submitStaged(ctx); err != nil {
			c.hint.set(hintFor(err))
		}
	}
}

func (c *depositPendingController) prompt() Prompt {
	return Prompt{Lines: pendingLines(c.cached), Hint: c.hint.get()}
}

func (c *depositPendingController) unmount() {}

type statementController struct {
	k    *Kiosk
	p    phased[flow.Statement]
	busy note

	mu     sync.Mutex
	result *bankapi.Statement
}

func (c *statementController) handle(ctx context.Context, in flow.Input) {
	c.busy.set("")
	if in.Key == flow.KeyCancel {
		c.setResult(nil)
	}
	out := c.p.step(flow.Statement.Apply, in)
	req, ok := out.(flow.SubmitStatement)
	if !ok {
		c.k.execute(ctx, out)
		return
	}
	if _, err := c.k.store.BeginRequest(ctx); err != nil {
		c.busy.set(hintFor(err))
		return
	}
	statement, err := c.k.bank.GenerateStatement(ctx, req.PeriodDays)
	if err != nil {
		c.k.failRequest(ctx, fsm.TransactionFailure{Message: bankapi.Message(err)}, err)
		return
	}
	c.setResult(&statement)
	c.k.cues.Complete(ctx)
	c.k.dispatch(ctx, fsm.RequestDone{})
}

func (c *statementController) setResult(s *bankapi.Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = s
}

func (c *statementController) prompt() Prompt {
	f := c.p.get()
	c.mu.Lock()
	result := c.result
	c.mu.Unlock()

	hint := f.Err
	if hint == "" {
		hint = c.busy.get()
	}
	if result != nil {
		return Prompt{Lines: statementLines(*result), Hint: hint}
	}
	lines := []string{"1  Last 30 days", "2  Last 60 days", "3  Last 90 days"}
	if f.PeriodDays > 0 {
		lines = append(lines, fmt.Sprintf("Selected: %d days. Press Enter", f.PeriodDays))
	}
	return Prompt{Lines: lines, Hint: hint}
}

func (c *statementController) unmount() {}

type pinChangeController struct {
	k    *Kiosk
	p    phased[flow.PinChange]
	done atomic.Bool
	busy note
}

func (c *pinChangeController) handle(ctx context.Context, in flow.Input) {
	if c.done.Load() {
		if in.Key == flow.KeyEnter || in.Key == flow.KeyCancel {
			c.k.dispatch(ctx, fsm.GoBack{})
		}
		return
	}
	c.busy.set("")
	out := c.p.step(flow.PinChange.Apply, in)
	req, ok := out.(flow.SubmitPinChange)
	if !ok {
		c.k.execute(ctx, out)
		return
	}
	if _, err := c.k.store.BeginRequest(ctx); err != nil {
		c.busy.set(hintFor(err))
		return
	}
	if err := c.k.bank.ChangePin(ctx, req.Current, req.New, req.Confirm); err != nil {
		c.p.set(c.p.get().Reset())
		c.k.failRequest(ctx, fsm.TransactionFailure{Message: bankapi.Message(err)}, err)
		return
	}
	c.done.Store(true)
	c.k.cues.Complete(ctx)
	c.k.dispatch(ctx, fsm.RequestDone{})
}

func (c *pinChangeController) prompt() Prompt {
	if c.done.Load() {
		return Prompt{Lines: []string{"Your PIN has been changed.", "Press Enter to continue"}}
	}
	f := c.p.get()
	var entry string
	switch f.Phase {
	case flow.PinCurrent:
		entry = f.Current
	case flow.PinNew:
		entry = f.New
	default:
		entry = f.Confirm
	}
	hint := f.Err
	if hint == "" {
		hint = c.busy.get()
	}
	return Prompt{Label: pinChangeLabels[f.Phase], Entry: mask(entry), Hint: hint}
}

func (c *pinChangeController) unmount() {}

var pinChangeLabels = map[flow.PinChangePhase]string{
	flow.PinCurrent: "Current PIN",
	flow.PinNew:     "New PIN",
	flow.PinConfirm: "Confirm new PIN",
}

// balanceController fetches the account list and the selected balance on mount. Selecting another
// account cancels the fetch in flight; results from a superseded fetch or after unmount are dropped.
type balanceController struct {
	k         *Kiosk
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	wg        sync.WaitGroup

	mu        sync.Mutex
	gen       uint64
	stopFetch context.CancelFunc
	balance   *bankapi.Balance
	hint      string
}

func newBalanceController(k *Kiosk) *balanceController {
	ctx, cancel := context.WithCancel(context.Background())
	c := &balanceController{k: k, ctx: ctx, cancel: cancel}
	c.fetch("")
	return c
}

// fetch loads the balance of accountID. An empty accountID loads the account list first and
// uses the selection that results.
func (c *balanceController) fetch(accountID string) {
	ctx, stop := context.WithCancel(c.ctx)
	c.mu.Lock()
	if c.stopFetch != nil {
		c.stopFetch()
	}
	c.stopFetch = stop
	c.gen++
	gen := c.gen
	c.balance, c.hint = nil, ""
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer stop()
		defer c.k.changed()

		if accountID == "" {
			accounts, err := c.k.bank.ListAccounts(ctx)
			if !c.current(gen) {
				return
			}
			if err != nil {
				c.failAccounts(ctx, err)
				return
			}
			c.k.dispatch(ctx, fsm.AccountsLoaded{Accounts: accounts})
			accountID = c.k.store.Snapshot().SelectedAccountID
		}

		balance, err := c.k.bank.GetBalance(ctx, accountID)
		if c.k.store.Snapshot().SelectedAccountID != accountID {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.cancelled.Load() {
			return
		}
		if err != nil {
			c.k.logger.Info("balance inquiry failed", "account", accountID, "error", err)
			c.hint = bankapi.Message(err)
			return
		}
		c.balance = &balance
	}()
}

// current reports whether gen is still the latest fetch of a mounted controller.
func (c *balanceController) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && !c.cancelled.Load()
}

// failAccounts handles a failed account list. Without accounts the screen has nothing to show, so
// faults go to the error screen; anything else stays a hint.
func (c *balanceController) failAccounts(ctx context.Context, err error) {
	c.k.logger.Info("account list failed", "error", err)
	if bankapi.Fatal(err) {
		c.k.showError(ctx, err)
		return
	}
	c.mu.Lock()
	c.hint = bankapi.Message(err)
	c.mu.Unlock()
}

func (c *balanceController) handle(ctx context.Context, in flow.Input) {
	if in.Key == flow.KeyDigit {
		accounts := c.k.store.Snapshot().Accounts
		if in.Digit < 1 || in.Digit > len(accounts) {
			return
		}
		id := accounts[in.Digit-1].ID
		if c.k.dispatch(ctx, fsm.SelectAccount{AccountID: id}) {
			c.fetch(id)
		}
		return
	}
	c.k.execute(ctx, flow.BalanceInput(in))
}

func (c *balanceController) prompt() Prompt {
	state := c.k.store.Snapshot()
	c.mu.Lock()
	balance, hint := c.balance, c.hint
	c.mu.Unlock()

	var lines []string
	for i, acct := range state.Accounts {
		marker := " "
		if acct.ID == state.SelectedAccountID {
			marker = ">"
		}
		lines = append(lines, fmt.Sprintf("%s %d  %s %s", marker, i+1, acct.Name, acct.Number))
	}
	switch {
	case balance != nil:
		lines = append(lines,
			"Available  "+money.Cents(balance.AvailableCents).Format(),
			"Ledger     "+money.Cents(balance.LedgerCents).Format(),
		)
	case hint == "":
		lines = append(lines, "Loading balance...")
	}
	return Prompt{Lines: lines, Hint: hint}
}

func (c *balanceController) unmount() {
	c.cancelled.Store(true)
	c.cancel()
}

func pendingLines(p fsm.Pending) []string {
	switch tx := p.(type) {
	case fsm.Withdrawal:
		return []string{"Withdraw " + money.Cents(tx.Amount).Format()}
	case fsm.Transfer:
		return []string{
			"Transfer " + money.Cents(tx.Amount).Format(),
			"To account " + tx.Destination,
		}
	case fsm.Deposit:
		lines := []string{fmt.Sprintf("Deposit %s (%s)", money.Cents(tx.Amount).Format(), tx.Medium)}
		if tx.CheckNumber != "" {
			lines = append(lines, "Check #"+tx.CheckNumber)
		}
		return lines
	default:
		return nil
	}
}

func receiptLines(r fsm.Receipt) []string {
	const stamp = "2006-01-02 15:04"
	switch rc := r.(type) {
	case fsm.WithdrawalReceipt:
		return []string{
			"Withdrawn  " + rc.Amount,
			"Balance    " + rc.Balance,
			"Account    " + rc.AccountNumber,
			"Ref        " + rc.TransactionID,
			rc.Timestamp.Local().Format(stamp),
		}
	case fsm.DepositReceipt:
		lines := []string{
			"Deposited  " + rc.Amount + " (" + string(rc.Medium) + ")",
			"Balance    " + rc.Balance,
			"Account    " + rc.AccountNumber,
		}
		if rc.CheckNumber != "" {
			lines = append(lines, "Check #    "+rc.CheckNumber)
		}
		return append(lines, "Ref        "+rc.TransactionID, rc.Timestamp.Local().Format(stamp))
	case fsm.TransferReceipt:
		return []string{
			"Sent       " + rc.Amount,
			"From       " + rc.FromAccount,
			"To         " + rc.ToAccount,
			"Balance    " + rc.Balance,
			"Ref        " + rc.TransactionID,
			rc.Timestamp.Local().Format(stamp),
		}
	default:
		return nil
	}
}

func statementLines(s bankapi.Statement) []string {
	lines := []string{
		fmt.Sprintf("Account %s, last %d days", s.AccountNumber, s.PeriodDays),
		"Opening  " + money.Cents(s.OpeningCents).Format(),
	}
	for _, l := range s.Lines {
		lines = append(lines, fmt.Sprintf("%s  %-20s %s", l.Date.Format("01/02"), l.Description, money.Cents(l.AmountCents).Format()))
	}
	return append(lines, "Closing  "+money.Cents(s.ClosingCents).Format())
}
