package bankapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/teller/internal/fsm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config controls how the kiosk reaches the bank.
type Config struct {
	Endpoint       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Notifier       Notifier
	Logger         *slog.Logger

	// DialOptions are appended after the defaults. Tests use them to dial in-memory listeners.
	DialOptions []grpc.DialOption
}

// Client calls the bank on behalf of one kiosk. It remembers the session id issued by Login
// and attaches it to every later call until Logout.
type Client struct {
	conn           *grpc.ClientConn
	requestTimeout time.Duration
	logger         *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// Dial connects to the bank and waits until the channel is ready.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("bank endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(notifyInterceptor(cfg.Notifier)),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial bank grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for bank grpc readiness: %w", err)
	}

	return &Client{
		conn:           conn,
		requestTimeout: cfg.RequestTimeout,
		logger:         cfg.Logger,
	}, nil
}

// Probe dials endpoint and reports whether it becomes ready within timeout.
func Probe(ctx context.Context, endpoint string, timeout time.Duration) error {
	client, err := Dial(ctx, Config{Endpoint: endpoint, DialTimeout: timeout})
	if err != nil {
		return err
	}
	return client.Close()
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SessionID returns the session the client is attached to.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// SetSessionID attaches the client to an existing session, e.g. one restored at boot.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func (c *Client) Login(ctx context.Context, cardNumber, pin string) (LoginResult, error) {
	resp, err := c.invoke(ctx, MethodLogin, LoginRequest{CardNumber: cardNumber, PIN: pin}.Struct())
	if err != nil {
		return LoginResult{}, err
	}
	result := DecodeLoginResult(resp)
	if result.SessionID == "" {
		return LoginResult{}, errors.New("bank Login: response carried no session id")
	}
	c.SetSessionID(result.SessionID)
	return result, nil
}

func (c *Client) ListAccounts(ctx context.Context) ([]fsm.Account, error) {
	resp, err := c.invoke(ctx, MethodListAccounts, fields(nil))
	if err != nil {
		return nil, err
	}
	return DecodeAccounts(resp), nil
}

func (c *Client) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	resp, err := c.invoke(ctx, MethodGetBalance, BalanceRequest{AccountID: accountID}.Struct())
	if err != nil {
		return Balance{}, err
	}
	return DecodeBalance(resp), nil
}

func (c *Client) Withdraw(ctx context.Context, amountCents int64) (fsm.WithdrawalReceipt, error) {
	resp, err := c.invoke(ctx, MethodWithdraw, WithdrawRequest{AmountCents: amountCents}.Struct())
	if err != nil {
		return fsm.WithdrawalReceipt{}, err
	}
	return DecodeWithdrawalReceipt(resp), nil
}

func (c *Client) Deposit(ctx context.Context, amountCents int64, medium fsm.DepositMedium, checkNumber string) (fsm.DepositReceipt, error) {
	req := DepositRequest{AmountCents: amountCents, Medium: medium, CheckNumber: checkNumber}
	resp, err := c.invoke(ctx, MethodDeposit, req.Struct())
	if err != nil {
		return fsm.DepositReceipt{}, err
	}
	return DecodeDepositReceipt(resp), nil
}

func (c *Client) Transfer(ctx context.Context, destination string, amountCents int64) (fsm.TransferReceipt, error) {
	req := TransferRequest{Destination: destination, AmountCents: amountCents}
	resp, err := c.invoke(ctx, MethodTransfer, req.Struct())
	if err != nil {
		return fsm.TransferReceipt{}, err
	}
	return DecodeTransferReceipt(resp), nil
}

func (c *Client) GenerateStatement(ctx context.Context, periodDays int) (Statement, error) {
	resp, err := c.invoke(ctx, MethodGenerateStatement, StatementRequest{PeriodDays: periodDays}.Struct())
	if err != nil {
		return Statement{}, err
	}
	return DecodeStatement(resp), nil
}

func (c *Client) ChangePin(ctx context.Context, current, next, confirm string) error {
	req := PinChangeRequest{Current: current, New: next, Confirm: confirm}
	_, err := c.invoke(ctx, MethodChangePin, req.Struct())
	return err
}

// RefreshSession extends the server-side session lifetime.
func (c *Client) RefreshSession(ctx context.Context) (RefreshResult, error) {
	resp, err := c.invoke(ctx, MethodRefreshSession, fields(nil))
	if err != nil {
		return RefreshResult{}, err
	}
	return DecodeRefreshResult(resp), nil
}

// Logout ends the remote session. The local session id is dropped even when the call fails.
func (c *Client) Logout(ctx context.Context) error {
	if c.SessionID() == "" {
		return nil
	}
	_, err := c.invoke(ctx, MethodLogout, fields(nil))
	c.SetSessionID("")
	return err
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if id := c.SessionID(); id != "" && method != MethodLogin {
		ctx = metadata.AppendToOutgoingContext(ctx, SessionMetadataKey, id)
	}

	started := time.Now()
	resp := new(structpb.Struct)
	err := c.conn.Invoke(ctx, FullMethod(method), req, resp)
	if c.logger != nil {
		c.logger.Debug("bank call", "method", method, "latency_ms", time.Since(started).Milliseconds(), "error", err)
	}
	if err != nil {
		return nil, fmt.Errorf("bank %s: %w", method, err)
	}
	return resp, nil
}
