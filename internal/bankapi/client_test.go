package bankapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rbright/teller/internal/fsm"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeBank struct {
	mu       sync.Mutex
	calls    []string
	sessions []string
	respond  func(method string, req *structpb.Struct) (*structpb.Struct, error)
}

func (f *fakeBank) Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.sessions = append(f.sessions, firstOrEmpty(md.Get(SessionMetadataKey)))
	f.mu.Unlock()
	return f.respond(method, req)
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

type recordingNotifier struct {
	mu          sync.Mutex
	expired     int
	maintenance []string
}

func (n *recordingNotifier) SessionExpired(context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired++
}

func (n *recordingNotifier) Maintenance(_ context.Context, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.maintenance = append(n.maintenance, reason)
}

func startBank(t *testing.T, bank *fakeBank, notifier Notifier) *Client {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterServer(server, bank)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	client, err := Dial(context.Background(), Config{
		Endpoint:    "passthrough:///bufnet",
		DialTimeout: 2 * time.Second,
		Notifier:    notifier,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return listener.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLoginAttachesSessionToLaterCalls(t *testing.T) {
	bank := &fakeBank{respond: func(method string, req *structpb.Struct) (*structpb.Struct, error) {
		switch method {
		case MethodLogin:
			login := DecodeLoginRequest(req)
			if login.PIN != "1234" {
				return nil, status.Error(codes.PermissionDenied, "Incorrect PIN")
			}
			return LoginResult{
				SessionID:     "sess-1",
				CustomerName:  "Ada Lovelace",
				AccountNumber: "100200300",
				Accounts: []fsm.Account{
					{ID: "chk", Number: "100200300", Type: "checking", Name: "Everyday", BalanceCents: 125000},
					{ID: "sav", Number: "100200301", Type: "savings", Name: "Rainy day", BalanceCents: 50},
				},
			}.Struct(), nil
		case MethodWithdraw:
			if amount := DecodeWithdrawRequest(req).AmountCents; amount != 10000 {
				return nil, FieldViolationStatus("amount_cents", "unexpected amount")
			}
			return EncodeReceipt(fsm.WithdrawalReceipt{
				TransactionID: "tx-1",
				AccountNumber: "100200300",
				Amount:        "$100.00",
				Balance:       "$1,150.00",
				Timestamp:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
			}), nil
		case MethodLogout:
			return fields(nil), nil
		}
		return nil, status.Error(codes.Unimplemented, method)
	}}
	client := startBank(t, bank, nil)
	ctx := context.Background()

	_, err := client.Login(ctx, "4000123412341234", "9999")
	require.Error(t, err)
	require.Equal(t, "Incorrect PIN", Message(err))
	require.Empty(t, client.SessionID())

	result, err := client.Login(ctx, "4000123412341234", "1234")
	require.NoError(t, err)
	require.Equal(t, "sess-1", result.SessionID)
	require.Len(t, result.Accounts, 2)
	require.Equal(t, int64(125000), result.Accounts[0].BalanceCents)
	require.Equal(t, "sess-1", client.SessionID())

	receipt, err := client.Withdraw(ctx, 10000)
	require.NoError(t, err)
	require.Equal(t, "$100.00", receipt.Amount)
	require.Equal(t, fsm.ReceiptWithdrawal, receipt.ReceiptType())
	require.True(t, receipt.Timestamp.Equal(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)))

	require.NoError(t, client.Logout(ctx))
	require.Empty(t, client.SessionID())

	bank.mu.Lock()
	defer bank.mu.Unlock()
	require.Equal(t, []string{MethodLogin, MethodLogin, MethodWithdraw, MethodLogout}, bank.calls)
	require.Equal(t, []string{"", "", "sess-1", "sess-1"}, bank.sessions)
}

func TestFieldViolationMessageWins(t *testing.T) {
	bank := &fakeBank{respond: func(string, *structpb.Struct) (*structpb.Struct, error) {
		return nil, FieldViolationStatus("amount_cents", "Insufficient funds")
	}}
	client := startBank(t, bank, nil)
	client.SetSessionID("sess-1")

	_, err := client.Transfer(context.Background(), "555000111", 7500)
	require.Error(t, err)
	require.Equal(t, "Insufficient funds", Message(err))

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, codes.InvalidArgument, remote.Code)
}

func TestSessionExpiredNotifies(t *testing.T) {
	bank := &fakeBank{respond: func(string, *structpb.Struct) (*structpb.Struct, error) {
		return nil, SessionExpiredStatus()
	}}
	notifier := &recordingNotifier{}
	client := startBank(t, bank, notifier)
	ctx := context.Background()

	_, err := client.ListAccounts(ctx)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, 0, notifier.expired, "calls without a session never report expiry")

	client.SetSessionID("stale")
	_, err = client.GetBalance(ctx, "chk")
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, 1, notifier.expired)

	require.ErrorIs(t, client.Logout(ctx), ErrSessionExpired)
	require.Equal(t, 1, notifier.expired, "logout of an expired session is not an expiry")
	require.Empty(t, client.SessionID())
}

func TestMaintenanceNotifies(t *testing.T) {
	bank := &fakeBank{respond: func(string, *structpb.Struct) (*structpb.Struct, error) {
		return nil, MaintenanceStatus("Ledger upgrade until 06:00")
	}}
	notifier := &recordingNotifier{}
	client := startBank(t, bank, notifier)

	_, err := client.Login(context.Background(), "4000123412341234", "1234")
	require.ErrorIs(t, err, ErrMaintenance)
	require.NotErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, "Ledger upgrade until 06:00", Message(err))
	require.Equal(t, []string{"Ledger upgrade until 06:00"}, notifier.maintenance)
}

func TestStatementRoundTrip(t *testing.T) {
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	bank := &fakeBank{respond: func(_ string, req *structpb.Struct) (*structpb.Struct, error) {
		period := DecodeStatementRequest(req).PeriodDays
		return Statement{
			AccountNumber: "100200300",
			PeriodDays:    period,
			OpeningCents:  100000,
			ClosingCents:  90000,
			Lines:         []StatementLine{{Date: day, Description: "ATM withdrawal", AmountCents: -10000}},
		}.Struct(), nil
	}}
	client := startBank(t, bank, nil)
	client.SetSessionID("sess-1")

	st, err := client.GenerateStatement(context.Background(), 60)
	require.NoError(t, err)
	require.Equal(t, 60, st.PeriodDays)
	require.Equal(t, int64(90000), st.ClosingCents)
	require.Len(t, st.Lines, 1)
	require.Equal(t, int64(-10000), st.Lines[0].AmountCents)
	require.True(t, st.Lines[0].Date.Equal(day))
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify(nil))

	plain := errors.New("boom")
	require.Same(t, plain, Classify(plain))

	unavailable := Classify(status.Error(codes.Unavailable, "connection refused"))
	require.Equal(t, MsgUnavailable, Message(unavailable))
	require.NotErrorIs(t, unavailable, ErrMaintenance)

	generic := Classify(status.Error(codes.FailedPrecondition, "Account frozen"))
	require.Equal(t, "Account frozen", Message(generic))
}

func TestFatal(t *testing.T) {
	require.False(t, Fatal(nil))
	require.True(t, Fatal(errors.New("decode balance: missing field")))
	require.True(t, Fatal(Classify(status.Error(codes.Internal, "ledger corrupted"))))
	require.True(t, Fatal(fmt.Errorf("bank withdraw: %w", Classify(status.Error(codes.Unknown, "panic")))))

	require.False(t, Fatal(Classify(FieldViolationStatus("amount", "Insufficient funds"))))
	require.False(t, Fatal(Classify(SessionExpiredStatus())))
	require.False(t, Fatal(Classify(MaintenanceStatus("Nightly batch"))))
	require.False(t, Fatal(Classify(status.Error(codes.Unavailable, "connection refused"))))
	require.False(t, Fatal(context.DeadlineExceeded))
	require.False(t, Fatal(fmt.Errorf("bank balance: %w", context.Canceled)))
}

func TestDialRejectsEmptyEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), Config{Endpoint: "  "})
	require.ErrorContains(t, err, "endpoint is empty")
}
