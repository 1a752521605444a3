package bankd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/teller/internal/bankapi"
	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/money"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Call implements bankapi.Handler.
func (b *Bank) Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if down, reason := b.Maintenance(); down {
		return nil, bankapi.MaintenanceStatus(reason)
	}

	resp, err := b.call(ctx, method, req)
	if err != nil {
		b.logger.Debug("bank call rejected", "method", method, "error", err)
		return nil, toStatus(err)
	}
	return resp, nil
}

func (b *Bank) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if method == bankapi.MethodLogin {
		in := bankapi.DecodeLoginRequest(req)
		holder, err := b.Login(in.CardNumber, in.PIN)
		if err != nil {
			return nil, err
		}
		return bankapi.LoginResult{
			SessionID:     holder.SessionID,
			CustomerName:  holder.Name,
			AccountNumber: holder.AccountNumber,
			Accounts:      holder.Accounts,
		}.Struct(), nil
	}

	sid := bankapi.IncomingSessionID(ctx)
	switch method {
	case bankapi.MethodLogout:
		b.Logout(sid)
		return &structpb.Struct{}, nil

	case bankapi.MethodRefreshSession:
		expires, err := b.Refresh(sid)
		if err != nil {
			return nil, err
		}
		return bankapi.RefreshResult{ExpiresAt: expires}.Struct(), nil

	case bankapi.MethodListAccounts:
		accounts, err := b.Accounts(sid)
		if err != nil {
			return nil, err
		}
		return bankapi.EncodeAccounts(accounts), nil

	case bankapi.MethodGetBalance:
		acct, err := b.Balance(sid, bankapi.DecodeBalanceRequest(req).AccountID)
		if err != nil {
			return nil, err
		}
		return bankapi.Balance{AccountID: acct.ID, AvailableCents: acct.BalanceCents, LedgerCents: acct.BalanceCents}.Struct(), nil

	case bankapi.MethodWithdraw:
		p, err := b.Withdraw(sid, bankapi.DecodeWithdrawRequest(req).AmountCents)
		if err != nil {
			return nil, err
		}
		return bankapi.EncodeReceipt(fsm.WithdrawalReceipt{
			TransactionID: p.TransactionID,
			AccountNumber: p.AccountNumber,
			Amount:        money.Cents(p.AmountCents).Format(),
			Balance:       money.Cents(p.BalanceCents).Format(),
			Timestamp:     p.At,
		}), nil

	case bankapi.MethodDeposit:
		in := bankapi.DecodeDepositRequest(req)
		p, err := b.Deposit(sid, in.AmountCents, in.Medium, in.CheckNumber)
		if err != nil {
			return nil, err
		}
		return bankapi.EncodeReceipt(fsm.DepositReceipt{
			TransactionID: p.TransactionID,
			AccountNumber: p.AccountNumber,
			Amount:        money.Cents(p.AmountCents).Format(),
			Balance:       money.Cents(p.BalanceCents).Format(),
			Medium:        in.Medium,
			CheckNumber:   in.CheckNumber,
			Timestamp:     p.At,
		}), nil

	case bankapi.MethodTransfer:
		in := bankapi.DecodeTransferRequest(req)
		p, err := b.Transfer(sid, in.Destination, in.AmountCents)
		if err != nil {
			return nil, err
		}
		return bankapi.EncodeReceipt(fsm.TransferReceipt{
			TransactionID: p.TransactionID,
			FromAccount:   p.AccountNumber,
			ToAccount:     p.Counterparty,
			Amount:        money.Cents(p.AmountCents).Format(),
			Balance:       money.Cents(p.BalanceCents).Format(),
			Timestamp:     p.At,
		}), nil

	case bankapi.MethodGenerateStatement:
		st, err := b.Statement(sid, bankapi.DecodeStatementRequest(req).PeriodDays)
		if err != nil {
			return nil, err
		}
		out := bankapi.Statement{
			AccountNumber: st.AccountNumber,
			PeriodDays:    st.PeriodDays,
			OpeningCents:  st.OpeningCents,
			ClosingCents:  st.ClosingCents,
		}
		for _, line := range st.Lines {
			out.Lines = append(out.Lines, bankapi.StatementLine{Date: line.At, Description: line.Description, AmountCents: line.AmountCents})
		}
		return out.Struct(), nil

	case bankapi.MethodChangePin:
		in := bankapi.DecodePinChangeRequest(req)
		if err := b.ChangePIN(sid, in.Current, in.New, in.Confirm); err != nil {
			return nil, err
		}
		return &structpb.Struct{}, nil

	default:
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
}

// toStatus maps ledger errors to the status shapes bankapi.Classify understands.
func toStatus(err error) error {
	var field *FieldError
	switch {
	case errors.As(err, &field):
		return bankapi.FieldViolationStatus(field.Field, field.Message)
	case errors.Is(err, ErrNoSession):
		return bankapi.SessionExpiredStatus()
	case errors.Is(err, ErrUnknownCard):
		return bankapi.FieldViolationStatus("card_number", "Card not recognized")
	case errors.Is(err, ErrIncorrectPIN):
		return bankapi.FieldViolationStatus("pin", "Incorrect PIN")
	case errors.Is(err, ErrCardLocked):
		return status.Error(codes.PermissionDenied, "Card locked. Please contact your bank")
	case errors.Is(err, ErrInsufficient):
		return status.Error(codes.FailedPrecondition, "Insufficient funds")
	case errors.Is(err, ErrUnknownAccount):
		return status.Error(codes.NotFound, "Account not found")
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, fmt.Sprintf("bank error: %v", err))
}
