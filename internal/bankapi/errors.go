package bankapi

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrorDomain is the ErrorInfo domain of bank-issued errors.
const ErrorDomain = "teller.bank"

// ReasonMaintenance marks an Unavailable status as planned maintenance.
const ReasonMaintenance = "MAINTENANCE"

// MsgUnavailable is shown when the bank cannot be reached at all.
const MsgUnavailable = "The bank is unavailable. Please try again later."

var (
	// ErrSessionExpired matches errors for calls whose session the bank no longer knows.
	ErrSessionExpired = errors.New("bank session expired")
	// ErrMaintenance matches errors raised while the bank is in maintenance.
	ErrMaintenance = errors.New("bank under maintenance")
)

// RemoteError is a classified bank failure.
type RemoteError struct {
	Code    codes.Code
	Reason  string
	Message string
	cause   error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.cause }

// Is lets errors.Is match the boundary sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrSessionExpired:
		return e.Code == codes.Unauthenticated
	case ErrMaintenance:
		return e.Reason == ReasonMaintenance
	default:
		return false
	}
}

// Classify converts a gRPC status error to a *RemoteError. A single field violation wins
// over the generic status message. Non-status errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var already *RemoteError
	if errors.As(err, &already) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	re := &RemoteError{Code: st.Code(), Message: st.Message(), cause: err}
	var violations []*errdetails.BadRequest_FieldViolation
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.BadRequest:
			violations = append(violations, d.GetFieldViolations()...)
		case *errdetails.ErrorInfo:
			re.Reason = d.GetReason()
		}
	}
	if len(violations) == 1 && violations[0].GetDescription() != "" {
		re.Message = violations[0].GetDescription()
	}

	switch {
	case re.Code == codes.Unavailable && re.Reason == "":
		re.Message = MsgUnavailable
	case re.Code == codes.DeadlineExceeded:
		re.Message = MsgUnavailable
	case re.Message == "":
		re.Message = "Request failed"
	}
	return re
}

// Message returns the customer-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgUnavailable
	}
	return "Request failed"
}

// Fatal reports whether err is a fault the customer cannot correct: an internal bank failure or an
// error that never became a bank status. Validation, session, maintenance and timeout errors are not
// fatal.
func Fatal(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var re *RemoteError
	if !errors.As(err, &re) {
		return true
	}
	switch re.Code {
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unimplemented:
		return true
	default:
		return false
	}
}

// Notifier receives the two boundary conditions the kiosk core reacts to.
type Notifier interface {
	SessionExpired(ctx context.Context)
	Maintenance(ctx context.Context, reason string)
}

// notifyInterceptor classifies every call error and raises boundary notifications.
// Session expiry is only raised for calls that carried a session, and never for Logout.
func notifyInterceptor(n Notifier) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := Classify(invoker(ctx, method, req, reply, cc, opts...))
		if err == nil || n == nil {
			return err
		}

		switch {
		case errors.Is(err, ErrMaintenance):
			n.Maintenance(ctx, Message(err))
		case errors.Is(err, ErrSessionExpired) && method != FullMethod(MethodLogout) && carriesSession(ctx):
			n.SessionExpired(ctx)
		}
		return err
	}
}

func carriesSession(ctx context.Context) bool {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return false
	}
	for _, v := range md.Get(SessionMetadataKey) {
		if v != "" {
			return true
		}
	}
	return false
}

// SessionExpiredStatus is returned by the bank for unknown or expired sessions.
func SessionExpiredStatus() error {
	return status.Error(codes.Unauthenticated, "Your session has expired")
}

// MaintenanceStatus is returned by the bank while it is in maintenance.
func MaintenanceStatus(reason string) error {
	if reason == "" {
		reason = "Scheduled maintenance"
	}
	st := status.New(codes.Unavailable, reason)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   ReasonMaintenance,
		Domain:   ErrorDomain,
		Metadata: map[string]string{"reason": reason},
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// FieldViolationStatus rejects a request because of one invalid field.
func FieldViolationStatus(field, description string) error {
	st := status.New(codes.InvalidArgument, "invalid request")
	detailed, err := st.WithDetails(&errdetails.BadRequest{
		FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: field, Description: description}},
	})
	if err != nil {
		return status.Error(codes.InvalidArgument, description)
	}
	return detailed.Err()
}
