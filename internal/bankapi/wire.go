// Package bankapi is the kiosk's contract with the remote bank service.
//
// The service is plain gRPC without generated stubs: the service descriptor is declared by hand and
// every request and response travels as a google.protobuf.Struct. The session id rides in request
// metadata.
package bankapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "teller.bank.v1.Bank"

// SessionMetadataKey carries the session id on authenticated calls.
const SessionMetadataKey = "x-session-id"

// Method names.
const (
	MethodLogin             = "Login"
	MethodListAccounts      = "ListAccounts"
	MethodGetBalance        = "GetBalance"
	MethodWithdraw          = "Withdraw"
	MethodDeposit           = "Deposit"
	MethodTransfer          = "Transfer"
	MethodGenerateStatement = "GenerateStatement"
	MethodChangePin         = "ChangePin"
	MethodRefreshSession    = "RefreshSession"
	MethodLogout            = "Logout"
)

var methods = []string{
	MethodLogin,
	MethodListAccounts,
	MethodGetBalance,
	MethodWithdraw,
	MethodDeposit,
	MethodTransfer,
	MethodGenerateStatement,
	MethodChangePin,
	MethodRefreshSession,
	MethodLogout,
}

// FullMethod returns the gRPC path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Handler serves every bank method. Implementations return status errors built with the
// helpers in errors.go so the kiosk can classify them.
type Handler interface {
	Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

// serviceDesc is built once from methods.
var serviceDesc = func() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Handler)(nil),
		Metadata:    "teller/bank/v1/bank.proto",
	}
	for _, method := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: method,
			Handler:    unaryHandler(method),
		})
	}
	return desc
}()

// RegisterServer mounts h on s.
func RegisterServer(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

func unaryHandler(method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		if interceptor == nil {
			return h.Call(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h.Call(ctx, method, req.(*structpb.Struct))
		})
	}
}

// IncomingSessionID returns the session id a client attached to ctx, or "".
func IncomingSessionID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(SessionMetadataKey); len(values) > 0 {
		return values[0]
	}
	return ""
}
