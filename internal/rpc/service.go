package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "usageledger.keys.v1.KeyService"

// Full method names, as seen by interceptors.
const (
	MethodIssueKey        = "/" + ServiceName + "/IssueKey"
	MethodRegenerateKey   = "/" + ServiceName + "/RegenerateKey"
	MethodRevokeKey       = "/" + ServiceName + "/RevokeKey"
	MethodRevealKey       = "/" + ServiceName + "/RevealKey"
	MethodDescribeAccount = "/" + ServiceName + "/DescribeAccount"
)

// KeyServiceServer is implemented by the server. The caller's account comes
// from the authenticated session, never from the request.
type KeyServiceServer interface {
	IssueKey(context.Context, *IssueKeyRequest) (*KeyResponse, error)
	RegenerateKey(context.Context, *RegenerateKeyRequest) (*KeyResponse, error)
	RevokeKey(context.Context, *RevokeKeyRequest) (*RevokeKeyResponse, error)
	RevealKey(context.Context, *RevealKeyRequest) (*RevealKeyResponse, error)
	DescribeAccount(context.Context, *DescribeAccountRequest) (*AccountResponse, error)
}

func RegisterKeyServiceServer(s grpc.ServiceRegistrar, srv KeyServiceServer) {
	s.RegisterService(&KeyServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[Req any, Resp any](method string, call func(KeyServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(KeyServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(KeyServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var KeyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KeyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IssueKey", Handler: unaryHandler(MethodIssueKey, KeyServiceServer.IssueKey)},
		{MethodName: "RegenerateKey", Handler: unaryHandler(MethodRegenerateKey, KeyServiceServer.RegenerateKey)},
		{MethodName: "RevokeKey", Handler: unaryHandler(MethodRevokeKey, KeyServiceServer.RevokeKey)},
		{MethodName: "RevealKey", Handler: unaryHandler(MethodRevealKey, KeyServiceServer.RevealKey)},
		{MethodName: "DescribeAccount", Handler: unaryHandler(MethodDescribeAccount, KeyServiceServer.DescribeAccount)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "usageledger/keys/v1/keys.json",
}
