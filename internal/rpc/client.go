package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// KeyServiceClient calls KeyService over the JSON codec.
type KeyServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewKeyServiceClient(cc grpc.ClientConnInterface) *KeyServiceClient {
	return &KeyServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KeyServiceClient) IssueKey(ctx context.Context, in *IssueKeyRequest, opts ...grpc.CallOption) (*KeyResponse, error) {
	return invoke[KeyResponse](ctx, c.cc, MethodIssueKey, in, opts)
}

func (c *KeyServiceClient) RegenerateKey(ctx context.Context, in *RegenerateKeyRequest, opts ...grpc.CallOption) (*KeyResponse, error) {
	return invoke[KeyResponse](ctx, c.cc, MethodRegenerateKey, in, opts)
}

func (c *KeyServiceClient) RevokeKey(ctx context.Context, in *RevokeKeyRequest, opts ...grpc.CallOption) (*RevokeKeyResponse, error) {
	return invoke[RevokeKeyResponse](ctx, c.cc, MethodRevokeKey, in, opts)
}

func (c *KeyServiceClient) RevealKey(ctx context.Context, in *RevealKeyRequest, opts ...grpc.CallOption) (*RevealKeyResponse, error) {
	return invoke[RevealKeyResponse](ctx, c.cc, MethodRevealKey, in, opts)
}

func (c *KeyServiceClient) DescribeAccount(ctx context.Context, in *DescribeAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c.cc, MethodDescribeAccount, in, opts)
}
