// Package keys is the key-management client used by usagectl. It talks to
// KeyService over gRPC and attaches the web session token to every call.
package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type Client struct {
	conn  *grpc.ClientConn
	rpc   *rpc.KeyServiceClient
	token string
}

// withSessionToken replaces any authorization metadata already on ctx.
func withSessionToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AuthorizationMetadataKey, "Bearer "+token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) sessionTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(withSessionToken(ctx, c.token), method, req, reply, cc, opts...)
}

// Dial connects to addr. Extra options are appended after the defaults, so
// callers can override the transport.
func Dial(addr, token string, opts ...grpc.DialOption) (*Client, error) {
	if token == "" {
		return nil, errors.New("session token is required")
	}

	c := &Client{token: token}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.sessionTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.conn = conn
	c.rpc = rpc.NewKeyServiceClient(conn)
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Issue(ctx context.Context, displayName string) (*rpc.KeyResponse, error) {
	return unwrap(c.rpc.IssueKey(ctx, &rpc.IssueKeyRequest{DisplayName: displayName}))
}

func (c *Client) Regenerate(ctx context.Context) (*rpc.KeyResponse, error) {
	return unwrap(c.rpc.RegenerateKey(ctx, &rpc.RegenerateKeyRequest{}))
}

func (c *Client) Revoke(ctx context.Context) (*rpc.RevokeKeyResponse, error) {
	return unwrap(c.rpc.RevokeKey(ctx, &rpc.RevokeKeyRequest{}))
}

func (c *Client) Reveal(ctx context.Context) (*rpc.RevealKeyResponse, error) {
	return unwrap(c.rpc.RevealKey(ctx, &rpc.RevealKeyRequest{}))
}

func (c *Client) Describe(ctx context.Context) (*rpc.AccountResponse, error) {
	return unwrap(c.rpc.DescribeAccount(ctx, &rpc.DescribeAccountRequest{}))
}

// Error is a failed call reduced to its status code and message.
type Error struct {
	Code    string
	Message string
	err     error
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func unwrap[T any](resp *T, err error) (*T, error) {
	if err == nil {
		return resp, nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return nil, err
	}
	e := &Error{Code: st.Code().String(), Message: st.Message()}
	switch st.Code() {
	case codes.Unauthenticated:
		e.err = common.ErrUnauthorized
	case codes.NotFound:
		e.err = common.ErrNotFound
	case codes.Internal:
		e.err = common.ErrInternal
	}
	return nil, e
}
