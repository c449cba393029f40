package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/server/audit"
	"github.com/dmitrijs2005/usageledger/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func newTestServer(secret string) *GRPCServer {
	return &GRPCServer{
		logger:    nopLogger{},
		jwtSecret: []byte(secret),
		keys:      &fakeKeys{},
	}
}

var issueInfo = &grpc.UnaryServerInfo{FullMethod: "/usageledger.keys.v1.KeyService/IssueKey"}

func incoming(value string) context.Context {
	md := metadata.New(map[string]string{common.AuthorizationMetadataKey: value})
	return metadata.NewIncomingContext(context.Background(), md)
}

func mustNotCall(t *testing.T) grpc.UnaryHandler {
	return func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called")
		return nil, nil
	}
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer("secret")

	_, err := s.sessionInterceptor(context.Background(), nil, issueInfo, mustNotCall(t))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "missing token" {
		t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_NotBearer(t *testing.T) {
	s := newTestServer("secret")

	tok, _ := auth.GenerateToken("acc-1", "", []byte("secret"), time.Hour)
	_, err := s.sessionInterceptor(incoming("Basic "+tok), nil, issueInfo, mustNotCall(t))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
}

func TestInterceptor_InvalidToken(t *testing.T) {
	s := newTestServer("secret")

	_, err := s.sessionInterceptor(incoming("Bearer not-a-valid-jwt"), nil, issueInfo, mustNotCall(t))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "invalid token" {
		t.Fatalf("unexpected message %q", status.Convert(err).Message())
	}
}

func TestInterceptor_ExpiredToken(t *testing.T) {
	s := newTestServer("secret")

	tok, err := auth.GenerateToken("acc-1", "", []byte("secret"), -time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = s.sessionInterceptor(incoming("Bearer "+tok), nil, issueInfo, mustNotCall(t))
	if status.Convert(err).Message() != "token expired" {
		t.Fatalf("expected 'token expired', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_ValidToken_SetsSession(t *testing.T) {
	secret := "super-secret"
	s := newTestServer(secret)

	token, err := auth.GenerateToken("acc-123", "Alice", []byte(secret), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	ctx := incoming("bearer " + token)
	ctx = peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 4242}})

	var gotAccount, gotActor, gotAddr string
	h := func(ctx context.Context, req any) (any, error) {
		c, ok := claimsFrom(ctx)
		if ok {
			gotAccount = c.AccountID
		}
		gotActor = audit.ActorFrom(ctx)
		gotAddr = audit.RemoteAddrFrom(ctx)
		return "ok", nil
	}

	resp, err := s.sessionInterceptor(ctx, nil, issueInfo, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
	if gotAccount != "acc-123" {
		t.Fatalf("account not propagated: got %q", gotAccount)
	}
	if gotActor != "session:acc-123" {
		t.Fatalf("actor not propagated: got %q", gotActor)
	}
	if gotAddr != "10.0.0.7:4242" {
		t.Fatalf("remote addr not propagated: got %q", gotAddr)
	}
}
