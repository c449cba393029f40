// Package grpc serves key management over gRPC. Every method requires a
// session token and acts on the account named by it.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/usageledger/internal/logging"
	"github.com/dmitrijs2005/usageledger/internal/rpc"
	"github.com/dmitrijs2005/usageledger/internal/server/credentials"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
	"google.golang.org/grpc"
)

// KeyManager is the part of credentials.Service the server calls.
type KeyManager interface {
	Issue(ctx context.Context, accountID, displayName string) (*credentials.IssuedKey, error)
	Regenerate(ctx context.Context, accountID string) (*credentials.IssuedKey, error)
	Revoke(ctx context.Context, accountID string) error
	Reveal(ctx context.Context, accountID string) (string, error)
	Describe(ctx context.Context, accountID string) (*models.Account, error)
}

type GRPCServer struct {
	address   string
	keys      KeyManager
	logger    logging.Logger
	jwtSecret []byte
}

var _ rpc.KeyServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, keys KeyManager, secretKey string) (*GRPCServer, error) {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		keys:      keys,
		jwtSecret: []byte(secretKey),
	}, nil
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.sessionInterceptor))
	rpc.RegisterKeyServiceServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
