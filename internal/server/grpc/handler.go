package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/usageledger/internal/common"
	"github.com/dmitrijs2005/usageledger/internal/rpc"
	"github.com/dmitrijs2005/usageledger/internal/server/auth"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) session(ctx context.Context) (*auth.Claims, error) {
	claims, ok := claimsFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing session")
	}
	return claims, nil
}

// toStatus maps service errors to gRPC codes. Unknown errors are logged and
// reported without detail.
func (s *GRPCServer) toStatus(ctx context.Context, method string, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return status.Error(codes.NotFound, "account not found")
	case errors.Is(err, common.ErrAccountInactive):
		return status.Error(codes.FailedPrecondition, "account is inactive")
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, "invalid request")
	case errors.Is(err, common.ErrKeyNotRetrievable):
		return status.Error(codes.FailedPrecondition, "key cannot be retrieved; regenerate it instead")
	}
	s.logger.Error(ctx, "key management failed", "method", method, "error", err)
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) IssueKey(ctx context.Context, req *rpc.IssueKeyRequest) (*rpc.KeyResponse, error) {
	claims, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	name := req.DisplayName
	if name == "" {
		name = claims.DisplayName
	}

	issued, err := s.keys.Issue(ctx, claims.AccountID, name)
	if err != nil {
		return nil, s.toStatus(ctx, "IssueKey", err)
	}

	s.logger.Info(ctx, "Key issued", "account_id", claims.AccountID, "key_prefix", issued.Prefix)
	return &rpc.KeyResponse{Key: issued.Key, KeyPrefix: issued.Prefix, AccountID: claims.AccountID}, nil
}

func (s *GRPCServer) RegenerateKey(ctx context.Context, _ *rpc.RegenerateKeyRequest) (*rpc.KeyResponse, error) {
	claims, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	issued, err := s.keys.Regenerate(ctx, claims.AccountID)
	if err != nil {
		return nil, s.toStatus(ctx, "RegenerateKey", err)
	}

	s.logger.Info(ctx, "Key regenerated", "account_id", claims.AccountID, "key_prefix", issued.Prefix)
	return &rpc.KeyResponse{Key: issued.Key, KeyPrefix: issued.Prefix, AccountID: claims.AccountID}, nil
}

func (s *GRPCServer) RevokeKey(ctx context.Context, _ *rpc.RevokeKeyRequest) (*rpc.RevokeKeyResponse, error) {
	claims, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.keys.Revoke(ctx, claims.AccountID); err != nil {
		return nil, s.toStatus(ctx, "RevokeKey", err)
	}

	return &rpc.RevokeKeyResponse{KeyPrefix: common.RevokedKeyPrefix}, nil
}

func (s *GRPCServer) RevealKey(ctx context.Context, _ *rpc.RevealKeyRequest) (*rpc.RevealKeyResponse, error) {
	claims, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.Reveal(ctx, claims.AccountID)
	if err != nil {
		return nil, s.toStatus(ctx, "RevealKey", err)
	}

	return &rpc.RevealKeyResponse{Key: key}, nil
}

func (s *GRPCServer) DescribeAccount(ctx context.Context, _ *rpc.DescribeAccountRequest) (*rpc.AccountResponse, error) {
	claims, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	a, err := s.keys.Describe(ctx, claims.AccountID)
	if err != nil {
		return nil, s.toStatus(ctx, "DescribeAccount", err)
	}

	return &rpc.AccountResponse{
		AccountID:   a.ID,
		DisplayName: a.DisplayName,
		KeyPrefix:   a.KeyPrefix,
		IsPrivate:   a.IsPrivate,
		Active:      a.Active,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}, nil
}
