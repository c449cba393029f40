package common

// Request authentication headers used by the ingest and verify endpoints.
const (
	APIKeyHeaderName    = "X-Api-Key"
	TimestampHeaderName = "X-Timestamp"
	SignatureHeaderName = "X-Signature"
)

// AuthorizationMetadataKey is the gRPC metadata key carrying the session
// token as "Bearer <jwt>".
const AuthorizationMetadataKey = "authorization"

// APIKeyPrefix marks every issued key so that leaked secrets are easy to
// recognize in logs and scanners.
const APIKeyPrefix = "ulk_"

// RevokedKeyPrefix replaces the display prefix of a revoked key.
const RevokedKeyPrefix = "revoked"
