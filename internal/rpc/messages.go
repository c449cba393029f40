// Package rpc is the wire contract of the key-management service: request
// and response messages, a JSON codec, the service descriptor and a client.
package rpc

import "time"

type IssueKeyRequest struct {
	DisplayName string `json:"display_name"`
}

type RegenerateKeyRequest struct{}

// KeyResponse carries a freshly issued key. Key is shown once.
type KeyResponse struct {
	Key       string `json:"key"`
	KeyPrefix string `json:"key_prefix"`
	AccountID string `json:"account_id"`
}

type RevokeKeyRequest struct{}

type RevokeKeyResponse struct {
	KeyPrefix string `json:"key_prefix"`
}

type RevealKeyRequest struct{}

type RevealKeyResponse struct {
	Key string `json:"key"`
}

type DescribeAccountRequest struct{}

type AccountResponse struct {
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	KeyPrefix   string    `json:"key_prefix"`
	IsPrivate   bool      `json:"is_private"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
