// Package api is the HTTP client for the ingest and verify endpoints. Every
// request is signed with the account's API key.
package api
