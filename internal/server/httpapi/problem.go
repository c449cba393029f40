package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// Error codes, stable across releases.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeBatchTooLarge        = "BATCH_TOO_LARGE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeInternalError        = "INTERNAL_ERROR"
	CodeNotReady             = "NOT_READY"
)

// Problem is the body of every error response.
type Problem struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
	ResetAt *time.Time          `json:"reset_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteProblem(w http.ResponseWriter, status int, p Problem) {
	writeJSON(w, status, p)
}

// writeAuthFailed is the single response for every authentication failure.
func writeAuthFailed(w http.ResponseWriter) {
	WriteProblem(w, http.StatusUnauthorized, Problem{
		Code:    CodeAuthenticationFailed,
		Message: "authentication failed",
	})
}

func writeInternal(w http.ResponseWriter) {
	WriteProblem(w, http.StatusInternalServerError, Problem{
		Code:    CodeInternalError,
		Message: "internal error",
	})
}

func writePayloadTooLarge(w http.ResponseWriter) {
	WriteProblem(w, http.StatusRequestEntityTooLarge, Problem{
		Code:    CodePayloadTooLarge,
		Message: "request body too large",
	})
}

func writeMalformed(w http.ResponseWriter, err error) {
	WriteProblem(w, http.StatusBadRequest, Problem{
		Code:    CodeValidationFailed,
		Message: "malformed request body",
		Errors:  map[string][]string{"body": {err.Error()}},
	})
}
