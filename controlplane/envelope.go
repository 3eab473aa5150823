package controlplane

import (
	"encoding/json"
	"net/http"
)

// APIVersion is sent in the x-api-version header of every response.
const APIVersion = "1.0"

// Error codes carried in the response envelope.
const (
	CodeInvalidContentType    = "INVALID_CONTENT_TYPE"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeCommandExecutionError = "COMMAND_EXECUTION_ERROR"
	CodeButtonClickError      = "BUTTON_CLICK_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeInternalServerError   = "INTERNAL_SERVER_ERROR"
	CodeTooManyRequests       = "TOO_MANY_REQUESTS"
)

// Response is the envelope of every control-plane reply. Exactly one of Data
// and Error is set.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageData is the payload of confirmation replies.
type MessageData struct {
	Message string `json:"message"`
}

// ModeData is the payload of a mode change reply.
type ModeData struct {
	Mode string `json:"mode"`
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func respondJSON(w http.ResponseWriter, data any) {
	writeResponse(w, http.StatusOK, Response{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	writeResponse(w, status, Response{Success: false, Error: &Error{Code: code, Message: message}})
}
