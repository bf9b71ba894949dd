package response

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the envelope so clients can branch without parsing
// messages.
const (
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeNotFound        = "not_found"
	CodeQuotaExceeded   = "quota_exceeded"
	CodeUpstreamFailure = "upstream_failure"
	CodeInternal        = "internal_error"
)

// APIResponse is the standard API response wrapper
type APIResponse struct {
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
	Meta  *Meta       `json:"meta,omitempty"`
}

// Meta contains request metadata
type Meta struct {
	RequestID string `json:"request_id"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Log error but don't try to write again
			return
		}
	}
}

// Success writes a success response with data
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, APIResponse{
		Data: data,
	})
}

// Created writes a 201 created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, APIResponse{
		Data: data,
	})
}

// NoContent writes a 204 no content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes an error response
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, APIResponse{
		Error: message,
		Code:  code,
	})
}

// NotFound writes a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	Error(w, http.StatusNotFound, CodeNotFound, message)
}

// BadRequest writes a 400 bad request response
func BadRequest(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Bad request"
	}
	Error(w, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized writes a 401 response
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	Error(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// QuotaExceeded writes a 402 response; clients route it to the upgrade prompt
func QuotaExceeded(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusPaymentRequired, APIResponse{
		Data:  data,
		Error: "No credits left. Upgrade to Pro or wait for the next refill.",
		Code:  CodeQuotaExceeded,
	})
}

// UpstreamFailure writes a 502 response for LLM or payment gateway errors
func UpstreamFailure(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Upstream service failed, please try again"
	}
	Error(w, http.StatusBadGateway, CodeUpstreamFailure, message)
}

// InternalError writes a 500 internal server error response
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Internal server error"
	}
	Error(w, http.StatusInternalServerError, CodeInternal, message)
}
