package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloo-solutions/homilia/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BodyTooLarge writes the 413 response for a request body over limit bytes.
// It uses the validation envelope so clients handle it like any rejected input.
func BodyTooLarge(w http.ResponseWriter, limit int64) {
	JSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
		Error: fmt.Sprintf("request body exceeds %s", formatBytes(limit)),
		Code:  domain.ErrCodeValidation,
		Stage: string(domain.StageValidate),
	})
}

func formatBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}

// CodeToHTTP maps a domain error code to an HTTP status code
func CodeToHTTP(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeUpstreamUnavailable:
		return http.StatusBadGateway
	case domain.ErrCodePartialFailure:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var de *domain.DomainError
	var f *domain.Failure
	if !errors.As(err, &de) && !errors.As(err, &f) {
		return http.StatusInternalServerError
	}
	return CodeToHTTP(domain.CodeOf(err))
}

// HandleError writes an appropriate error response based on the error type
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	resp := ErrorResponse{Error: err.Error()}
	var de *domain.DomainError
	if errors.As(err, &de) {
		resp.Code = de.Code
		resp.Error = de.Message
	}
	JSON(w, status, resp)
}

// HandleFailure writes the error response for a failed pipeline result
func HandleFailure(w http.ResponseWriter, f *domain.Failure) {
	JSON(w, CodeToHTTP(f.Kind), ErrorResponse{
		Error: f.Message,
		Code:  f.Kind,
		Stage: string(f.Stage),
	})
}
