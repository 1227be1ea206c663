package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"accounts-service/internal/service"
	"accounts-service/internal/util"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	util.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode maps a service error onto its HTTP status.
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDuplicateHandle),
		errors.Is(err, service.ErrDuplicateEmail),
		errors.Is(err, service.ErrDuplicatePAN):
		return http.StatusConflict
	case errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrReferralNotFound),
		errors.Is(err, service.ErrKYCNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrNotVerified):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrLookupUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
