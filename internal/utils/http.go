// Package utils provides utility functions used throughout the application.
package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"norelock.dev/listenify/bragi/internal/models"
)

// APIResponse represents a standard API response.
type APIResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

// ValidationErrorItem represents a single validation error.
type ValidationErrorItem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RespondWithJSON sends a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			GetLogger().Error("Failed to encode JSON response", err)
		}
	}
}

// RespondWithData wraps data in a successful APIResponse.
func RespondWithData(w http.ResponseWriter, data any) {
	RespondWithJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondWithError writes err as a models.ErrorResponse with the mapped status.
func RespondWithError(w http.ResponseWriter, err error) {
	resp := models.NewErrorResponse(err)
	RespondWithJSON(w, resp.Error.Code, resp)
}

// RespondWithValidationError sends a validation error response.
func RespondWithValidationError(w http.ResponseWriter, err error) {
	var items []ValidationErrorItem

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for field, message := range FormatValidationErrors(verrs) {
			items = append(items, ValidationErrorItem{Field: field, Message: message})
		}
	} else {
		items = append(items, ValidationErrorItem{Field: "general", Message: err.Error()})
	}

	RespondWithJSON(w, http.StatusBadRequest, APIResponse{
		Success: false,
		Error: map[string]any{
			"message": "Validation failed",
			"errors":  items,
		},
	})
}

// ExtractBearerToken extracts the Bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: no token provided", models.ErrUnauthorized)
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", fmt.Errorf("%w: invalid token format", models.ErrUnauthorized)
	}

	return token, nil
}

// GetRequestIP returns the client address, preferring X-Forwarded-For.
func GetRequestIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}

	if first, _, ok := strings.Cut(ip, ","); ok {
		ip = strings.TrimSpace(first)
	}

	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

// SplitList splits a comma separated query value, dropping blanks.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
