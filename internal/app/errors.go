package app

import (
	"errors"
	"fmt"
	"net/http"

	"schemedesk/api/internal/auth"
	"schemedesk/api/internal/authpw"
	"schemedesk/api/internal/export"
	"schemedesk/api/internal/insight"
	"schemedesk/api/internal/recordstore"
	"schemedesk/api/internal/session"
	"schemedesk/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validation *recordstore.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Error(), nil
	}
	var inputErr *authpw.InputError
	if errors.As(err, &inputErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", inputErr.Message, nil
	}

	var inference *insight.InferenceError
	if errors.As(err, &inference) {
		details := map[string]any{"op": inference.Op}
		if insight.IsMalformed(err) {
			details["reason"] = "malformed"
		}
		return http.StatusBadGateway, "ANALYSIS_FAILED", fmt.Sprintf("AI %s failed", inference.Op), details
	}

	var persistence *recordstore.PersistenceError
	if errors.As(err, &persistence) {
		if errors.Is(err, store.ErrNotFound) {
			return http.StatusNotFound, "NOT_FOUND", "Record not found", nil
		}
		return http.StatusBadGateway, "PERSISTENCE_FAILED", persistence.Error(), nil
	}

	switch {
	case errors.Is(err, authpw.ErrEmailTaken), errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html, pdf or docx", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export format is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
