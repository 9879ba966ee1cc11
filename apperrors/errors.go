// Package apperrors defines the typed error taxonomy shared by every layer.
// Each kind carries a stable code and the HTTP status the API reports for it.
package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Code is the stable, client-facing identifier of an error kind.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeDuplicateEmail     Code = "DUPLICATE_EMAIL"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeExpiredToken       Code = "EXPIRED_TOKEN"
	CodeMissingToken       Code = "MISSING_TOKEN"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeConflict           Code = "CONFLICT"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeTimeout            Code = "TIMEOUT"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError is an error with a code, a user-facing message and an HTTP status.
type AppError struct {
	Code    Code
	Message string
	Status  int
	Details []FieldError
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithCause attaches an underlying error that is logged but never shown to clients.
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

func newError(code Code, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// NewValidationError creates a validation error with optional field details
func NewValidationError(message string, details ...FieldError) *AppError {
	e := newError(CodeValidation, http.StatusBadRequest, message)
	e.Details = details
	return e
}

// NewFieldError is a shortcut for a validation error on a single field.
func NewFieldError(field, message string) *AppError {
	return NewValidationError(message, FieldError{Field: field, Message: message})
}

func NewDuplicateEmailError() *AppError {
	return newError(CodeDuplicateEmail, http.StatusBadRequest, "User with this email already exists")
}

// NewInvalidCredentialsError never says which of email or password was wrong.
func NewInvalidCredentialsError() *AppError {
	return newError(CodeInvalidCredentials, http.StatusUnauthorized, "Invalid email or password")
}

func NewInvalidTokenError() *AppError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid authorization token")
}

func NewExpiredTokenError() *AppError {
	return newError(CodeExpiredToken, http.StatusUnauthorized, "Authorization token has expired, please log in again")
}

func NewMissingTokenError() *AppError {
	return newError(CodeMissingToken, http.StatusUnauthorized, "No authorization token provided")
}

func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "You are not allowed to perform this action"
	}
	return newError(CodeForbidden, http.StatusForbidden, message)
}

func NewNotFoundError(resource string) *AppError {
	return newError(CodeNotFound, http.StatusNotFound, resource+" not found")
}

func NewInvalidTransitionError(from, to string) *AppError {
	return newError(CodeInvalidTransition, http.StatusBadRequest,
		fmt.Sprintf("Cannot change status from %q to %q", from, to))
}

func NewConflictError(message string) *AppError {
	return newError(CodeConflict, http.StatusConflict, message)
}

func NewRateLimitedError(message string) *AppError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, message)
}

func NewTimeoutError() *AppError {
	return newError(CodeTimeout, http.StatusGatewayTimeout, "The request took too long to complete")
}

// NewInternalError hides err from the client; the message is always generic.
func NewInternalError(err error) *AppError {
	return newError(CodeInternal, http.StatusInternalServerError, "Something went wrong").WithCause(err)
}

// As extracts an AppError from err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// From classifies any error. Deadline and cancellation map to Timeout,
// validator and JSON decoding failures to ValidationError, the rest to InternalError.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTimeoutError().WithCause(err)
	}
	if vErr := FromValidator(err); vErr != nil {
		return vErr
	}
	return NewInternalError(err)
}

// FromValidator converts binding failures into a ValidationError with field details.
// It returns nil when err is not a binding failure.
func FromValidator(err error) *AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{
				Field:   lowerFirst(fe.Field()),
				Message: describeTag(fe),
			})
		}
		return NewValidationError("Request validation failed", details...).WithCause(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return NewValidationError("Malformed JSON body").WithCause(err)
	case errors.As(err, &typeErr):
		return NewFieldError(typeErr.Field, "has the wrong type").WithCause(err)
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "latitude", "longitude":
		return "must be a valid " + fe.Tag()
	}
	return "is invalid"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
