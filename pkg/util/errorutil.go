package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewInvalidTransition names the violated workflow rule verbatim.
func NewInvalidTransition(from, to string) error {
	return NewDomainError(
		"INVALID_TRANSITION",
		fmt.Sprintf("invalid transition from %s to %s", from, to),
		http.StatusConflict,
		map[string]any{"from": from, "to": to},
	)
}

// NewSelfMerge rejects merging a request into itself.
func NewSelfMerge(requestID string) error {
	return NewDomainError(
		"SELF_MERGE",
		"cannot merge a request into itself",
		http.StatusConflict,
		map[string]any{"request_id": requestID},
	)
}

// NewNoActiveAgents signals an empty active-agent pool. This is a domain
// level failure; the caller can retry later or fall back to manual
// assignment.
func NewNoActiveAgents() error {
	return NewDomainError("NO_ACTIVE_AGENTS", "no active agents available", http.StatusConflict, nil)
}

// NewNoSuitableAgent signals that filtering left no candidate.
func NewNoSuitableAgent() error {
	return NewDomainError("NO_SUITABLE_AGENT", "no suitable agent for request", http.StatusConflict, nil)
}

// NewAgentNotFound is surfaced distinctly from request NOT_FOUND so the
// caller can report precisely which entity was missing.
func NewAgentNotFound(agentID string) error {
	return NewDomainError(
		"AGENT_NOT_FOUND",
		"agent not found",
		http.StatusNotFound,
		map[string]any{"agent_id": agentID},
	)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
