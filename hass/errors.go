package hass

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error reported by Home Assistant, either as an HTTP status
// or as an unsuccessful websocket result.
type Error struct {
	Code    int            `json:"code"`
	Kind    string         `json:"kind,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("home assistant error %s: %s", e.Kind, e.Message)
	}
	if e.Details != nil {
		return fmt.Sprintf("home assistant error %d: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("home assistant error %d: %s", e.Code, e.Message)
}

// Is matches sentinel errors by code and kind so wrapped copies compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Kind == t.Kind
}

var (
	ErrUnauthorized = &Error{
		Code:    http.StatusUnauthorized,
		Message: "unauthorized access to Home Assistant",
	}
	ErrEntityNotFound = &Error{
		Code:    http.StatusNotFound,
		Message: "entity not found",
	}
	ErrNotConnected = &Error{
		Kind:    "not_connected",
		Message: "websocket connection not established",
	}
	ErrTimeout = &Error{
		Kind:    "timeout",
		Message: "timeout waiting for Home Assistant",
	}
	ErrAuthInvalid = &Error{
		Kind:    "auth_invalid",
		Message: "access token rejected",
	}
)

// ErrIDCollision matches every CollisionError.
var ErrIDCollision = errors.New("helper object id already taken")

// CollisionError reports a helper that Home Assistant created under a suffixed
// object ID because the requested one was taken.
type CollisionError struct {
	EntityID  string
	CreatedAs string
	// Removed is set once the stray helper has been deleted again.
	Removed bool
}

func (e *CollisionError) Error() string {
	if e.Removed {
		return fmt.Sprintf("helper %s was created as %s and removed again", e.EntityID, e.CreatedAs)
	}
	return fmt.Sprintf("helper %s was created as %s", e.EntityID, e.CreatedAs)
}

func (e *CollisionError) Is(target error) bool {
	return target == ErrIDCollision
}

// NewError creates an Error with custom details.
func NewError(code int, message string, details map[string]any) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsRetryable reports whether a request failing with err may succeed later.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrIDCollision) {
		return false
	}

	var haErr *Error
	if errors.As(err, &haErr) {
		switch {
		case haErr.Code == http.StatusUnauthorized, haErr.Code == http.StatusNotFound:
			return false
		case haErr.Kind == "auth_invalid":
			return false
		case haErr.Code >= 400 && haErr.Code < 500 && haErr.Code != http.StatusTooManyRequests:
			return false
		}
	}

	return true
}
