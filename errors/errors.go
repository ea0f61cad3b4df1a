package errors

import (
	"fmt"
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
)

// Kind is the machine readable category of an Error. It is what socket clients
// receive in error.details.kind.
type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindNotAuthorized Kind = "not_authorized"
	KindBlocked       Kind = "blocked"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal_error"
)

type Error struct {
	Message string            `json:"message"`
	Kind    Kind              `json:"kind"`
	Status  int               `json:"-"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error whose kind is derived from the http status.
func New(message string, status int) *Error {
	return &Error{
		Message: message,
		Status:  status,
		Kind:    kindForStatus(status),
	}
}

func InvalidInput(message string) *Error {
	return &Error{Message: message, Status: http.StatusBadRequest, Kind: KindInvalidInput}
}

func NotAuthorized(message string) *Error {
	return &Error{Message: message, Status: http.StatusForbidden, Kind: KindNotAuthorized}
}

func Blocked(message string) *Error {
	return &Error{Message: message, Status: http.StatusForbidden, Kind: KindBlocked}
}

func NotFound(message string) *Error {
	return &Error{Message: message, Status: http.StatusNotFound, Kind: KindNotFound}
}

// Internal hides err from the caller but keeps it for logging and errors.Is.
func Internal(message string, err error) *Error {
	return &Error{Message: message, Status: http.StatusInternalServerError, Kind: KindInternal, Err: err}
}

// From converts any error into an *Error. Errors that are not already typed are
// treated as internal failures.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if pkgerrors.As(err, &e) {
		return e
	}
	return Internal("internal server error", err)
}

// KindOf reports the kind of err, or the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusTooManyRequests:
		return KindInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindNotAuthorized
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindInternal
	}
}

var (
	ErrInternalServerError = New("internal server error", http.StatusInternalServerError)
	ErrUnauthorized        = New("Unauthorized", http.StatusUnauthorized)
)

// ErrorHandler is the gin-rate-limit callback used when a client exceeds its quota.
func ErrorHandler(c *gin.Context, info ratelimit.Info) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"message":   "too many requests",
		"errors":    fmt.Sprintf("try again in %s", time.Until(info.ResetTime).Round(time.Second)),
		"status":    http.StatusText(http.StatusTooManyRequests),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
