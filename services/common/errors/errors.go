package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is an application error carrying the HTTP status, a stable
// machine-readable code and a message safe to show callers.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so sentinels work with errors.Is after wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e carrying err.
func (e *Error) Wrap(err error) *Error {
	return &Error{Status: e.Status, Code: e.Code, Message: e.Message, Err: err}
}

// New creates a new Error
func New(status int, code, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

var (
	ErrBadRequest     = New(http.StatusBadRequest, "BAD_REQUEST", "Bad request", nil)
	ErrUnauthorized   = New(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	ErrNotFound       = New(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	ErrTooManyRequest = New(http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded. Please try again later.", nil)
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL", "Internal server error", nil)
)

// Body is the error envelope every endpoint returns.
func Body(code, message string) gin.H {
	return gin.H{"status": "error", "code": code, "message": message}
}

// Abort writes err as the error envelope and stops the handler chain.
// Errors that are not *Error are reported as internal errors.
func Abort(c *gin.Context, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternalServer.Wrap(err)
	}
	c.AbortWithStatusJSON(appErr.Status, Body(appErr.Code, appErr.Message))
}

// ErrorMiddleware renders the last error attached with c.Error when the
// handler did not write a response itself.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Abort(c, c.Errors.Last().Err)
	}
}
