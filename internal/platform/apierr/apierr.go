package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrAlreadyCompleted = errors.New("already completed")
	ErrInvalidSignature = errors.New("invalid signature")
	// Store sentinels; the db package wraps these so callers outside the
	// data layer can classify without importing it.
	ErrStoreTimeout     = errors.New("store connection timeout")
	ErrStoreUnavailable = errors.New("store unavailable")
)

var mappings = []struct {
	target error
	status int
	code   string
}{
	{ErrAlreadyCompleted, http.StatusConflict, "already_completed"},
	{ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{ErrStoreTimeout, http.StatusServiceUnavailable, "db_timeout"},
	{ErrStoreUnavailable, http.StatusServiceUnavailable, "db_unavailable"},
}

// FromError returns err as an *Error. Known sentinels map to their status;
// anything else becomes a 500 with fallbackCode.
func FromError(err error, fallbackCode string) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return New(m.status, m.code, err)
		}
	}
	return New(http.StatusInternalServerError, fallbackCode, err)
}
