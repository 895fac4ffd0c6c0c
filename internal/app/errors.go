package app

import (
	"errors"

	"github.com/Guilhem-Bonnet/streamhub/internal/ports"
)

var ErrNotFound = ports.ErrNotFound

var (
	ErrTMDBNotConfigured = errors.New("tmdb not configured")
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrBootstrapFailed   = errors.New("download bootstrap failed")
	ErrInvalidSelection  = errors.New("invalid selection")
	ErrTargetNotAllowed  = errors.New("proxy target not allowed")
)

// CodedError porte un code stable renvoyé au client (ex: bootstrap_failed).
//
// Exemples de codes: invalid_params, http_status, network_error, bootstrap_failed.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

// ErrorCode renvoie le code d'un CodedError enveloppé, ou "" sinon.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
