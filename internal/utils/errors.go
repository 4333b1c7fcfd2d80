package utils

import (
	"errors"
)

var (
	ErrConfigurationError = errors.New("configuration error")
	ErrDatabaseError      = errors.New("database operation failed")
	ErrInvalidTrackID     = errors.New("invalid track id")
)

type WrappedError struct {
	Err     error
	Message string
	Context map[string]any
}

func (w *WrappedError) Error() string {
	if w.Message != "" {
		return w.Message + ": " + w.Err.Error()
	}
	return w.Err.Error()
}

func (w *WrappedError) Unwrap() error {
	return w.Err
}

func WrapError(err error, message string, ctx map[string]any) error {
	return &WrappedError{
		Err:     err,
		Message: message,
		Context: ctx,
	}
}
