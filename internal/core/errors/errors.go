package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType groups domain errors by how a caller is expected to react to them.
type ErrorType string

const (
	// Synchronous, returned before any task is created or mutated.
	ErrorTypeAdmission    ErrorType = "admission"
	ErrorTypePrecondition ErrorType = "precondition"
	ErrorTypeNotFound     ErrorType = "not_found"

	// Asynchronous, captured on the task.
	ErrorTypeTransfer ErrorType = "transfer"

	// Logged and repaired by reconciliation, never returned as a failure.
	ErrorTypeReconciliation ErrorType = "reconciliation"

	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeFileSystem ErrorType = "filesystem"
	ErrorTypeInternal   ErrorType = "internal"
)

// DomainError is a typed, user-actionable error.
type DomainError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so that detailed copies still match their sentinel.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// IsRetryable reports whether the same request may succeed later without user action.
func (e *DomainError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTransfer:
		return e.Code != ErrIntegrityMismatch.Code
	case ErrorTypeAdmission:
		return e.Code == ErrNetworkRequired.Code || e.Code == ErrWifiRequired.Code
	default:
		return false
	}
}

func NewDomainError(errType ErrorType, code, message string) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

func WrapDomainError(err error, errType ErrorType, code, message string) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithDetails returns a copy of e carrying the merged details. Sentinels are never mutated.
func (e *DomainError) WithDetails(details map[string]any) *DomainError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// WithCause returns a copy of e wrapping err.
func (e *DomainError) WithCause(err error) *DomainError {
	cp := *e
	cp.Cause = err
	return &cp
}

// As extracts the first DomainError from err's chain.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// TypeOf returns the ErrorType of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	if de, ok := As(err); ok {
		return de.Type
	}
	return ErrorTypeInternal
}

// Admission errors
var (
	ErrAlreadyOffline = NewDomainError(ErrorTypeAdmission, "already_offline",
		"track is already available offline")
	ErrAlreadyDownloading = NewDomainError(ErrorTypeAdmission, "already_downloading",
		"track is already downloading")
	ErrAlreadyQueued = NewDomainError(ErrorTypeAdmission, "already_queued",
		"track is already queued for download")
	ErrInsufficientSpace = NewDomainError(ErrorTypeAdmission, "insufficient_space",
		"not enough offline storage space")
	ErrNetworkRequired = NewDomainError(ErrorTypeAdmission, "network_required",
		"a network connection is required")
	ErrWifiRequired = NewDomainError(ErrorTypeAdmission, "wifi_required",
		"downloads are restricted to wifi")
	ErrInvalidQuality = NewDomainError(ErrorTypeAdmission, "invalid_quality",
		"unknown download quality")
	ErrInvalidTrack = NewDomainError(ErrorTypeAdmission, "invalid_track",
		"track has no id")
)

// Precondition errors
var (
	ErrInvalidState = NewDomainError(ErrorTypePrecondition, "invalid_state",
		"invalid state for operation")
	ErrShuttingDown = NewDomainError(ErrorTypePrecondition, "shutting_down",
		"download manager is shutting down")
)

// Not found errors
var (
	ErrTaskNotFound = NewDomainError(ErrorTypeNotFound, "task_not_found",
		"no download task for track")
	ErrOfflineTrackNotFound = NewDomainError(ErrorTypeNotFound, "offline_track_not_found",
		"track is not available offline")
)

// Transfer errors
var (
	ErrTransferFailed = NewDomainError(ErrorTypeTransfer, "io_error",
		"transfer failed")
	ErrRemoteStatus = NewDomainError(ErrorTypeTransfer, "remote_status",
		"remote storage returned an error status")
	ErrIntegrityMismatch = NewDomainError(ErrorTypeTransfer, "integrity_mismatch",
		"transferred length does not match the advertised length")
)

// Reconciliation warnings
var (
	ErrOrphanFile = NewDomainError(ErrorTypeReconciliation, "orphan_file",
		"file without offline record")
	ErrDanglingRecord = NewDomainError(ErrorTypeReconciliation, "dangling_record",
		"offline record without file")
	ErrSizeDrift = NewDomainError(ErrorTypeReconciliation, "size_drift",
		"offline record size differs from file size")
)
