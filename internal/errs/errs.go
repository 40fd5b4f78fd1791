package errs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Kind categorizes an error for recovery decisions.
type Kind string

const (
	KindFile       Kind = "file"
	KindValidation Kind = "validation"
	KindConfig     Kind = "config"
	KindSystem     Kind = "system"
)

// Code identifies a specific failure scenario within a kind.
type Code string

const (
	CodeFileNotFound     Code = "FILE_NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeConfigInvalid    Code = "CONFIG_INVALID"
	CodePDFCorrupt       Code = "PDF_CORRUPT"
	CodePDFEncrypted     Code = "PDF_ENCRYPTED"
	CodeBackendFailure   Code = "BACKEND_FAILURE"
	CodeCancelled        Code = "OPERATION_CANCELLED"
	CodeTimeout          Code = "TIMEOUT"
	CodeUnknown          Code = "UNKNOWN"
)

// Severity grades how serious a failure is for user-facing handling.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError carries the structured metadata the recovery manager reads.
// It never constructs recovery decisions itself; it only describes the
// failure well enough for classification.
type AppError struct {
	Kind      Kind
	Code      Code
	Severity  Severity
	Retriable bool
	Message   string
	Detail    string
	Cause     error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Code)
}

func (e *AppError) Unwrap() error { return e.Cause }

// New constructs an AppError with explicit metadata.
func New(kind Kind, code Code, severity Severity, retriable bool, message string) *AppError {
	return &AppError{
		Kind:      kind,
		Code:      code,
		Severity:  severity,
		Retriable: retriable,
		Message:   message,
	}
}

// Wrap attaches taxonomy metadata to an underlying error while keeping
// the cause reachable through errors.Is/As.
func Wrap(kind Kind, code Code, severity Severity, retriable bool, message string, cause error) *AppError {
	return &AppError{
		Kind:      kind,
		Code:      code,
		Severity:  severity,
		Retriable: retriable,
		Message:   message,
		Detail:    detailFromCause(cause),
		Cause:     cause,
	}
}

// Cancelled reports whether err represents a cancelled operation.
func Cancelled(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var app *AppError
	return errors.As(err, &app) && app.Code == CodeCancelled
}

// Details extracts the AppError from err, classifying it first when the
// error carries no taxonomy metadata.
func Details(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	return Classify(err)
}

// Classify maps an arbitrary backend error into the taxonomy. The
// backend is untrusted regarding error types, so every branch here must
// produce a usable AppError rather than propagating the raw value.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(KindSystem, CodeCancelled, SeverityLow, false, "Operation was cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindSystem, CodeTimeout, SeverityMedium, true, "Operation timed out", err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, os.ErrNotExist):
		return Wrap(KindFile, CodeFileNotFound, SeverityMedium, false, "Input file not found", err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, os.ErrPermission):
		return Wrap(KindFile, CodePermissionDenied, SeverityHigh, false, "Permission denied", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "encrypt"):
		return Wrap(KindValidation, CodePDFEncrypted, SeverityHigh, false, "PDF is encrypted and cannot be converted", err)
	case strings.Contains(msg, "corrupt"), strings.Contains(msg, "xref"), strings.Contains(msg, "malformed"):
		return Wrap(KindValidation, CodePDFCorrupt, SeverityHigh, false, "PDF appears to be corrupt", err)
	}

	return Wrap(KindSystem, CodeBackendFailure, SeverityHigh, true,
		fmt.Sprintf("Conversion failed: %s", strings.TrimSpace(err.Error())), err)
}

func detailFromCause(cause error) string {
	if cause == nil {
		return ""
	}
	return strings.TrimSpace(cause.Error())
}
