package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Domain errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"

	// Application errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	// Infrastructure errors
	ErrorTypeDatabase ErrorType = "DATABASE"
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// Error codes raised by the tree engine and the node service.
const (
	CodeNodeNotFound   = "NODE_NOT_FOUND"
	CodeParentNotFound = "PARENT_NOT_FOUND"
	CodeCycleDetected  = "CYCLE_DETECTED"
	CodeStoreFailure   = "STORE_FAILURE"
	CodeTreeCorrupt    = "TREE_CORRUPT"
	CodeLockTimeout    = "LOCK_TIMEOUT"
	CodeTreeChanged    = "TREE_CHANGED"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service '%s' is unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
		StackTrace: captureStackTrace(),
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeDatabase,
		Message:    fmt.Sprintf("database operation '%s' failed", operation),
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewExternalError creates an external service error
func NewExternalError(service string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Message:    fmt.Sprintf("external service '%s' error", service),
		Cause:      err,
		HTTPStatus: http.StatusBadGateway,
		StackTrace: captureStackTrace(),
	}
}

// Tree errors

// NewNodeNotFoundError reports a referenced node id that does not exist.
func NewNodeNotFoundError(nodeID string) *AppError {
	err := NewNotFoundError(fmt.Sprintf("node %s", nodeID)).WithCode(CodeNodeNotFound)
	err.Details = map[string]interface{}{"node_id": nodeID}
	return err
}

// NewParentNotFoundError reports a parent id that does not reference an existing node.
func NewParentNotFoundError(parentID string) *AppError {
	err := NewValidationError(fmt.Sprintf("parent node %s not found", parentID)).WithCode(CodeParentNotFound)
	err.Details = map[string]interface{}{"parent_id": parentID}
	return err
}

// NewCycleError reports a move that would make a node its own ancestor.
func NewCycleError(nodeID, parentID string) *AppError {
	err := NewConflictError(fmt.Sprintf("moving node %s under %s would create a cycle", nodeID, parentID)).
		WithCode(CodeCycleDetected)
	err.Details = map[string]interface{}{"node_id": nodeID, "parent_id": parentID}
	return err
}

// NewStoreFailure wraps a persistence failure. Store failures are the only
// retryable class.
func NewStoreFailure(operation string, err error) *AppError {
	appErr := NewDatabaseError(operation, err).WithCode(CodeStoreFailure)
	appErr.Retryable = true
	return appErr
}

// NewTreeCorruptError reports an ancestor chain longer than the allowed depth.
func NewTreeCorruptError(nodeID string, maxDepth int) *AppError {
	err := NewInternalError(fmt.Sprintf("ancestor chain of %s exceeds %d levels", nodeID, maxDepth)).
		WithCode(CodeTreeCorrupt)
	err.Details = map[string]interface{}{"node_id": nodeID, "max_depth": maxDepth}
	return err
}

// NewLockTimeoutError reports a group lock that could not be acquired in time.
func NewLockTimeoutError(group string, err error) *AppError {
	appErr := NewUnavailableError("group lock").WithCode(CodeLockTimeout).WithCause(err)
	appErr.Message = fmt.Sprintf("timed out waiting for sibling group %s", group)
	appErr.Retryable = true
	return appErr
}

// NewTreeChangedError reports an operation that gave up after the sibling
// groups it planned to lock kept changing underneath it.
func NewTreeChangedError(nodeID string, attempts int) *AppError {
	err := NewConflictError(fmt.Sprintf("tree around node %s changed during %d lock attempts", nodeID, attempts)).
		WithCode(CodeTreeChanged)
	err.Details = map[string]interface{}{"node_id": nodeID, "attempts": attempts}
	err.Retryable = true
	return err
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// HasCode checks if an error carries a specific code
func HasCode(err error, code string) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsNodeNotFound checks for NODE_NOT_FOUND
func IsNodeNotFound(err error) bool {
	return HasCode(err, CodeNodeNotFound)
}

// IsParentNotFound checks for PARENT_NOT_FOUND
func IsParentNotFound(err error) bool {
	return HasCode(err, CodeParentNotFound)
}

// IsCycle checks for CYCLE_DETECTED
func IsCycle(err error) bool {
	return HasCode(err, CodeCycleDetected)
}

// IsStoreFailure checks for STORE_FAILURE
func IsStoreFailure(err error) bool {
	return HasCode(err, CodeStoreFailure)
}

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Retryable
}

// Wrap wraps an error with additional context. AppErrors keep their type and
// code so callers can still classify them.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		return fmt.Errorf("%s: %w", message, err)
	}

	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
