package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for index operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument      ErrorCode = 1000
	ErrCodeNotStorable          ErrorCode = 1001
	ErrCodeInconsistentRevision ErrorCode = 1002
	ErrCodeRevisionOutOfOrder   ErrorCode = 1003
	ErrCodeFilterNotSyncable    ErrorCode = 1004

	// Server errors
	ErrCodeInternal      ErrorCode = 2000
	ErrCodeFilterIO      ErrorCode = 2001
	ErrCodeCorruptedData ErrorCode = 2002
	ErrCodeLockTimeout   ErrorCode = 2003
	ErrCodeClosed        ErrorCode = 2004
)

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StorageError to gRPC status
func (e *StorageError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *StorageError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeNotStorable:
		return codes.InvalidArgument
	case ErrCodeInconsistentRevision, ErrCodeRevisionOutOfOrder, ErrCodeFilterNotSyncable:
		return codes.FailedPrecondition
	case ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodeLockTimeout:
		return codes.DeadlineExceeded
	case ErrCodeClosed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func NotStorable(key, reason string) *StorageError {
	return NewStorageError(ErrCodeNotStorable, fmt.Sprintf("write to '%s' is not storable: %s", key, reason), nil).
		WithDetail("key", key).
		WithDetail("reason", reason)
}

func InconsistentRevision(revision string, previous string) *StorageError {
	return NewStorageError(ErrCodeInconsistentRevision,
		fmt.Sprintf("revision %s does not alternate with previous %s", revision, previous), nil).
		WithDetail("revision", revision).
		WithDetail("previous", previous)
}

func RevisionOutOfOrder(revision string, lastTimestamp int64) *StorageError {
	return NewStorageError(ErrCodeRevisionOutOfOrder,
		fmt.Sprintf("revision %s is not newer than %d", revision, lastTimestamp), nil).
		WithDetail("revision", revision).
		WithDetail("last_timestamp", lastTimestamp)
}

func FilterNotSyncable() *StorageError {
	return NewStorageError(ErrCodeFilterNotSyncable, "cannot sync a bloom filter that does not have an associated file", nil)
}

func FilterIO(path string, cause error) *StorageError {
	return NewStorageError(ErrCodeFilterIO, fmt.Sprintf("bloom filter I/O failed for %s", path), cause).
		WithDetail("path", path)
}

func CorruptedData(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeCorruptedData, message, cause)
}

func LockTimeout(cause error) *StorageError {
	return NewStorageError(ErrCodeLockTimeout, "lock acquisition abandoned", cause)
}

func Closed(component string) *StorageError {
	return NewStorageError(ErrCodeClosed, fmt.Sprintf("%s is closed", component), nil).
		WithDetail("component", component)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

// IsStorageError checks if an error is a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}
