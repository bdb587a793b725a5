package util

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPageSize       = errors.New("invalid page size")
	ErrInvalidPoolSize       = errors.New("invalid pool size")
	ErrInvalidPolicy         = errors.New("unknown eviction policy")
	ErrPageOutOfBounds       = errors.New("page out of bounds")
	ErrPageNotFound          = errors.New("page not found")
	ErrSlotOutOfBounds       = errors.New("slot out of bounds")
	ErrSlotEmpty             = errors.New("slot is not occupied")
	ErrPageFull              = errors.New("page has no empty slot")
	ErrNoRecordID            = errors.New("tuple has no record id")
	ErrSchemaMismatch        = errors.New("tuple schema does not match")
	ErrTableNotFound         = errors.New("table not found")
	ErrTableExists           = errors.New("table already exists")
	ErrFileClosed            = errors.New("heap file is closed")
	ErrDeadlock              = errors.New("deadlock detected")
	ErrNoCleanPage           = errors.New("no clean page to evict")
	ErrPageIdExistedInBuffer = errors.New("page id already exists in buffer")
	ErrInvalidTuple          = errors.New("invalid tuple")
	ErrTupleTooWide          = errors.New("tuple does not fit on a page")
	ErrCorruptPage           = errors.New("corrupt page data")
	ErrTransactionEnded      = errors.New("transaction already completed")
)

// ErrorType represents different types of database errors
type ErrorType int

const (
	ErrTypeNotFound ErrorType = iota
	ErrTypeInvalidArgument
	ErrTypeTransactionAborted
	ErrTypeStorage
	ErrTypeCorruption
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeNotFound:
		return "NotFound"
	case ErrTypeInvalidArgument:
		return "InvalidArgument"
	case ErrTypeTransactionAborted:
		return "TransactionAborted"
	case ErrTypeStorage:
		return "Storage"
	case ErrTypeCorruption:
		return "Corruption"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// DatabaseError represents a database-specific error
type DatabaseError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DatabaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("heapdb error [%s]: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("heapdb error [%s]: %s", e.Type, e.Message)
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// With attaches a context value and returns the same error for chaining
func (e *DatabaseError) With(key string, value interface{}) *DatabaseError {
	e.Context[key] = value
	return e
}

// NewDatabaseError creates a new database error
func NewDatabaseError(errType ErrorType, message string, cause error) *DatabaseError {
	return &DatabaseError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NotFound(message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrTypeNotFound, message, cause)
}

func InvalidArgument(message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrTypeInvalidArgument, message, cause)
}

func TransactionAborted(message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrTypeTransactionAborted, message, cause)
}

func Storage(message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrTypeStorage, message, cause)
}

func Corruption(message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrTypeCorruption, message, cause)
}

// TypeOf returns the type of the outermost DatabaseError in err's chain
func TypeOf(err error) (ErrorType, bool) {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Type, true
	}
	return 0, false
}

func isType(err error, t ErrorType) bool {
	got, ok := TypeOf(err)
	return ok && got == t
}

// IsTransactionAborted reports whether the caller must roll back and may retry
func IsTransactionAborted(err error) bool { return isType(err, ErrTypeTransactionAborted) }

func IsStorage(err error) bool { return isType(err, ErrTypeStorage) }

func IsNotFound(err error) bool { return isType(err, ErrTypeNotFound) }
