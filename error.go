package accessmgr

import "fmt"

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// Argument family. Never retried; the request itself is malformed.
	ArgumentError
	ArgumentNilError
	ArgumentOutOfRangeError
	// NotFound family. NotFoundError is the generic code, the rest are
	// per-element specializations used by the query surface.
	NotFoundError
	UserNotFoundError
	GroupNotFoundError
	EntityTypeNotFoundError
	EntityNotFoundError
	// AlreadyExistsError is the dual of NotFound for Add operations.
	AlreadyExistsError
	// ServiceUnavailableError is returned by every externally facing entry
	// point once the trip switch has fired.
	ServiceUnavailableError
	// Event cache pull outcomes.
	EventCacheEmptyError
	EventNotCachedError
	// PersistentStorageEmptyError is returned by Load when the event log
	// holds no events at the requested boundary.
	PersistentStorageEmptyError
	// BufferFlushingError is reported asynchronously via the buffer's
	// registered failure callback.
	BufferFlushingError
)

// Error is the module-wide custom error. Attributes carries the offending
// argument values for wire serialization, e.g. the user id of a
// UserNotFoundError.
type Error struct {
	Code       ErrorCode
	Err        error
	Attributes []string
}

func (e Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("error code: %d, attributes: %v", e.Code, e.Attributes)
	}
	return fmt.Sprintf("error code: %d, attributes: %v, details: %v", e.Code, e.Attributes, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewError packages code, detail message and attributes into an Error.
func NewError(code ErrorCode, detail string, attributes ...string) Error {
	return Error{
		Code:       code,
		Err:        fmt.Errorf("%s", detail),
		Attributes: attributes,
	}
}

// CodeOf extracts the ErrorCode of err, or Unknown if err is not an Error.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(Error); ok {
		return e.Code
	}
	return Unknown
}

var wireNames = map[ErrorCode]string{
	ArgumentError:               "ArgumentException",
	ArgumentNilError:            "ArgumentNullException",
	ArgumentOutOfRangeError:     "ArgumentOutOfRangeException",
	NotFoundError:               "NotFoundException",
	UserNotFoundError:           "UserNotFoundException",
	GroupNotFoundError:          "GroupNotFoundException",
	EntityTypeNotFoundError:     "EntityTypeNotFoundException",
	EntityNotFoundError:         "EntityNotFoundException",
	// Duplicates surface as argument errors on the wire, as the REST parity
	// list has no dedicated code for them.
	AlreadyExistsError:          "ArgumentException",
	ServiceUnavailableError:     "ServiceUnavailableException",
	EventCacheEmptyError:        "EventCacheEmptyException",
	EventNotCachedError:         "EventNotCachedException",
	PersistentStorageEmptyError: "PersistentStorageEmptyException",
	BufferFlushingError:         "BufferFlushingException",
}

// WireName returns the stable wire-level code string for structured error
// responses.
func (c ErrorCode) WireName() string {
	if n, ok := wireNames[c]; ok {
		return n
	}
	return "Exception"
}

// ParseWireName maps a wire-level code string back to an ErrorCode.
// "ArgumentException" parses to ArgumentError (duplicates share that wire
// code).
func ParseWireName(name string) ErrorCode {
	switch name {
	case "ArgumentException":
		return ArgumentError
	case "ArgumentNullException":
		return ArgumentNilError
	case "ArgumentOutOfRangeException":
		return ArgumentOutOfRangeError
	case "NotFoundException":
		return NotFoundError
	case "UserNotFoundException":
		return UserNotFoundError
	case "GroupNotFoundException":
		return GroupNotFoundError
	case "EntityTypeNotFoundException":
		return EntityTypeNotFoundError
	case "EntityNotFoundException":
		return EntityNotFoundError
	case "ServiceUnavailableException":
		return ServiceUnavailableError
	case "EventCacheEmptyException":
		return EventCacheEmptyError
	case "EventNotCachedException":
		return EventNotCachedError
	case "PersistentStorageEmptyException":
		return PersistentStorageEmptyError
	case "BufferFlushingException":
		return BufferFlushingError
	}
	return Unknown
}

// IsNotFound reports whether err carries any code of the NotFound family.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case NotFoundError, UserNotFoundError, GroupNotFoundError, EntityTypeNotFoundError, EntityNotFoundError:
		return true
	}
	return false
}
