// Package blerr defines the typed error taxonomy for BLE operations and the
// classifier that maps raw adapter status codes into it.
package blerr

import (
	"errors"
	"fmt"
)

// Category groups classified errors by the kind of failure.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryConnection
	CategoryGatt
	CategoryScan
	CategoryProtocol
	CategoryTimeout
	CategoryCancelled
	CategorySupport
	CategoryValidation
	CategoryControl
)

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategoryGatt:
		return "gatt"
	case CategoryScan:
		return "scan"
	case CategoryProtocol:
		return "protocol"
	case CategoryTimeout:
		return "timeout"
	case CategoryCancelled:
		return "cancelled"
	case CategorySupport:
		return "support"
	case CategoryValidation:
		return "validation"
	case CategoryControl:
		return "control"
	default:
		return "unknown"
	}
}

// Op identifies the operation kind a status code was produced by.
type Op int

const (
	OpNone Op = iota
	OpConnect
	OpDisconnect
	OpDiscoverServices
	OpCharRead
	OpCharWrite
	OpNotify
	OpDescRead
	OpDescWrite
	OpMTU
	OpPHY
	OpRSSI
	OpScanStart
	OpScanStop
)

func (o Op) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	case OpDiscoverServices:
		return "discover_services"
	case OpCharRead:
		return "characteristic_read"
	case OpCharWrite:
		return "characteristic_write"
	case OpNotify:
		return "notify"
	case OpDescRead:
		return "descriptor_read"
	case OpDescWrite:
		return "descriptor_write"
	case OpMTU:
		return "mtu_change"
	case OpPHY:
		return "phy_change"
	case OpRSSI:
		return "rssi_read"
	case OpScanStart:
		return "scan_start"
	case OpScanStop:
		return "scan_stop"
	default:
		return "none"
	}
}

// CodeNone marks an Error that did not originate from a raw status code.
const CodeNone = -1

// Error is a classified BLE failure. Immutable once created.
type Error struct {
	Category      Category
	Op            Op
	Code          int    // raw adapter status code, CodeNone if not applicable
	Address       string // peripheral address, if known
	AttributeUUID string // characteristic/descriptor UUID, if applicable
	Message       string
	Retryable     bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = e.Category.String() + " error"
	}
	switch {
	case e.Code != CodeNone && e.Address != "":
		return fmt.Sprintf("%s [%s]: %s (status %d, address %s)", e.Category, e.Op, msg, e.Code, e.Address)
	case e.Code != CodeNone:
		return fmt.Sprintf("%s [%s]: %s (status %d)", e.Category, e.Op, msg, e.Code)
	case e.Address != "":
		return fmt.Sprintf("%s [%s]: %s (address %s)", e.Category, e.Op, msg, e.Address)
	default:
		return fmt.Sprintf("%s [%s]: %s", e.Category, e.Op, msg)
	}
}

// Is allows errors.Is to compare classified errors by Category and, when the
// target specifies one, by Op. Sentinel targets leave Op as OpNone to match
// any operation of the same category.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Category != t.Category {
		return false
	}
	return t.Op == OpNone || e.Op == t.Op
}

// Sentinel errors for errors.Is checks.
var (
	ErrNotConnected        = &Error{Category: CategoryConnection, Message: "device not connected"}
	ErrTimeout             = &Error{Category: CategoryTimeout, Message: "operation timed out"}
	ErrCancelled           = &Error{Category: CategoryCancelled, Message: "operation cancelled"}
	ErrConcurrentOperation = &Error{Category: CategoryControl, Message: "another operation is in progress"}
	ErrUnsupported         = &Error{Category: CategorySupport, Message: "feature not supported"}
	ErrPermissionDenied    = &Error{Category: CategorySupport, Message: "permission denied"}
	ErrLocationDisabled    = &Error{Category: CategorySupport, Message: "location services disabled"}
)

// NotConnected builds a connection-category error for an operation attempted
// without an active connection.
func NotConnected(op Op) *Error {
	return &Error{
		Category:  CategoryConnection,
		Op:        op,
		Code:      CodeNone,
		Message:   "device not connected",
		Retryable: false,
	}
}

// Timeout builds a timeout-category error for the given operation.
func Timeout(op Op, address string) *Error {
	return &Error{
		Category:  CategoryTimeout,
		Op:        op,
		Code:      CodeNone,
		Address:   address,
		Message:   "operation timed out",
		Retryable: true,
	}
}

// ConcurrentOperation builds a control-category error rejecting a second
// in-flight operation on the same controller.
func ConcurrentOperation(op Op) *Error {
	return &Error{
		Category:  CategoryControl,
		Op:        op,
		Code:      CodeNone,
		Message:   "another operation is in progress",
		Retryable: true,
	}
}

// PermissionDenied builds a support-category error listing the missing
// permissions, if known.
func PermissionDenied(op Op, missing []string) *Error {
	msg := "permission denied"
	if len(missing) > 0 {
		msg = fmt.Sprintf("permission denied, missing: %v", missing)
	}
	return &Error{
		Category:  CategorySupport,
		Op:        op,
		Code:      CodeNone,
		Message:   msg,
		Retryable: false,
	}
}

// Unsupported builds a support-category error for a missing radio feature.
func Unsupported(op Op) *Error {
	return &Error{
		Category:  CategorySupport,
		Op:        op,
		Code:      CodeNone,
		Message:   "feature not supported",
		Retryable: false,
	}
}

// LocationDisabled builds a support-category error for disabled location
// services, which some platforms require for discovery.
func LocationDisabled(op Op) *Error {
	return &Error{
		Category:  CategorySupport,
		Op:        op,
		Code:      CodeNone,
		Message:   "location services disabled",
		Retryable: false,
	}
}

// IsCancelled reports whether err is a cancellation, either a context error
// or a cancelled-category classified error.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Category == CategoryCancelled
	}
	return false
}

// IsTimeout reports whether err is a timeout-category classified error.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == CategoryTimeout
	}
	return false
}

// CanRetry reports the retry hint carried by a classified error. Unclassified
// errors are treated as non-retryable.
func CanRetry(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
