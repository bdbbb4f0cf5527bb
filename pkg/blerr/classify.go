package blerr

import "fmt"

// Raw GATT/HCI status codes reported by the adapter on connection events.
const (
	CodeSuccess             = 0
	CodeConnTimeout         = 8   // link supervision timeout, unexpected link loss
	CodeRemoteTerminated    = 19  // remote device terminated the connection
	CodeLocalTerminated     = 22  // local host terminated the connection
	CodeFailedToEstablish   = 62  // connection attempt never completed
	CodeInsufficientAuth    = 5   // insufficient authentication for the attribute
	CodeReadNotPermitted    = 2   // attribute read not permitted
	CodeWriteNotPermitted   = 3   // attribute write not permitted
	CodeRequestNotSupported = 6   // request not supported by remote
	CodeGattError           = 133 // generic controller failure, the catch-all
)

// Raw scan start-failure codes reported by the adapter.
const (
	ScanAlreadyStarted     = 1
	ScanRegistrationFailed = 2
	ScanInternalError      = 3
	ScanFeatureUnsupported = 4
	ScanOutOfResources     = 5
	ScanTooFrequent        = 6
)

// Context carries optional identifiers for classification.
type Context struct {
	Address       string
	AttributeUUID string
}

// Classify maps a raw status code from the given operation into a typed
// error. It never returns nil for a non-success code; codes it does not
// recognize produce an unknown-category error that retains the raw code and
// operation so nothing is lost.
func Classify(op Op, code int, ctx Context) *Error {
	switch op {
	case OpScanStart, OpScanStop:
		return classifyScan(op, code)
	case OpConnect, OpDisconnect:
		return classifyConnection(op, code, ctx)
	case OpDiscoverServices, OpCharRead, OpCharWrite, OpNotify,
		OpDescRead, OpDescWrite, OpMTU, OpPHY, OpRSSI:
		return classifyGatt(op, code, ctx)
	default:
		return unknown(op, code, ctx)
	}
}

func classifyConnection(op Op, code int, ctx Context) *Error {
	switch code {
	case CodeConnTimeout, CodeRemoteTerminated:
		// Link loss is distinct from a failed connection attempt: the link
		// existed and then dropped.
		return &Error{
			Category:  CategoryConnection,
			Op:        op,
			Code:      code,
			Address:   ctx.Address,
			Message:   "connection lost unexpectedly",
			Retryable: true,
		}
	case CodeLocalTerminated:
		return &Error{
			Category:  CategoryConnection,
			Op:        op,
			Code:      code,
			Address:   ctx.Address,
			Message:   "connection terminated by local host",
			Retryable: true,
		}
	case CodeFailedToEstablish, CodeGattError:
		return &Error{
			Category:  CategoryConnection,
			Op:        op,
			Code:      code,
			Address:   ctx.Address,
			Message:   "failed to connect",
			Retryable: true,
		}
	default:
		return unknown(op, code, ctx)
	}
}

func classifyGatt(op Op, code int, ctx Context) *Error {
	switch code {
	case CodeReadNotPermitted:
		return gattError(op, code, ctx, "read not permitted", false)
	case CodeWriteNotPermitted:
		return gattError(op, code, ctx, "write not permitted", false)
	case CodeInsufficientAuth:
		return gattError(op, code, ctx, "insufficient authentication", false)
	case CodeRequestNotSupported:
		return gattError(op, code, ctx, "request not supported by remote", false)
	case CodeConnTimeout, CodeRemoteTerminated:
		return &Error{
			Category:  CategoryConnection,
			Op:        op,
			Code:      code,
			Address:   ctx.Address,
			Message:   "connection lost during operation",
			Retryable: true,
		}
	case CodeGattError:
		return gattError(op, code, ctx, fmt.Sprintf("%s failed", op), true)
	default:
		return unknown(op, code, ctx)
	}
}

func gattError(op Op, code int, ctx Context, msg string, retry bool) *Error {
	return &Error{
		Category:      CategoryGatt,
		Op:            op,
		Code:          code,
		Address:       ctx.Address,
		AttributeUUID: ctx.AttributeUUID,
		Message:       msg,
		Retryable:     retry,
	}
}

func classifyScan(op Op, code int) *Error {
	switch code {
	case ScanAlreadyStarted:
		return scanError(op, code, "scan already running", true)
	case ScanRegistrationFailed:
		return scanError(op, code, "scanner registration failed", false)
	case ScanInternalError:
		return scanError(op, code, "internal scanner error", true)
	case ScanFeatureUnsupported:
		return scanError(op, code, "scanning not supported", false)
	case ScanOutOfResources:
		return scanError(op, code, "out of hardware resources", true)
	case ScanTooFrequent:
		return scanError(op, code, "scanning too frequently, back off", true)
	default:
		return unknown(op, code, Context{})
	}
}

func scanError(op Op, code int, msg string, retry bool) *Error {
	return &Error{
		Category:  CategoryScan,
		Op:        op,
		Code:      code,
		Message:   msg,
		Retryable: retry,
	}
}

func unknown(op Op, code int, ctx Context) *Error {
	return &Error{
		Category:      CategoryUnknown,
		Op:            op,
		Code:          code,
		Address:       ctx.Address,
		AttributeUUID: ctx.AttributeUUID,
		Message:       fmt.Sprintf("unrecognized status %d", code),
		Retryable:     false,
	}
}

// Wrap converts an arbitrary error into a classified one, preserving an
// already classified error as-is. Cancellation must be filtered by the caller
// before wrapping; Wrap is for genuine failures only.
func Wrap(op Op, err error, ctx Context) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{
		Category:      CategoryUnknown,
		Op:            op,
		Code:          CodeNone,
		Address:       ctx.Address,
		AttributeUUID: ctx.AttributeUUID,
		Message:       err.Error(),
		Retryable:     false,
	}
}
