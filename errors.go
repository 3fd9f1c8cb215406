package nvme

import (
	"errors"
	"fmt"

	"github.com/behrlich/go-nvme-queue/internal/queue"
)

// Error is a structured error carrying the context a caller needs to
// diagnose a queue-pair failure (spec §7).
type Error struct {
	Op    string    // operation that failed (e.g. "submit_read", "create_io_queue")
	Queue int       // queue number, -1 if not applicable
	Code  ErrorCode // high-level error category
	Msg   string    // human-readable message
	Inner error     // wrapped error, e.g. *queue.CompletionError or a hostio failure
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("nvme: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nvme: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode categorizes queue-pair failures (spec §7 "Error kinds
// surfaced").
type ErrorCode string

const (
	ErrCodeBusy            ErrorCode = "busy"
	ErrCodeUnsupported     ErrorCode = "unsupported command"
	ErrCodeTooLarge        ErrorCode = "transfer too large"
	ErrCodeDeviceStatus    ErrorCode = "device reported nonzero status"
	ErrCodePRPAllocFailure ErrorCode = "PRP allocation failure"
	ErrCodeInvalidNS       ErrorCode = "invalid namespace"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Msg: msg}
}

// NewQueueError creates a queue-specific error.
func NewQueueError(op string, queueNum int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Queue: queueNum, Code: code, Msg: msg}
}

// WrapCompletionStatus turns a queue.CompletionError from a callback into
// an *Error carrying the DeviceStatus code (spec §7, Open Question 1:
// non-zero completion status is surfaced, not fatal). qid identifies the
// queue pair the completion came from, or -1 if unknown.
func WrapCompletionStatus(op string, qid int, err error) *Error {
	if err == nil {
		return nil
	}

	var ce *queue.CompletionError
	if errors.As(err, &ce) {
		e := NewQueueError(op, qid, ErrCodeDeviceStatus, ce.Error())
		e.Inner = err
		return e
	}

	e := NewQueueError(op, qid, ErrCodeIOError, err.Error())
	e.Inner = err
	return e
}

// ErrCodeIOError covers device-side failures not otherwise categorized.
const ErrCodeIOError ErrorCode = "I/O error"

// statusToError maps a façade return code (spec §6 "Return codes") into a
// queue-scoped *Error, or nil for a non-error return.
func statusToError(op string, qid, status int) *Error {
	switch {
	case status >= 1:
		return nil
	case status == 0:
		return NewQueueError(op, qid, ErrCodeBusy, "submission refused, retry after polling")
	case status == -2:
		return NewQueueError(op, qid, ErrCodeTooLarge, "transfer exceeds a single PRP list page")
	default:
		return NewQueueError(op, qid, ErrCodeUnsupported, "command kind or namespace not supported")
	}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
