package errors

import (
	stderrors "errors"
	"fmt"
)

// Taxonomy roots. Concrete sentinels wrap one of these so boundary code can
// classify an error without enumerating every variant.
var (
	ErrValidation  = fmt.Errorf("validation failed")
	ErrNotFound    = fmt.Errorf("not found")
	ErrPersistence = fmt.Errorf("persistence failure")
	ErrProtocol    = fmt.Errorf("protocol violation")
)

var (
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)
	ErrTransactionNotFound  = fmt.Errorf("transaction %w", ErrNotFound)
	ErrConnectionNotFound   = fmt.Errorf("connection %w", ErrNotFound)

	ErrAlreadyAuthenticated = fmt.Errorf("%w: connection already authenticated", ErrProtocol)
	ErrSocketRebind         = fmt.Errorf("%w: socket already bound to another user", ErrProtocol)
	ErrUnknownEventType     = fmt.Errorf("%w: unknown event type", ErrProtocol)

	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrSendBufferFull   = fmt.Errorf("send buffer full")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)

// ClientMessage converts an internal error into text safe to put inside an
// error envelope. Validation, not-found and protocol errors are descriptive
// by construction; storage internals are never leaked to clients.
func ClientMessage(err error) string {
	switch {
	case stderrors.Is(err, ErrValidation),
		stderrors.Is(err, ErrNotFound),
		stderrors.Is(err, ErrProtocol):
		return err.Error()
	case stderrors.Is(err, ErrPersistence):
		return "temporary storage failure, please retry"
	default:
		return "internal error"
	}
}
