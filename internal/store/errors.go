package store

import "errors"

// Sentinel errors the rest of the pipeline classifies against (§7).
var (
	// ErrNotFound is returned when a lookup finds no matching row.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyProcessed is returned by InsertProcessedEmail when the
	// source_message_id is already present (I1, the idempotency gate).
	ErrAlreadyProcessed = errors.New("store: already processed")
	// ErrConflict signals a unique-constraint violation on order_number or
	// purchase_order_number (I2) or on the active supplier message for a
	// supplier+ticket (I6), detected late and never a partial write. It is
	// also returned when a PendingMessage transition is attempted from a
	// non-terminal status that does not allow it.
	ErrConflict = errors.New("store: conflicting unique key")
	// ErrTerminalState is returned when an operation would reopen a
	// terminal PendingMessage state (I4).
	ErrTerminalState = errors.New("store: message is in a terminal state")
)
