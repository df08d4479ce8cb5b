// Package mail implements the MailSource contract (§4.2, §6): pulling new
// inbound messages, marking them consumed, and exposing attachment bytes,
// all keyed by a stable source_message_id.
package mail

import (
	"context"

	"github.com/dropshiptriage/triage/internal/models"
)

// Source is the MailSource capability set the Pipeline depends on.
// list_new must be safe to call concurrently with itself; idempotency
// across calls is enforced by the caller via Store, not by Source.
type Source interface {
	// ListNew returns messages not yet marked consumed. Implementations may
	// return more than will fit in one pipeline pass; callers page by
	// calling ListNew again after marking each message consumed.
	ListNew(ctx context.Context) ([]models.InboundMessage, error)

	// MarkConsumed records that source_message_id has been handled (success
	// or permanent failure) so it is not returned by ListNew again.
	MarkConsumed(ctx context.Context, sourceMessageID string) error

	// FetchAttachment returns the raw bytes for one attachment of a
	// previously listed message. The IMAP source serves only the bytes it
	// retained from ListNew and does not re-fetch from the server; once the
	// message is marked consumed, it returns an error.
	FetchAttachment(ctx context.Context, sourceMessageID, attachmentID string) ([]byte, error)

	// Close releases any underlying connection.
	Close() error
}

// TransientError wraps a MailSource failure the caller should retry
// (network blip, server unavailable). Permanent failures are returned
// unwrapped and cause the Pipeline to mark the message consumed with an
// error rather than retry indefinitely (§4.2).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "mail: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
