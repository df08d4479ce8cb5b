package mail

import (
	"fmt"

	"github.com/emersion/go-imap/v2"
)

func firstAddress(env *imap.Envelope) imap.Address {
	if env == nil || len(env.From) == 0 {
		return imap.Address{}
	}
	return env.From[0]
}

func addressString(a imap.Address) string {
	if a.Host == "" {
		return a.Mailbox
	}
	return a.Mailbox + "@" + a.Host
}

func addressList(addrs []imap.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, addressString(a))
	}
	return out
}

// threadIDFromEnvelope uses the message's own Message-Id as its thread id,
// or the subject when there is no Message-Id. X-GM-THRID and References
// chaining are not consulted, so a reply does not share its parent's id;
// the value is opaque grouping, not a guarantee of thread reconstruction
// (§4.2 correlation rule 3 is best-effort).
func threadIDFromEnvelope(env *imap.Envelope) string {
	if env == nil {
		return ""
	}
	if env.MessageID != "" {
		return env.MessageID
	}
	return env.Subject
}

func uidFromSourceID(sourceMessageID string) (imap.UID, error) {
	var n uint32
	if _, err := fmt.Sscanf(sourceMessageID, "uid-%d", &n); err != nil {
		return 0, fmt.Errorf("mail: malformed source_message_id %q: %w", sourceMessageID, err)
	}
	return imap.UID(n), nil
}
