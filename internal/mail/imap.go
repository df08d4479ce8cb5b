package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dropshiptriage/triage/internal/models"
)

// Config holds IMAP connection parameters. Production deployments point
// this at the support mailbox; the Pipeline never talks to the mail server
// directly (§4.2).
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	Mailbox  string // default "INBOX"
	TLS      bool
}

func (c Config) addr() string {
	port := c.Port
	if port == "" {
		port = "993"
	}
	return fmt.Sprintf("%s:%s", c.Host, port)
}

func (c Config) mailbox() string {
	if c.Mailbox == "" {
		return "INBOX"
	}
	return c.Mailbox
}

// imapSource implements Source over a single IMAP connection, following
// the connect/authenticate/select/search lifecycle a production mail
// gateway would use in place of a polling placeholder.
type imapSource struct {
	cfg    Config
	client *imapclient.Client

	mu    sync.Mutex
	cache map[string]models.InboundMessage // source_message_id -> full message, for FetchAttachment replay
}

// NewIMAPSource dials and authenticates against the configured mailbox.
func NewIMAPSource(cfg Config) (Source, error) {
	options := &imapclient.Options{}
	var (
		client *imapclient.Client
		err    error
	)
	if cfg.TLS {
		client, err = imapclient.DialTLS(cfg.addr(), &tls.Config{ServerName: cfg.Host})
	} else {
		client, err = imapclient.DialInsecure(cfg.addr(), options)
	}
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("dialing %s: %w", cfg.addr(), err)}
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("authenticating as %s: %w", cfg.Username, err)
	}

	return &imapSource{cfg: cfg, client: client, cache: make(map[string]models.InboundMessage)}, nil
}

func (s *imapSource) ListNew(ctx context.Context) ([]models.InboundMessage, error) {
	if _, err := s.client.Select(s.cfg.mailbox(), nil).Wait(); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("selecting mailbox %s: %w", s.cfg.mailbox(), err)}
	}

	searchData, err := s.client.Search(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("searching unseen messages: %w", err)}
	}

	seqNums := searchData.AllSeqNums()
	if len(seqNums) == 0 {
		return nil, nil
	}
	seqSet := imap.SeqSetNum(seqNums...)

	bodySection := &imap.FetchItemBodySection{}
	fetchCmd := s.client.Fetch(seqSet, &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
		UID:         true,
	})
	messages, err := fetchCmd.Collect()
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("fetching message bodies: %w", err)}
	}

	out := make([]models.InboundMessage, 0, len(messages))
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range messages {
		raw := msg.FindBodySection(bodySection)
		if raw == nil {
			continue
		}
		parsed, err := parseMessage(raw)
		if err != nil {
			// Permanent: this message cannot be parsed and never will be,
			// so it's marked Seen right here instead of being returned for
			// the Pipeline to retry forever (§4.2 "permanent: mark consumed,
			// record error").
			slog.Default().Error("mail: dropping unparseable message, marking seen",
				"uid", msg.UID, "error", err)
			if storeErr := s.client.Store(imap.UIDSetNum(msg.UID), &imap.StoreFlags{
				Op:    imap.StoreFlagsAdd,
				Flags: []imap.Flag{imap.FlagSeen},
			}, nil).Wait(); storeErr != nil {
				slog.Default().Error("mail: failed to mark unparseable message seen, it will be retried next poll",
					"uid", msg.UID, "error", storeErr)
			}
			continue
		}

		sourceID := fmt.Sprintf("uid-%d", msg.UID)
		inbound := models.InboundMessage{
			SourceMessageID: sourceID,
			ThreadID:        threadIDFromEnvelope(msg.Envelope),
			From:            addressString(firstAddress(msg.Envelope)),
			To:              addressList(msg.Envelope.To),
			CC:              addressList(msg.Envelope.Cc),
			Subject:         msg.Envelope.Subject,
			ReceivedAt:      msg.Envelope.Date,
			BodyPlain:       parsed.plain,
			BodyHTML:        parsed.html,
			Attachments:     parsed.attachments,
		}
		s.cache[sourceID] = inbound
		out = append(out, inbound)
	}
	return out, nil
}

func (s *imapSource) MarkConsumed(ctx context.Context, sourceMessageID string) error {
	s.mu.Lock()
	delete(s.cache, sourceMessageID)
	s.mu.Unlock()

	uid, err := uidFromSourceID(sourceMessageID)
	if err != nil {
		return err
	}
	uidSet := imap.UIDSetNum(uid)
	return s.client.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
}

func (s *imapSource) FetchAttachment(ctx context.Context, sourceMessageID, attachmentID string) ([]byte, error) {
	s.mu.Lock()
	msg, ok := s.cache[sourceMessageID]
	s.mu.Unlock()
	if ok {
		for _, a := range msg.Attachments {
			if a.Filename == attachmentID {
				return a.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("mail: attachment %s not found for message %s", attachmentID, sourceMessageID)
}

func (s *imapSource) Close() error {
	return s.client.Logout().Wait()
}
