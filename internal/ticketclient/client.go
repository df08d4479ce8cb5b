// Package ticketclient is the authenticated HTTP client for the upstream
// ticketing backend (§4.3): lookup by order/ticket/PO, upsert, and send
// customer/supplier/internal messages with attachments.
package ticketclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/version"
)

// Config holds the connection parameters for the ticketing backend.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   uint64
}

// Client is the HTTP-backed TicketClient. It owns a single revalidating
// token cache (§5 shared-resource policy: the only in-memory cache allowed
// outside the Store).
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *tokenCache
}

// New constructs a Client against cfg. The token is not fetched until the
// first request.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     newTokenCache(cfg),
	}
}

// TicketView is the header-plus-history shape returned by lookups.
type TicketView struct {
	Header  models.TicketHeader
	History []models.TicketHistoryEntry
}

// GetByOrder looks up a ticket by order number. Returns (nil, nil) if not found.
func (c *Client) GetByOrder(ctx context.Context, orderNumber string) (*TicketView, error) {
	return c.lookup(ctx, "/tickets", map[string]string{"order_number": orderNumber})
}

// GetByTicket looks up a ticket by its own ticket number. Returns (nil, nil)
// if not found. Unreliable immediately after Upsert (§4.3): the backend may
// not have indexed the new ticket yet.
func (c *Client) GetByTicket(ctx context.Context, ticketNumber string) (*TicketView, error) {
	return c.lookup(ctx, "/tickets", map[string]string{"ticket_number": ticketNumber})
}

// GetByPurchaseOrder looks up a ticket by purchase order number (supplier
// reply correlation, §4.2).
func (c *Client) GetByPurchaseOrder(ctx context.Context, poNumber string) (*TicketView, error) {
	return c.lookup(ctx, "/tickets", map[string]string{"purchase_order_number": poNumber})
}

func (c *Client) lookup(ctx context.Context, path string, query map[string]string) (*TicketView, error) {
	var view TicketView
	status, err := c.doJSON(ctx, http.MethodGet, path, query, nil, &view)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return &view, nil
}

// Upsert creates a ticket when not found, else updates it, returning the
// backend ticket id.
func (c *Client) Upsert(ctx context.Context, header models.TicketHeader) (string, error) {
	var resp struct {
		TicketID string `json:"ticket_id"`
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/tickets", nil, header, &resp); err != nil {
		return "", err
	}
	return resp.TicketID, nil
}

// SendCustomer posts a customer-facing message. Never called in SHADOW phase
// (P3).
func (c *Client) SendCustomer(ctx context.Context, ticketID, subject, body string, attachments []models.Attachment, cc, bcc []string) (string, error) {
	return c.send(ctx, "/tickets/"+ticketID+"/messages/customer", sendRequest{
		Subject: subject, Body: body, Attachments: attachments, CC: cc, BCC: bcc,
	})
}

// SendSupplier posts a supplier-facing message.
func (c *Client) SendSupplier(ctx context.Context, ticketID, to, subject, body string, attachments []models.Attachment, cc, bcc []string) (string, error) {
	return c.send(ctx, "/tickets/"+ticketID+"/messages/supplier", sendRequest{
		To: to, Subject: subject, Body: body, Attachments: attachments, CC: cc, BCC: bcc,
	})
}

// SendInternal posts an internal-only note (SHADOW phase draft surfacing,
// ApprovalQueue audit trail).
func (c *Client) SendInternal(ctx context.Context, ticketID, body string) (string, error) {
	return c.send(ctx, "/tickets/"+ticketID+"/messages/internal", sendRequest{Body: body})
}

type sendRequest struct {
	To          string              `json:"to,omitempty"`
	Subject     string              `json:"subject,omitempty"`
	Body        string              `json:"body"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	CC          []string            `json:"cc,omitempty"`
	BCC         []string            `json:"bcc,omitempty"`
}

func (c *Client) send(ctx context.Context, path string, req sendRequest) (string, error) {
	var resp struct {
		MessageID string `json:"message_id"`
	}
	if _, err := c.doJSON(ctx, http.MethodPost, path, nil, req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// doJSON performs an authenticated JSON request with bounded exponential
// backoff and jitter on network errors and 5xx (§4.3). 4xx other than 401
// is non-retryable and returned as *PermanentError. A 401 triggers one
// forced token refresh before giving up.
func (c *Client) doJSON(ctx context.Context, method, path string, query map[string]string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("ticketclient: encoding request: %w", err)
		}
		payload = b
	}

	status := 0
	refreshedOnce := false

	op := func() error {
		token, err := c.tokens.get(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("ticketclient: obtaining token: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("ticketclient: building request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", version.Full())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		switch {
		case status == http.StatusUnauthorized && !refreshedOnce:
			refreshedOnce = true
			c.tokens.invalidate()
			return fmt.Errorf("ticketclient: unauthorized, retrying with fresh token")
		case status >= 500:
			return fmt.Errorf("ticketclient: server error %d", status)
		case status == http.StatusNotFound:
			return nil
		case status >= 400:
			respBody, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(&PermanentError{StatusCode: status, Body: string(respBody)})
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("ticketclient: decoding response: %w", err))
			}
		}
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 4 * time.Second
	bo := backoff.WithMaxRetries(exp, c.cfg.MaxRetries)

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return status, err
	}
	return status, nil
}

// PermanentError is a non-retryable 4xx response (§7 "permanent external").
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("ticketclient: permanent error, HTTP %d: %s", e.StatusCode, e.Body)
}
