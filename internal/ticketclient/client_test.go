package ticketclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/ticketclient"
	"github.com/stretchr/testify/require"
)

func tokenHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "test-token",
		"expires_in":   3600,
	})
}

func TestGetByOrder_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	view, err := c.GetByOrder(t.Context(), "ORD-1")
	require.NoError(t, err)
	require.Nil(t, view)
}

func TestUpsert_ReturnsTicketID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"ticket_id": "TCK-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	id, err := c.Upsert(t.Context(), models.TicketHeader{TicketNumber: "T-1", CustomerEmail: "a@b.com"})
	require.NoError(t, err)
	require.Equal(t, "TCK-1", id)
}

func TestSendCustomer_PermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets/TCK-1/messages/customer", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad body"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second, MaxRetries: 3})
	_, err := c.SendCustomer(t.Context(), "TCK-1", "subject", "body", nil, nil, nil)
	require.Error(t, err)
	require.Equal(t, 1, attempts)

	var permErr *ticketclient.PermanentError
	require.ErrorAs(t, err, &permErr)
	require.Equal(t, http.StatusBadRequest, permErr.StatusCode)
}

func TestSendSupplier_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets/TCK-2/messages/supplier", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second, MaxRetries: 3})
	id, err := c.SendSupplier(t.Context(), "TCK-2", "supplier@example.com", "subject", "body", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "MSG-1", id)
	require.Equal(t, 2, attempts)
}
