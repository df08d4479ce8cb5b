package supplier_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/internal/supplier"
	"github.com/dropshiptriage/triage/internal/ticketclient"
	"github.com/dropshiptriage/triage/test/testutil"
)

func tokenHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 3600})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := `
phase: SHADOW
confidence_threshold: 0.8
supplier_reminder_hours: 48
poll_interval_seconds: 30
max_ingest_retries: 4
max_send_retries: 3
signature_lines:
  - "Best regards,"
  - "Support Team"
llm:
  provider: anthropic
  endpoint: https://llm.internal/analyze
  model: claude
  timeout: 20s
ticketing:
  base_url: https://tickets.internal
  client_id_env: X
  client_secret_env: Y
  token_path: /oauth/token
  request_timeout: 10s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triage.yaml"), []byte(body), 0o600))
	cfg, err := config.Initialize(dir)
	require.NoError(t, err)
	return cfg
}

func newFakeTicketClient(t *testing.T, mux *http.ServeMux) *ticketclient.Client {
	t.Helper()
	mux.HandleFunc("/oauth/token", tokenHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func TestRecordSent_CreatesObligationAndToleratesConflict(t *testing.T) {
	st := testutil.NewStore(t)
	require.NoError(t, st.UpsertSupplier(t.Context(), &models.Supplier{Name: "Acme", DefaultEmail: "acme@example.com"}))

	tc := newFakeTicketClient(t, http.NewServeMux())
	tr := supplier.New(st, tc, nil, testConfig(t))

	require.NoError(t, tr.RecordSent(t.Context(), "Acme", "TCK-1"))
	// A second send for the same supplier+ticket must not create a second
	// active obligation (I6) — RecordSent tolerates the resulting conflict.
	require.NoError(t, tr.RecordSent(t.Context(), "Acme", "TCK-1"))

	msg, err := st.GetActiveSupplierMessage(t.Context(), "Acme", "TCK-1")
	require.NoError(t, err)
	require.Equal(t, "Acme", msg.SupplierRef)
}

func TestSweep_SendsReminderAndMarksDue(t *testing.T) {
	st := testutil.NewStore(t)
	require.NoError(t, st.UpsertSupplier(t.Context(), &models.Supplier{Name: "Acme", DefaultEmail: "acme@example.com"}))
	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber:  "TCK-1",
		TicketID:      "remote-1",
		CustomerEmail: "customer@example.com",
		Language:      "en",
		LastSeenAt:    time.Now(),
	}))
	require.NoError(t, st.WithTx(t.Context(), func(tx *store.Tx) error {
		return tx.RecordSupplierMessageSent(t.Context(), &models.SupplierMessage{
			ID:          "sm-1",
			SupplierRef: "Acme",
			TicketRef:   "TCK-1",
			SentAt:      time.Now().Add(-72 * time.Hour),
			NextCheckAt: time.Now().Add(-1 * time.Hour),
		})
	}))

	var reminderSent, noteSent bool
	mux := http.NewServeMux()
	mux.HandleFunc("/tickets/remote-1/messages/supplier", func(w http.ResponseWriter, r *http.Request) {
		reminderSent = true
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-1"})
	})
	mux.HandleFunc("/tickets/remote-1/messages/internal", func(w http.ResponseWriter, r *http.Request) {
		noteSent = true
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-2"})
	})
	tc := newFakeTicketClient(t, mux)
	tr := supplier.New(st, tc, nil, testConfig(t))

	require.NoError(t, tr.Sweep(t.Context()))
	require.True(t, reminderSent)
	require.True(t, noteSent)

	due, err := st.ListDueSupplierReminders(t.Context(), time.Now())
	require.NoError(t, err)
	require.Empty(t, due, "reminder should not fire twice for the same message")
}
