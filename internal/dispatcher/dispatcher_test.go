package dispatcher_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropshiptriage/triage/internal/approval"
	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/dispatcher"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/internal/ticketclient"
	"github.com/dropshiptriage/triage/test/testutil"
)

func tokenHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 3600})
}

func testConfig(t *testing.T, phase config.Phase, threshold string) *config.Config {
	t.Helper()
	return testConfigWithDedupWindow(t, phase, threshold, 0)
}

func testConfigWithDedupWindow(t *testing.T, phase config.Phase, threshold string, dedupWindowSeconds int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := `
phase: ` + string(phase) + `
confidence_threshold: ` + threshold + `
supplier_reminder_hours: 48
poll_interval_seconds: 30
max_ingest_retries: 4
max_send_retries: 3
dedup_window_seconds: ` + fmt.Sprint(dedupWindowSeconds) + `
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

func decision(confidence float64, requiresEscalation bool, customerBody string) *models.AIDecision {
	return &models.AIDecision{
		ID:                 "decision-1",
		TicketRef:          "TCK-1",
		At:                 time.Now(),
		DetectedIntent:     "shipping_delay",
		Confidence:         confidence,
		RequiresEscalation: requiresEscalation,
		CustomerDraft:      models.DraftResult{Body: customerBody},
		SupplierDraft:      models.DraftResult{NoDraft: true, Reason: "no supplier action needed"},
		PhaseAtDecision:    "ASSISTED",
		Summary:            "customer asked about shipping delay",
	}
}

func TestDispatch_ShadowNeverSendsCreatesPendingAndNote(t *testing.T) {
	st := testutil.NewStore(t)
	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber: "TCK-1", TicketID: "remote-1", CustomerEmail: "c@example.com", Language: "en", LastSeenAt: time.Now(),
	}))
	ticket, err := st.GetTicket(t.Context(), "TCK-1")
	require.NoError(t, err)

	var sendAttempted, noteSent bool
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets/remote-1/messages/customer", func(w http.ResponseWriter, r *http.Request) { sendAttempted = true })
	mux.HandleFunc("/tickets/remote-1/messages/internal", func(w http.ResponseWriter, r *http.Request) {
		noteSent = true
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	tc := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

	cfg := testConfig(t, config.PhaseShadow, "0.8")
	q := approval.New(st, tc, nil, nil, cfg)
	d := dispatcher.New(st, tc, q, nil, cfg)

	require.NoError(t, d.Dispatch(t.Context(), ticket, decision(0.95, false, "Your order will arrive a bit later than planned."), models.ContentHash("shipping delay", "where is my order")))
	require.False(t, sendAttempted, "shadow phase must never attempt delivery")
	require.True(t, noteSent)

	msgs, err := st.ListPendingMessages(t.Context(), models.StatusPending, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestDispatch_AutonomousHighConfidenceSendsImmediately(t *testing.T) {
	st := testutil.NewStore(t)
	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber: "TCK-1", TicketID: "remote-1", CustomerEmail: "c@example.com", Language: "en", LastSeenAt: time.Now(),
	}))
	ticket, err := st.GetTicket(t.Context(), "TCK-1")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets/remote-1/messages/customer", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	tc := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

	cfg := testConfig(t, config.PhaseAutonomous, "0.8")
	q := approval.New(st, tc, nil, nil, cfg)
	d := dispatcher.New(st, tc, q, nil, cfg)

	require.NoError(t, d.Dispatch(t.Context(), ticket, decision(0.95, false, "Your order will arrive a bit later than planned."), models.ContentHash("shipping delay", "where is my order")))

	msgs, err := st.ListPendingMessages(t.Context(), models.StatusSent, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestDispatch_LowConfidenceEscalatesEvenInAssisted(t *testing.T) {
	st := testutil.NewStore(t)
	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber: "TCK-1", TicketID: "remote-1", CustomerEmail: "c@example.com", Language: "en", LastSeenAt: time.Now(),
	}))
	ticket, err := st.GetTicket(t.Context(), "TCK-1")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets/remote-1/messages/internal", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	tc := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

	cfg := testConfig(t, config.PhaseAssisted, "0.9")
	q := approval.New(st, tc, nil, nil, cfg)
	d := dispatcher.New(st, tc, q, nil, cfg)

	require.NoError(t, d.Dispatch(t.Context(), ticket, decision(0.5, false, "Your order will arrive a bit later than planned."), models.ContentHash("shipping delay", "where is my order")))

	got, err := st.GetTicket(t.Context(), "TCK-1")
	require.NoError(t, err)
	require.True(t, got.Escalated)

	msgs, err := st.ListPendingMessages(t.Context(), models.StatusPending, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1, "escalation must not prevent draft creation in ASSISTED")
}

func TestDispatch_SuppressesDraftForNearDuplicateInboundWithinWindow(t *testing.T) {
	st := testutil.NewStore(t)
	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber: "TCK-1", TicketID: "remote-1", CustomerEmail: "c@example.com", Language: "en", LastSeenAt: time.Now(),
	}))
	ticket, err := st.GetTicket(t.Context(), "TCK-1")
	require.NoError(t, err)

	hash := models.ContentHash("shipping delay", "where is my order")
	require.NoError(t, st.WithTx(t.Context(), func(tx *store.Tx) error {
		if err := tx.InsertProcessedEmail(t.Context(), &models.ProcessedEmail{
			SourceMessageID: "earlier-msg",
			Subject:         "shipping delay",
			FromAddress:     "c@example.com",
			ReceivedAt:      time.Now().Add(-time.Minute),
			ContentHash:     hash,
		}); err != nil {
			return err
		}
		ref := ticket.TicketNumber
		return tx.MarkProcessedEmailResult(t.Context(), "earlier-msg", &ref, true, "")
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets/remote-1/messages/internal", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	tc := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

	cfg := testConfigWithDedupWindow(t, config.PhaseAssisted, "0.8", 3600)
	q := approval.New(st, tc, nil, nil, cfg)
	d := dispatcher.New(st, tc, q, nil, cfg)

	require.NoError(t, d.Dispatch(t.Context(), ticket, decision(0.95, false, "Your order will arrive a bit later than planned."), hash))

	msgs, err := st.ListPendingMessages(t.Context(), models.StatusPending, "")
	require.NoError(t, err)
	require.Empty(t, msgs, "near-duplicate inbound within the dedup window must not create a new draft")
}
