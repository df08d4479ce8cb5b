package retry_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dropshiptriage/triage/internal/approval"
	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/contextbuilder"
	"github.com/dropshiptriage/triage/internal/dispatcher"
	"github.com/dropshiptriage/triage/internal/formatter"
	"github.com/dropshiptriage/triage/internal/llm"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/pipeline"
	"github.com/dropshiptriage/triage/internal/retry"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/internal/ticketclient"
	"github.com/dropshiptriage/triage/internal/ticketlock"
	"github.com/dropshiptriage/triage/test/testutil"
)

func tokenHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 3600})
}

func testConfig(t *testing.T, ticketBaseURL, llmEndpoint string) *config.Config {
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
ai_disclaimer:
  en: "This reply was drafted with AI assistance and reviewed before sending."
llm:
  provider: anthropic
  endpoint: ` + llmEndpoint + `
  model: claude
  timeout: 20s
ticketing:
  base_url: ` + ticketBaseURL + `
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

func TestSweepIngest_ReplaysDueItemThroughPipeline(t *testing.T) {
	st := testutil.NewStore(t)

	var upserted bool
	const orderNumber = "77001"
	const ticketID = "remote-2"
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			// The order is unknown to the backend until the replay upserts it.
			if r.URL.Query().Get("order_number") != orderNumber || !upserted {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"header": map[string]any{
					"ticket_number":  "TCK-77",
					"ticket_id":      ticketID,
					"order_number":   orderNumber,
					"customer_email": "customer@example.com",
					"language":       "en",
				},
			})
		case http.MethodPost:
			upserted = true
			_ = json.NewEncoder(w).Encode(map[string]string{"ticket_id": ticketID})
		}
	})
	mux.HandleFunc("/tickets/"+ticketID+"/messages/internal", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-1"})
	})
	ticketSrv := httptest.NewServer(mux)
	defer ticketSrv.Close()

	llmMux := http.NewServeMux()
	llmMux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"intent": "shipping_delay", "ticket_type_id": null, "confidence": 0.95,
			"requires_escalation": false, "customer_response": "Your order is on its way.",
			"supplier_action": null, "summary": "delay", "state": {}
		}`))
	})
	llmSrv := httptest.NewServer(llmMux)
	defer llmSrv.Close()

	cfg := testConfig(t, ticketSrv.URL, llmSrv.URL+"/analyze")
	tc := ticketclient.New(ticketclient.Config{BaseURL: ticketSrv.URL, Timeout: 2 * time.Second})
	llmClient, err := llm.New(llm.Config{Endpoint: llmSrv.URL + "/analyze", Model: "claude", Timeout: 2 * time.Second})
	require.NoError(t, err)

	ctxBuilder := contextbuilder.New(cfg)
	fmtr := formatter.New(cfg)
	queue := approval.New(st, tc, nil, nil, cfg)
	disp := dispatcher.New(st, tc, queue, nil, cfg)
	runner := pipeline.New(st, tc, llmClient, ctxBuilder, fmtr, disp, ticketlock.New(), cfg)

	msg := models.InboundMessage{
		SourceMessageID: "msg-retry-1",
		From:            "customer@example.com",
		Subject:         "Order #" + orderNumber,
		ReceivedAt:      time.Now(),
		BodyPlain:       "my order #" + orderNumber + " is late",
	}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	require.NoError(t, st.WithTx(t.Context(), func(tx *store.Tx) error {
		if err := tx.InsertProcessedEmail(t.Context(), &models.ProcessedEmail{
			SourceMessageID: msg.SourceMessageID,
			Subject:         msg.Subject,
			FromAddress:     msg.From,
			ReceivedAt:      msg.ReceivedAt,
			ContentHash:     "hash",
		}); err != nil {
			return err
		}
		return tx.UpsertRetryItem(t.Context(), &models.RetryItem{
			SourceMessageID: msg.SourceMessageID,
			Attempts:        1,
			NextAttemptAt:   time.Now().Add(-time.Minute),
			LastError:       "transient failure",
			Payload:         payload,
		})
	}))

	sched := retry.New(st, runner, queue, cfg)
	require.NoError(t, sched.SweepIngest(t.Context()))

	require.True(t, upserted, "the replay must actually open the case")
	email, err := st.GetProcessedEmail(t.Context(), msg.SourceMessageID)
	require.NoError(t, err)
	require.True(t, email.Success)
}

func TestSweepPendingSends_RetriesDueFailedMessage(t *testing.T) {
	st := testutil.NewStore(t)

	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber: "TCK-1", TicketID: "remote-1", CustomerEmail: "c@example.com", Language: "en", LastSeenAt: time.Now(),
	}))

	msg := &models.PendingMessage{
		ID:         uuid.NewString(),
		TicketRef:  "TCK-1",
		Kind:       models.KindCustomer,
		Subject:    "Re: your order",
		Body:       "Your package is on the way.",
		Confidence: 0.9,
		Status:     models.StatusApproved,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, st.InsertPendingMessage(t.Context(), msg))
	require.NoError(t, st.WithTx(t.Context(), func(tx *store.Tx) error {
		past := time.Now().Add(-time.Minute)
		return tx.MarkPendingMessageFailed(t.Context(), msg.ID, "boom", &past)
	}))

	var sent bool
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler)
	mux.HandleFunc("/tickets/remote-1/messages/customer", func(w http.ResponseWriter, r *http.Request) {
		sent = true
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "MSG-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t, srv.URL, "http://unused.invalid")
	tc := ticketclient.New(ticketclient.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	queue := approval.New(st, tc, nil, nil, cfg)

	sched := retry.New(st, nil, queue, cfg)
	require.NoError(t, sched.SweepPendingSends(t.Context()))

	require.True(t, sent)
	got, err := st.GetPendingMessage(t.Context(), msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, got.Status)
}
