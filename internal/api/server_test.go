package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropshiptriage/triage/internal/api"
	"github.com/dropshiptriage/triage/internal/approval"
	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/dropshiptriage/triage/test/testutil"
)

func newTestServer(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()
	st := testutil.NewStore(t)
	queue := approval.New(st, nil, nil, nil, nil)
	return api.New(st, queue, nil), st
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListAndGetPendingMessage(t *testing.T) {
	s, st := newTestServer(t)

	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber: "TCK-1", TicketID: "remote-1", CustomerEmail: "c@example.com", Language: "en", LastSeenAt: time.Now(),
	}))
	msg := &models.PendingMessage{
		ID: "msg-1", TicketRef: "TCK-1", Kind: models.KindCustomer,
		Subject: "Re: order", Body: "hello", Confidence: 0.9,
		Status: models.StatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, st.InsertPendingMessage(t.Context(), msg))

	req := httptest.NewRequest(http.MethodGet, "/messages/pending?status=pending&kind=customer", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listResp struct {
		Messages []*models.PendingMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Messages, 1)
	require.Equal(t, "msg-1", listResp.Messages[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/messages/pending/msg-1", nil)
	rec = httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPendingMessage_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/messages/pending/missing", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReject(t *testing.T) {
	s, st := newTestServer(t)

	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber: "TCK-2", TicketID: "remote-2", CustomerEmail: "c@example.com", Language: "en", LastSeenAt: time.Now(),
	}))
	msg := &models.PendingMessage{
		ID: "msg-2", TicketRef: "TCK-2", Kind: models.KindCustomer,
		Subject: "Re: order", Body: "hello", Confidence: 0.9,
		Status: models.StatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, st.InsertPendingMessage(t.Context(), msg))

	body := `{"reason": "not accurate"}`
	req := httptest.NewRequest(http.MethodPost, "/messages/pending/msg-2/reject", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := st.GetPendingMessage(t.Context(), "msg-2")
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, got.Status)
	require.Equal(t, "not accurate", got.RejectionReason)
}

func TestHandleReject_MissingReason(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/messages/pending/msg-3/reject", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFeedback(t *testing.T) {
	s, st := newTestServer(t)

	require.NoError(t, st.UpsertTicket(t.Context(), &models.TicketState{
		TicketNumber: "TCK-3", TicketID: "remote-3", CustomerEmail: "c@example.com", Language: "en", LastSeenAt: time.Now(),
	}))
	require.NoError(t, st.InsertAIDecision(t.Context(), &models.AIDecision{
		ID: "dec-1", TicketRef: "TCK-3", At: time.Now(), DetectedLanguage: "en",
		DetectedIntent: "shipping_delay", Confidence: 0.9, PhaseAtDecision: "SHADOW",
	}))

	body := `{"feedback": "correct", "notes": "good draft"}`
	req := httptest.NewRequest(http.MethodPost, "/ai-decisions/dec-1/feedback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	counts, err := st.FeedbackCounts(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, counts[models.FeedbackCorrect])
}
