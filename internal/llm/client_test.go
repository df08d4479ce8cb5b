package llm_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropshiptriage/triage/internal/llm"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_ValidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"intent": "order_status",
			"ticket_type_id": 3,
			"confidence": 0.92,
			"requires_escalation": false,
			"customer_response": "Your order has shipped.",
			"supplier_action": null,
			"summary": "Customer asked about order status.",
			"state": {"order_ref": "ORD-1"}
		}`))
	}))
	defer srv.Close()

	c, err := llm.New(llm.Config{Endpoint: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	result, err := c.Analyze(t.Context(), "system", "user")
	require.NoError(t, err)
	require.Equal(t, "order_status", result.Intent)
	require.InDelta(t, 0.92, result.Confidence, 0.0001)
	require.False(t, result.RequiresEscalation)
}

func TestAnalyze_SchemaViolationNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"intent": "order_status"}`)) // missing required fields
	}))
	defer srv.Close()

	c, err := llm.New(llm.Config{Endpoint: srv.URL, Timeout: 2 * time.Second, MaxRetries: 2})
	require.NoError(t, err)

	_, err = c.Analyze(t.Context(), "system", "user")
	require.Error(t, err)

	var violation *llm.SchemaViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, 1, attempts)
}

func TestAnalyze_UnavailableAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := llm.New(llm.Config{Endpoint: srv.URL, Timeout: 2 * time.Second, MaxRetries: 1})
	require.NoError(t, err)

	_, err = c.Analyze(t.Context(), "system", "user")
	require.Error(t, err)

	var unavailable *llm.Unavailable
	require.ErrorAs(t, err, &unavailable)
}
