package notify_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/notify"
)

func TestEscalation_PostsMessage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "channel": "C1", "ts": "1"}`))
	}))
	defer srv.Close()

	n := notify.NewWithAPIURL("C1", "xoxb-test", srv.URL+"/")
	require.NotNil(t, n)

	n.Escalation(t.Context(), "TCK-1", "low confidence")
	assert.Contains(t, gotPath, "chat.postMessage")
}

func TestNew_DisabledReturnsNilSafeNotifier(t *testing.T) {
	n := notify.New(config.SlackConfig{Enabled: false}, "")
	assert.Nil(t, n)

	// nil-safe: calling methods on a nil Notifier must not panic.
	n.Escalation(t.Context(), "TCK-1", "reason")
	n.SupplierReminder(t.Context(), "TCK-1", "Acme")
	n.SendExhausted(t.Context(), "TCK-1", "PM-1")
}
