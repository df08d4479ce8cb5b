package contextbuilder_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/contextbuilder"
	"github.com/dropshiptriage/triage/internal/models"
)

func testConfig(t *testing.T, internalAgents []string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := `
phase: ASSISTED
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
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triage.yaml"), []byte(body), 0o600))
	cfg, err := config.Initialize(dir)
	require.NoError(t, err)
	cfg.InternalAgents = internalAgents
	return cfg
}

func supplierEmail(s string) *string { return &s }
func supplierName(s string) *string  { return &s }
func orderNumber(s string) *string   { return &s }

func TestBuild_FiltersIgnoredHistory(t *testing.T) {
	cfg := testConfig(t, nil)
	b := contextbuilder.New(cfg)

	state := &models.TicketState{
		TicketNumber:  "TCK-1",
		CustomerEmail: "customer@example.com",
		OrderNumber:   orderNumber("ORD-1"),
	}
	history := []models.TicketHistoryEntry{
		{MessageID: "m1", Role: models.RoleCustomer, From: "customer@example.com", Body: "where is my order", At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{MessageID: "m2", Role: models.RoleCustomer, From: "customer@example.com", Body: "ignore me", At: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
	}

	prompts, err := b.Build(state, history, []string{"m2"})
	require.NoError(t, err)
	assert.Contains(t, prompts.UserPrompt, "where is my order")
	assert.NotContains(t, prompts.UserPrompt, "ignore me")
}

func TestBuild_RedactedStateFlagsMissingOrderReference(t *testing.T) {
	cfg := testConfig(t, nil)
	b := contextbuilder.New(cfg)

	state := &models.TicketState{TicketNumber: "TCK-2", CustomerEmail: "customer@example.com"}
	prompts, err := b.Build(state, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, prompts.RedactedState.RisksOrGaps, "no order or purchase-order reference resolved")
}

func TestRedact_BlocksSupplierIdentityInCustomerDraft(t *testing.T) {
	cfg := testConfig(t, nil)
	b := contextbuilder.New(cfg)

	state := &models.TicketState{
		TicketNumber:  "TCK-3",
		CustomerEmail: "customer@example.com",
		SupplierEmail: supplierEmail("supplier@upstream.example"),
	}

	_, err := b.Redact(contextbuilder.DraftKindCustomer, "Please contact supplier@upstream.example for details.", state)
	require.Error(t, err)

	var block *contextbuilder.PolicyBlock
	require.ErrorAs(t, err, &block)
}

func TestRedact_BlocksSupplierNameInCustomerDraftWithoutEmailOrRef(t *testing.T) {
	cfg := testConfig(t, nil)
	b := contextbuilder.New(cfg)

	state := &models.TicketState{
		TicketNumber:  "TCK-3b",
		CustomerEmail: "customer@example.com",
		SupplierEmail: supplierEmail("supplier@upstream.example"),
		SupplierName:  supplierName("Acme Wholesale Co"),
	}

	_, err := b.Redact(contextbuilder.DraftKindCustomer, "Your order ships from Acme Wholesale Co next week.", state)
	require.Error(t, err)

	var block *contextbuilder.PolicyBlock
	require.ErrorAs(t, err, &block)
}

func TestRedact_AllowsSupplierIdentityInSupplierDraft(t *testing.T) {
	cfg := testConfig(t, nil)
	b := contextbuilder.New(cfg)

	state := &models.TicketState{
		TicketNumber:  "TCK-4",
		CustomerEmail: "customer@example.com",
		SupplierEmail: supplierEmail("supplier@upstream.example"),
	}

	out, err := b.Redact(contextbuilder.DraftKindSupplier, "Hi supplier@upstream.example, please confirm stock.", state)
	require.NoError(t, err)
	assert.Contains(t, out, "supplier@upstream.example")
}

func TestRedact_BlocksInternalAgentNameExternally(t *testing.T) {
	cfg := testConfig(t, []string{"ops-bot@internal.example"})
	b := contextbuilder.New(cfg)

	state := &models.TicketState{TicketNumber: "TCK-5", CustomerEmail: "customer@example.com"}
	_, err := b.Redact(contextbuilder.DraftKindCustomer, "Escalated to ops-bot@internal.example for review.", state)
	require.Error(t, err)
}
