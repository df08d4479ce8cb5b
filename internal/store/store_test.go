package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropshiptriage/triage/internal/models"
	"github.com/dropshiptriage/triage/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestInsertProcessedEmail_RejectsDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	e := &models.ProcessedEmail{
		SourceMessageID: "msg-1",
		ThreadID:        "thread-1",
		FromAddress:     "customer@example.com",
		ReceivedAt:      time.Now(),
	}

	err := st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertProcessedEmail(ctx, e)
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertProcessedEmail(ctx, e)
	})
	require.ErrorIs(t, err, store.ErrAlreadyProcessed)
}

func TestUpsertTicket_RejectsConflictingOrderNumber(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	order := "ORD-100"
	t1 := &models.TicketState{
		TicketNumber: "T-1",
		Status:       models.TicketStatusNew,
		OrderNumber:  &order,
		LastSeenAt:   time.Now(),
	}
	require.NoError(t, st.UpsertTicket(ctx, t1))

	t2 := &models.TicketState{
		TicketNumber: "T-2",
		Status:       models.TicketStatusNew,
		OrderNumber:  &order,
		LastSeenAt:   time.Now(),
	}
	err := st.UpsertTicket(ctx, t2)
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestPendingMessage_ApproveThenSend(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ticket := &models.TicketState{TicketNumber: "T-5", Status: models.TicketStatusNew, LastSeenAt: time.Now()}
	require.NoError(t, st.UpsertTicket(ctx, ticket))

	decisionID := uuid.NewString()
	decision := &models.AIDecision{
		ID:         decisionID,
		TicketRef:  "T-5",
		At:         time.Now(),
		Confidence: 0.9,
	}
	require.NoError(t, st.InsertAIDecision(ctx, decision))

	msgID := uuid.NewString()
	msg := &models.PendingMessage{
		ID:            msgID,
		TicketRef:     "T-5",
		Kind:          models.KindCustomer,
		To:            "customer@example.com",
		Body:          "hello",
		AIDecisionRef: decisionID,
		Status:        models.StatusPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, st.InsertPendingMessage(ctx, msg))

	err := st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.ApprovePendingMessage(ctx, msgID, "operator1")
	})
	require.NoError(t, err)

	got, err := st.GetPendingMessage(ctx, msgID)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, got.Status)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.MarkPendingMessageSent(ctx, msgID)
	})
	require.NoError(t, err)

	got, err = st.GetPendingMessage(ctx, msgID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)

	// Sent is terminal (I4): approving again must fail.
	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.ApprovePendingMessage(ctx, msgID, "operator1")
	})
	require.Error(t, err)
}

func TestSupplierMessage_ActiveUniquePerSupplierAndTicket(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ticket := &models.TicketState{TicketNumber: "T-9", Status: models.TicketStatusNew, LastSeenAt: time.Now()}
	require.NoError(t, st.UpsertTicket(ctx, ticket))
	require.NoError(t, st.UpsertSupplier(ctx, &models.Supplier{Name: "acme", DefaultEmail: "ops@acme.test"}))

	first := &models.SupplierMessage{
		ID:          uuid.NewString(),
		SupplierRef: "acme",
		TicketRef:   "T-9",
		SentAt:      time.Now(),
		NextCheckAt: time.Now().Add(24 * time.Hour),
	}
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.RecordSupplierMessageSent(ctx, first)
	})
	require.NoError(t, err)

	second := &models.SupplierMessage{
		ID:          uuid.NewString(),
		SupplierRef: "acme",
		TicketRef:   "T-9",
		SentAt:      time.Now(),
		NextCheckAt: time.Now().Add(24 * time.Hour),
	}
	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.RecordSupplierMessageSent(ctx, second)
	})
	require.True(t, errors.Is(err, store.ErrConflict))

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.MarkSupplierResponseReceived(ctx, first.ID)
	})
	require.NoError(t, err)

	// Now that the first is answered, a new active message is allowed.
	third := &models.SupplierMessage{
		ID:          uuid.NewString(),
		SupplierRef: "acme",
		TicketRef:   "T-9",
		SentAt:      time.Now(),
		NextCheckAt: time.Now().Add(24 * time.Hour),
	}
	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.RecordSupplierMessageSent(ctx, third)
	})
	require.NoError(t, err)
}

func TestLockTicket_SerializesWithinTransaction(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.LockTicket(ctx, "T-lock")
	})
	require.NoError(t, err)
}
