package ledger_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-reconciler/internal/ledger"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
	"ms-reconciler/internal/recon"
)

func setupTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Payment)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.TransactionRecord)(nil)))

	log := logger.NewLogger()
	t.Cleanup(func() {
		log.Close()
		bunDB.Close()
	})

	return &ledger.Ledger{Bun: bunDB, Log: log}
}

func seedPayment(t *testing.T, l *ledger.Ledger, paymentID, transactionID string, status models.TransactionStatus) *models.TransactionRecord {
	t.Helper()

	payment := &models.Payment{
		PaymentID: paymentID,
		AccountID: "acct-1",
		TenantID:  "tenant-1",
		Amount:    1000,
		Currency:  "EUR",
		CreatedAt: time.Now(),
	}
	record := &models.TransactionRecord{
		TransactionID:    transactionID,
		PaymentID:        paymentID,
		AccountID:        "acct-1",
		TenantID:         "tenant-1",
		GatewayReference: "psp-" + transactionID,
		Kind:             models.KindAuthorize,
		Amount:           1000,
		Currency:         "EUR",
		Status:           status,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, l.CreatePaymentWithFirstTransaction(context.Background(), payment, record))
	return record
}

func TestGetPaymentByID(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	seedPayment(t, l, "pay-1", "txn-1", models.StatusPending)

	payment, err := l.GetPaymentByID(ctx, "tenant-1", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", payment.AccountID)

	_, err = l.GetPaymentByID(ctx, "tenant-1", "missing")
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)

	// Tenant scoping: another tenant must not see the payment.
	_, err = l.GetPaymentByID(ctx, "tenant-2", "pay-1")
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestTransitionPendingTransaction(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	seedPayment(t, l, "pay-1", "txn-1", models.StatusPending)

	updated, err := l.TransitionPendingTransaction(ctx, "txn-1", models.StatusProcessed, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, updated.Status)
	assert.False(t, updated.UpdatedAt.IsZero())
}

func TestTransitionPendingTransaction_GuardRejectsSecondWriter(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	seedPayment(t, l, "pay-1", "txn-1", models.StatusPending)

	_, err := l.TransitionPendingTransaction(ctx, "txn-1", models.StatusProcessed, "")
	require.NoError(t, err)

	// The second transition finds the row no longer pending and must not
	// overwrite the first outcome.
	_, err = l.TransitionPendingTransaction(ctx, "txn-1", models.StatusCanceled, "expired")
	assert.ErrorIs(t, err, recon.ErrTransitionConflict)

	records, err := l.GetTransactions(ctx, "pay-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusProcessed, records[0].Status)
}

func TestCorrectTerminalTransactionState(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	seedPayment(t, l, "pay-1", "txn-1", models.StatusError)

	corrected, err := l.CorrectTerminalTransactionState(ctx, "txn-1", models.StatusError, models.StatusProcessed, "late confirmation")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, corrected.Status)
	assert.Equal(t, "late confirmation", corrected.Reason)
}

func TestCorrectTerminalTransactionState_RequiresExpectedStatus(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	seedPayment(t, l, "pay-1", "txn-1", models.StatusProcessed)

	_, err := l.CorrectTerminalTransactionState(ctx, "txn-1", models.StatusError, models.StatusCanceled, "")
	assert.ErrorIs(t, err, recon.ErrTransitionConflict)
}

func TestGetChargeback(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	seedPayment(t, l, "pay-1", "txn-1", models.StatusProcessed)

	open, err := l.GetChargeback(ctx, "pay-1")
	require.NoError(t, err)
	assert.Nil(t, open)

	chargeback := &models.TransactionRecord{
		TransactionID:    "txn-cb",
		PaymentID:        "pay-1",
		AccountID:        "acct-1",
		TenantID:         "tenant-1",
		GatewayReference: "psp-cb",
		Kind:             models.KindChargeback,
		Amount:           1000,
		Currency:         "EUR",
		Status:           models.StatusProcessed,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, l.CreateChargeback(ctx, chargeback))

	open, err = l.GetChargeback(ctx, "pay-1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "txn-cb", open.TransactionID)
}

func TestLastSuccessfulAuthorization(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	seedPayment(t, l, "pay-1", "txn-1", models.StatusPending)

	last, err := l.LastSuccessfulAuthorization(ctx, "pay-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "txn-1", last.TransactionID)

	// A failed retry must not displace the live authorization even when newer.
	failed := &models.TransactionRecord{
		TransactionID: "txn-2",
		PaymentID:     "pay-1",
		AccountID:     "acct-1",
		TenantID:      "tenant-1",
		Kind:          models.KindAuthorize,
		Amount:        1000,
		Currency:      "EUR",
		Status:        models.StatusError,
		CreatedAt:     time.Now().Add(time.Minute),
	}
	_, err = l.Bun.NewInsert().Model(failed).Exec(ctx)
	require.NoError(t, err)

	last, err = l.LastSuccessfulAuthorization(ctx, "pay-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "txn-1", last.TransactionID)

	// Captures never count as authorizations.
	capture := &models.TransactionRecord{
		TransactionID: "txn-3",
		PaymentID:     "pay-1",
		AccountID:     "acct-1",
		TenantID:      "tenant-1",
		Kind:          models.KindCapture,
		Amount:        1000,
		Currency:      "EUR",
		Status:        models.StatusProcessed,
		CreatedAt:     time.Now().Add(2 * time.Minute),
	}
	_, err = l.Bun.NewInsert().Model(capture).Exec(ctx)
	require.NoError(t, err)

	last, err = l.LastSuccessfulAuthorization(ctx, "pay-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "txn-1", last.TransactionID)
}

func TestGetTransactions_OrderedByCreation(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	seedPayment(t, l, "pay-1", "txn-1", models.StatusProcessed)

	second := &models.TransactionRecord{
		TransactionID: "txn-2",
		PaymentID:     "pay-1",
		AccountID:     "acct-1",
		TenantID:      "tenant-1",
		Kind:          models.KindCapture,
		Amount:        1000,
		Currency:      "EUR",
		Status:        models.StatusPending,
		CreatedAt:     time.Now().Add(time.Minute),
	}
	_, err := l.Bun.NewInsert().Model(second).Exec(ctx)
	require.NoError(t, err)

	records, err := l.GetTransactions(ctx, "pay-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "txn-1", records[0].TransactionID)
	assert.Equal(t, "txn-2", records[1].TransactionID)
}
