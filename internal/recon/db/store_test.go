package db_test

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

	"ms-reconciler/internal/models"
	"ms-reconciler/internal/recon/db"
)

func setupTestStore(t *testing.T) *db.Store {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.TransactionRecord)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.PendingRequestRecord)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.NotificationLogEntry)(nil)))

	t.Cleanup(func() { bunDB.Close() })
	return &db.Store{Bun: bunDB}
}

func sampleRecord(transactionID, reference string) *models.TransactionRecord {
	return &models.TransactionRecord{
		TransactionID:    transactionID,
		PaymentID:        "pay-1",
		AccountID:        "acct-1",
		TenantID:         "tenant-1",
		GatewayReference: reference,
		Kind:             models.KindAuthorize,
		Amount:           1000,
		Currency:         "EUR",
		Status:           models.StatusPending,
		CreatedAt:        time.Now(),
	}
}

func TestLookupByGatewayReference(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTransactionRecord(ctx, sampleRecord("txn-1", "psp-ref-1")))

	record, err := store.LookupByGatewayReference(ctx, "psp-ref-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "txn-1", record.TransactionID)

	// Unknown references resolve to nothing, not an error.
	record, err = store.LookupByGatewayReference(ctx, "psp-ref-unknown")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestUpsertTransactionRecord_ReplacesStateOnConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	record := sampleRecord("txn-1", "")
	require.NoError(t, store.UpsertTransactionRecord(ctx, record))

	// The gateway reference only becomes known once the call answers.
	record.GatewayReference = "psp-ref-1"
	record.Status = models.StatusProcessed
	record.AdditionalData = map[string]string{models.ResultCodeKey: "Authorised"}
	require.NoError(t, store.UpsertTransactionRecord(ctx, record))

	stored, err := store.LookupByGatewayReference(ctx, "psp-ref-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "txn-1", stored.TransactionID)
	assert.Equal(t, models.StatusProcessed, stored.Status)
	assert.Equal(t, "Authorised", stored.AdditionalData[models.ResultCodeKey])
	assert.False(t, stored.UpdatedAt.IsZero())
}

func TestLookupPendingRequest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	pending := &models.PendingRequestRecord{
		CorrelationKey: "merchant-ref-1",
		AccountID:      "acct-1",
		TenantID:       "tenant-1",
		Amount:         2500,
		Currency:       "EUR",
		OneStep:        true,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, store.CreatePendingRequest(ctx, pending))

	found, err := store.LookupPendingRequest(ctx, "merchant-ref-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.OneStep)
	assert.Equal(t, int64(2500), found.Amount)

	found, err = store.LookupPendingRequest(ctx, "merchant-ref-other")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestAppendNotificationLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &models.NotificationLogEntry{
		ID:               "log-1",
		GatewayReference: "psp-ref-1",
		EventCode:        string(models.EventAuthorisation),
		Success:          true,
		Amount:           1000,
		Currency:         "EUR",
		Effect:           models.EffectTransitioned,
		ReceivedAt:       time.Now(),
	}
	require.NoError(t, store.AppendNotificationLog(ctx, entry))

	count, err := store.Bun.NewSelect().Model((*models.NotificationLogEntry)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
