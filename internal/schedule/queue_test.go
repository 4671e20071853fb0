package schedule_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
	"ms-reconciler/internal/schedule"
)

func setupTestQueue(t *testing.T) *schedule.Queue {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bunDB.ResetModel(context.Background(), (*models.ReconTask)(nil)))

	log := logger.NewLogger()
	t.Cleanup(func() {
		log.Close()
		bunDB.Close()
	})

	return &schedule.Queue{Bun: bunDB, Log: log}
}

func TestScheduleAndClaimDue(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	payload := models.CheckPayload{PaymentID: "pay-1", TransactionID: "txn-1", TenantID: "tenant-1"}
	require.NoError(t, queue.Schedule(ctx, models.TaskChallengeCheck, now.Add(-time.Minute), payload))
	require.NoError(t, queue.Schedule(ctx, models.TaskIdentifyCheck, now.Add(time.Hour), payload))

	claimed, err := queue.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "only the due task is claimed")
	assert.Equal(t, models.TaskChallengeCheck, claimed[0].Tag)
	assert.Equal(t, models.TaskClaimed, claimed[0].Status)

	var decoded models.CheckPayload
	require.NoError(t, json.Unmarshal(claimed[0].Payload, &decoded))
	assert.Equal(t, "txn-1", decoded.TransactionID)
}

func TestClaimDue_TaskClaimedOnlyOnce(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, queue.Schedule(ctx, models.TaskChallengeCheck, now.Add(-time.Minute), models.CheckPayload{PaymentID: "pay-1"}))

	first, err := queue.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := queue.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, second, "a claimed task must not be claimed again")
}

func TestMarkDoneRemovesFromFuturePolls(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, queue.Schedule(ctx, models.TaskChallengeCheck, now.Add(-time.Minute), models.CheckPayload{PaymentID: "pay-1"}))

	claimed, err := queue.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, queue.MarkDone(ctx, claimed[0].ID))

	later, err := queue.ClaimDue(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestReleaseMakesTaskClaimableAgain(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, queue.Schedule(ctx, models.TaskChallengeCheck, now.Add(-time.Minute), models.CheckPayload{PaymentID: "pay-1"}))

	claimed, err := queue.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Executor failed; the task goes back for a later retry.
	require.NoError(t, queue.Release(ctx, claimed[0].ID))

	again, err := queue.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, claimed[0].ID, again[0].ID)
}

func TestClaimDue_RespectsLimit(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Schedule(ctx, models.TaskChallengeCheck, now.Add(-time.Minute), models.CheckPayload{PaymentID: "pay-1"}))
	}

	claimed, err := queue.ClaimDue(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)
}
