package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
)

// Queue is the persisted task queue backing deferred re-checks. Tasks are
// rows with a due timestamp and a tagged payload, so a check scheduled before
// a restart still fires after it.
type Queue struct {
	Bun *bun.DB
	Log *logger.Logger
}

// Schedule enqueues one durable task.
func (q *Queue) Schedule(ctx context.Context, tag string, dueAt time.Time, payload models.CheckPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode task payload: %w", err)
	}

	task := &models.ReconTask{
		ID:        uuid.NewString(),
		Tag:       tag,
		DueAt:     dueAt,
		Status:    models.TaskScheduled,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	if _, err := q.Bun.NewInsert().Model(task).Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", tag, err)
	}
	q.Log.LogSchedule("ENQUEUE", task.ID, fmt.Sprintf("%s due at %s", tag, dueAt.Format(time.RFC3339)))
	return nil
}

// ClaimDue claims up to limit due tasks. Each claim is an optimistic
// scheduled->claimed update, so concurrent pollers never run the same task.
func (q *Queue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ReconTask, error) {
	var due []models.ReconTask
	err := q.Bun.NewSelect().
		Model(&due).
		Where("status = ?", models.TaskScheduled).
		Where("due_at <= ?", now).
		Order("due_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	claimed := make([]models.ReconTask, 0, len(due))
	for _, task := range due {
		res, err := q.Bun.NewUpdate().
			Model((*models.ReconTask)(nil)).
			Set("status = ?", models.TaskClaimed).
			Set("claimed_at = ?", now).
			Where("id = ?", task.ID).
			Where("status = ?", models.TaskScheduled).
			Exec(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			continue
		}
		task.Status = models.TaskClaimed
		task.ClaimedAt = now
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// MarkDone finishes a claimed task.
func (q *Queue) MarkDone(ctx context.Context, taskID string) error {
	_, err := q.Bun.NewUpdate().
		Model((*models.ReconTask)(nil)).
		Set("status = ?", models.TaskDone).
		Where("id = ?", taskID).
		Exec(ctx)
	return err
}

// Release puts a claimed task back so a later poll retries it.
func (q *Queue) Release(ctx context.Context, taskID string) error {
	_, err := q.Bun.NewUpdate().
		Model((*models.ReconTask)(nil)).
		Set("status = ?", models.TaskScheduled).
		Where("id = ?", taskID).
		Exec(ctx)
	return err
}
