package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-reconciler/internal/config"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
)

const leaderLockKey = "recon:scheduler:leader"

// Executor runs one tagged task payload.
type Executor interface {
	Execute(ctx context.Context, payload models.CheckPayload) error
}

// Poller drains the durable queue. Executors are registered per tag; the tag
// on the row is the discriminator that picks the executor, there is no
// reflection-based dispatch. Only one instance polls at a time, coordinated
// through a Redis leader lock.
type Poller struct {
	queue      *Queue
	redis      *redis.Client
	dispatch   map[string]Executor
	interval   time.Duration
	lockTTL    time.Duration
	instanceID string
	log        *logger.Logger
}

func NewPoller(queue *Queue, redisClient *redis.Client, cfg config.ScheduleConfig, log *logger.Logger) *Poller {
	return &Poller{
		queue:      queue,
		redis:      redisClient,
		dispatch:   make(map[string]Executor),
		interval:   cfg.PollInterval,
		lockTTL:    cfg.LeaderLockTTL,
		instanceID: uuid.NewString(),
		log:        log,
	}
}

// Register binds an executor to a task tag.
func (p *Poller) Register(tag string, executor Executor) {
	p.dispatch[tag] = executor
}

// Run polls until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.LogSchedule("START", p.instanceID, fmt.Sprintf("polling every %s", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.log.LogSchedule("STOP", p.instanceID, "poller shutting down")
			return
		case <-ticker.C:
			if !p.acquireLeadership(ctx) {
				continue
			}
			if err := p.drain(ctx); err != nil {
				p.log.Error("SCHEDULE", fmt.Sprintf("poll failed: %v", err))
			}
		}
	}
}

// acquireLeadership takes or refreshes the leader lock.
func (p *Poller) acquireLeadership(ctx context.Context) bool {
	ok, err := p.redis.SetNX(ctx, leaderLockKey, p.instanceID, p.lockTTL).Result()
	if err != nil {
		p.log.Error("SCHEDULE", fmt.Sprintf("leader lock error: %v", err))
		return false
	}
	if ok {
		return true
	}
	holder, err := p.redis.Get(ctx, leaderLockKey).Result()
	if err != nil {
		return false
	}
	if holder != p.instanceID {
		return false
	}
	p.redis.Expire(ctx, leaderLockKey, p.lockTTL)
	return true
}

func (p *Poller) drain(ctx context.Context) error {
	tasks, err := p.queue.ClaimDue(ctx, time.Now(), 50)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		executor, ok := p.dispatch[task.Tag]
		if !ok {
			p.log.Error("SCHEDULE", fmt.Sprintf("no executor registered for tag %s, task %s dropped", task.Tag, task.ID))
			if err := p.queue.MarkDone(ctx, task.ID); err != nil {
				return err
			}
			continue
		}

		var payload models.CheckPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			p.log.Error("SCHEDULE", fmt.Sprintf("task %s has malformed payload: %v", task.ID, err))
			if err := p.queue.MarkDone(ctx, task.ID); err != nil {
				return err
			}
			continue
		}

		if err := executor.Execute(ctx, payload); err != nil {
			p.log.Error("SCHEDULE", fmt.Sprintf("task %s (%s) failed: %v", task.ID, task.Tag, err))
			if err := p.queue.Release(ctx, task.ID); err != nil {
				return err
			}
			continue
		}

		p.log.LogSchedule("DONE", task.ID, task.Tag)
		if err := p.queue.MarkDone(ctx, task.ID); err != nil {
			return err
		}
	}
	return nil
}
