package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Task tags. The tag is the serialization discriminator; executors are
// registered against it in the scheduler's dispatch table.
const (
	TaskChallengeCheck = "challenge_check"
	TaskIdentifyCheck  = "identify_check"
)

const (
	TaskScheduled = "scheduled"
	TaskClaimed   = "claimed"
	TaskDone      = "done"
)

// ReconTask is one durable scheduled unit of work. Tasks live in the database
// so a re-check scheduled before a restart still fires after it.
type ReconTask struct {
	bun.BaseModel `bun:"table:recon_tasks"`

	ID        string          `json:"id" bun:"id,pk"`
	Tag       string          `json:"tag" bun:"tag,notnull"`
	DueAt     time.Time       `json:"due_at" bun:"due_at,notnull"`
	Status    string          `json:"status" bun:"status,notnull"`
	Payload   json.RawMessage `json:"payload" bun:"payload,type:jsonb,notnull"`
	CreatedAt time.Time       `json:"created_at" bun:"created_at,notnull,default:current_timestamp"`
	ClaimedAt time.Time       `json:"claimed_at,omitempty" bun:"claimed_at,nullzero"`
}

// CheckPayload is the payload for challenge_check and identify_check tasks.
type CheckPayload struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	TenantID      string `json:"tenant_id"`
}
