package models

import (
	"time"

	"github.com/uptrace/bun"
)

// PendingRequestRecord is written when a redirect (hosted-page) flow is
// initiated, before any gateway reference exists. It is keyed by the
// caller-chosen merchant reference, consulted by reference resolution until a
// TransactionRecord supersedes it, and never mutated afterwards.
type PendingRequestRecord struct {
	bun.BaseModel `bun:"table:pending_requests"`

	CorrelationKey string    `json:"correlation_key" bun:"correlation_key,pk"`
	AccountID      string    `json:"account_id" bun:"account_id,notnull"`
	TenantID       string    `json:"tenant_id" bun:"tenant_id,notnull"`
	PaymentID      string    `json:"payment_id,omitempty" bun:"payment_id,nullzero"`
	TransactionID  string    `json:"transaction_id,omitempty" bun:"transaction_id,nullzero"`
	PaymentMethod  string    `json:"payment_method,omitempty" bun:"payment_method,nullzero"`
	Amount         int64     `json:"amount" bun:"amount,notnull"`
	Currency       string    `json:"currency" bun:"currency,notnull"`
	OneStep        bool      `json:"one_step" bun:"one_step,notnull"`
	CreatedAt      time.Time `json:"created_at" bun:"created_at,notnull,default:current_timestamp"`
}
