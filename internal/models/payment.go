package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Payment groups the transaction records of one shopper payment. Amounts are
// minor units (cents); integer arithmetic avoids float rounding on money.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	PaymentID     string    `json:"payment_id" bun:"payment_id,pk"`
	AccountID     string    `json:"account_id" bun:"account_id,notnull"`
	TenantID      string    `json:"tenant_id" bun:"tenant_id,notnull"`
	PaymentMethod string    `json:"payment_method,omitempty" bun:"payment_method,nullzero"`
	Amount        int64     `json:"amount" bun:"amount,notnull"`
	Currency      string    `json:"currency" bun:"currency,notnull"`
	CreatedAt     time.Time `json:"created_at" bun:"created_at,notnull,default:current_timestamp"`
}

// PaymentStatus is the read-side view returned by the status endpoint after
// the expiration sweep has run.
type PaymentStatus struct {
	Payment      *Payment            `json:"payment"`
	Transactions []TransactionRecord `json:"transactions"`
}
