package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusProcessed TransactionStatus = "processed"
	StatusError     TransactionStatus = "error"
	StatusCanceled  TransactionStatus = "canceled"
	StatusUndefined TransactionStatus = "undefined"
)

// Terminal reports whether no further forward transition is expected.
// Terminal statuses may still be corrected in place when the gateway
// reports something different for the same record.
func (s TransactionStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusError || s == StatusCanceled
}

type TransactionKind string

const (
	KindAuthorize          TransactionKind = "authorize"
	KindPurchase           TransactionKind = "purchase"
	KindCapture            TransactionKind = "capture"
	KindRefund             TransactionKind = "refund"
	KindVoid               TransactionKind = "void"
	KindCredit             TransactionKind = "credit"
	KindChargeback         TransactionKind = "chargeback"
	KindChargebackReversal TransactionKind = "chargeback_reversal"
)

// TransactionRecord is one attempted gateway operation. Created on the first
// call or notification for an operation and mutated only through
// reconciliation decisions, never deleted.
type TransactionRecord struct {
	bun.BaseModel `bun:"table:transaction_records"`

	TransactionID     string            `json:"transaction_id" bun:"transaction_id,pk"`
	PaymentID         string            `json:"payment_id" bun:"payment_id,notnull"`
	AccountID         string            `json:"account_id" bun:"account_id,notnull"`
	TenantID          string            `json:"tenant_id" bun:"tenant_id,notnull"`
	GatewayReference  string            `json:"gateway_reference,omitempty" bun:"gateway_reference,nullzero"`
	OriginalReference string            `json:"original_reference,omitempty" bun:"original_reference,nullzero"`
	Kind              TransactionKind   `json:"kind" bun:"kind,notnull"`
	Amount            int64             `json:"amount" bun:"amount,notnull"`
	Currency          string            `json:"currency" bun:"currency,notnull"`
	Status            TransactionStatus `json:"status" bun:"status,notnull"`
	Reason            string            `json:"reason,omitempty" bun:"reason,nullzero"`
	AdditionalData    map[string]string `json:"additional_data,omitempty" bun:"additional_data,type:jsonb,nullzero"`
	CreatedAt         time.Time         `json:"created_at" bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time         `json:"updated_at,omitempty" bun:"updated_at,nullzero"`
}

// ChallengeMarker is stored in AdditionalData under ResultCodeKey while an
// authorization waits for an out-of-band shopper challenge.
const (
	ResultCodeKey   = "resultCode"
	ChallengeMarker = "ChallengeShopper"
	IdentifyMarker  = "IdentifyShopper"
)
