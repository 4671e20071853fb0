package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventCode string

const (
	EventAuthorisation            EventCode = "AUTHORISATION"
	EventCapture                  EventCode = "CAPTURE"
	EventCaptureFailed            EventCode = "CAPTURE_FAILED"
	EventCancellation             EventCode = "CANCELLATION"
	EventRefund                   EventCode = "REFUND"
	EventRefundFailed             EventCode = "REFUND_FAILED"
	EventRefundedReversed         EventCode = "REFUNDED_REVERSED"
	EventChargeback               EventCode = "CHARGEBACK"
	EventChargebackReversed       EventCode = "CHARGEBACK_REVERSED"
	EventNotificationOfChargeback EventCode = "NOTIFICATION_OF_CHARGEBACK"
	EventRequestForInformation    EventCode = "REQUEST_FOR_INFORMATION"
	EventReportAvailable          EventCode = "REPORT_AVAILABLE"
)

type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// Notification is one inbound push message from the gateway. Delivery is
// at-least-once and unordered; Reference may point at the operation being
// reported, or OriginalReference may point at the operation it chains from.
type Notification struct {
	Reference         string            `json:"reference"`
	OriginalReference string            `json:"originalReference,omitempty"`
	MerchantReference string            `json:"merchantReference,omitempty"`
	EventCode         EventCode         `json:"eventCode"`
	EventDate         time.Time         `json:"eventDate"`
	Amount            Amount            `json:"amount"`
	PaymentMethod     string            `json:"paymentMethod,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	Success           bool              `json:"success"`
	AdditionalData    map[string]string `json:"additionalData,omitempty"`
	Operations        []string          `json:"operations,omitempty"`
}

// NotificationLogEntry is the append-only audit trail of every inbound
// notification, written whether or not the notification changed any state.
type NotificationLogEntry struct {
	bun.BaseModel `bun:"table:notification_log"`

	ID                string            `json:"id" bun:"id,pk"`
	GatewayReference  string            `json:"gateway_reference,omitempty" bun:"gateway_reference,nullzero"`
	OriginalReference string            `json:"original_reference,omitempty" bun:"original_reference,nullzero"`
	CorrelationKey    string            `json:"correlation_key,omitempty" bun:"correlation_key,nullzero"`
	EventCode         string            `json:"event_code" bun:"event_code,notnull"`
	Success           bool              `json:"success" bun:"success"`
	Amount            int64             `json:"amount" bun:"amount"`
	Currency          string            `json:"currency,omitempty" bun:"currency,nullzero"`
	PaymentMethod     string            `json:"payment_method,omitempty" bun:"payment_method,nullzero"`
	Reason            string            `json:"reason,omitempty" bun:"reason,nullzero"`
	Effect            string            `json:"effect" bun:"effect,notnull"`
	AdditionalData    map[string]string `json:"additional_data,omitempty" bun:"additional_data,type:jsonb,nullzero"`
	ReceivedAt        time.Time         `json:"received_at" bun:"received_at,notnull,default:current_timestamp"`
}

// Effect values recorded on the notification log.
const (
	EffectTransitioned      = "transitioned"
	EffectCorrected         = "corrected"
	EffectCreatedChargeback = "created_chargeback"
	EffectCreatedReversal   = "created_reversal"
	EffectCreatedPayment    = "created_payment"
	EffectAuditOnly         = "audit_only"
	EffectIgnored           = "ignored"
)
