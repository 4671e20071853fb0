package recon

import (
	"ms-reconciler/internal/models"
)

// statusMode says how an event code derives its outcome status.
type statusMode int

const (
	// bySuccess maps the notification's success flag to processed/error.
	bySuccess statusMode = iota
	// alwaysError is for failure-only event codes.
	alwaysError
)

// Tables holds the closed event-code lookup tables. They are built once at
// startup and passed by reference into the reconciler; nothing mutates them
// afterwards.
type Tables struct {
	kinds    map[models.EventCode]models.TransactionKind
	statuses map[models.EventCode]statusMode
}

func NewTables() *Tables {
	return &Tables{
		kinds: map[models.EventCode]models.TransactionKind{
			models.EventAuthorisation:      models.KindAuthorize,
			models.EventCapture:            models.KindCapture,
			models.EventCaptureFailed:      models.KindCapture,
			models.EventCancellation:       models.KindVoid,
			models.EventRefund:             models.KindRefund,
			models.EventRefundFailed:       models.KindRefund,
			models.EventRefundedReversed:   models.KindCredit,
			models.EventChargeback:         models.KindChargeback,
			models.EventChargebackReversed: models.KindChargebackReversal,
		},
		statuses: map[models.EventCode]statusMode{
			models.EventAuthorisation:      bySuccess,
			models.EventCapture:            bySuccess,
			models.EventCancellation:       bySuccess,
			models.EventRefund:             bySuccess,
			models.EventRefundedReversed:   bySuccess,
			models.EventCaptureFailed:      alwaysError,
			models.EventRefundFailed:       alwaysError,
			models.EventChargeback:         bySuccess,
			models.EventChargebackReversed: alwaysError,
		},
	}
}

// Kind returns the transaction kind an event code reports on.
func (t *Tables) Kind(code models.EventCode) (models.TransactionKind, bool) {
	kind, ok := t.kinds[code]
	return kind, ok
}

// Status derives the outcome status for an event code. Unrecognized codes
// (informational events, reports) derive "undefined" and are audit-only.
func (t *Tables) Status(code models.EventCode, success bool) models.TransactionStatus {
	mode, ok := t.statuses[code]
	if !ok {
		return models.StatusUndefined
	}
	switch mode {
	case alwaysError:
		return models.StatusError
	default:
		if success {
			return models.StatusProcessed
		}
		return models.StatusError
	}
}
