package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
)

// ErrInvariantViolation marks a signal whose resolved reference should have
// had a local record but does not. It is fatal for that single delivery: the
// error is surfaced so the webhook is redelivered later instead of being
// silently dropped.
var ErrInvariantViolation = errors.New("reconciliation invariant violation")

// ErrTransitionConflict is returned when the optimistic pending guard loses a
// race; the delivery mechanism retries and the redelivery lands on the
// correction path.
var ErrTransitionConflict = errors.New("transaction no longer pending")

// Reconciler is the decision core: given a resolved signal and current local
// state, it computes the next status and applies the required side effect
// against the ledger exactly once.
type Reconciler struct {
	tables *Tables
	ledger Ledger
	log    *logger.Logger
	now    func() time.Time
}

func NewReconciler(tables *Tables, ledger Ledger, log *logger.Logger) *Reconciler {
	return &Reconciler{tables: tables, ledger: ledger, log: log, now: time.Now}
}

// Apply evaluates the decision table in order; the first matching rule is
// applied and the rest skipped. It returns the effect recorded on the audit
// log and the record that was created or changed, if any.
//
// Redelivering the same notification lands on the same-status terminal path
// (or the same pending transition) and produces no net change.
func (r *Reconciler) Apply(ctx context.Context, res *ResolvedReference, n models.Notification) (string, *models.TransactionRecord, error) {
	kind, kindKnown := r.tables.Kind(n.EventCode)
	status := r.tables.Status(n.EventCode, n.Success)

	// Unrecognized outcome: record audit only, change nothing.
	if status == models.StatusUndefined || !kindKnown {
		r.log.LogRecon("AUDIT_ONLY", n.Reference, fmt.Sprintf("event %s derives no outcome", n.EventCode))
		return models.EffectAuditOnly, nil, nil
	}

	// A record for this operation exists and is still open.
	if res.Record != nil && res.Record.Status == models.StatusPending {
		updated, err := r.ledger.TransitionPendingTransaction(ctx, res.Record.TransactionID, status, n.Reason)
		if err != nil {
			return "", nil, err
		}
		r.log.LogRecon("TRANSITION", n.Reference,
			fmt.Sprintf("transaction %s: pending -> %s", res.Record.TransactionID, status))
		return models.EffectTransitioned, updated, nil
	}

	// The record already reached a terminal status. When the gateway reports
	// something different it had more information than the original call
	// captured: correct the record in place, never create a second one.
	if res.Record != nil && res.Record.Status.Terminal() {
		if res.Record.Status == status {
			r.log.LogRecon("DUPLICATE", n.Reference,
				fmt.Sprintf("transaction %s already %s", res.Record.TransactionID, status))
			return models.EffectIgnored, nil, nil
		}
		corrected, err := r.ledger.CorrectTerminalTransactionState(ctx, res.Record.TransactionID, res.Record.Status, status, n.Reason)
		if err != nil {
			return "", nil, err
		}
		r.log.LogRecon("CORRECT", n.Reference,
			fmt.Sprintf("transaction %s: %s -> %s", res.Record.TransactionID, res.Record.Status, status))
		return models.EffectCorrected, corrected, nil
	}

	// A chargeback, or its reversal, for a payment we know only through the
	// original operation.
	if res.Record == nil && res.Original != nil && (kind == models.KindChargeback || kind == models.KindChargebackReversal) {
		if kind == models.KindChargeback && status == models.StatusProcessed {
			chargeback := r.newRecord(res.Original, n, models.KindChargeback, models.StatusProcessed)
			if err := r.ledger.CreateChargeback(ctx, chargeback); err != nil {
				return "", nil, err
			}
			r.log.LogRecon("CHARGEBACK", n.Reference,
				fmt.Sprintf("created chargeback %s on payment %s", chargeback.TransactionID, chargeback.PaymentID))
			return models.EffectCreatedChargeback, chargeback, nil
		}

		// A failed chargeback, or an explicit CHARGEBACK_REVERSED, reverses
		// the one already on the payment. There is at most one open
		// chargeback per payment.
		open, err := r.ledger.GetChargeback(ctx, res.Original.PaymentID)
		if err != nil {
			return "", nil, err
		}
		if open == nil {
			return "", nil, fmt.Errorf("%w: chargeback reversal for payment %s without a chargeback record",
				ErrInvariantViolation, res.Original.PaymentID)
		}
		// The reversal record carries the status the event derives, so a
		// redelivery resolves it by its own reference and lands on the
		// duplicate path instead of correcting it.
		reversal := r.newRecord(res.Original, n, models.KindChargebackReversal, status)
		reversal.OriginalReference = open.GatewayReference
		if err := r.ledger.CreateChargebackReversal(ctx, reversal); err != nil {
			return "", nil, err
		}
		r.log.LogRecon("CHARGEBACK_REVERSAL", n.Reference,
			fmt.Sprintf("created reversal %s referencing chargeback %s", reversal.TransactionID, open.TransactionID))
		return models.EffectCreatedReversal, reversal, nil
	}

	// Redirect flow: no record yet, but the correlation key matched the
	// pending request written at redirect-initiation time. Create the payment
	// and its first transaction.
	if res.Record == nil && res.Pending != nil && kind == models.KindAuthorize {
		payment, record := r.newPaymentFromPending(res.Pending, n)
		if err := r.ledger.CreatePaymentWithFirstTransaction(ctx, payment, record); err != nil {
			return "", nil, err
		}
		r.log.LogRecon("CREATE", n.Reference,
			fmt.Sprintf("created payment %s with %s transaction %s (%s)", payment.PaymentID, record.Kind, record.TransactionID, record.Status))
		return models.EffectCreatedPayment, record, nil
	}

	// Ambiguous: no record, no redirect context. Never fabricate state for an
	// unexplained reference.
	r.log.LogRecon("IGNORED", n.Reference, fmt.Sprintf("no applicable rule for event %s", n.EventCode))
	return models.EffectIgnored, nil, nil
}

func (r *Reconciler) newRecord(original *models.TransactionRecord, n models.Notification, kind models.TransactionKind, status models.TransactionStatus) *models.TransactionRecord {
	return &models.TransactionRecord{
		TransactionID:     uuid.NewString(),
		PaymentID:         original.PaymentID,
		AccountID:         original.AccountID,
		TenantID:          original.TenantID,
		GatewayReference:  n.Reference,
		OriginalReference: n.OriginalReference,
		Kind:              kind,
		Amount:            n.Amount.Value,
		Currency:          n.Amount.Currency,
		Status:            status,
		Reason:            n.Reason,
		AdditionalData:    n.AdditionalData,
		CreatedAt:         r.now(),
	}
}

func (r *Reconciler) newPaymentFromPending(pending *models.PendingRequestRecord, n models.Notification) (*models.Payment, *models.TransactionRecord) {
	paymentID := pending.PaymentID
	if paymentID == "" {
		paymentID = uuid.NewString()
	}
	transactionID := pending.TransactionID
	if transactionID == "" {
		transactionID = uuid.NewString()
	}

	kind := models.KindAuthorize
	if pending.OneStep {
		kind = models.KindPurchase
	}

	payment := &models.Payment{
		PaymentID:     paymentID,
		AccountID:     pending.AccountID,
		TenantID:      pending.TenantID,
		PaymentMethod: n.PaymentMethod,
		Amount:        n.Amount.Value,
		Currency:      n.Amount.Currency,
		CreatedAt:     r.now(),
	}
	record := &models.TransactionRecord{
		TransactionID:    transactionID,
		PaymentID:        paymentID,
		AccountID:        pending.AccountID,
		TenantID:         pending.TenantID,
		GatewayReference: n.Reference,
		Kind:             kind,
		Amount:           n.Amount.Value,
		Currency:         n.Amount.Currency,
		Status:           r.tables.Status(n.EventCode, n.Success),
		Reason:           n.Reason,
		AdditionalData:   n.AdditionalData,
		CreatedAt:        r.now(),
	}
	return payment, record
}
