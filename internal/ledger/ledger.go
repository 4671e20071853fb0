package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
	"ms-reconciler/internal/recon"
)

// ErrPaymentNotFound is returned by the read path for unknown payments.
var ErrPaymentNotFound = errors.New("payment not found")

// Ledger is the bun-backed implementation of the reconciler's ledger
// collaborator. Status writes use optimistic check-before-write guards, not
// long-held locks: a transition only lands if the row still holds the status
// the decision was made against.
type Ledger struct {
	Bun *bun.DB
	Log *logger.Logger
}

func (l *Ledger) GetPaymentByID(ctx context.Context, tenantID, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := l.Bun.NewSelect().
		Model(&payment).
		Where("payment_id = ?", paymentID).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (l *Ledger) GetTransactions(ctx context.Context, paymentID string) ([]models.TransactionRecord, error) {
	var records []models.TransactionRecord
	err := l.Bun.NewSelect().
		Model(&records).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CreatePaymentWithFirstTransaction inserts the payment and its first
// transaction atomically.
func (l *Ledger) CreatePaymentWithFirstTransaction(ctx context.Context, payment *models.Payment, record *models.TransactionRecord) error {
	err := l.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(payment).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create payment %s: %w", payment.PaymentID, err)
	}
	l.Log.LogDatabase("INSERT", "payments", fmt.Sprintf("payment %s created with %s transaction %s", payment.PaymentID, record.Kind, record.TransactionID))
	return nil
}

// TransitionPendingTransaction moves a pending transaction to a terminal
// status. The status guard in the update re-checks the row at write time, so
// a racing signal that already resolved the transaction wins and this call
// reports a conflict instead of double-applying.
func (l *Ledger) TransitionPendingTransaction(ctx context.Context, transactionID string, status models.TransactionStatus, reason string) (*models.TransactionRecord, error) {
	res, err := l.Bun.NewUpdate().
		Model((*models.TransactionRecord)(nil)).
		Set("status = ?", status).
		Set("reason = ?", reason).
		Set("updated_at = ?", time.Now()).
		Where("transaction_id = ?", transactionID).
		Where("status = ?", models.StatusPending).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("transition of %s to %s: %w", transactionID, status, recon.ErrTransitionConflict)
	}
	l.Log.LogDatabase("UPDATE", "transaction_records", fmt.Sprintf("transaction %s transitioned to %s", transactionID, status))
	return l.getTransaction(ctx, transactionID)
}

// CorrectTerminalTransactionState replaces one terminal status with another
// on the same record; a new record is never created for the same identifier.
func (l *Ledger) CorrectTerminalTransactionState(ctx context.Context, transactionID string, from, to models.TransactionStatus, reason string) (*models.TransactionRecord, error) {
	res, err := l.Bun.NewUpdate().
		Model((*models.TransactionRecord)(nil)).
		Set("status = ?", to).
		Set("reason = ?", reason).
		Set("updated_at = ?", time.Now()).
		Where("transaction_id = ?", transactionID).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("correction of %s from %s to %s: %w", transactionID, from, to, recon.ErrTransitionConflict)
	}
	l.Log.LogDatabase("UPDATE", "transaction_records", fmt.Sprintf("transaction %s corrected from %s to %s", transactionID, from, to))
	return l.getTransaction(ctx, transactionID)
}

func (l *Ledger) CreateChargeback(ctx context.Context, record *models.TransactionRecord) error {
	_, err := l.Bun.NewInsert().Model(record).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chargeback on payment %s: %w", record.PaymentID, err)
	}
	return nil
}

func (l *Ledger) CreateChargebackReversal(ctx context.Context, record *models.TransactionRecord) error {
	_, err := l.Bun.NewInsert().Model(record).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chargeback reversal on payment %s: %w", record.PaymentID, err)
	}
	return nil
}

// GetChargeback returns the newest chargeback record of a payment, nil when
// there is none. At most one open chargeback exists per payment.
func (l *Ledger) GetChargeback(ctx context.Context, paymentID string) (*models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := l.Bun.NewSelect().
		Model(&record).
		Where("payment_id = ?", paymentID).
		Where("kind = ?", models.KindChargeback).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// LastSuccessfulAuthorization returns the newest authorization or purchase
// record that has not failed, nil when there is none.
func (l *Ledger) LastSuccessfulAuthorization(ctx context.Context, paymentID string) (*models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := l.Bun.NewSelect().
		Model(&record).
		Where("payment_id = ?", paymentID).
		Where("kind IN (?)", bun.In([]models.TransactionKind{models.KindAuthorize, models.KindPurchase})).
		Where("status NOT IN (?)", bun.In([]models.TransactionStatus{models.StatusError, models.StatusCanceled})).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *Ledger) getTransaction(ctx context.Context, transactionID string) (*models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := l.Bun.NewSelect().
		Model(&record).
		Where("transaction_id = ?", transactionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
