package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reconciler/internal/config"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
)

// ExpiredReason is the fixed diagnostic recorded on swept transactions.
const ExpiredReason = "expired before gateway confirmation"

// Sweeper cancels pending transactions that exceeded their allotted window.
// It is not a background timer: it runs lazily whenever a caller reads the
// status of a payment with at least one pending transaction.
type Sweeper struct {
	ledger Ledger
	policy config.ExpirationConfig
	log    *logger.Logger
	now    func() time.Time
}

func NewSweeper(ledger Ledger, policy config.ExpirationConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{ledger: ledger, policy: policy, log: log, now: time.Now}
}

// Sweep checks each pending transaction of a payment against its policy
// window and cancels the expired ones. The ledger's pending guard re-checks
// the status at write time, so a late-arriving notification that already
// resolved the transaction wins the race and the sweep backs off.
func (s *Sweeper) Sweep(ctx context.Context, payment *models.Payment, records []models.TransactionRecord) ([]models.TransactionRecord, error) {
	swept := make([]models.TransactionRecord, 0, len(records))
	for _, record := range records {
		if record.Status != models.StatusPending {
			swept = append(swept, record)
			continue
		}

		window := s.window(payment, record)
		if s.now().Sub(record.CreatedAt) <= window {
			swept = append(swept, record)
			continue
		}

		updated, err := s.ledger.TransitionPendingTransaction(ctx, record.TransactionID, models.StatusCanceled, ExpiredReason)
		if err != nil {
			if errors.Is(err, ErrTransitionConflict) {
				// Resolved between read and write. Keep what is there now.
				refreshed, lookupErr := s.ledger.GetTransactions(ctx, payment.PaymentID)
				if lookupErr != nil {
					return nil, lookupErr
				}
				for _, current := range refreshed {
					if current.TransactionID == record.TransactionID {
						swept = append(swept, current)
						break
					}
				}
				continue
			}
			return nil, fmt.Errorf("failed to expire transaction %s: %w", record.TransactionID, err)
		}

		s.log.LogRecon("EXPIRE", record.GatewayReference,
			fmt.Sprintf("transaction %s pending for %s (window %s): canceled", record.TransactionID, s.now().Sub(record.CreatedAt), window))
		swept = append(swept, *updated)
	}
	return swept, nil
}

// window picks the policy key: 3-D Secure pending authorizations have their
// own, typically shorter window than generic redirect waits.
func (s *Sweeper) window(payment *models.Payment, record models.TransactionRecord) time.Duration {
	switch record.AdditionalData[models.ResultCodeKey] {
	case models.ChallengeMarker, models.IdentifyMarker:
		return s.policy.ThreeDSecure
	}
	return s.policy.Window(payment.PaymentMethod)
}
