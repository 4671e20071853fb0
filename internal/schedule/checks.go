package schedule

import (
	"context"
	"errors"
	"fmt"

	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
	"ms-reconciler/internal/recon"
)

// Fixed diagnostics written when an out-of-band check gives up on a shopper.
const (
	AbandonedChallengeReason = "shopper did not complete the challenge"
	AbandonedIdentifyReason  = "shopper did not complete identification"
)

// ShopperCheck re-checks an authorization that was left waiting on an
// out-of-band shopper interaction. The gateway sends nothing when the shopper
// abandons, so the absence of any notification by the time the check fires
// means the transaction will never resolve on its own.
//
// Challenge and identify checks share the algorithm and differ only in the
// marker they look for; each is registered under its own tag.
type ShopperCheck struct {
	Ledger recon.Ledger
	Marker string
	Reason string
	Log    *logger.Logger
}

func NewChallengeCheck(ledger recon.Ledger, log *logger.Logger) *ShopperCheck {
	return &ShopperCheck{Ledger: ledger, Marker: models.ChallengeMarker, Reason: AbandonedChallengeReason, Log: log}
}

func NewIdentifyCheck(ledger recon.Ledger, log *logger.Logger) *ShopperCheck {
	return &ShopperCheck{Ledger: ledger, Marker: models.IdentifyMarker, Reason: AbandonedIdentifyReason, Log: log}
}

// Execute re-reads the payment's last successful authorization. If it is no
// longer the transaction this check was scheduled for, or no longer carries
// the waiting marker, something else already resolved it and the check is a
// no-op. Otherwise the transaction is forced to error.
func (c *ShopperCheck) Execute(ctx context.Context, payload models.CheckPayload) error {
	last, err := c.Ledger.LastSuccessfulAuthorization(ctx, payload.PaymentID)
	if err != nil {
		return err
	}
	if last == nil || last.TransactionID != payload.TransactionID {
		c.Log.LogSchedule("SKIP", payload.TransactionID, "authorization superseded, nothing to do")
		return nil
	}
	if last.Status != models.StatusPending || last.AdditionalData[models.ResultCodeKey] != c.Marker {
		c.Log.LogSchedule("SKIP", payload.TransactionID, fmt.Sprintf("already resolved to %s", last.Status))
		return nil
	}

	_, err = c.Ledger.TransitionPendingTransaction(ctx, payload.TransactionID, models.StatusError, c.Reason)
	if errors.Is(err, recon.ErrTransitionConflict) {
		// A notification slipped in between the read and the write.
		c.Log.LogSchedule("SKIP", payload.TransactionID, "resolved concurrently")
		return nil
	}
	if err != nil {
		return err
	}

	c.Log.LogSchedule("ABANDONED", payload.TransactionID, c.Reason)
	return nil
}
