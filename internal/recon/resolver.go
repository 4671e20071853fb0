package recon

import (
	"context"
	"fmt"

	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
)

// ResolvedReference is the outcome of matching a notification against local
// state. At most one of the three fields is set; first match wins.
type ResolvedReference struct {
	// Record is the transaction the notification reports on, matched by the
	// notification's own gateway reference.
	Record *models.TransactionRecord
	// Original is the prior operation a chained notification (chargeback,
	// out-of-order capture) refers back to.
	Original *models.TransactionRecord
	// Pending is the redirect-flow request matched by correlation key when no
	// transaction record exists yet.
	Pending *models.PendingRequestRecord
}

// Unresolved reports whether nothing local matched. Such notifications may
// concern payments migrated from another system and pass through untouched.
func (r *ResolvedReference) Unresolved() bool {
	return r.Record == nil && r.Original == nil && r.Pending == nil
}

// Resolver maps an inbound notification to previously known local state.
type Resolver struct {
	store               Store
	debitFailureMethods map[string]bool
	log                 *logger.Logger
}

func NewResolver(store Store, debitFailureMethods []string, log *logger.Logger) *Resolver {
	methods := make(map[string]bool, len(debitFailureMethods))
	for _, m := range debitFailureMethods {
		methods[m] = true
	}
	return &Resolver{store: store, debitFailureMethods: methods, log: log}
}

// Normalize applies the direct-debit rewrite before resolution: for payment
// methods configured to signal debit failures via chargeback, a CHARGEBACK
// notification is rewritten into a synthetic authorization outcome with the
// success flag inverted and the original reference promoted to primary. This
// is a narrow, explicitly configured rule, not a general transformation.
func (r *Resolver) Normalize(n models.Notification) models.Notification {
	if n.EventCode != models.EventChargeback {
		return n
	}
	if !r.debitFailureMethods[n.PaymentMethod] || n.OriginalReference == "" {
		return n
	}

	r.log.LogRecon("REWRITE", n.OriginalReference,
		fmt.Sprintf("chargeback on %s rewritten to authorization outcome (success=%t)", n.PaymentMethod, !n.Success))

	n.EventCode = models.EventAuthorisation
	n.Success = !n.Success
	n.Reference = n.OriginalReference
	n.OriginalReference = ""
	return n
}

// Resolve matches in order: own gateway reference, original-operation
// reference, correlation key, nothing.
func (r *Resolver) Resolve(ctx context.Context, n models.Notification) (*ResolvedReference, error) {
	if n.Reference != "" {
		record, err := r.store.LookupByGatewayReference(ctx, n.Reference)
		if err != nil {
			return nil, fmt.Errorf("lookup by gateway reference %s: %w", n.Reference, err)
		}
		if record != nil {
			return &ResolvedReference{Record: record}, nil
		}
	}

	if n.OriginalReference != "" {
		original, err := r.store.LookupByOriginalReference(ctx, n.OriginalReference)
		if err != nil {
			return nil, fmt.Errorf("lookup by original reference %s: %w", n.OriginalReference, err)
		}
		if original != nil {
			return &ResolvedReference{Original: original}, nil
		}
	}

	if n.MerchantReference != "" {
		pending, err := r.store.LookupPendingRequest(ctx, n.MerchantReference)
		if err != nil {
			return nil, fmt.Errorf("lookup pending request %s: %w", n.MerchantReference, err)
		}
		if pending != nil {
			return &ResolvedReference{Pending: pending}, nil
		}
	}

	r.log.LogRecon("UNRESOLVED", n.Reference, "notification matches no local state")
	return &ResolvedReference{}, nil
}
