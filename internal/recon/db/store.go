package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-reconciler/internal/models"
)

// Store is the bun-backed local lookup store: transaction records, pending
// redirect requests and the append-only notification log.
type Store struct {
	Bun *bun.DB
}

// LookupByGatewayReference fetches the record of the operation a notification
// reports on, by the gateway-assigned reference. Returns nil when unknown.
func (s *Store) LookupByGatewayReference(ctx context.Context, reference string) (*models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := s.Bun.NewSelect().
		Model(&record).
		Where("gateway_reference = ?", reference).
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

// LookupByOriginalReference finds the record of the prior operation a chained
// notification refers back to. The original-operation reference of a
// notification is that prior operation's own gateway reference.
func (s *Store) LookupByOriginalReference(ctx context.Context, reference string) (*models.TransactionRecord, error) {
	return s.LookupByGatewayReference(ctx, reference)
}

// LookupPendingRequest fetches the redirect-initiation record by its
// caller-chosen correlation key.
func (s *Store) LookupPendingRequest(ctx context.Context, correlationKey string) (*models.PendingRequestRecord, error) {
	var record models.PendingRequestRecord
	err := s.Bun.NewSelect().
		Model(&record).
		Where("correlation_key = ?", correlationKey).
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

// CreatePendingRequest writes the redirect-initiation record. It is never
// mutated afterwards and retained for audit.
func (s *Store) CreatePendingRequest(ctx context.Context, record *models.PendingRequestRecord) error {
	_, err := s.Bun.NewInsert().Model(record).Exec(ctx)
	return err
}

// UpsertTransactionRecord inserts or replaces a transaction record keyed by
// its identifier.
func (s *Store) UpsertTransactionRecord(ctx context.Context, record *models.TransactionRecord) error {
	record.UpdatedAt = time.Now()
	_, err := s.Bun.NewInsert().
		Model(record).
		On("CONFLICT (transaction_id) DO UPDATE").
		Set("gateway_reference = EXCLUDED.gateway_reference").
		Set("original_reference = EXCLUDED.original_reference").
		Set("status = EXCLUDED.status").
		Set("reason = EXCLUDED.reason").
		Set("additional_data = EXCLUDED.additional_data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// AppendNotificationLog writes one audit entry per inbound notification.
func (s *Store) AppendNotificationLog(ctx context.Context, entry *models.NotificationLogEntry) error {
	_, err := s.Bun.NewInsert().Model(entry).Exec(ctx)
	return err
}
