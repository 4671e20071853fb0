package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-reconciler/internal/config"
	"ms-reconciler/internal/gateway"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
)

// Store is the local lookup store consulted during resolution plus the
// append-only notification audit log.
type Store interface {
	LookupByGatewayReference(ctx context.Context, reference string) (*models.TransactionRecord, error)
	LookupByOriginalReference(ctx context.Context, reference string) (*models.TransactionRecord, error)
	LookupPendingRequest(ctx context.Context, correlationKey string) (*models.PendingRequestRecord, error)
	CreatePendingRequest(ctx context.Context, record *models.PendingRequestRecord) error
	UpsertTransactionRecord(ctx context.Context, record *models.TransactionRecord) error
	AppendNotificationLog(ctx context.Context, entry *models.NotificationLogEntry) error
}

// Ledger exposes the authoritative payment and transaction operations the
// reconciler applies its decisions through.
type Ledger interface {
	GetPaymentByID(ctx context.Context, tenantID, paymentID string) (*models.Payment, error)
	GetTransactions(ctx context.Context, paymentID string) ([]models.TransactionRecord, error)
	CreatePaymentWithFirstTransaction(ctx context.Context, payment *models.Payment, record *models.TransactionRecord) error
	TransitionPendingTransaction(ctx context.Context, transactionID string, status models.TransactionStatus, reason string) (*models.TransactionRecord, error)
	CorrectTerminalTransactionState(ctx context.Context, transactionID string, from, to models.TransactionStatus, reason string) (*models.TransactionRecord, error)
	CreateChargeback(ctx context.Context, record *models.TransactionRecord) error
	CreateChargebackReversal(ctx context.Context, record *models.TransactionRecord) error
	GetChargeback(ctx context.Context, paymentID string) (*models.TransactionRecord, error)
	LastSuccessfulAuthorization(ctx context.Context, paymentID string) (*models.TransactionRecord, error)
}

// Publisher streams reconciliation outcomes to downstream consumers.
type Publisher interface {
	PublishTransactionEvent(record models.TransactionRecord, effect string) error
	PublishChargebackEvent(record models.TransactionRecord, effect string) error
}

// Scheduler enqueues a durable future re-check.
type Scheduler interface {
	Schedule(ctx context.Context, tag string, dueAt time.Time, payload models.CheckPayload) error
}

// GatewayCaller performs the synchronous wire call.
type GatewayCaller interface {
	Call(ctx context.Context, req gateway.CallRequest) (*gateway.CallResponse, error)
}

// CallResult is what a synchronous operation returns to the merchant API: the
// record as reconciled plus, on failure, the classifier's label. Ambiguous
// labels leave the record pending; the caller decides retry or cancel.
type CallResult struct {
	Record  *models.TransactionRecord `json:"record"`
	Outcome gateway.Outcome           `json:"outcome,omitempty"`
	Detail  string                    `json:"detail,omitempty"`
}

// Service wires the resolver, the decision core, the sweeper and the durable
// scheduler behind the two signal entry points (call outcomes and inbound
// notifications) and the read path.
type Service struct {
	store      Store
	ledger     Ledger
	publisher  Publisher
	scheduler  Scheduler
	gateway    GatewayCaller
	classifier *gateway.Classifier
	resolver   *Resolver
	reconciler *Reconciler
	sweeper    *Sweeper
	schedule   config.ScheduleConfig
	log        *logger.Logger
	now        func() time.Time
}

func NewService(
	store Store,
	ledger Ledger,
	publisher Publisher,
	scheduler Scheduler,
	gatewayClient GatewayCaller,
	classifier *gateway.Classifier,
	tables *Tables,
	gatewayCfg config.GatewayConfig,
	expiration config.ExpirationConfig,
	schedule config.ScheduleConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		store:      store,
		ledger:     ledger,
		publisher:  publisher,
		scheduler:  scheduler,
		gateway:    gatewayClient,
		classifier: classifier,
		resolver:   NewResolver(store, gatewayCfg.DebitFailureMethods, log),
		reconciler: NewReconciler(tables, ledger, log),
		sweeper:    NewSweeper(ledger, expiration, log),
		schedule:   schedule,
		log:        log,
		now:        time.Now,
	}
}

// ProcessNotification reconciles one inbound notification. Every notification
// is appended to the audit log whether or not it changed state. Errors are
// returned so the delivery mechanism redelivers later; at-least-once delivery
// is safe because reapplying the same notification produces no net change.
func (s *Service) ProcessNotification(ctx context.Context, n models.Notification) error {
	n = s.resolver.Normalize(n)

	resolved, err := s.resolver.Resolve(ctx, n)
	if err != nil {
		return err
	}

	effect, record, err := s.reconciler.Apply(ctx, resolved, n)
	if err != nil {
		// Log the failed delivery too; the redelivery will try again.
		_ = s.appendLog(ctx, n, "failed: "+err.Error())
		return err
	}

	if err := s.appendLog(ctx, n, effect); err != nil {
		return err
	}

	if record != nil {
		s.publish(*record, effect)
		s.maybeScheduleCheck(ctx, record)
	}
	return nil
}

// ProcessCall performs a synchronous gateway operation and reconciles its
// outcome. On transport or protocol failure the classifier labels the result;
// ambiguous labels (REQUEST_NOT_SENT, RESPONSE_NOT_RECEIVED, UNKNOWN_FAILURE)
// leave the record pending so a late notification can still resolve it and
// the sweeper eventually cancels it. Only a definite caller error
// (RESPONSE_ABOUT_INVALID_REQUEST) or an explicit gateway refusal is
// terminal.
func (s *Service) ProcessCall(ctx context.Context, req models.PaymentRequest) (*CallResult, error) {
	record, err := s.openRecord(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, callErr := s.gateway.Call(ctx, gateway.CallRequest{
		Kind:              req.Kind,
		Reference:         record.TransactionID,
		OriginalReference: req.Reference,
		Amount:            models.Amount{Value: req.Amount, Currency: req.Currency},
		AdditionalData:    req.AdditionalData,
	})

	if callErr != nil {
		classification := s.classifier.Classify(callErr)
		if classification.Outcome == gateway.OutcomeResponseAboutInvalidRequest {
			updated, err := s.ledger.TransitionPendingTransaction(ctx, record.TransactionID, models.StatusError, classification.Detail)
			if err != nil {
				return nil, err
			}
			s.publish(*updated, models.EffectTransitioned)
			return &CallResult{Record: updated, Outcome: classification.Outcome, Detail: classification.Detail}, nil
		}
		return &CallResult{Record: record, Outcome: classification.Outcome, Detail: classification.Detail}, nil
	}

	record.GatewayReference = resp.Reference
	if resp.AdditionalData != nil {
		record.AdditionalData = mergeData(record.AdditionalData, resp.AdditionalData)
	}
	if resp.ResultCode != "" {
		record.AdditionalData = mergeData(record.AdditionalData, map[string]string{models.ResultCodeKey: resp.ResultCode})
	}

	if resp.Pending() {
		if err := s.store.UpsertTransactionRecord(ctx, record); err != nil {
			return nil, err
		}
		s.maybeScheduleCheck(ctx, record)
		return &CallResult{Record: record}, nil
	}

	status := models.StatusProcessed
	reason := ""
	if !resp.Authorised() {
		// Business refusal: terminal, carries the provider-supplied reason.
		status = models.StatusError
		reason = resp.Refusal
	}
	updated, err := s.ledger.TransitionPendingTransaction(ctx, record.TransactionID, status, reason)
	if err != nil {
		return nil, err
	}
	// The transition persists status and reason; the gateway reference and
	// result data from the response still need to land on the record.
	updated.GatewayReference = resp.Reference
	updated.AdditionalData = record.AdditionalData
	if err := s.store.UpsertTransactionRecord(ctx, updated); err != nil {
		return nil, err
	}
	s.publish(*updated, models.EffectTransitioned)
	return &CallResult{Record: updated}, nil
}

// InitiateRedirect records a pending request keyed by the merchant reference
// before any gateway reference exists, then builds the hosted-page redirect.
func (s *Service) InitiateRedirect(ctx context.Context, req models.RedirectRequest, hpp *gateway.HPPBuilder) (*models.RedirectResponse, error) {
	if req.MerchantReference == "" {
		return nil, fmt.Errorf("merchant reference is required for a redirect flow")
	}

	pending := &models.PendingRequestRecord{
		CorrelationKey: req.MerchantReference,
		AccountID:      req.AccountID,
		TenantID:       req.TenantID,
		PaymentID:      req.PaymentID,
		TransactionID:  req.TransactionID,
		PaymentMethod:  req.PaymentMethod,
		Amount:         req.Amount,
		Currency:       req.Currency,
		OneStep:        req.OneStep,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreatePendingRequest(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to record pending request: %w", err)
	}

	return hpp.Build(req)
}

// GetPaymentStatus reads a payment and its transactions, running the
// expiration sweep over any pending ones first.
func (s *Service) GetPaymentStatus(ctx context.Context, tenantID, paymentID string) (*models.PaymentStatus, error) {
	payment, err := s.ledger.GetPaymentByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	records, err := s.ledger.GetTransactions(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	swept, err := s.sweeper.Sweep(ctx, payment, records)
	if err != nil {
		return nil, err
	}
	return &models.PaymentStatus{Payment: payment, Transactions: swept}, nil
}

// openRecord creates the pending record for a synchronous call, creating the
// payment as well when this is its first operation.
func (s *Service) openRecord(ctx context.Context, req models.PaymentRequest) (*models.TransactionRecord, error) {
	transactionID := req.TransactionID
	if transactionID == "" {
		transactionID = uuid.NewString()
	}

	record := &models.TransactionRecord{
		TransactionID:     transactionID,
		PaymentID:         req.PaymentID,
		AccountID:         req.AccountID,
		TenantID:          req.TenantID,
		OriginalReference: req.Reference,
		Kind:              req.Kind,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Status:            models.StatusPending,
		AdditionalData:    req.AdditionalData,
		CreatedAt:         s.now(),
	}

	if req.PaymentID == "" {
		record.PaymentID = uuid.NewString()
		payment := &models.Payment{
			PaymentID:     record.PaymentID,
			AccountID:     req.AccountID,
			TenantID:      req.TenantID,
			PaymentMethod: req.PaymentMethod,
			Amount:        req.Amount,
			Currency:      req.Currency,
			CreatedAt:     s.now(),
		}
		if err := s.ledger.CreatePaymentWithFirstTransaction(ctx, payment, record); err != nil {
			return nil, err
		}
		return record, nil
	}

	if err := s.store.UpsertTransactionRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// maybeScheduleCheck schedules the durable re-check when an authorization is
// waiting on an out-of-band shopper challenge. If no notification ever
// arrives the check forces the transaction to error.
func (s *Service) maybeScheduleCheck(ctx context.Context, record *models.TransactionRecord) {
	if record.Status != models.StatusPending {
		return
	}

	var tag string
	switch record.AdditionalData[models.ResultCodeKey] {
	case models.ChallengeMarker:
		tag = models.TaskChallengeCheck
	case models.IdentifyMarker:
		tag = models.TaskIdentifyCheck
	default:
		return
	}

	payload := models.CheckPayload{
		PaymentID:     record.PaymentID,
		TransactionID: record.TransactionID,
		TenantID:      record.TenantID,
	}
	if err := s.scheduler.Schedule(ctx, tag, s.now().Add(s.schedule.ChallengeDelay), payload); err != nil {
		s.log.Error("SCHEDULE", fmt.Sprintf("failed to schedule %s for transaction %s: %v", tag, record.TransactionID, err))
	}
}

func (s *Service) appendLog(ctx context.Context, n models.Notification, effect string) error {
	entry := &models.NotificationLogEntry{
		ID:                uuid.NewString(),
		GatewayReference:  n.Reference,
		OriginalReference: n.OriginalReference,
		CorrelationKey:    n.MerchantReference,
		EventCode:         string(n.EventCode),
		Success:           n.Success,
		Amount:            n.Amount.Value,
		Currency:          n.Amount.Currency,
		PaymentMethod:     n.PaymentMethod,
		Reason:            n.Reason,
		Effect:            effect,
		AdditionalData:    n.AdditionalData,
		ReceivedAt:        s.now(),
	}
	if err := s.store.AppendNotificationLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to append notification log: %w", err)
	}
	return nil
}

func (s *Service) publish(record models.TransactionRecord, effect string) {
	var err error
	switch record.Kind {
	case models.KindChargeback, models.KindChargebackReversal:
		err = s.publisher.PublishChargebackEvent(record, effect)
	default:
		err = s.publisher.PublishTransactionEvent(record, effect)
	}
	if err != nil {
		s.log.Error("KAFKA", fmt.Sprintf("failed to publish %s event for transaction %s: %v", effect, record.TransactionID, err))
	}
}

func mergeData(base, extra map[string]string) map[string]string {
	if base == nil {
		base = make(map[string]string, len(extra))
	}
	for key, value := range extra {
		base[key] = value
	}
	return base
}
