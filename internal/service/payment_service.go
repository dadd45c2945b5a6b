package service

import (
	"context"
	"time"

	"chargehive/internal/apperr"
	"chargehive/internal/models"
	"chargehive/internal/price"
	"chargehive/internal/store"
	"chargehive/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService drives the settlement state machine: quote a pending
// payment for a booking slot, execute it against the ledger, and
// materialize the session once the transfer seals.
type PaymentService struct {
	store   SettlementStore
	price   PriceSource
	ledger  LedgerGateway
	locks   SlotLocker
	events  EventSink
	keys    KeyCipher
	expiry  time.Duration
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service. expiry is how long a
// pending payment holds its slot; lockTTL bounds the per-resource
// initiation lock.
func NewPaymentService(
	store SettlementStore,
	priceSource PriceSource,
	ledger LedgerGateway,
	locks SlotLocker,
	events EventSink,
	keys KeyCipher,
	expiry, lockTTL time.Duration,
) *PaymentService {
	return &PaymentService{
		store:   store,
		price:   priceSource,
		ledger:  ledger,
		locks:   locks,
		events:  events,
		keys:    keys,
		expiry:  expiry,
		lockTTL: lockTTL,
		logger:  util.GetLogger(),
	}
}

// InitiatePaymentRequest represents a request to quote a booking payment
type InitiatePaymentRequest struct {
	UserID       string    `json:"-"`
	ResourceID   string    `json:"resource_id" binding:"required"`
	FromDatetime time.Time `json:"from_datetime" binding:"required"`
	ToDatetime   time.Time `json:"to_datetime" binding:"required"`
}

// PaymentQuote is the pending payment returned by Initiate
type PaymentQuote struct {
	PaymentID       string          `json:"payment_id"`
	Status          string          `json:"status"`
	AmountUSD       decimal.Decimal `json:"amount_usd"`
	TokenAmount     decimal.Decimal `json:"token_amount"`
	TokenPriceUSD   decimal.Decimal `json:"token_price_usd"`
	SenderAddress   string          `json:"sender_address"`
	ReceiverAddress string          `json:"receiver_address"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// Initiate quotes a pending payment for a booking slot. The quote holds
// the slot until it is executed or expires. Repeating the call for the
// same (user, resource, window) returns the existing quote.
func (s *PaymentService) Initiate(ctx context.Context, req *InitiatePaymentRequest) (*PaymentQuote, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate")
	defer span.End()

	if err := validateWindow(req.FromDatetime, req.ToDatetime); err != nil {
		return nil, err
	}

	token, err := s.locks.AcquireSlotLock(ctx, req.ResourceID, s.lockTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to acquire slot lock", err)
	}
	if token == "" {
		util.BookingConflictsTotal.Inc()
		return nil, apperr.New(apperr.KindConflict, "another payment initiation is in progress for this resource")
	}
	defer func() {
		if err := s.locks.ReleaseSlotLock(ctx, req.ResourceID, token); err != nil {
			s.logger.Warn("Failed to release slot lock",
				zap.String("resource_id", req.ResourceID),
				zap.Error(err))
		}
	}()

	existing, err := s.store.GetPendingPaymentForSlot(ctx, req.ResourceID, req.UserID, req.FromDatetime, req.ToDatetime)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to check for existing quote", err)
	}
	if existing != nil && time.Now().Before(existing.ExpiresAt(s.expiry)) {
		s.logger.Info("Duplicate initiate request, returning existing quote",
			zap.String("payment_id", existing.ID))
		return s.quoteFromPayment(existing), nil
	}

	resource, err := s.CheckAvailability(ctx, req.ResourceID, req.FromDatetime, req.ToDatetime)
	if err != nil {
		return nil, err
	}

	senderWallet, err := s.store.GetWalletByIdentity(ctx, req.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load user wallet", err)
	}
	if senderWallet == nil {
		return nil, apperr.New(apperr.KindValidation, "user wallet not provisioned")
	}

	receiverWallet, err := s.store.GetWalletByIdentity(ctx, resource.ProviderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load provider wallet", err)
	}
	if receiverWallet == nil {
		return nil, apperr.New(apperr.KindValidation, "provider wallet not provisioned")
	}

	amountUSD := computeAmount(resource.HourlyRate, req.FromDatetime, req.ToDatetime)

	tokenPrice, err := s.price.GetPrice(ctx)
	if err != nil {
		return nil, err
	}
	tokenAmount, err := price.Convert(amountUSD, tokenPrice)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		ProviderID:    resource.ProviderID,
		ResourceID:    resource.ID,
		FromDatetime:  req.FromDatetime,
		ToDatetime:    req.ToDatetime,
		AmountUSD:     amountUSD,
		TokenAmount:   tokenAmount,
		TokenPriceUSD: tokenPrice,
		SenderAddress: senderWallet.Address,
		ReceiverAddr:  receiverWallet.Address,
		Status:        models.PaymentStatusPending,
	}

	if err := s.store.CreatePayment(ctx, payment, time.Now().Add(-s.expiry)); err != nil {
		if err == store.ErrSlotTaken {
			util.BookingConflictsTotal.Inc()
			return nil, apperr.New(apperr.KindConflict, "slot was taken by a concurrent booking")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create payment", err)
	}

	util.PaymentsInitiatedTotal.Inc()
	s.logger.Info("Payment quoted",
		zap.String("payment_id", payment.ID),
		zap.String("resource_id", resource.ID),
		zap.String("amount_usd", amountUSD.StringFixed(2)),
		zap.String("token_amount", tokenAmount.String()))

	event := &models.PaymentQuotedEvent{
		BaseEvent:   newBaseEvent(models.EventTypePaymentQuoted),
		PaymentID:   payment.ID,
		UserID:      payment.UserID,
		ResourceID:  payment.ResourceID,
		AmountUSD:   payment.AmountUSD,
		TokenAmount: payment.TokenAmount,
		ExpiresAt:   payment.ExpiresAt(s.expiry),
	}
	if err := s.events.PublishPaymentQuoted(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentQuoted event", zap.Error(err))
	}

	return s.quoteFromPayment(payment), nil
}

// ExecutePaymentRequest represents a request to settle a quoted payment
type ExecutePaymentRequest struct {
	PaymentID     string `json:"-"`
	UserID        string `json:"-"`
	SenderAddress string `json:"sender_address" binding:"required"`
}

// ExecutePaymentResponse reports a settled payment
type ExecutePaymentResponse struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	SessionID     string `json:"session_id"`
}

// Execute settles a pending payment: verifies the caller's claim to the
// sending wallet, moves tokens on the ledger, and materializes the
// booking session once the transfer seals.
func (s *PaymentService) Execute(ctx context.Context, req *ExecutePaymentRequest) (*ExecutePaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Execute")
	defer span.End()

	payment, err := s.store.GetPaymentByID(ctx, req.PaymentID, req.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load payment", err)
	}
	if payment == nil {
		return nil, apperr.New(apperr.KindNotFound, "payment not found")
	}

	switch payment.Status {
	case models.PaymentStatusCompleted:
		return nil, apperr.New(apperr.KindConflict, "payment already settled")
	case models.PaymentStatusFailed:
		return nil, apperr.New(apperr.KindConflict, "payment already failed")
	}

	if time.Now().After(payment.ExpiresAt(s.expiry)) {
		s.failPayment(ctx, payment, "expired")
		util.PaymentsExpiredTotal.Inc()
		return nil, apperr.New(apperr.KindExpired, "payment hold expired")
	}

	// The caller must prove it controls the quoted sending wallet
	// before the ledger is touched.
	if req.SenderAddress != payment.SenderAddress {
		return nil, apperr.New(apperr.KindUnauthorized, "sender address does not match payment")
	}

	wallet, err := s.store.GetWalletByAddress(ctx, payment.SenderAddress)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load sender wallet", err)
	}
	if wallet == nil {
		return nil, apperr.New(apperr.KindNotFound, "sender wallet not found")
	}

	privateKey, err := s.keys.Decrypt(wallet.PrivateKeyEnc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to unseal sender key", err)
	}

	result, err := s.ledger.Transfer(ctx, payment.SenderAddress, privateKey, payment.ReceiverAddr, payment.TokenAmount)
	if err != nil {
		s.failPayment(ctx, payment, "transfer_error")
		return nil, err
	}

	session, err := s.materializeSession(ctx, payment)
	if err != nil {
		// The transfer sealed; surface the inconsistency rather
		// than risking a second transfer on retry.
		s.logger.Error("Transfer sealed but session materialization failed",
			zap.String("payment_id", payment.ID),
			zap.String("tx_id", result.TransactionID),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, "transfer sealed but session creation failed", err)
	}

	if err := s.store.CompletePayment(ctx, payment.ID, result.TransactionID, session.ID); err != nil {
		s.logger.Error("Failed to mark payment completed",
			zap.String("payment_id", payment.ID),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to mark payment completed", err)
	}

	util.PaymentsCompletedTotal.Inc()
	s.logger.Info("Payment settled",
		zap.String("payment_id", payment.ID),
		zap.String("tx_id", result.TransactionID),
		zap.String("session_id", session.ID))

	completed := &models.PaymentCompletedEvent{
		BaseEvent:     newBaseEvent(models.EventTypePaymentCompleted),
		PaymentID:     payment.ID,
		SessionID:     session.ID,
		UserID:        payment.UserID,
		ProviderID:    payment.ProviderID,
		TokenAmount:   payment.TokenAmount,
		TransactionID: result.TransactionID,
	}
	if err := s.events.PublishPaymentCompleted(ctx, completed); err != nil {
		s.logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
	}

	created := &models.SessionCreatedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeSessionCreated),
		SessionID:    session.ID,
		PaymentID:    payment.ID,
		UserID:       payment.UserID,
		ResourceID:   payment.ResourceID,
		FromDatetime: payment.FromDatetime,
		ToDatetime:   payment.ToDatetime,
	}
	if err := s.events.PublishSessionCreated(ctx, created); err != nil {
		s.logger.Error("Failed to publish SessionCreated event", zap.Error(err))
	}

	return &ExecutePaymentResponse{
		PaymentID:     payment.ID,
		Status:        models.PaymentStatusCompleted,
		TransactionID: result.TransactionID,
		SessionID:     session.ID,
	}, nil
}

// PaymentStatus is the read-only view of a payment
type PaymentStatus struct {
	PaymentID     string          `json:"payment_id"`
	Status        string          `json:"status"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	SessionID     *string         `json:"session_id,omitempty"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Expired       bool            `json:"expired"`
}

// Status reports a payment's state without mutating it. A pending
// payment past its hold window is reported expired here; the sweep
// worker does the actual flip.
func (s *PaymentService) Status(ctx context.Context, paymentID, userID string) (*PaymentStatus, error) {
	payment, err := s.store.GetPaymentByID(ctx, paymentID, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load payment", err)
	}
	if payment == nil {
		return nil, apperr.New(apperr.KindNotFound, "payment not found")
	}

	var verifiedAt *time.Time
	if payment.Status == models.PaymentStatusCompleted {
		ts := payment.UpdatedAt
		verifiedAt = &ts
	}

	expiresAt := payment.ExpiresAt(s.expiry)
	return &PaymentStatus{
		PaymentID:     payment.ID,
		Status:        payment.Status,
		AmountUSD:     payment.AmountUSD,
		TokenAmount:   payment.TokenAmount,
		TransactionID: payment.TransactionID,
		SessionID:     payment.SessionID,
		VerifiedAt:    verifiedAt,
		ExpiresAt:     expiresAt,
		Expired:       payment.Status == models.PaymentStatusPending && time.Now().After(expiresAt),
	}, nil
}

// UserHistory retrieves a user's payment history, newest first
func (s *PaymentService) UserHistory(ctx context.Context, userID string) ([]store.PaymentHistoryRow, error) {
	rows, err := s.store.GetPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load payment history", err)
	}
	return rows, nil
}

// UserSessions retrieves a user's materialized bookings, newest first
func (s *PaymentService) UserSessions(ctx context.Context, userID string) ([]models.Session, error) {
	sessions, err := s.store.GetSessionsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load sessions", err)
	}
	return sessions, nil
}

// ProviderEarnings aggregates settled payments addressed to a provider
type ProviderEarnings struct {
	ProviderID     string                    `json:"provider_id"`
	TotalUSD       decimal.Decimal           `json:"total_usd"`
	TotalTokens    decimal.Decimal           `json:"total_tokens"`
	CompletedCount int                       `json:"completed_count"`
	PendingCount   int                       `json:"pending_count"`
	Payments       []store.PaymentHistoryRow `json:"payments"`
}

// Earnings aggregates a provider's settled payments
func (s *PaymentService) Earnings(ctx context.Context, providerID string) (*ProviderEarnings, error) {
	rows, err := s.store.GetPaymentsByProvider(ctx, providerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load provider payments", err)
	}

	earnings := &ProviderEarnings{
		ProviderID:  providerID,
		TotalUSD:    decimal.Zero,
		TotalTokens: decimal.Zero,
		Payments:    rows,
	}
	for i := range rows {
		switch rows[i].Status {
		case models.PaymentStatusCompleted:
			earnings.TotalUSD = earnings.TotalUSD.Add(rows[i].AmountUSD)
			earnings.TotalTokens = earnings.TotalTokens.Add(rows[i].TokenAmount)
			earnings.CompletedCount++
		case models.PaymentStatusPending:
			earnings.PendingCount++
		}
	}
	return earnings, nil
}

// ExpireStale flips pending payments older than the hold window to
// failed. Run periodically by the sweep worker.
func (s *PaymentService) ExpireStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.expiry)
	n, err := s.store.ExpirePendingBefore(ctx, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "failed to expire stale payments", err)
	}
	if n > 0 {
		util.PaymentsExpiredTotal.Add(float64(n))
		s.logger.Info("Expired stale payments", zap.Int64("count", n))
	}
	return n, nil
}

// failPayment flips a payment to failed and publishes the failure.
func (s *PaymentService) failPayment(ctx context.Context, payment *models.Payment, reason string) {
	if err := s.store.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed); err != nil {
		s.logger.Error("Failed to mark payment failed",
			zap.String("payment_id", payment.ID),
			zap.Error(err))
	}
	util.PaymentsFailedTotal.WithLabelValues(reason).Inc()

	event := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		PaymentID: payment.ID,
		UserID:    payment.UserID,
		Reason:    reason,
	}
	if err := s.events.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

func (s *PaymentService) quoteFromPayment(p *models.Payment) *PaymentQuote {
	return &PaymentQuote{
		PaymentID:       p.ID,
		Status:          p.Status,
		AmountUSD:       p.AmountUSD,
		TokenAmount:     p.TokenAmount,
		TokenPriceUSD:   p.TokenPriceUSD,
		SenderAddress:   p.SenderAddress,
		ReceiverAddress: p.ReceiverAddr,
		ExpiresAt:       p.ExpiresAt(s.expiry),
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
