package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentQuoted    = "PAYMENT_QUOTED"
	EventTypePaymentCompleted = "PAYMENT_COMPLETED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypeSessionCreated   = "SESSION_CREATED"
	EventTypeWalletCreated    = "WALLET_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentQuotedEvent published when a pending payment (quote) is created
type PaymentQuotedEvent struct {
	BaseEvent
	PaymentID   string          `json:"payment_id"`
	UserID      string          `json:"user_id"`
	ResourceID  string          `json:"resource_id"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// PaymentCompletedEvent published when a transfer seals and the session
// is materialized
type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID     string          `json:"payment_id"`
	SessionID     string          `json:"session_id"`
	UserID        string          `json:"user_id"`
	ProviderID    string          `json:"provider_id"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	TransactionID string          `json:"transaction_id"`
}

// PaymentFailedEvent published when a payment expires or the on-chain
// transfer errors
type PaymentFailedEvent struct {
	BaseEvent
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason"`
}

// SessionCreatedEvent published when a booking session is materialized
// from a completed payment
type SessionCreatedEvent struct {
	BaseEvent
	SessionID    string    `json:"session_id"`
	PaymentID    string    `json:"payment_id"`
	UserID       string    `json:"user_id"`
	ResourceID   string    `json:"resource_id"`
	FromDatetime time.Time `json:"from_datetime"`
	ToDatetime   time.Time `json:"to_datetime"`
}

// WalletCreatedEvent published when custodial provisioning completes
type WalletCreatedEvent struct {
	BaseEvent
	IdentityID string `json:"identity_id"`
	Address    string `json:"address"`
}
