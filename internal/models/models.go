package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Identity is a user or provider profile as known to this core. The
// credential itself lives with the external auth provider; we only keep
// what settlement needs (type and wallet binding).
type Identity struct {
	ID            string    `db:"id" json:"id"`
	Type          string    `db:"identity_type" json:"type"`
	Email         string    `db:"email" json:"email"`
	WalletAddress string    `db:"wallet_address" json:"wallet_address,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Resource is a bookable asset (charger or parking spot).
type Resource struct {
	ID           string          `db:"resource_id" json:"resource_id"`
	ProviderID   string          `db:"provider_id" json:"provider_id"`
	ResourceType string          `db:"resource_type" json:"resource_type"`
	Status       string          `db:"status" json:"status"`
	HourlyRate   decimal.Decimal `db:"hourly_rate" json:"hourly_rate"`
	Address      string          `db:"address" json:"address,omitempty"`
	City         string          `db:"city" json:"city,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Session is the materialized record of a successfully paid booking.
// Sessions are append-only; cancellation is a payment-status concern.
type Session struct {
	ID           string          `db:"session_id" json:"session_id"`
	UserID       string          `db:"user_id" json:"user_id"`
	ProviderID   string          `db:"provider_id" json:"provider_id"`
	ResourceID   string          `db:"resource_id" json:"resource_id"`
	FromDatetime time.Time       `db:"from_datetime" json:"from_datetime"`
	ToDatetime   time.Time       `db:"to_datetime" json:"to_datetime"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentID    string          `db:"payment_id" json:"payment_id"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Payment is the settlement record. The booking window is denormalized
// here because the Session does not exist until settlement succeeds.
type Payment struct {
	ID            string          `db:"payment_id" json:"payment_id"`
	UserID        string          `db:"user_id" json:"user_id"`
	ProviderID    string          `db:"provider_id" json:"provider_id"`
	ResourceID    string          `db:"resource_id" json:"resource_id"`
	FromDatetime  time.Time       `db:"from_datetime" json:"from_datetime"`
	ToDatetime    time.Time       `db:"to_datetime" json:"to_datetime"`
	AmountUSD     decimal.Decimal `db:"amount_usd" json:"amount_usd"`
	TokenAmount   decimal.Decimal `db:"token_amount" json:"token_amount"`
	TokenPriceUSD decimal.Decimal `db:"token_price_usd" json:"token_price_usd"`
	SenderAddress string          `db:"sender_address" json:"sender_address"`
	ReceiverAddr  string          `db:"receiver_address" json:"receiver_address"`
	Status        string          `db:"status" json:"status"`
	TransactionID *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	SessionID     *string         `db:"session_id" json:"session_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// ExpiresAt returns the end of the payment's hold window.
func (p *Payment) ExpiresAt(expiry time.Duration) time.Time {
	return p.CreatedAt.Add(expiry)
}

// WalletAccount is a custodial keypair bound 1:1 to an identity. The
// private key is stored encrypted and only ever decrypted inside the
// ledger signing path.
type WalletAccount struct {
	Address       string    `db:"address" json:"address"`
	IdentityID    string    `db:"identity_id" json:"identity_id"`
	PrivateKeyEnc string    `db:"private_key_enc" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Resource statuses
const (
	ResourceStatusAvailable   = "available"
	ResourceStatusActive      = "active"
	ResourceStatusUnavailable = "unavailable"
)

// Resource types
const (
	ResourceTypeCharger = "charger"
	ResourceTypeParking = "parking"
)

// Identity types
const (
	IdentityTypeUser     = "user"
	IdentityTypeProvider = "provider"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)
