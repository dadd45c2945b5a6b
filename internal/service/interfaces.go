package service

import (
	"context"
	"time"

	"chargehive/internal/ledger"
	"chargehive/internal/models"
	"chargehive/internal/store"

	"github.com/shopspring/decimal"
)

// SettlementStore is the persistence surface the settlement services
// depend on. *store.Store satisfies it; tests use the in-memory fake
// from testing.go.
type SettlementStore interface {
	GetResourceByID(ctx context.Context, id string) (*models.Resource, error)
	GetResourcesByProvider(ctx context.Context, providerID string) ([]models.Resource, error)
	CreateResource(ctx context.Context, r *models.Resource) error
	UpdateResourceStatus(ctx context.Context, resourceID, status string) error

	GetIdentityByID(ctx context.Context, id string) (*models.Identity, error)
	CreateIdentity(ctx context.Context, identity *models.Identity) error
	DeleteIdentity(ctx context.Context, id string) error
	SetIdentityWallet(ctx context.Context, identityID, address string) error

	CreateWalletAccount(ctx context.Context, w *models.WalletAccount) error
	GetWalletByAddress(ctx context.Context, address string) (*models.WalletAccount, error)
	GetWalletByIdentity(ctx context.Context, identityID string) (*models.WalletAccount, error)
	DeleteWalletAccount(ctx context.Context, address string) error

	CreatePayment(ctx context.Context, p *models.Payment, pendingCutoff time.Time) error
	GetPaymentByID(ctx context.Context, paymentID, userID string) (*models.Payment, error)
	GetPendingPaymentForSlot(ctx context.Context, resourceID, userID string, from, to time.Time) (*models.Payment, error)
	GetOverlappingHolds(ctx context.Context, resourceID string, from, to time.Time) ([]models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID, status string) error
	CompletePayment(ctx context.Context, paymentID, transactionID, sessionID string) error
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CreateSession(ctx context.Context, sess *models.Session) error
	GetSessionByPaymentID(ctx context.Context, paymentID string) (*models.Session, error)
	GetSessionsByUser(ctx context.Context, userID string) ([]models.Session, error)

	GetPaymentsByUser(ctx context.Context, userID string) ([]store.PaymentHistoryRow, error)
	GetPaymentsByProvider(ctx context.Context, providerID string) ([]store.PaymentHistoryRow, error)
}

// PriceSource quotes the settlement token's fiat price.
type PriceSource interface {
	GetPrice(ctx context.Context) (decimal.Decimal, error)
}

// LedgerGateway is the chain surface: account provisioning and token
// movement. *ledger.Client satisfies it.
type LedgerGateway interface {
	CreateAccount(ctx context.Context, publicKeyHex string) (string, error)
	SetupTokenVault(ctx context.Context, address, privateKeyHex string) (string, error)
	Transfer(ctx context.Context, fromAddress, fromPrivateKey, toAddress string, amount decimal.Decimal) (*ledger.TransferResult, error)
	GetAccountInfo(ctx context.Context, address string) (*ledger.AccountInfo, error)
	GetTransactionHistory(ctx context.Context, address string, limit int) ([]ledger.TxSummary, error)
}

// SlotLocker serializes concurrent payment initiations per resource.
// *redisclient.Client satisfies it.
type SlotLocker interface {
	AcquireSlotLock(ctx context.Context, resourceID string, ttl time.Duration) (string, error)
	ReleaseSlotLock(ctx context.Context, resourceID, token string) error
}

// EventSink publishes settlement domain events. *broker.EventPublisher
// satisfies it; event delivery is best-effort and never blocks
// settlement.
type EventSink interface {
	PublishPaymentQuoted(ctx context.Context, event *models.PaymentQuotedEvent) error
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishSessionCreated(ctx context.Context, event *models.SessionCreatedEvent) error
	PublishWalletCreated(ctx context.Context, event *models.WalletCreatedEvent) error
}

// KeyCipher seals and unseals custodial private keys at rest.
// *ledger.Keystore satisfies it.
type KeyCipher interface {
	Encrypt(privateKeyHex string) (string, error)
	Decrypt(encrypted string) (string, error)
}
