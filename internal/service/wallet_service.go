package service

import (
	"context"
	"time"

	"chargehive/internal/apperr"
	"chargehive/internal/ledger"
	"chargehive/internal/models"
	"chargehive/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletService provisions custodial wallet accounts and projects their
// on-chain state. Keys never leave this process unencrypted except into
// the ledger signing path.
type WalletService struct {
	store  SettlementStore
	ledger LedgerGateway
	keys   KeyCipher
	events EventSink
	logger *zap.Logger
}

// NewWalletService creates a new wallet service
func NewWalletService(store SettlementStore, ledgerGateway LedgerGateway, keys KeyCipher, events EventSink) *WalletService {
	return &WalletService{
		store:  store,
		ledger: ledgerGateway,
		keys:   keys,
		events: events,
		logger: util.GetLogger(),
	}
}

// ProvisionRequest represents a signup provisioning request
type ProvisionRequest struct {
	IdentityID string `json:"-"`
	Email      string `json:"email" binding:"required,email"`
	Type       string `json:"type" binding:"required,oneof=user provider"`
}

// ProvisionResponse reports the provisioned wallet
type ProvisionResponse struct {
	IdentityID string `json:"identity_id"`
	Address    string `json:"address"`
}

// Provision creates the identity record (when missing) and a custodial
// wallet for it: generate a keypair, create the on-chain account, seal
// the key at rest, and bind the address to the identity. Partial
// failures roll back what this call created. Calling again for an
// identity that already has a wallet returns the existing one.
func (s *WalletService) Provision(ctx context.Context, req *ProvisionRequest) (*ProvisionResponse, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.Provision")
	defer span.End()

	identity, err := s.store.GetIdentityByID(ctx, req.IdentityID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load identity", err)
	}

	if identity != nil {
		existing, err := s.store.GetWalletByIdentity(ctx, req.IdentityID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to load wallet", err)
		}
		if existing != nil {
			return &ProvisionResponse{IdentityID: req.IdentityID, Address: existing.Address}, nil
		}
	}

	createdIdentity := false
	if identity == nil {
		identity = &models.Identity{
			ID:    req.IdentityID,
			Type:  req.Type,
			Email: req.Email,
		}
		if err := s.store.CreateIdentity(ctx, identity); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to create identity", err)
		}
		createdIdentity = true
	}

	keyPair, err := ledger.GenerateKeyPair()
	if err != nil {
		s.compensate(ctx, createdIdentity, req.IdentityID, "")
		return nil, apperr.Wrap(apperr.KindInternal, "failed to generate keypair", err)
	}

	address, err := s.ledger.CreateAccount(ctx, keyPair.PublicKeyHex)
	if err != nil {
		s.compensate(ctx, createdIdentity, req.IdentityID, "")
		return nil, err
	}

	sealed, err := s.keys.Encrypt(keyPair.PrivateKeyHex)
	if err != nil {
		s.compensate(ctx, createdIdentity, req.IdentityID, "")
		return nil, apperr.Wrap(apperr.KindInternal, "failed to seal wallet key", err)
	}

	wallet := &models.WalletAccount{
		Address:       address,
		IdentityID:    req.IdentityID,
		PrivateKeyEnc: sealed,
	}
	if err := s.store.CreateWalletAccount(ctx, wallet); err != nil {
		s.compensate(ctx, createdIdentity, req.IdentityID, "")
		return nil, apperr.Wrap(apperr.KindInternal, "failed to persist wallet", err)
	}

	if err := s.store.SetIdentityWallet(ctx, req.IdentityID, address); err != nil {
		s.compensate(ctx, createdIdentity, req.IdentityID, address)
		return nil, apperr.Wrap(apperr.KindInternal, "failed to bind wallet to identity", err)
	}

	// Vault setup is best-effort: an account without a vault can still
	// be set up lazily before its first deposit.
	if _, err := s.ledger.SetupTokenVault(ctx, address, keyPair.PrivateKeyHex); err != nil {
		s.logger.Warn("Token vault setup failed, will need retry before first deposit",
			zap.String("address", address),
			zap.Error(err))
	}

	util.WalletsProvisionedTotal.Inc()
	s.logger.Info("Wallet provisioned",
		zap.String("identity_id", req.IdentityID),
		zap.String("address", address))

	event := &models.WalletCreatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeWalletCreated),
		IdentityID: req.IdentityID,
		Address:    address,
	}
	if err := s.events.PublishWalletCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish WalletCreated event", zap.Error(err))
	}

	return &ProvisionResponse{IdentityID: req.IdentityID, Address: address}, nil
}

// compensate rolls back the records this provisioning attempt created.
// An on-chain account that was already created cannot be deleted; it is
// simply left unbound.
func (s *WalletService) compensate(ctx context.Context, createdIdentity bool, identityID, walletAddress string) {
	if walletAddress != "" {
		if err := s.store.DeleteWalletAccount(ctx, walletAddress); err != nil {
			s.logger.Error("Failed to compensate wallet record",
				zap.String("address", walletAddress),
				zap.Error(err))
		}
	}
	if createdIdentity {
		if err := s.store.DeleteIdentity(ctx, identityID); err != nil {
			s.logger.Error("Failed to compensate identity record",
				zap.String("identity_id", identityID),
				zap.Error(err))
		}
	}
}

// WalletDetails is the combined stored and on-chain view of a wallet
type WalletDetails struct {
	IdentityID string          `json:"identity_id"`
	Address    string          `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
	KeyCount   int             `json:"key_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Details returns the stored wallet enriched with its live account
// state.
func (s *WalletService) Details(ctx context.Context, identityID string) (*WalletDetails, error) {
	wallet, err := s.store.GetWalletByIdentity(ctx, identityID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load wallet", err)
	}
	if wallet == nil {
		return nil, apperr.New(apperr.KindNotFound, "wallet not found")
	}

	info, err := s.ledger.GetAccountInfo(ctx, wallet.Address)
	if err != nil {
		return nil, err
	}

	return &WalletDetails{
		IdentityID: identityID,
		Address:    wallet.Address,
		Balance:    info.Balance,
		KeyCount:   info.KeyCount,
		CreatedAt:  wallet.CreatedAt,
	}, nil
}

// Transactions returns the wallet's recent on-chain transfer history.
// Coverage is bounded by the ledger client's scan window.
func (s *WalletService) Transactions(ctx context.Context, identityID string, limit int) ([]ledger.TxSummary, error) {
	wallet, err := s.store.GetWalletByIdentity(ctx, identityID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load wallet", err)
	}
	if wallet == nil {
		return nil, apperr.New(apperr.KindNotFound, "wallet not found")
	}
	return s.ledger.GetTransactionHistory(ctx, wallet.Address, limit)
}
