package service

import (
	"context"
	"sync"
	"time"

	"chargehive/internal/ledger"
	"chargehive/internal/models"
	"chargehive/internal/store"

	"github.com/shopspring/decimal"
)

// In-memory fakes for the service collaborators. Production wiring uses
// the real store, redis, kafka, and gateway clients; tests exercise the
// settlement logic against these.

type memStore struct {
	mu         sync.Mutex
	resources  map[string]*models.Resource
	identities map[string]*models.Identity
	wallets    map[string]*models.WalletAccount // by address
	payments   map[string]*models.Payment
	sessions   map[string]*models.Session // by payment id
}

func newMemStore() *memStore {
	return &memStore{
		resources:  make(map[string]*models.Resource),
		identities: make(map[string]*models.Identity),
		wallets:    make(map[string]*models.WalletAccount),
		payments:   make(map[string]*models.Payment),
		sessions:   make(map[string]*models.Session),
	}
}

func (m *memStore) GetResourceByID(_ context.Context, id string) (*models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) GetResourcesByProvider(_ context.Context, providerID string) ([]models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Resource
	for _, r := range m.resources {
		if r.ProviderID == providerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) CreateResource(_ context.Context, r *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.resources[r.ID] = &cp
	return nil
}

func (m *memStore) UpdateResourceStatus(_ context.Context, resourceID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[resourceID]; ok {
		r.Status = status
		r.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memStore) GetIdentityByID(_ context.Context, id string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.identities[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) CreateIdentity(_ context.Context, identity *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity.CreatedAt = time.Now()
	cp := *identity
	m.identities[identity.ID] = &cp
	return nil
}

func (m *memStore) DeleteIdentity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, id)
	return nil
}

func (m *memStore) SetIdentityWallet(_ context.Context, identityID, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.identities[identityID]; ok {
		i.WalletAddress = address
	}
	return nil
}

func (m *memStore) CreateWalletAccount(_ context.Context, w *models.WalletAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.CreatedAt = time.Now()
	cp := *w
	m.wallets[w.Address] = &cp
	return nil
}

func (m *memStore) GetWalletByAddress(_ context.Context, address string) (*models.WalletAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[address]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) GetWalletByIdentity(_ context.Context, identityID string) (*models.WalletAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.IdentityID == identityID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) DeleteWalletAccount(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wallets, address)
	return nil
}

func (m *memStore) CreatePayment(_ context.Context, p *models.Payment, pendingCutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.payments {
		if other.ResourceID != p.ResourceID {
			continue
		}
		blocks := other.Status == models.PaymentStatusCompleted ||
			(other.Status == models.PaymentStatusPending && !other.CreatedAt.Before(pendingCutoff))
		if !blocks {
			continue
		}
		if other.FromDatetime.Before(p.ToDatetime) && other.ToDatetime.After(p.FromDatetime) {
			return store.ErrSlotTaken
		}
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memStore) GetPaymentByID(_ context.Context, paymentID, userID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[paymentID]; ok && p.UserID == userID {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) GetPendingPaymentForSlot(_ context.Context, resourceID, userID string, from, to time.Time) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ResourceID == resourceID && p.UserID == userID &&
			p.FromDatetime.Equal(from) && p.ToDatetime.Equal(to) &&
			p.Status == models.PaymentStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetOverlappingHolds(_ context.Context, resourceID string, from, to time.Time) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.ResourceID != resourceID {
			continue
		}
		if p.Status != models.PaymentStatusPending && p.Status != models.PaymentStatusCompleted {
			continue
		}
		if p.FromDatetime.Before(to) && p.ToDatetime.After(from) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, paymentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[paymentID]; ok {
		p.Status = status
		p.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memStore) CompletePayment(_ context.Context, paymentID, transactionID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[paymentID]; ok {
		p.Status = models.PaymentStatusCompleted
		p.TransactionID = &transactionID
		p.SessionID = &sessionID
		p.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memStore) ExpirePendingBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.payments {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			p.Status = models.PaymentStatusFailed
			p.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateSession(_ context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess.CreatedAt = time.Now()
	cp := *sess
	m.sessions[sess.PaymentID] = &cp
	return nil
}

func (m *memStore) GetSessionByPaymentID(_ context.Context, paymentID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[paymentID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) GetSessionsByUser(_ context.Context, userID string) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) GetPaymentsByUser(_ context.Context, userID string) ([]store.PaymentHistoryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.PaymentHistoryRow
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, store.PaymentHistoryRow{Payment: *p})
		}
	}
	return out, nil
}

func (m *memStore) GetPaymentsByProvider(_ context.Context, providerID string) ([]store.PaymentHistoryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.PaymentHistoryRow
	for _, p := range m.payments {
		if p.ProviderID == providerID {
			out = append(out, store.PaymentHistoryRow{Payment: *p})
		}
	}
	return out, nil
}

// setPaymentCreatedAt backdates a stored payment, for expiry tests.
func (m *memStore) setPaymentCreatedAt(paymentID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[paymentID]; ok {
		p.CreatedAt = at
	}
}

type fakePrice struct {
	price decimal.Decimal
	err   error
}

func (f *fakePrice) GetPrice(context.Context) (decimal.Decimal, error) {
	return f.price, f.err
}

type fakeLedger struct {
	mu sync.Mutex

	transferErr   error
	transferCalls int
	lastFrom      string
	lastTo        string
	lastAmount    decimal.Decimal

	createAccountAddr string
	createAccountErr  error
	setupVaultErr     error
	accountInfo       *ledger.AccountInfo
	history           []ledger.TxSummary

	nextTxSeq int
}

func (f *fakeLedger) CreateAccount(context.Context, string) (string, error) {
	if f.createAccountErr != nil {
		return "", f.createAccountErr
	}
	return f.createAccountAddr, nil
}

func (f *fakeLedger) SetupTokenVault(context.Context, string, string) (string, error) {
	return "vault-tx", f.setupVaultErr
}

func (f *fakeLedger) Transfer(_ context.Context, from, _, to string, amount decimal.Decimal) (*ledger.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls++
	f.lastFrom = from
	f.lastTo = to
	f.lastAmount = amount
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.nextTxSeq++
	return &ledger.TransferResult{TransactionID: "tx-" + string(rune('a'+f.nextTxSeq-1)), Sealed: true}, nil
}

func (f *fakeLedger) GetAccountInfo(context.Context, string) (*ledger.AccountInfo, error) {
	return f.accountInfo, nil
}

func (f *fakeLedger) GetTransactionHistory(context.Context, string, int) ([]ledger.TxSummary, error) {
	return f.history, nil
}

type fakeLocker struct {
	mu     sync.Mutex
	denied bool
	held   map[string]bool
}

func (f *fakeLocker) AcquireSlotLock(_ context.Context, resourceID string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return "", nil
	}
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[resourceID] {
		return "", nil
	}
	f.held[resourceID] = true
	return "token-" + resourceID, nil
}

func (f *fakeLocker) ReleaseSlotLock(_ context.Context, resourceID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, resourceID)
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []interface{}
}

func (f *fakeSink) record(event interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSink) PublishPaymentQuoted(_ context.Context, e *models.PaymentQuotedEvent) error {
	return f.record(e)
}

func (f *fakeSink) PublishPaymentCompleted(_ context.Context, e *models.PaymentCompletedEvent) error {
	return f.record(e)
}

func (f *fakeSink) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	return f.record(e)
}

func (f *fakeSink) PublishSessionCreated(_ context.Context, e *models.SessionCreatedEvent) error {
	return f.record(e)
}

func (f *fakeSink) PublishWalletCreated(_ context.Context, e *models.WalletCreatedEvent) error {
	return f.record(e)
}

func (f *fakeSink) eventsOfType(eventType string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interface{}
	for _, e := range f.events {
		switch ev := e.(type) {
		case *models.PaymentQuotedEvent:
			if ev.EventType == eventType {
				out = append(out, ev)
			}
		case *models.PaymentCompletedEvent:
			if ev.EventType == eventType {
				out = append(out, ev)
			}
		case *models.PaymentFailedEvent:
			if ev.EventType == eventType {
				out = append(out, ev)
			}
		case *models.SessionCreatedEvent:
			if ev.EventType == eventType {
				out = append(out, ev)
			}
		case *models.WalletCreatedEvent:
			if ev.EventType == eventType {
				out = append(out, ev)
			}
		}
	}
	return out
}

// fakeCipher marks values instead of encrypting; tests assert the
// marker to prove keys are sealed before persistence.
type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (fakeCipher) Decrypt(sealed string) (string, error) {
	if len(sealed) > 4 && sealed[:4] == "enc:" {
		return sealed[4:], nil
	}
	return sealed, nil
}
