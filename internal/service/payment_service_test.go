package service

import (
	"context"
	"testing"
	"time"

	"chargehive/internal/apperr"
	"chargehive/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	svc    *PaymentService
	store  *memStore
	ledger *fakeLedger
	locker *fakeLocker
	sink   *fakeSink
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	st := newMemStore()
	led := &fakeLedger{}
	locker := &fakeLocker{}
	sink := &fakeSink{}

	svc := NewPaymentService(st, &fakePrice{price: decimal.RequireFromString("0.50")},
		led, locker, sink, fakeCipher{}, 15*time.Minute, 10*time.Second)

	ctx := context.Background()
	require.NoError(t, st.CreateIdentity(ctx, &models.Identity{ID: "user-1", Type: models.IdentityTypeUser, Email: "user@example.com"}))
	require.NoError(t, st.CreateIdentity(ctx, &models.Identity{ID: "prov-1", Type: models.IdentityTypeProvider, Email: "prov@example.com"}))
	require.NoError(t, st.CreateWalletAccount(ctx, &models.WalletAccount{Address: "0xuser", IdentityID: "user-1", PrivateKeyEnc: "enc:userkey"}))
	require.NoError(t, st.CreateWalletAccount(ctx, &models.WalletAccount{Address: "0xprov", IdentityID: "prov-1", PrivateKeyEnc: "enc:provkey"}))
	require.NoError(t, st.CreateResource(ctx, &models.Resource{
		ID:           "res-1",
		ProviderID:   "prov-1",
		ResourceType: models.ResourceTypeCharger,
		Status:       models.ResourceStatusAvailable,
		HourlyRate:   decimal.RequireFromString("10.00"),
	}))

	return &paymentFixture{svc: svc, store: st, ledger: led, locker: locker, sink: sink}
}

func (f *paymentFixture) createResource(t *testing.T, r *models.Resource) {
	t.Helper()
	require.NoError(t, f.store.CreateResource(context.Background(), r))
}

func window(hours int) (time.Time, time.Time) {
	from := time.Now().Add(time.Hour).Truncate(time.Minute)
	return from, from.Add(time.Duration(hours) * time.Hour)
}

func TestInitiateQuotesPayment(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(2)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPending, quote.Status)
	assert.Equal(t, "20", quote.AmountUSD.String())
	assert.Equal(t, "40.00000000", quote.TokenAmount.StringFixed(8))
	assert.Equal(t, "0xuser", quote.SenderAddress)
	assert.Equal(t, "0xprov", quote.ReceiverAddress)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), quote.ExpiresAt, 5*time.Second)

	assert.Len(t, f.sink.eventsOfType(models.EventTypePaymentQuoted), 1)
}

func TestInitiateValidatesWindow(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(2)

	cases := []struct {
		name     string
		from, to time.Time
	}{
		{"inverted", to, from},
		{"empty", from, from},
		{"past", time.Now().Add(-3 * time.Hour), time.Now().Add(-2 * time.Hour)},
		{"started in the past", time.Now().Add(-1 * time.Hour), time.Now().Add(1 * time.Hour)},
		{"zero", time.Time{}, to},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
				UserID: "user-1", ResourceID: "res-1", FromDatetime: tc.from, ToDatetime: tc.to,
			})
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestInitiateAllowsWindowStartingNow(t *testing.T) {
	f := newPaymentFixture(t)

	from := time.Now().Add(-10 * time.Second)
	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: from.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, quote.Status)
}

func TestInitiateUnknownResource(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	_, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-missing", FromDatetime: from, ToDatetime: to,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestInitiateUnbookableResource(t *testing.T) {
	f := newPaymentFixture(t)
	f.createResource(t, &models.Resource{
		ID: "res-down", ProviderID: "prov-1", ResourceType: models.ResourceTypeCharger,
		Status: models.ResourceStatusUnavailable, HourlyRate: decimal.RequireFromString("5.00"),
	})
	from, to := window(1)

	_, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-down", FromDatetime: from, ToDatetime: to,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestInitiateAllowsActiveResource(t *testing.T) {
	f := newPaymentFixture(t)
	f.createResource(t, &models.Resource{
		ID: "res-busy", ProviderID: "prov-1", ResourceType: models.ResourceTypeCharger,
		Status: models.ResourceStatusActive, HourlyRate: decimal.RequireFromString("5.00"),
	})
	from, to := window(1)

	_, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-busy", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)
}

func TestInitiateRejectsOverlappingHold(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(2)

	_, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	// Overlapping window from a different caller.
	require.NoError(t, f.store.CreateIdentity(context.Background(), &models.Identity{ID: "user-2", Type: models.IdentityTypeUser, Email: "two@example.com"}))
	require.NoError(t, f.store.CreateWalletAccount(context.Background(), &models.WalletAccount{Address: "0xuser2", IdentityID: "user-2", PrivateKeyEnc: "enc:k2"}))

	_, err = f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-2", ResourceID: "res-1", FromDatetime: from.Add(time.Hour), ToDatetime: to.Add(time.Hour),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestInitiateAllowsAdjacentWindows(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(2)

	_, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	// [to, to+1h) shares only the boundary instant and must not conflict.
	_, err = f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: to, ToDatetime: to.Add(time.Hour),
	})
	require.NoError(t, err)
}

func TestInitiateIgnoresExpiredHold(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(2)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	// Push the hold past its expiry; the slot frees up even before the
	// sweep worker flips it.
	f.store.setPaymentCreatedAt(quote.PaymentID, time.Now().Add(-16*time.Minute))

	require.NoError(t, f.store.CreateIdentity(context.Background(), &models.Identity{ID: "user-2", Type: models.IdentityTypeUser, Email: "two@example.com"}))
	require.NoError(t, f.store.CreateWalletAccount(context.Background(), &models.WalletAccount{Address: "0xuser2", IdentityID: "user-2", PrivateKeyEnc: "enc:k2"}))

	_, err = f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-2", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)
}

func TestInitiateIsIdempotentPerSlot(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(2)
	req := &InitiatePaymentRequest{UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to}

	first, err := f.svc.Initiate(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Initiate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.PaymentID, second.PaymentID)
}

func TestInitiateLockContention(t *testing.T) {
	f := newPaymentFixture(t)
	f.locker.denied = true
	from, to := window(1)

	_, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestInitiateRequiresWallets(t *testing.T) {
	f := newPaymentFixture(t)
	require.NoError(t, f.store.CreateIdentity(context.Background(), &models.Identity{ID: "user-nowallet", Type: models.IdentityTypeUser, Email: "nw@example.com"}))
	from, to := window(1)

	_, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-nowallet", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestExecuteSettlesPayment(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(2)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	result, err := f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-1", SenderAddress: "0xuser",
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCompleted, result.Status)
	assert.NotEmpty(t, result.TransactionID)
	assert.NotEmpty(t, result.SessionID)

	assert.Equal(t, 1, f.ledger.transferCalls)
	assert.Equal(t, "0xuser", f.ledger.lastFrom)
	assert.Equal(t, "0xprov", f.ledger.lastTo)
	assert.True(t, f.ledger.lastAmount.Equal(quote.TokenAmount))

	session, err := f.store.GetSessionByPaymentID(context.Background(), quote.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "user-1", session.UserID)
	assert.True(t, session.TotalAmount.Equal(quote.AmountUSD))

	assert.Len(t, f.sink.eventsOfType(models.EventTypePaymentCompleted), 1)
	assert.Len(t, f.sink.eventsOfType(models.EventTypeSessionCreated), 1)
}

func TestExecuteRejectsSenderMismatch(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-1", SenderAddress: "0xsomeoneelse",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	// The ledger is never touched and the quote survives.
	assert.Equal(t, 0, f.ledger.transferCalls)
	status, err := f.svc.Status(context.Background(), quote.PaymentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, status.Status)
}

func TestExecuteExpiredHold(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	f.store.setPaymentCreatedAt(quote.PaymentID, time.Now().Add(-16*time.Minute))

	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-1", SenderAddress: "0xuser",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))
	assert.Equal(t, 0, f.ledger.transferCalls)

	status, err := f.svc.Status(context.Background(), quote.PaymentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, status.Status)
	assert.Len(t, f.sink.eventsOfType(models.EventTypePaymentFailed), 1)
}

func TestExecuteJustInsideExpiry(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	f.store.setPaymentCreatedAt(quote.PaymentID, time.Now().Add(-14*time.Minute))

	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-1", SenderAddress: "0xuser",
	})
	require.NoError(t, err)
}

func TestExecuteTransferFailure(t *testing.T) {
	f := newPaymentFixture(t)
	f.ledger.transferErr = apperr.New(apperr.KindChainFailure, "insufficient funds")
	from, to := window(1)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-1", SenderAddress: "0xuser",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindChainFailure, apperr.KindOf(err))

	status, err := f.svc.Status(context.Background(), quote.PaymentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, status.Status)

	session, err := f.store.GetSessionByPaymentID(context.Background(), quote.PaymentID)
	require.NoError(t, err)
	assert.Nil(t, session, "a failed transfer must not materialize a session")
}

func TestExecuteTerminalStates(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-1", SenderAddress: "0xuser",
	})
	require.NoError(t, err)

	// Second execute of a settled payment.
	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-1", SenderAddress: "0xuser",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 1, f.ledger.transferCalls, "a settled payment must not transfer twice")
}

func TestExecuteScopedToPayer(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-2", SenderAddress: "0xuser",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStatusReportsDerivedExpiry(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	f.store.setPaymentCreatedAt(quote.PaymentID, time.Now().Add(-16*time.Minute))

	status, err := f.svc.Status(context.Background(), quote.PaymentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, status.Status, "status is read-only")
	assert.True(t, status.Expired)
	assert.Nil(t, status.VerifiedAt)
}

func TestStatusReportsVerifiedAtWhenCompleted(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	quote, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)

	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: quote.PaymentID, UserID: "user-1", SenderAddress: "0xuser",
	})
	require.NoError(t, err)

	status, err := f.svc.Status(context.Background(), quote.PaymentID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, status.VerifiedAt)
	assert.WithinDuration(t, time.Now(), *status.VerifiedAt, 5*time.Second)
}

func TestExpireStaleSweep(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(1)

	stale, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)
	f.store.setPaymentCreatedAt(stale.PaymentID, time.Now().Add(-20*time.Minute))

	fresh, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: to, ToDatetime: to.Add(time.Hour),
	})
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	staleStatus, err := f.svc.Status(context.Background(), stale.PaymentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, staleStatus.Status)

	freshStatus, err := f.svc.Status(context.Background(), fresh.PaymentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, freshStatus.Status)
}

func TestEarningsAggregation(t *testing.T) {
	f := newPaymentFixture(t)
	from, to := window(2)

	settled, err := f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: from, ToDatetime: to,
	})
	require.NoError(t, err)
	_, err = f.svc.Execute(context.Background(), &ExecutePaymentRequest{
		PaymentID: settled.PaymentID, UserID: "user-1", SenderAddress: "0xuser",
	})
	require.NoError(t, err)

	_, err = f.svc.Initiate(context.Background(), &InitiatePaymentRequest{
		UserID: "user-1", ResourceID: "res-1", FromDatetime: to, ToDatetime: to.Add(time.Hour),
	})
	require.NoError(t, err)

	earnings, err := f.svc.Earnings(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, 1, earnings.CompletedCount)
	assert.Equal(t, 1, earnings.PendingCount)
	assert.Equal(t, "20", earnings.TotalUSD.String())
	assert.Equal(t, "40.00000000", earnings.TotalTokens.StringFixed(8))
}

func TestComputeAmount(t *testing.T) {
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		rate     string
		duration time.Duration
		want     string
	}{
		{"whole hours", "10.00", 2 * time.Hour, "20"},
		{"half hour", "10.00", 30 * time.Minute, "5"},
		{"ninety minutes", "7.50", 90 * time.Minute, "11.25"},
		{"rounds to cents", "7.99", 30 * time.Minute, "4"},
		{"ten minutes", "12.00", 10 * time.Minute, "2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := computeAmount(decimal.RequireFromString(tc.rate), base, base.Add(tc.duration))
			assert.Equal(t, tc.want, got.String())
		})
	}
}
