package service

import (
	"context"
	"time"

	"chargehive/internal/apperr"
	"chargehive/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var secondsPerHour = decimal.NewFromInt(3600)

// CheckAvailability verifies that a resource can be booked for the
// requested window. A window is blocked by completed payments and by
// pending payments still inside their hold.
func (s *PaymentService) CheckAvailability(ctx context.Context, resourceID string, from, to time.Time) (*models.Resource, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, err
	}

	resource, err := s.store.GetResourceByID(ctx, resourceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load resource", err)
	}
	if resource == nil {
		return nil, apperr.New(apperr.KindNotFound, "resource not found")
	}
	if resource.Status != models.ResourceStatusAvailable && resource.Status != models.ResourceStatusActive {
		return nil, apperr.New(apperr.KindValidation, "resource is not bookable")
	}

	holds, err := s.store.GetOverlappingHolds(ctx, resourceID, from, to)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to check overlapping holds", err)
	}

	now := time.Now()
	for i := range holds {
		if s.holdBlocks(&holds[i], now) {
			return nil, apperr.New(apperr.KindConflict, "slot overlaps an existing booking")
		}
	}

	return resource, nil
}

// holdBlocks reports whether an overlapping payment still blocks the
// slot. Pending holds past their expiry no longer count; the sweep
// worker will fail them.
func (s *PaymentService) holdBlocks(p *models.Payment, now time.Time) bool {
	switch p.Status {
	case models.PaymentStatusCompleted:
		return true
	case models.PaymentStatusPending:
		return now.Before(p.ExpiresAt(s.expiry))
	}
	return false
}

// materializeSession creates the booking session for a completed
// payment. Idempotent: an already-materialized session is returned
// as-is.
func (s *PaymentService) materializeSession(ctx context.Context, p *models.Payment) (*models.Session, error) {
	existing, err := s.store.GetSessionByPaymentID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	session := &models.Session{
		ID:           uuid.New().String(),
		UserID:       p.UserID,
		ProviderID:   p.ProviderID,
		ResourceID:   p.ResourceID,
		FromDatetime: p.FromDatetime,
		ToDatetime:   p.ToDatetime,
		TotalAmount:  p.AmountUSD,
		PaymentID:    p.ID,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// windowStartSkew absorbs clock drift between clients and the server
// so a booking starting "now" is not rejected.
const windowStartSkew = time.Minute

// validateWindow rejects empty, inverted, or past windows. The window
// must start in the future, up to a small skew tolerance.
func validateWindow(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return apperr.New(apperr.KindValidation, "booking window is required")
	}
	if !from.Before(to) {
		return apperr.New(apperr.KindValidation, "booking window start must precede its end")
	}
	if from.Before(time.Now().Add(-windowStartSkew)) {
		return apperr.New(apperr.KindValidation, "booking window must start in the future")
	}
	return nil
}

// computeAmount prices a window at the resource's hourly rate, rounded
// to cents. Partial hours are billed pro rata.
func computeAmount(hourlyRate decimal.Decimal, from, to time.Time) decimal.Decimal {
	seconds := decimal.NewFromInt(int64(to.Sub(from).Seconds()))
	return hourlyRate.Mul(seconds).DivRound(secondsPerHour, 2)
}
