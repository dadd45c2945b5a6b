package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chargehive/internal/models"
)

// overlapCondition is the half-open interval intersection test: an
// existing window [from, to) conflicts with a requested one when
// existing.from < new.to AND existing.to > new.from.
const overlapCondition = "from_datetime < $2 AND to_datetime > $3"

// CreatePayment inserts a pending payment inside a serializable
// transaction that re-checks the overlap invariant. Pending holds
// created before pendingCutoff no longer block; the sweep worker will
// fail them. The caller holds a per-resource advisory lock; the
// transaction is the backstop when two initiates race past it.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment, pendingCutoff time.Time) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var conflicts int
	err = tx.GetContext(ctx, &conflicts,
		`SELECT COUNT(*) FROM payments
		 WHERE resource_id = $1 AND `+overlapCondition+`
		 AND (status = 'completed' OR (status = 'pending' AND created_at >= $4))`,
		p.ResourceID, p.ToDatetime, p.FromDatetime, pendingCutoff)
	if err != nil {
		return fmt.Errorf("failed to re-check overlaps: %w", err)
	}
	if conflicts > 0 {
		return ErrSlotTaken
	}

	query := `
		INSERT INTO payments (
			payment_id, user_id, provider_id, resource_id,
			from_datetime, to_datetime,
			amount_usd, token_amount, token_price_usd,
			sender_address, receiver_address, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		p.ID, p.UserID, p.ProviderID, p.ResourceID,
		p.FromDatetime, p.ToDatetime,
		p.AmountUSD, p.TokenAmount, p.TokenPriceUSD,
		p.SenderAddress, p.ReceiverAddr, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	return tx.Commit()
}

// ErrSlotTaken is returned when the serializable re-check finds a
// conflicting hold that appeared after the caller's availability check.
var ErrSlotTaken = fmt.Errorf("slot already held by another payment")

// GetPaymentByID retrieves a payment scoped to its payer
func (s *Store) GetPaymentByID(ctx context.Context, paymentID, userID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE payment_id = $1 AND user_id = $2", paymentID, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPendingPaymentForSlot retrieves an unexpired pending payment for the
// exact (resource, window, payer) tuple, so repeated initiate calls
// return the existing quote instead of creating duplicates.
func (s *Store) GetPendingPaymentForSlot(ctx context.Context, resourceID, userID string, from, to time.Time) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		`SELECT * FROM payments
		 WHERE resource_id = $1 AND user_id = $2
		 AND from_datetime = $3 AND to_datetime = $4
		 AND status = 'pending'
		 ORDER BY created_at DESC LIMIT 1`,
		resourceID, userID, from, to)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetOverlappingHolds returns pending and completed payments whose
// windows intersect the requested one on the given resource.
func (s *Store) GetOverlappingHolds(ctx context.Context, resourceID string, from, to time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		`SELECT * FROM payments
		 WHERE resource_id = $1 AND `+overlapCondition+`
		 AND status IN ('pending', 'completed')`,
		resourceID, to, from)
	return payments, err
}

// UpdatePaymentStatus updates payment status
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE payment_id = $2",
		status, paymentID)
	return err
}

// CompletePayment attaches the sealed transaction and materialized
// session to a payment and marks it completed.
func (s *Store) CompletePayment(ctx context.Context, paymentID, transactionID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments
		 SET status = 'completed', transaction_id = $1, session_id = $2, updated_at = NOW()
		 WHERE payment_id = $3`,
		transactionID, sessionID, paymentID)
	return err
}

// ExpirePendingBefore flips pending payments created before cutoff to
// failed and returns how many rows changed. Run by the sweep worker.
func (s *Store) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = 'failed', updated_at = NOW() WHERE status = 'pending' AND created_at < $1",
		cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateSession materializes the session record for a completed payment
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	query := `
		INSERT INTO sessions (session_id, user_id, provider_id, resource_id, from_datetime, to_datetime, total_amount, payment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	return s.db.GetContext(ctx, &sess.CreatedAt, query,
		sess.ID, sess.UserID, sess.ProviderID, sess.ResourceID,
		sess.FromDatetime, sess.ToDatetime, sess.TotalAmount, sess.PaymentID)
}

// GetSessionByPaymentID retrieves the session backed by a payment, if
// one has been materialized. Used to make materialization idempotent.
func (s *Store) GetSessionByPaymentID(ctx context.Context, paymentID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.GetContext(ctx, &sess, "SELECT * FROM sessions WHERE payment_id = $1", paymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSessionsByUser retrieves a user's sessions, newest first
func (s *Store) GetSessionsByUser(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT * FROM sessions WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return sessions, err
}

// PaymentHistoryRow joins a payment with its resource for display.
type PaymentHistoryRow struct {
	models.Payment
	ResourceType    string `db:"resource_type"`
	ResourceAddress string `db:"resource_address"`
}

const historySelect = `
	SELECT p.*, r.resource_type, r.address AS resource_address
	FROM payments p
	JOIN resources r ON r.resource_id = p.resource_id`

// GetPaymentsByUser retrieves a user's payment history, newest first
func (s *Store) GetPaymentsByUser(ctx context.Context, userID string) ([]PaymentHistoryRow, error) {
	var rows []PaymentHistoryRow
	err := s.db.SelectContext(ctx, &rows,
		historySelect+" WHERE p.user_id = $1 ORDER BY p.created_at DESC", userID)
	return rows, err
}

// GetPaymentsByProvider retrieves payments addressed to a provider,
// newest first. Aggregation happens in the service layer.
func (s *Store) GetPaymentsByProvider(ctx context.Context, providerID string) ([]PaymentHistoryRow, error) {
	var rows []PaymentHistoryRow
	err := s.db.SelectContext(ctx, &rows,
		historySelect+" WHERE p.provider_id = $1 ORDER BY p.created_at DESC", providerID)
	return rows, err
}
