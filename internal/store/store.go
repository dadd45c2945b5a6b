package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chargehive/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection; used by tests.
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate applies pending schema migrations from migrationsDir.
func (s *Store) Migrate(migrationsDir string) error {
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetResourceByID retrieves a bookable resource by ID
func (s *Store) GetResourceByID(ctx context.Context, id string) (*models.Resource, error) {
	var resource models.Resource
	err := s.db.GetContext(ctx, &resource, "SELECT * FROM resources WHERE resource_id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

// GetResourcesByProvider retrieves all resources owned by a provider
func (s *Store) GetResourcesByProvider(ctx context.Context, providerID string) ([]models.Resource, error) {
	var resources []models.Resource
	err := s.db.SelectContext(ctx, &resources,
		"SELECT * FROM resources WHERE provider_id = $1 ORDER BY created_at DESC", providerID)
	return resources, err
}

// CreateResource inserts a new bookable resource
func (s *Store) CreateResource(ctx context.Context, r *models.Resource) error {
	query := `
		INSERT INTO resources (resource_id, provider_id, resource_type, status, hourly_rate, address, city)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, r, query,
		r.ID, r.ProviderID, r.ResourceType, r.Status, r.HourlyRate, r.Address, r.City)
}

// UpdateResourceStatus updates a resource's lifecycle status
func (s *Store) UpdateResourceStatus(ctx context.Context, resourceID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE resources SET status = $1, updated_at = NOW() WHERE resource_id = $2",
		status, resourceID)
	return err
}

// GetIdentityByID retrieves a user or provider identity
func (s *Store) GetIdentityByID(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	err := s.db.GetContext(ctx, &identity, "SELECT * FROM identities WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// CreateIdentity inserts a new identity record
func (s *Store) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (id, identity_type, email, wallet_address)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	return s.db.GetContext(ctx, &identity.CreatedAt, query,
		identity.ID, identity.Type, identity.Email, identity.WalletAddress)
}

// DeleteIdentity removes an identity record. Used as the compensating
// action when wallet provisioning fails mid-signup.
func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM identities WHERE id = $1", id)
	return err
}

// SetIdentityWallet binds a provisioned wallet address to an identity
func (s *Store) SetIdentityWallet(ctx context.Context, identityID, address string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE identities SET wallet_address = $1 WHERE id = $2",
		address, identityID)
	return err
}

// CreateWalletAccount persists a custodial wallet with its encrypted key
func (s *Store) CreateWalletAccount(ctx context.Context, w *models.WalletAccount) error {
	query := `
		INSERT INTO wallet_accounts (address, identity_id, private_key_enc)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	return s.db.GetContext(ctx, &w.CreatedAt, query,
		w.Address, w.IdentityID, w.PrivateKeyEnc)
}

// GetWalletByAddress retrieves a custodial wallet by its on-chain address
func (s *Store) GetWalletByAddress(ctx context.Context, address string) (*models.WalletAccount, error) {
	var wallet models.WalletAccount
	err := s.db.GetContext(ctx, &wallet, "SELECT * FROM wallet_accounts WHERE address = $1", address)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetWalletByIdentity retrieves the custodial wallet bound to an identity
func (s *Store) GetWalletByIdentity(ctx context.Context, identityID string) (*models.WalletAccount, error) {
	var wallet models.WalletAccount
	err := s.db.GetContext(ctx, &wallet, "SELECT * FROM wallet_accounts WHERE identity_id = $1", identityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// DeleteWalletAccount removes a wallet record (provisioning compensation)
func (s *Store) DeleteWalletAccount(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM wallet_accounts WHERE address = $1", address)
	return err
}
