package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Sentinel errors surfaced to the service layer. Handlers map these to
// coarse HTTP statuses; internal detail never leaves the process.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrDomainUnavailable = errors.New("domain no longer available")
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

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProduct retrieves a product by type and id
func (s *Store) GetProduct(ctx context.Context, productType string, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT * FROM products WHERE product_type = $1 AND id = $2", productType, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s/%d: %w", productType, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetDomainAllocation retrieves a domain allocation row
func (s *Store) GetDomainAllocation(ctx context.Context, domainID int64) (*models.DomainAllocation, error) {
	var alloc models.DomainAllocation
	err := s.db.GetContext(ctx, &alloc,
		"SELECT * FROM domain_allocations WHERE id = $1", domainID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("domain %d: %w", domainID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

// AllocateDomainTx assigns a domain to an order inside the caller's
// transaction. The FOR UPDATE read serializes concurrent candidates; the
// conditional update catches anyone who slipped in between read and write.
// Zero affected rows means the domain was taken and the whole transaction
// must be rolled back by the caller.
func (s *Store) AllocateDomainTx(ctx context.Context, tx *sqlx.Tx, domainID, orderID int64) error {
	var alloc models.DomainAllocation
	err := tx.GetContext(ctx, &alloc,
		"SELECT * FROM domain_allocations WHERE id = $1 FOR UPDATE", domainID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("domain %d: %w", domainID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock domain: %w", err)
	}

	if alloc.OrderID.Valid {
		return ErrDomainUnavailable
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE domain_allocations SET status = $1, order_id = $2, updated_at = NOW() WHERE id = $3 AND order_id IS NULL",
		models.DomainStatusAssigned, orderID, domainID)
	if err != nil {
		return fmt.Errorf("failed to assign domain: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDomainUnavailable
	}
	return nil
}

// ReleaseDomain frees a domain assigned to a cancelled order
func (s *Store) ReleaseDomain(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE domain_allocations SET status = $1, order_id = NULL, updated_at = NOW() WHERE order_id = $2",
		models.DomainStatusAvailable, orderID)
	return err
}
