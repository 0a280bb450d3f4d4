// Package testutil provides testing utilities for PharmaLink backend
// services: testcontainers for PostgreSQL, a shared integration suite,
// sqlmock helpers, and supply domain fixtures.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "pharmalink_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "pharmalink_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// CreateSupplySchema creates the supply service tables. The constraints
// mirror production: stock can never go negative, quantities are
// positive, and order statuses are closed over the lifecycle.
func (c *PostgresContainer) CreateSupplySchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS medicine_batches (
			id UUID PRIMARY KEY,
			medicine_id UUID NOT NULL,
			vendor_id UUID NOT NULL,
			batch_number VARCHAR(100) NOT NULL,
			manufacturing_date DATE NOT NULL,
			expiry_date DATE NOT NULL,
			quantity_on_hand INTEGER NOT NULL DEFAULT 0,
			unit_price NUMERIC(12,2) NOT NULL,
			list_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT quantity_on_hand_non_negative CHECK (quantity_on_hand >= 0),
			CONSTRAINT price_non_negative CHECK (unit_price >= 0 AND list_price >= 0)
		);
		CREATE INDEX IF NOT EXISTS idx_batches_allocation
			ON medicine_batches (medicine_id, vendor_id, expiry_date, created_at);

		CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			medicine_id UUID NOT NULL,
			vendor_id UUID NOT NULL,
			requester_id UUID NOT NULL,
			requester_kind VARCHAR(20) NOT NULL,
			requester_name VARCHAR(255) NOT NULL,
			quantity INTEGER NOT NULL,
			total_value NUMERIC(14,2) NOT NULL DEFAULT 0,
			status VARCHAR(30) NOT NULL DEFAULT 'pending',
			reject_reason TEXT,
			order_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			delivery_date DATE NOT NULL,
			delivered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT quantity_positive CHECK (quantity > 0),
			CONSTRAINT status_valid CHECK (status IN (
				'pending', 'requested_for_delivery', 'out_for_delivery',
				'delivered', 'rejected'
			))
		);
		CREATE INDEX IF NOT EXISTS idx_orders_requester ON orders (requester_id, status);
		CREATE INDEX IF NOT EXISTS idx_orders_vendor ON orders (vendor_id, status);

		CREATE TABLE IF NOT EXISTS order_batches (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id),
			batch_id UUID NOT NULL REFERENCES medicine_batches(id),
			quantity INTEGER NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			CONSTRAINT quantity_positive CHECK (quantity > 0)
		);
		CREATE INDEX IF NOT EXISTS idx_order_batches_order ON order_batches (order_id);

		CREATE TABLE IF NOT EXISTS consumption_log (
			id UUID PRIMARY KEY,
			requester_id UUID NOT NULL,
			medicine_id UUID NOT NULL,
			quantity INTEGER NOT NULL,
			kind VARCHAR(20) NOT NULL,
			reference TEXT,
			consumed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT quantity_positive CHECK (quantity > 0),
			CONSTRAINT kind_valid CHECK (kind IN ('dispense', 'sold'))
		);
		CREATE INDEX IF NOT EXISTS idx_consumption_requester
			ON consumption_log (requester_id, medicine_id);

		CREATE TABLE IF NOT EXISTS medicine_cache (
			id UUID PRIMARY KEY,
			vendor_id UUID NOT NULL,
			brand_name VARCHAR(255) NOT NULL,
			generic_name VARCHAR(255) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create supply schema: %w", err)
	}
	return nil
}
