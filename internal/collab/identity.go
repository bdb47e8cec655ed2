package collab

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // postgres driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInvalidToken is returned when a token is unknown or expired.
var ErrInvalidToken = errors.New("collab: invalid or expired token")

// PostgresIdentityStore resolves auth tokens against the accounts database.
// The accounts service owns the schema's writes; the core only reads, but it
// applies the token-table migration on startup so a fresh environment works
// out of the box.
type PostgresIdentityStore struct {
	db *sql.DB
}

// NewPostgresIdentityStore opens the accounts database and verifies the
// connection.
func NewPostgresIdentityStore(dsn string) (*PostgresIdentityStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("collab: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("collab: postgres ping: %w", err)
	}
	return &PostgresIdentityStore{db: db}, nil
}

// Migrate applies the embedded schema migrations. Running against an
// up-to-date schema is a no-op.
func (s *PostgresIdentityStore) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("collab: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("collab: migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("collab: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("collab: migrate up: %w", err)
	}
	return nil
}

// Authenticate resolves a token into a stable user ID and tier. Unknown and
// expired tokens return ErrInvalidToken.
func (s *PostgresIdentityStore) Authenticate(ctx context.Context, token string) (Identity, error) {
	const query = `
		SELECT user_id, tier
		FROM auth_tokens
		WHERE token = $1
		  AND (expires_at IS NULL OR expires_at > NOW())`

	var id Identity
	err := s.db.QueryRowContext(ctx, query, token).Scan(&id.UserID, &id.Tier)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrInvalidToken
	}
	if err != nil {
		return Identity{}, fmt.Errorf("collab: authenticate: %w", err)
	}
	return id, nil
}

// Close closes the database handle.
func (s *PostgresIdentityStore) Close() error {
	return s.db.Close()
}
