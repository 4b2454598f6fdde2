package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avelichko/walink/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed credential store.
func NewSQLite(dbPath string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS credentials (
		tenant_id TEXT PRIMARY KEY,
		registered INTEGER NOT NULL DEFAULT 0,
		device_jid TEXT NOT NULL DEFAULT '',
		payload BLOB,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load retrieves the stored credential state for a tenant.
func (s *SQLiteStore) Load(ctx context.Context, tenant domain.TenantID) (*domain.CredentialState, error) {
	query := `
		SELECT tenant_id, registered, device_jid, payload, updated_at
		FROM credentials WHERE tenant_id = ?`

	row := s.db.QueryRowContext(ctx, query, string(tenant))

	var state domain.CredentialState
	var tenantID string
	var registered int
	var updatedAt int64

	err := row.Scan(&tenantID, &registered, &state.DeviceJID, &state.Payload, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential row: %w", err)
	}

	state.TenantID = domain.TenantID(tenantID)
	state.Registered = registered != 0
	state.UpdatedAt = time.Unix(updatedAt, 0)

	return &state, nil
}

// Save writes the credential state through to durable storage.
func (s *SQLiteStore) Save(ctx context.Context, state *domain.CredentialState) error {
	query := `
		INSERT INTO credentials (tenant_id, registered, device_jid, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			registered = excluded.registered,
			device_jid = excluded.device_jid,
			payload = excluded.payload,
			updated_at = excluded.updated_at`

	registered := 0
	if state.Registered {
		registered = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		string(state.TenantID), registered, state.DeviceJID, state.Payload, time.Now().Unix())
	if isSQLiteConflict(err) {
		time.Sleep(100 * time.Millisecond)
		_, err = s.db.ExecContext(ctx, query,
			string(state.TenantID), registered, state.DeviceJID, state.Payload, time.Now().Unix())
	}
	if err != nil {
		return fmt.Errorf("save credentials for %s: %w", state.TenantID, err)
	}
	return nil
}

// Erase removes a tenant's credential material.
func (s *SQLiteStore) Erase(ctx context.Context, tenant domain.TenantID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE tenant_id = ?`, string(tenant)); err != nil {
		return fmt.Errorf("erase credentials for %s: %w", tenant, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
