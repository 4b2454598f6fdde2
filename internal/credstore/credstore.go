// Package credstore persists per-tenant credential material. It is the only
// state that survives a process restart.
package credstore

import (
	"context"

	"github.com/avelichko/walink/internal/domain"
)

// Store defines the credential persistence interface, keyed by tenant id.
type Store interface {
	// Load retrieves the stored credential state for a tenant.
	// Returns (nil, nil) when the tenant has no stored credentials.
	Load(ctx context.Context, tenant domain.TenantID) (*domain.CredentialState, error)

	// Save writes the credential state through to durable storage. Called
	// on every credential-rotation event; writes are never batched.
	Save(ctx context.Context, state *domain.CredentialState) error

	// Erase removes a tenant's credential material. Invoked only on
	// terminal logout or an explicit reset request.
	Erase(ctx context.Context, tenant domain.TenantID) error

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying storage.
	Close() error
}
