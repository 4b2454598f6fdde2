// Package notify defines the outbound notifier port: how the core reports
// pairing codes, QR images, connection events, and query results back to a
// tenant. Delivery failures are logged by callers and never roll back core
// state.
package notify

import (
	"context"
	"log/slog"

	"github.com/avelichko/walink/internal/domain"
)

// Notifier delivers messages to a tenant on the chat-bot surface.
type Notifier interface {
	// Text sends a plain text message.
	Text(ctx context.Context, tenant domain.TenantID, msg string) error

	// Image sends an inline image with an optional caption.
	Image(ctx context.Context, tenant domain.TenantID, caption string, png []byte) error

	// Document sends a file attachment.
	Document(ctx context.Context, tenant domain.TenantID, name string, data []byte) error
}

// SlogNotifier logs notifications instead of delivering them. Used when no
// bot surface is configured, mirroring how the server degrades when an
// optional collaborator is absent.
type SlogNotifier struct{}

// Text logs the message.
func (SlogNotifier) Text(_ context.Context, tenant domain.TenantID, msg string) error {
	slog.Info("notify (no bot surface configured)", "tenant_id", tenant, "message", msg)
	return nil
}

// Image logs the image metadata.
func (SlogNotifier) Image(_ context.Context, tenant domain.TenantID, caption string, png []byte) error {
	slog.Info("notify image (no bot surface configured)", "tenant_id", tenant, "caption", caption, "bytes", len(png))
	return nil
}

// Document logs the document metadata.
func (SlogNotifier) Document(_ context.Context, tenant domain.TenantID, name string, data []byte) error {
	slog.Info("notify document (no bot surface configured)", "tenant_id", tenant, "name", name, "bytes", len(data))
	return nil
}
