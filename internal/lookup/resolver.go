// Package lookup answers contact queries over a connected session: single
// lookups, text sends, and order-preserving batch dispatch.
package lookup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/session"
)

// Resolver fetches existence, display name, and avatar for an address
// through a connected session.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve looks up an already-normalized address. Usable only while the
// session is connected. Existence is checked first; when the address does
// not exist the name and avatar lookups are skipped entirely. Name and
// avatar are each independently best-effort: a failure in either leaves
// that field nil without failing the call.
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session, addr string) (domain.ContactInfo, error) {
	conn := sess.Conn()
	if sess.State() != domain.StateConnected || conn == nil {
		return domain.ContactInfo{}, domain.ErrNotConnected
	}

	exists, err := conn.QueryExistence(ctx, addr)
	if err != nil {
		return domain.ContactInfo{}, fmt.Errorf("query existence of %s: %w", addr, err)
	}
	if !exists {
		return domain.ContactInfo{Exists: false}, nil
	}

	info := domain.ContactInfo{Exists: true}

	if name, err := conn.LookupDisplayName(ctx, addr); err != nil {
		slog.Debug("display-name lookup failed", "tenant_id", sess.TenantID(), "error", err)
	} else if name != "" {
		info.Name = &name
	}

	if url, err := conn.LookupAvatarURL(ctx, addr); err != nil {
		slog.Debug("avatar lookup failed", "tenant_id", sess.TenantID(), "error", err)
	} else if url != "" {
		info.AvatarURL = &url
	}

	return info, nil
}

// SendText delivers a text message through a connected session.
func (r *Resolver) SendText(ctx context.Context, sess *session.Session, addr string, text string) error {
	conn := sess.Conn()
	if sess.State() != domain.StateConnected || conn == nil {
		return domain.ErrNotConnected
	}
	if err := conn.SendText(ctx, addr, text); err != nil {
		return fmt.Errorf("send text to %s: %w", addr, err)
	}
	return nil
}
