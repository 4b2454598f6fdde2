package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/avelichko/walink/internal/credstore"
	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
	"github.com/avelichko/walink/internal/notify"
	"golang.org/x/sync/singleflight"
)

// Registry maps tenant identity to session records. It is the single owner
// of the tenant->session map: only the registry mutates it, and concurrent
// GetOrCreate calls for the same tenant are collapsed so at most one
// connection handle is ever constructed per tenant at a time.
type Registry struct {
	dialer   netlink.Dialer
	creds    credstore.Store
	notifier notify.Notifier
	bus      *Bus
	renderQR QRRenderer
	supCfg   SupervisorConfig

	mu       sync.RWMutex
	sessions map[domain.TenantID]*Session
	sups     map[domain.TenantID]*Supervisor

	group singleflight.Group
}

// NewRegistry creates a session registry.
func NewRegistry(dialer netlink.Dialer, creds credstore.Store, notifier notify.Notifier,
	bus *Bus, renderQR QRRenderer, supCfg SupervisorConfig) *Registry {
	return &Registry{
		dialer:   dialer,
		creds:    creds,
		notifier: notifier,
		bus:      bus,
		renderQR: renderQR,
		supCfg:   supCfg,
		sessions: make(map[domain.TenantID]*Session),
		sups:     make(map[domain.TenantID]*Supervisor),
	}
}

// GetOrCreate returns the tenant's live session, constructing one if
// needed. Safe to call repeatedly and concurrently: a second call while
// construction is pending waits for the first instead of racing it.
func (r *Registry) GetOrCreate(ctx context.Context, tenant domain.TenantID) (*Session, error) {
	if s := r.Get(tenant); s != nil {
		return s, nil
	}

	v, err, _ := r.group.Do(string(tenant), func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have finished
		// construction between our fast path and entering the group.
		if s := r.Get(tenant); s != nil {
			return s, nil
		}

		creds, err := r.creds.Load(ctx, tenant)
		if err != nil {
			return nil, fmt.Errorf("load credentials for %s: %w", tenant, err)
		}

		sess := newSession(tenant)
		sup := newSupervisor(sess, r.dialer, r.creds, r.notifier, r.bus,
			r.renderQR, r.supCfg, r.drop)

		if err := sup.Start(ctx, creds); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.sessions[tenant] = sess
		r.sups[tenant] = sup
		r.mu.Unlock()

		slog.Info("session created", "tenant_id", tenant, "resumed", creds != nil)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Get returns the tenant's live session, or nil when there is none.
func (r *Registry) Get(tenant domain.TenantID) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.sessions[tenant]
	if s == nil || s.State() == domain.StateLoggedOut {
		return nil
	}
	return s
}

// Remove deletes the tenant's session, releases its connection handle, and
// erases credential material. When remoteLogout is true the device is
// unlinked on the network first.
func (r *Registry) Remove(ctx context.Context, tenant domain.TenantID, remoteLogout bool) error {
	r.mu.Lock()
	sup := r.sups[tenant]
	delete(r.sessions, tenant)
	delete(r.sups, tenant)
	r.mu.Unlock()

	if sup != nil {
		sup.Stop(ctx, remoteLogout)
	} else {
		// Nothing live; there may still be stored credentials to clear.
		creds, err := r.creds.Load(ctx, tenant)
		if err != nil {
			return fmt.Errorf("load credentials for %s: %w", tenant, err)
		}
		if creds == nil {
			return fmt.Errorf("remove session for %s: %w", tenant, domain.ErrSessionNotFound)
		}
	}

	if err := r.creds.Erase(ctx, tenant); err != nil {
		return fmt.Errorf("erase credentials for %s: %w", tenant, err)
	}

	slog.Info("session removed", "tenant_id", tenant, "remote_logout", remoteLogout)
	return nil
}

// List returns a snapshot of session summaries for the administrative
// view. The snapshot carries no credential material.
func (r *Registry) List() []domain.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]domain.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Close releases every session's connection handle without touching the
// remote links or stored credentials. Used on server shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	sups := make([]*Supervisor, 0, len(r.sups))
	for _, sup := range r.sups {
		sups = append(sups, sup)
	}
	r.sessions = make(map[domain.TenantID]*Session)
	r.sups = make(map[domain.TenantID]*Supervisor)
	r.mu.Unlock()

	for _, sup := range sups {
		sup.Stop(ctx, false)
	}
}

// drop removes a tenant's record after the supervisor reached a terminal
// state. Credential erasure, when warranted, has already happened in the
// supervisor.
func (r *Registry) drop(tenant domain.TenantID) {
	r.mu.Lock()
	delete(r.sessions, tenant)
	delete(r.sups, tenant)
	r.mu.Unlock()
}
