// Package session implements the multi-tenant connection lifecycle core:
// the per-tenant session record, the connection supervisor state machine,
// the session registry, and the auth flow.
package session

import (
	"sync"
	"time"

	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
)

// Session is one tenant's live session record. It exclusively owns its
// connection handle. State is mutated only by the supervisor's event
// handling; readers always observe fully applied transitions.
type Session struct {
	tenant    domain.TenantID
	createdAt time.Time

	mu          sync.Mutex
	state       domain.ConnectionState
	conn        netlink.Conn
	pairingCode string
	qrForward   bool
}

func newSession(tenant domain.TenantID) *Session {
	return &Session{
		tenant:    tenant,
		createdAt: time.Now(),
		state:     domain.StateInitializing,
	}
}

// TenantID returns the owning tenant.
func (s *Session) TenantID() domain.TenantID {
	return s.tenant
}

// State returns the current connection state.
func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conn returns the connection handle, or nil while none is attached.
func (s *Session) Conn() netlink.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// PairingCode returns the pending pairing code, empty when none is pending.
func (s *Session) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingCode
}

// Info returns a summary safe to expose on the admin surface. It never
// includes credential material or the pairing code itself.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionInfo{
		TenantID:       s.tenant,
		State:          s.state,
		StateName:      s.state.String(),
		HasPairingCode: s.pairingCode != "",
		CreatedAt:      s.createdAt,
	}
}

func (s *Session) setPairingCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairingCode = code
}

// enableQRForwarding makes the supervisor forward rotating auth tokens to
// the tenant as they arrive.
func (s *Session) enableQRForwarding() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qrForward = true
}

func (s *Session) qrForwardingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qrForward
}

// attach binds a new connection handle and moves the session into the
// awaiting-auth state. Called by the supervisor on (re)dial.
func (s *Session) attach(conn netlink.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.state = domain.StateAwaitingAuth
}

// connect binds the handle that just reported open and moves the session
// to connected, dropping any pending pairing code.
func (s *Session) connect(conn netlink.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.state = domain.StateConnected
	s.pairingCode = ""
}

// transition applies a state change. The record is updated before any
// observer is notified, so no caller can read a partially applied
// transition.
func (s *Session) transition(state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if state == domain.StateLoggedOut || state == domain.StateDisconnected {
		// Handle cannot serve queries until an open or redial rebinds one.
		s.conn = nil
	}
}
