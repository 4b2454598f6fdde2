package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avelichko/walink/internal/credstore"
	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
	"github.com/avelichko/walink/internal/notify"
)

// QRRenderer turns a rotating auth token into a PNG image for delivery to
// the tenant.
type QRRenderer func(token string) ([]byte, error)

// SupervisorConfig tunes reconnection behavior.
type SupervisorConfig struct {
	// ReconnectBackoff is the fixed delay before a reconnect attempt.
	ReconnectBackoff time.Duration
	// MaxRetries caps consecutive reconnect attempts. Zero or negative
	// means retry indefinitely.
	MaxRetries int
}

// Supervisor drives one session's connection state machine. It owns the
// dial/redial cycle, classifies disconnects, persists credential rotations
// write-through, and guarantees at most one outstanding reconnect timer.
type Supervisor struct {
	sess     *Session
	dialer   netlink.Dialer
	creds    credstore.Store
	notifier notify.Notifier
	bus      *Bus
	renderQR QRRenderer
	cfg      SupervisorConfig

	// onGone is called when the session reaches a terminal state (logged
	// out, or retries exhausted) so the registry can drop the record.
	onGone func(domain.TenantID)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	conn       netlink.Conn
	retryTimer *time.Timer
	retries    int
	stopped    bool
}

func newSupervisor(sess *Session, dialer netlink.Dialer, creds credstore.Store,
	notifier notify.Notifier, bus *Bus, renderQR QRRenderer, cfg SupervisorConfig,
	onGone func(domain.TenantID)) *Supervisor {

	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 4 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		sess:     sess,
		dialer:   dialer,
		creds:    creds,
		notifier: notifier,
		bus:      bus,
		renderQR: renderQR,
		cfg:      cfg,
		onGone:   onGone,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start dials the initial connection handle and begins consuming its
// events. creds is the tenant's stored credential state, nil for a brand
// new tenant.
func (sup *Supervisor) Start(ctx context.Context, creds *domain.CredentialState) error {
	conn, err := sup.dialer.Dial(ctx, sup.sess.tenant, creds)
	if err != nil {
		return fmt.Errorf("dial connection for %s: %w", sup.sess.tenant, err)
	}

	sup.mu.Lock()
	sup.conn = conn
	sup.mu.Unlock()

	sup.sess.attach(conn)
	sup.publish(netlink.CodeNone)
	go sup.loop(conn)

	slog.Info("session supervisor started", "tenant_id", sup.sess.tenant)
	return nil
}

// Stop tears the supervisor down. When logout is true the remote link is
// revoked first. Credential erasure is the caller's responsibility.
func (sup *Supervisor) Stop(ctx context.Context, logout bool) {
	sup.mu.Lock()
	if sup.stopped {
		sup.mu.Unlock()
		return
	}
	sup.stopped = true
	sup.cancelRetryLocked()
	conn := sup.conn
	sup.conn = nil
	sup.mu.Unlock()

	sup.cancel()

	if conn != nil {
		if logout {
			if err := conn.Logout(ctx); err != nil {
				slog.Warn("remote logout failed", "tenant_id", sup.sess.tenant, "error", err)
			}
		}
		conn.Terminate()
	}
}

// loop consumes events from one connection handle until its channel
// closes. A redial starts a fresh loop on the new handle.
func (sup *Supervisor) loop(conn netlink.Conn) {
	for ev := range conn.Events() {
		switch e := ev.(type) {
		case netlink.CredentialsChanged:
			sup.persistCredentials(e.State)
		case netlink.ConnectionUpdate:
			sup.handleUpdate(conn, e)
		}
	}
}

// persistCredentials writes a rotation through to durable storage before
// any further event is processed. Losing a rotation can corrupt the link
// permanently, so failures are retried once before being surfaced.
func (sup *Supervisor) persistCredentials(state domain.CredentialState) {
	state.TenantID = sup.sess.tenant
	err := sup.creds.Save(sup.ctx, &state)
	if err != nil {
		err = sup.creds.Save(sup.ctx, &state)
	}
	if err != nil {
		slog.Error("failed to persist credential rotation",
			"tenant_id", sup.sess.tenant, "error", err)
		return
	}
	slog.Debug("credentials persisted", "tenant_id", sup.sess.tenant, "registered", state.Registered)
}

func (sup *Supervisor) handleUpdate(conn netlink.Conn, ev netlink.ConnectionUpdate) {
	if ev.QRToken != "" && ev.Phase != netlink.PhaseClose {
		sup.forwardQRToken(ev.QRToken)
	}

	switch ev.Phase {
	case netlink.PhaseConnecting:
		slog.Debug("connection handshake in progress", "tenant_id", sup.sess.tenant)
	case netlink.PhaseOpen:
		sup.handleOpen(conn)
	case netlink.PhaseClose:
		sup.handleClose(ev.Code)
	}
}

// handleOpen moves the session to connected and cancels any pending
// reconnect so a superseding success never races a retry dial.
func (sup *Supervisor) handleOpen(conn netlink.Conn) {
	sup.mu.Lock()
	sup.cancelRetryLocked()
	sup.retries = 0
	sup.conn = conn
	sup.mu.Unlock()

	sup.sess.connect(conn)
	sup.publish(netlink.CodeNone)

	slog.Info("session connected", "tenant_id", sup.sess.tenant)
	if err := sup.notifier.Text(sup.ctx, sup.sess.tenant, "WhatsApp linked successfully."); err != nil {
		slog.Warn("connect notification failed", "tenant_id", sup.sess.tenant, "error", err)
	}
}

func (sup *Supervisor) handleClose(code netlink.DisconnectCode) {
	sup.mu.Lock()
	if sup.stopped {
		sup.mu.Unlock()
		return
	}
	sup.mu.Unlock()

	slog.Info("connection closed", "tenant_id", sup.sess.tenant, "code", code.String())

	if code.LoggedOut() {
		sup.terminate(code)
		return
	}

	// The handle is kept around: some transports reopen it on their own,
	// which must cancel the pending reconnect. The redial releases it.
	sup.sess.transition(domain.StateDisconnected)
	sup.publish(code)

	sup.mu.Lock()
	if sup.cfg.MaxRetries > 0 && sup.retries >= sup.cfg.MaxRetries {
		sup.mu.Unlock()
		slog.Warn("reconnect attempts exhausted",
			"tenant_id", sup.sess.tenant, "retries", sup.cfg.MaxRetries)
		sup.giveUp()
		return
	}
	sup.retries++
	attempt := sup.retries
	sup.scheduleRetryLocked()
	sup.mu.Unlock()

	slog.Info("reconnect scheduled",
		"tenant_id", sup.sess.tenant,
		"backoff", sup.cfg.ReconnectBackoff,
		"attempt", attempt)
	if err := sup.notifier.Text(sup.ctx, sup.sess.tenant, "Connection lost, reconnecting..."); err != nil {
		slog.Warn("disconnect notification failed", "tenant_id", sup.sess.tenant, "error", err)
	}
}

// terminate handles the fatal logged-out class: erase credentials exactly
// once, drop the session from the registry, and tell the tenant to
// re-link. Never retried.
func (sup *Supervisor) terminate(code netlink.DisconnectCode) {
	sup.mu.Lock()
	if sup.stopped {
		sup.mu.Unlock()
		return
	}
	sup.stopped = true
	sup.cancelRetryLocked()
	conn := sup.conn
	sup.conn = nil
	sup.mu.Unlock()

	sup.sess.transition(domain.StateLoggedOut)
	sup.publish(code)

	if conn != nil {
		conn.Terminate()
	}
	if err := sup.creds.Erase(sup.ctx, sup.sess.tenant); err != nil {
		slog.Error("failed to erase credentials after logout",
			"tenant_id", sup.sess.tenant, "error", err)
	}

	if sup.onGone != nil {
		sup.onGone(sup.sess.tenant)
	}

	slog.Info("session logged out", "tenant_id", sup.sess.tenant, "code", code.String())
	if err := sup.notifier.Text(sup.ctx, sup.sess.tenant,
		"WhatsApp logged out. Link again to continue."); err != nil {
		slog.Warn("logout notification failed", "tenant_id", sup.sess.tenant, "error", err)
	}
	sup.cancel()
}

// giveUp stops retrying after the configured cap. Credentials are kept so
// an explicit re-login can resume the link without re-pairing.
func (sup *Supervisor) giveUp() {
	sup.mu.Lock()
	sup.stopped = true
	sup.cancelRetryLocked()
	conn := sup.conn
	sup.conn = nil
	sup.mu.Unlock()

	if conn != nil {
		conn.Terminate()
	}

	if sup.onGone != nil {
		sup.onGone(sup.sess.tenant)
	}
	if err := sup.notifier.Text(sup.ctx, sup.sess.tenant,
		"Connection could not be restored. Send /login or /qr to retry."); err != nil {
		slog.Warn("give-up notification failed", "tenant_id", sup.sess.tenant, "error", err)
	}
	sup.cancel()
}

// scheduleRetryLocked arms the reconnect timer. Exactly one timer may be
// outstanding; an existing one is cancelled first. Caller holds sup.mu.
func (sup *Supervisor) scheduleRetryLocked() {
	sup.cancelRetryLocked()
	sup.retryTimer = time.AfterFunc(sup.cfg.ReconnectBackoff, sup.redial)
}

// cancelRetryLocked stops a pending reconnect timer. Caller holds sup.mu.
func (sup *Supervisor) cancelRetryLocked() {
	if sup.retryTimer != nil {
		sup.retryTimer.Stop()
		sup.retryTimer = nil
	}
}

// redial runs when the reconnect timer fires. It reloads the latest
// persisted credentials and constructs a fresh handle with the same tenant
// identity.
func (sup *Supervisor) redial() {
	sup.mu.Lock()
	if sup.stopped {
		sup.mu.Unlock()
		return
	}
	sup.retryTimer = nil
	if sup.sess.State() == domain.StateConnected {
		// A success event won the race with the timer.
		sup.mu.Unlock()
		return
	}
	old := sup.conn
	sup.conn = nil
	sup.mu.Unlock()

	if old != nil {
		old.Terminate()
	}

	sup.sess.transition(domain.StateInitializing)
	sup.publish(netlink.CodeNone)

	creds, err := sup.creds.Load(sup.ctx, sup.sess.tenant)
	if err != nil {
		slog.Error("failed to load credentials for reconnect",
			"tenant_id", sup.sess.tenant, "error", err)
	}

	conn, err := sup.dialer.Dial(sup.ctx, sup.sess.tenant, creds)
	if err != nil {
		slog.Error("reconnect dial failed", "tenant_id", sup.sess.tenant, "error", err)
		sup.sess.transition(domain.StateDisconnected)
		sup.publish(netlink.CodeConnectionLost)

		sup.mu.Lock()
		if !sup.stopped {
			if sup.cfg.MaxRetries > 0 && sup.retries >= sup.cfg.MaxRetries {
				sup.mu.Unlock()
				sup.giveUp()
				return
			}
			sup.retries++
			sup.scheduleRetryLocked()
		}
		sup.mu.Unlock()
		return
	}

	sup.mu.Lock()
	if sup.stopped {
		sup.mu.Unlock()
		conn.Terminate()
		return
	}
	sup.conn = conn
	sup.mu.Unlock()

	sup.sess.attach(conn)
	sup.publish(netlink.CodeNone)
	go sup.loop(conn)

	slog.Info("reconnect dialed", "tenant_id", sup.sess.tenant)
}

// forwardQRToken renders and delivers a rotating auth token. Each emission
// supersedes the previous one; tokens expire within a minute, so every
// rotation is forwarded, not just the first.
func (sup *Supervisor) forwardQRToken(token string) {
	if !sup.sess.qrForwardingEnabled() || sup.renderQR == nil {
		return
	}
	png, err := sup.renderQR(token)
	if err != nil {
		slog.Warn("failed to render QR token", "tenant_id", sup.sess.tenant, "error", err)
		return
	}
	if err := sup.notifier.Image(sup.ctx, sup.sess.tenant,
		"Scan this QR code in WhatsApp > Linked Devices.", png); err != nil {
		slog.Warn("QR notification failed", "tenant_id", sup.sess.tenant, "error", err)
	}
}

func (sup *Supervisor) publish(code netlink.DisconnectCode) {
	if sup.bus == nil {
		return
	}
	sup.bus.Publish(StateChange{
		TenantID: sup.sess.tenant,
		State:    sup.sess.State().String(),
		Code:     code,
	})
}
