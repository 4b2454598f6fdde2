package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avelichko/walink/internal/address"
	"github.com/avelichko/walink/internal/credstore"
	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/notify"
)

// pairingWarmup gives a freshly dialed handle time to finish its transport
// handshake before a pairing code is requested; asking too early fails on
// the remote side.
const pairingWarmup = 1500 * time.Millisecond

// AuthFlow links a not-yet-authenticated session, either with a numeric
// pairing code or by forwarding rotating QR tokens. The two modes are
// mutually exclusive per attempt.
type AuthFlow struct {
	registry *Registry
	creds    credstore.Store
	notifier notify.Notifier
	warmup   time.Duration
}

// NewAuthFlow creates an auth flow over the registry.
func NewAuthFlow(registry *Registry, creds credstore.Store, notifier notify.Notifier) *AuthFlow {
	return &AuthFlow{
		registry: registry,
		creds:    creds,
		notifier: notifier,
		warmup:   pairingWarmup,
	}
}

// RequestPairingCode validates the destination phone, ensures a session
// exists, and issues exactly one pairing-code request for this attempt.
// Requesting a code for a session that is already connected, or whose
// stored credentials are already registered, is a no-op reported as
// domain.ErrAlreadyLinked.
func (a *AuthFlow) RequestPairingCode(ctx context.Context, tenant domain.TenantID, rawPhone string) (string, error) {
	phone, err := address.NormalizePhone(rawPhone)
	if err != nil {
		return "", err
	}

	sess, err := a.registry.GetOrCreate(ctx, tenant)
	if err != nil {
		return "", err
	}

	if sess.State() == domain.StateConnected {
		return "", domain.ErrAlreadyLinked
	}
	if creds, err := a.creds.Load(ctx, tenant); err == nil && creds != nil && creds.Registered {
		return "", domain.ErrAlreadyLinked
	}

	conn := sess.Conn()
	if conn == nil {
		return "", domain.ErrNotConnected
	}

	if err := sleepCtx(ctx, a.warmup); err != nil {
		return "", err
	}

	code, err := conn.RequestPairingCode(ctx, address.Digits(phone))
	if err != nil {
		return "", fmt.Errorf("request pairing code: %w", err)
	}

	sess.setPairingCode(code)
	slog.Info("pairing code issued", "tenant_id", tenant)

	msg := fmt.Sprintf("Pairing code: %s\n\nWhatsApp > Linked Devices > Link with phone number.", code)
	if err := a.notifier.Text(ctx, tenant, msg); err != nil {
		slog.Warn("pairing-code notification failed", "tenant_id", tenant, "error", err)
	}
	return code, nil
}

// RequestQR ensures a session exists and turns on rotating-token
// forwarding: every token the handle emits from now on is rendered and
// delivered to the tenant until the link completes.
func (a *AuthFlow) RequestQR(ctx context.Context, tenant domain.TenantID) error {
	sess, err := a.registry.GetOrCreate(ctx, tenant)
	if err != nil {
		return err
	}
	if sess.State() == domain.StateConnected {
		return domain.ErrAlreadyLinked
	}

	sess.enableQRForwarding()
	slog.Info("QR forwarding enabled", "tenant_id", tenant)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
