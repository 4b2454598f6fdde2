// Package meow implements the netlink contract on top of whatsmeow, the Go
// WhatsApp Web multidevice library. Device credentials live in whatsmeow's
// own sqlstore container; the core's credential store keeps only the
// registered flag and device JID needed to rebind a returning tenant.
package meow

import (
	"context"
	"fmt"
	"sync"

	"github.com/avelichko/walink/internal/address"
	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

const eventBuffer = 64

// Dialer constructs whatsmeow-backed connection handles. All tenants share
// one device-store container; each tenant maps to its own device row.
type Dialer struct {
	container *sqlstore.Container
}

// NewDialer opens the shared device store at dbPath.
func NewDialer(ctx context.Context, dbPath string) (*Dialer, error) {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath),
		newLogAdapter("Database"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return &Dialer{container: container}, nil
}

// Dial builds a handle for the tenant. When creds carry a device JID the
// stored device is rebound; otherwise a blank device is created and the
// handle starts emitting rotating QR tokens until it is linked.
func (d *Dialer) Dial(ctx context.Context, tenant domain.TenantID, creds *domain.CredentialState) (netlink.Conn, error) {
	var device *store.Device

	if creds != nil && creds.DeviceJID != "" {
		jid, err := types.ParseJID(creds.DeviceJID)
		if err != nil {
			return nil, fmt.Errorf("parse stored device jid %q: %w", creds.DeviceJID, err)
		}
		device, err = d.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("load device for %s: %w", tenant, err)
		}
	}
	if device == nil {
		device = d.container.NewDevice()
	}

	client := whatsmeow.NewClient(device, newLogAdapter("Client"))

	c := &conn{
		tenant: tenant,
		client: client,
		events: make(chan netlink.Event, eventBuffer),
	}
	client.AddEventHandler(c.handleEvent)

	// The QR channel must be requested before Connect; it only exists for
	// handles that have not completed pairing yet.
	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err == nil {
			go c.pumpQR(qrChan)
		}
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect handle for %s: %w", tenant, err)
	}

	c.emit(netlink.ConnectionUpdate{Phase: netlink.PhaseConnecting})
	return c, nil
}

// conn is one tenant's whatsmeow handle.
type conn struct {
	tenant domain.TenantID
	client *whatsmeow.Client

	mu     sync.Mutex
	closed bool
	events chan netlink.Event
}

func (c *conn) Events() <-chan netlink.Event {
	return c.events
}

func (c *conn) emit(ev netlink.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		// Consumer stalled; drop rather than block whatsmeow's event loop.
	}
}

func (c *conn) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.emit(netlink.CredentialsChanged{State: domain.CredentialState{
			Registered: true,
			DeviceJID:  v.ID.String(),
		}})
	case *events.Connected:
		if id := c.client.Store.ID; id != nil {
			c.emit(netlink.CredentialsChanged{State: domain.CredentialState{
				Registered: true,
				DeviceJID:  id.String(),
			}})
		}
		c.emit(netlink.ConnectionUpdate{Phase: netlink.PhaseOpen})
	case *events.LoggedOut:
		c.emit(netlink.ConnectionUpdate{Phase: netlink.PhaseClose, Code: netlink.CodeLoggedOut})
	case *events.StreamReplaced:
		c.emit(netlink.ConnectionUpdate{Phase: netlink.PhaseClose, Code: netlink.CodeStreamReplaced})
	case *events.Disconnected:
		c.emit(netlink.ConnectionUpdate{Phase: netlink.PhaseClose, Code: netlink.CodeConnectionLost})
	case *events.ConnectFailure:
		c.emit(netlink.ConnectionUpdate{Phase: netlink.PhaseClose, Code: netlink.CodeUnknown})
	}
}

func (c *conn) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if item.Event == whatsmeow.QRChannelEventCode {
			c.emit(netlink.ConnectionUpdate{Phase: netlink.PhaseConnecting, QRToken: item.Code})
		}
	}
}

func (c *conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	code, err := c.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("pair phone: %w", err)
	}
	return code, nil
}

func (c *conn) QueryExistence(ctx context.Context, addr string) (bool, error) {
	resp, err := c.client.IsOnWhatsApp(ctx, []string{"+" + address.Digits(addr)})
	if err != nil {
		return false, fmt.Errorf("is-on-whatsapp query: %w", err)
	}
	if len(resp) == 0 {
		return false, nil
	}
	return resp[0].IsIn, nil
}

func (c *conn) LookupDisplayName(ctx context.Context, addr string) (string, error) {
	jid := types.NewJID(address.Digits(addr), types.DefaultUserServer)
	infos, err := c.client.GetUserInfo(ctx, []types.JID{jid})
	if err != nil {
		return "", fmt.Errorf("user info query: %w", err)
	}
	info, ok := infos[jid]
	if !ok || info.VerifiedName == nil || info.VerifiedName.Details == nil {
		return "", nil
	}
	return info.VerifiedName.Details.GetVerifiedName(), nil
}

func (c *conn) LookupAvatarURL(ctx context.Context, addr string) (string, error) {
	jid := types.NewJID(address.Digits(addr), types.DefaultUserServer)
	pic, err := c.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{Preview: true})
	if err != nil {
		return "", fmt.Errorf("profile picture query: %w", err)
	}
	if pic == nil {
		return "", nil
	}
	return pic.URL, nil
}

func (c *conn) SendText(ctx context.Context, addr string, text string) error {
	jid := types.NewJID(address.Digits(addr), types.DefaultUserServer)
	_, err := c.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *conn) Logout(ctx context.Context) error {
	if err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *conn) Terminate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.client.RemoveEventHandlers()
	c.client.Disconnect()

	c.mu.Lock()
	close(c.events)
	c.mu.Unlock()
}
