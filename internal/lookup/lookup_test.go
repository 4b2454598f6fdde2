package lookup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
	"github.com/avelichko/walink/internal/session"
)

// scriptConn serves lookup calls from a per-address script and counts them.
type scriptConn struct {
	events chan netlink.Event

	mu          sync.Mutex
	closed      bool
	exists      map[string]bool
	names       map[string]string
	existsErr   error
	delays      map[string]time.Duration
	existsCalls int
	nameCalls   int
	avatarCalls int
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		events: make(chan netlink.Event, 16),
		exists: make(map[string]bool),
		names:  make(map[string]string),
		delays: make(map[string]time.Duration),
	}
}

func (c *scriptConn) Events() <-chan netlink.Event { return c.events }

func (c *scriptConn) RequestPairingCode(context.Context, string) (string, error) {
	return "", errors.New("not scripted")
}

func (c *scriptConn) QueryExistence(_ context.Context, addr string) (bool, error) {
	c.mu.Lock()
	c.existsCalls++
	ok := c.exists[addr]
	err := c.existsErr
	delay := c.delays[addr]
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (c *scriptConn) LookupDisplayName(_ context.Context, addr string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nameCalls++
	return c.names[addr], nil
}

func (c *scriptConn) LookupAvatarURL(_ context.Context, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.avatarCalls++
	return "https://cdn.example/avatar.jpg", nil
}

func (c *scriptConn) SendText(context.Context, string, string) error { return nil }
func (c *scriptConn) Logout(context.Context) error                   { return nil }

func (c *scriptConn) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

func (c *scriptConn) counts() (exists, name, avatar int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existsCalls, c.nameCalls, c.avatarCalls
}

type scriptDialer struct {
	conn *scriptConn
}

func (d *scriptDialer) Dial(context.Context, domain.TenantID, *domain.CredentialState) (netlink.Conn, error) {
	return d.conn, nil
}

type nopCredStore struct{}

func (nopCredStore) Load(context.Context, domain.TenantID) (*domain.CredentialState, error) {
	return nil, nil
}
func (nopCredStore) Save(context.Context, *domain.CredentialState) error { return nil }
func (nopCredStore) Erase(context.Context, domain.TenantID) error        { return nil }
func (nopCredStore) Ping(context.Context) error                          { return nil }
func (nopCredStore) Close() error                                        { return nil }

func (c *scriptConn) script(addr string, exists bool, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exists[addr] = exists
	if name != "" {
		c.names[addr] = name
	}
}

type nopNotifier struct{}

func (nopNotifier) Text(context.Context, domain.TenantID, string) error { return nil }
func (nopNotifier) Image(context.Context, domain.TenantID, string, []byte) error {
	return nil
}
func (nopNotifier) Document(context.Context, domain.TenantID, string, []byte) error {
	return nil
}

// connectedSession spins up a registry around conn and waits for the link.
func connectedSession(t *testing.T, conn *scriptConn) *session.Session {
	t.Helper()
	reg := session.NewRegistry(&scriptDialer{conn: conn}, nopCredStore{}, nopNotifier{},
		session.NewBus(), nil, session.SupervisorConfig{ReconnectBackoff: time.Minute})
	t.Cleanup(func() { reg.Close(context.Background()) })

	sess, err := reg.GetOrCreate(context.Background(), "100")
	require.NoError(t, err)
	conn.events <- netlink.ConnectionUpdate{Phase: netlink.PhaseOpen}
	require.Eventually(t, func() bool {
		return sess.State() == domain.StateConnected
	}, time.Second, 5*time.Millisecond)
	return sess
}
