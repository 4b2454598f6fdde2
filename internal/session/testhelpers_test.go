package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
)

// fakeConn is a scriptable connection handle. Tests push events through
// emit and observe calls via the counters.
type fakeConn struct {
	events chan netlink.Event

	mu           sync.Mutex
	closed       bool
	pairingCalls int
	pairingCode  string
	logoutCalls  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events:      make(chan netlink.Event, 16),
		pairingCode: "ABCD-EFGH",
	}
}

func (c *fakeConn) emit(ev netlink.Event) {
	c.events <- ev
}

func (c *fakeConn) Events() <-chan netlink.Event { return c.events }

func (c *fakeConn) RequestPairingCode(_ context.Context, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairingCalls++
	return c.pairingCode, nil
}

func (c *fakeConn) QueryExistence(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (c *fakeConn) LookupDisplayName(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (c *fakeConn) LookupAvatarURL(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (c *fakeConn) SendText(_ context.Context, _, _ string) error { return nil }

func (c *fakeConn) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logoutCalls++
	return nil
}

func (c *fakeConn) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

func (c *fakeConn) logoutCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoutCalls
}

func (c *fakeConn) pairingCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairingCalls
}

// fakeDialer hands out fakeConns and counts dials.
type fakeDialer struct {
	dials atomic.Int64

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ domain.TenantID, _ *domain.CredentialState) (netlink.Conn, error) {
	d.dials.Add(1)
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// fakeCredStore is an in-memory credential store with call counters.
type fakeCredStore struct {
	mu     sync.Mutex
	states map[domain.TenantID]*domain.CredentialState
	saves  int
	erases int
}

func newFakeCredStore() *fakeCredStore {
	return &fakeCredStore{states: make(map[domain.TenantID]*domain.CredentialState)}
}

func (f *fakeCredStore) Load(_ context.Context, tenant domain.TenantID) (*domain.CredentialState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.states[tenant]
	if s == nil {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeCredStore) Save(_ context.Context, state *domain.CredentialState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *state
	f.states[state.TenantID] = &cp
	f.saves++
	return nil
}

func (f *fakeCredStore) Erase(_ context.Context, tenant domain.TenantID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, tenant)
	f.erases++
	return nil
}

func (f *fakeCredStore) Ping(_ context.Context) error { return nil }
func (f *fakeCredStore) Close() error                 { return nil }

func (f *fakeCredStore) eraseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.erases
}

func (f *fakeCredStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// fakeNotifier records delivered notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	texts  []string
	images int
}

func (f *fakeNotifier) Text(_ context.Context, _ domain.TenantID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, msg)
	return nil
}

func (f *fakeNotifier) Image(_ context.Context, _ domain.TenantID, _ string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images++
	return nil
}

func (f *fakeNotifier) Document(_ context.Context, _ domain.TenantID, _ string, _ []byte) error {
	return nil
}

func (f *fakeNotifier) imageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images
}
