package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeDialer, *fakeCredStore, *fakeNotifier) {
	t.Helper()
	dialer := &fakeDialer{}
	creds := newFakeCredStore()
	notifier := &fakeNotifier{}
	reg := NewRegistry(dialer, creds, notifier, NewBus(), nil, SupervisorConfig{
		ReconnectBackoff: 40 * time.Millisecond,
	})
	t.Cleanup(func() { reg.Close(context.Background()) })
	return reg, dialer, creds, notifier
}

func TestGetOrCreateConcurrentSingleHandle(t *testing.T) {
	reg, dialer, _, _ := newTestRegistry(t)
	tenant := domain.TenantID("100")

	const callers = 16
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.GetOrCreate(context.Background(), tenant)
			require.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), dialer.dials.Load(), "exactly one connection handle constructed")
	for i := 1; i < callers; i++ {
		assert.Same(t, sessions[0], sessions[i], "all callers share the same session")
	}
}

func TestGetOrCreateIdempotentWhenConnected(t *testing.T) {
	reg, dialer, _, _ := newTestRegistry(t)
	tenant := domain.TenantID("100")

	s1, err := reg.GetOrCreate(context.Background(), tenant)
	require.NoError(t, err)

	dialer.conn(0).emit(netlink.ConnectionUpdate{Phase: netlink.PhaseOpen})
	require.Eventually(t, func() bool {
		return s1.State() == domain.StateConnected
	}, time.Second, 5*time.Millisecond)

	s2, err := reg.GetOrCreate(context.Background(), tenant)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, int64(1), dialer.dials.Load(), "no second handle for a connected tenant")
	assert.Equal(t, 0, dialer.conn(0).pairingCallCount(), "no pairing request on re-entry")
}

func TestGetOrCreateIsolatesTenants(t *testing.T) {
	reg, dialer, _, _ := newTestRegistry(t)

	a, err := reg.GetOrCreate(context.Background(), domain.TenantID("1"))
	require.NoError(t, err)
	b, err := reg.GetOrCreate(context.Background(), domain.TenantID("2"))
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, int64(2), dialer.dials.Load())
}

func TestRemoveErasesCredentialsAndStopsSession(t *testing.T) {
	reg, dialer, creds, _ := newTestRegistry(t)
	tenant := domain.TenantID("100")

	_, err := reg.GetOrCreate(context.Background(), tenant)
	require.NoError(t, err)

	require.NoError(t, reg.Remove(context.Background(), tenant, true))

	assert.Nil(t, reg.Get(tenant))
	assert.Equal(t, 1, creds.eraseCount())
	assert.Equal(t, 1, dialer.conn(0).logoutCallCount(), "remote logout requested")

	// Second removal has nothing left, live or stored.
	err = reg.Remove(context.Background(), tenant, false)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestListSnapshotsLiveSessions(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	_, err := reg.GetOrCreate(context.Background(), domain.TenantID("1"))
	require.NoError(t, err)
	_, err = reg.GetOrCreate(context.Background(), domain.TenantID("2"))
	require.NoError(t, err)

	infos := reg.List()
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, domain.StateAwaitingAuth, info.State)
		assert.False(t, info.CreatedAt.IsZero())
	}
}
