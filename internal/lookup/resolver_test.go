package lookup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/session"
)

func TestResolveExistingContact(t *testing.T) {
	conn := newScriptConn()
	conn.script("+15550001111", true, "Alice")
	sess := connectedSession(t, conn)

	info, err := NewResolver().Resolve(context.Background(), sess, "+15550001111")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	require.NotNil(t, info.Name)
	assert.Equal(t, "Alice", *info.Name)
	require.NotNil(t, info.AvatarURL)
}

func TestResolveNonexistentSkipsEnrichment(t *testing.T) {
	conn := newScriptConn()
	conn.script("+15550001111", false, "")
	sess := connectedSession(t, conn)

	info, err := NewResolver().Resolve(context.Background(), sess, "+15550001111")
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Nil(t, info.Name)
	assert.Nil(t, info.AvatarURL)

	exists, names, avatars := conn.counts()
	assert.Equal(t, 1, exists)
	assert.Equal(t, 0, names, "no name lookup for a nonexistent address")
	assert.Equal(t, 0, avatars, "no avatar lookup for a nonexistent address")
}

func TestResolveExistenceErrorPropagates(t *testing.T) {
	conn := newScriptConn()
	conn.existsErr = errors.New("boom")
	sess := connectedSession(t, conn)

	_, err := NewResolver().Resolve(context.Background(), sess, "+15550001111")
	require.Error(t, err)

	_, names, avatars := conn.counts()
	assert.Equal(t, 0, names)
	assert.Equal(t, 0, avatars)
}

func TestResolveRequiresConnectedSession(t *testing.T) {
	conn := newScriptConn()
	reg := session.NewRegistry(&scriptDialer{conn: conn}, nopCredStore{}, nopNotifier{},
		session.NewBus(), nil, session.SupervisorConfig{ReconnectBackoff: 0})
	t.Cleanup(func() { reg.Close(context.Background()) })

	// Session dialed but never linked; it is still awaiting auth.
	sess, err := reg.GetOrCreate(context.Background(), "100")
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingAuth, sess.State())

	_, err = NewResolver().Resolve(context.Background(), sess, "+15550001111")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	err = NewResolver().SendText(context.Background(), sess, "+15550001111", "hi")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}
