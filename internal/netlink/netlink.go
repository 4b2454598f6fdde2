// Package netlink defines the boundary to the external messaging-network
// connection library. The core drives connections only through these
// interfaces; the whatsmeow-backed implementation lives in the meow
// subpackage and test fakes implement the same contract.
package netlink

import (
	"context"

	"github.com/avelichko/walink/internal/domain"
)

// Phase is the coarse transport phase reported by the connection handle.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseOpen
	PhaseClose
)

// DisconnectCode classifies why a connection closed.
type DisconnectCode int

const (
	CodeNone DisconnectCode = iota
	// CodeLoggedOut means the remote explicitly revoked the link. Sessions
	// closed with this code must not be retried.
	CodeLoggedOut
	CodeConnectionLost
	CodeRestartRequired
	CodeStreamReplaced
	CodeUnknown
)

// LoggedOut reports whether the code belongs to the fatal "logged out"
// class.
func (c DisconnectCode) LoggedOut() bool {
	return c == CodeLoggedOut
}

// String returns the code name used in logs.
func (c DisconnectCode) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeLoggedOut:
		return "logged_out"
	case CodeConnectionLost:
		return "connection_lost"
	case CodeRestartRequired:
		return "restart_required"
	case CodeStreamReplaced:
		return "stream_replaced"
	default:
		return "unknown"
	}
}

// Event is a notification emitted by a connection handle. Concrete types:
// ConnectionUpdate, CredentialsChanged.
type Event interface {
	isEvent()
}

// ConnectionUpdate reports a transport phase change. QRToken carries the
// current rotating auth token while the handle is unauthenticated; tokens
// expire and each emission supersedes the previous one. Code is meaningful
// only for PhaseClose.
type ConnectionUpdate struct {
	Phase   Phase
	Code    DisconnectCode
	QRToken string
}

func (ConnectionUpdate) isEvent() {}

// CredentialsChanged reports a credential rotation. The payload must be
// persisted before the consumer processes any further event; losing a
// rotation can corrupt the link permanently.
type CredentialsChanged struct {
	State domain.CredentialState
}

func (CredentialsChanged) isEvent() {}

// Conn is one tenant's handle onto the messaging network. A handle is
// exclusively owned by its session and must not be shared across tenants.
type Conn interface {
	// Events returns the handle's event stream. The channel is closed when
	// the handle is terminated.
	Events() <-chan Event

	// RequestPairingCode asks the network for a short linking code to be
	// entered on the external device. phone must be digits only, country
	// code included.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// QueryExistence reports whether the address is registered on the
	// network.
	QueryExistence(ctx context.Context, addr string) (bool, error)

	// LookupDisplayName fetches the public display name for an address.
	LookupDisplayName(ctx context.Context, addr string) (string, error)

	// LookupAvatarURL fetches the profile-picture URL for an address.
	LookupAvatarURL(ctx context.Context, addr string) (string, error)

	// SendText delivers a plain text message to an address.
	SendText(ctx context.Context, addr string, text string) error

	// Logout unlinks the device remotely. The handle becomes unusable.
	Logout(ctx context.Context) error

	// Terminate releases the handle without touching the remote link.
	Terminate()
}

// Dialer constructs connection handles. creds is nil when the tenant has no
// stored credential material; implementations must reload the latest
// persisted state when reconstructing a handle for a returning tenant.
type Dialer interface {
	Dial(ctx context.Context, tenant domain.TenantID, creds *domain.CredentialState) (Conn, error)
}
