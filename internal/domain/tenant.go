// Package domain contains core domain types for the walink service.
package domain

import (
	"time"
)

// TenantID identifies one end-user of the bot. Each tenant owns an
// independent WhatsApp session; the value doubles as the Telegram chat id
// when the Telegram gateway is enabled.
type TenantID string

// ConnectionState is the lifecycle state of a tenant's connection.
type ConnectionState int

const (
	// StateInitializing means the connection handle is being constructed.
	StateInitializing ConnectionState = iota
	// StateAwaitingAuth means the handle is up but the device is not linked yet.
	StateAwaitingAuth
	// StateConnected means the handle can serve queries.
	StateConnected
	// StateDisconnected means the transport dropped and a reconnect may be pending.
	StateDisconnected
	// StateLoggedOut is terminal: the remote revoked the link and the session
	// has been torn down.
	StateLoggedOut
)

// String returns the state name used in logs and the admin API.
func (s ConnectionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// SessionInfo is a read-only session summary for the admin surface.
// It never carries credential material.
type SessionInfo struct {
	TenantID       TenantID        `json:"tenant_id"`
	State          ConnectionState `json:"-"`
	StateName      string          `json:"state"`
	HasPairingCode bool            `json:"has_pairing_code"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ContactInfo is the result of a single contact lookup. Name and AvatarURL
// are best-effort and nil when the corresponding lookup failed or the
// remote withheld the data.
type ContactInfo struct {
	Exists    bool    `json:"exists"`
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// CredentialState is the durable authentication state for one tenant. The
// payload is opaque to the core; Registered mirrors whether the underlying
// device has completed linking, which gates pairing-code requests.
type CredentialState struct {
	TenantID   TenantID
	Registered bool
	DeviceJID  string
	Payload    []byte
	UpdatedAt  time.Time
}
