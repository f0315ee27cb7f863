package types

import "time"

// SessionState is the lifecycle state of the automated messaging session.
type SessionState string

const (
	StateUninitialized   SessionState = "uninitialized"    // StateUninitialized is the state before the first initialize call.
	StateLaunching       SessionState = "launching"        // StateLaunching indicates the browser is being started.
	StateAwaitingPairing SessionState = "awaiting_pairing" // StateAwaitingPairing indicates a QR code must be scanned.
	StateConnected       SessionState = "connected"        // StateConnected indicates an authenticated, usable session.
	StateReconnecting    SessionState = "reconnecting"     // StateReconnecting indicates automatic resume is in progress.
	StateTerminated      SessionState = "terminated"       // StateTerminated indicates an explicit shutdown.
	StateFailed          SessionState = "failed"           // StateFailed indicates a fault that needs a manual initialize.
)

// IsActive reports whether the state holds a live browser session.
func (s SessionState) IsActive() bool {
	switch s {
	case StateLaunching, StateAwaitingPairing, StateConnected, StateReconnecting:
		return true
	}
	return false
}

// Pairing is a QR pairing payload with its freshness window.
type Pairing struct {
	Payload   string    `json:"payload"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	// Seq increases with every payload issued during the process lifetime.
	Seq uint64 `json:"seq"`
}

// IsZero reports whether p holds no payload.
func (p Pairing) IsZero() bool {
	return p.Payload == ""
}

// StaleAt reports whether the payload is past its expiry at the given instant.
func (p Pairing) StaleAt(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// SessionStatus is a read-only snapshot of the session.
type SessionStatus struct {
	State                SessionState `json:"state"`
	QRPayload            string       `json:"qrPayload,omitempty"`
	QRIssuedAt           *time.Time   `json:"qrIssuedAt,omitempty"`
	QRExpiresAt          *time.Time   `json:"qrExpiresAt,omitempty"`
	QRStale              bool         `json:"qrStale,omitempty"`
	LastCheckedAt        time.Time    `json:"lastCheckedAt"`
	LastConnectedAt      *time.Time   `json:"lastConnectedAt,omitempty"`
	LastDisconnectReason string       `json:"lastDisconnectReason,omitempty"`
	RetryCount           int          `json:"retryCount"`
}
