package session

import (
	"context"

	"github.com/samikhalifabe/Pandorabox/pkg/browser"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// ErrPairingRequired is returned by Backend.Resume when the stored session is gone
// and a fresh QR pairing is needed.
var ErrPairingRequired = types.ErrPairingRequired

// Backend is the browser automation process. The Manager is its only caller.
//
// Launch starts the process and returns the channel on which every callback is delivered
// in arrival order. The channel is closed when the process ends.
type Backend interface {
	Launch(ctx context.Context, opts browser.LaunchOptions) (<-chan types.BackendEvent, error)
	// Resume tries to restore a dropped session without pairing.
	Resume(ctx context.Context) error
	// RequestPairing asks the web client for a new pairing payload.
	RequestPairing(ctx context.Context) error
	Send(ctx context.Context, msg types.OutboundMessage) error
	ListChats(ctx context.Context) ([]types.ChatSummary, error)
	// Close releases the process. Safe to call more than once.
	Close() error
}

// Resolver produces the launch configuration for the current host.
type Resolver interface {
	Resolve() (browser.LaunchOptions, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func() (browser.LaunchOptions, error)

func (f ResolverFunc) Resolve() (browser.LaunchOptions, error) { return f() }
