package session

import (
	"context"
	"sync"
	"time"

	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// DefaultQRTTL is how long a pairing payload is considered fresh.
const DefaultQRTTL = 20 * time.Second

// QRBroker holds at most one pairing payload. Staleness is reported, never acted upon:
// a stale payload stays current until replaced or cleared.
type QRBroker struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	current types.Pairing
	seq     uint64
	epoch   uint64        // bumped by Issue and Clear
	issued  chan struct{} // closed and replaced on every Issue
	aborted chan struct{} // closed and replaced on every Abort
}

// NewQRBroker creates a broker with the given freshness window.
func NewQRBroker(ttl time.Duration) *QRBroker {
	if ttl <= 0 {
		ttl = DefaultQRTTL
	}
	return &QRBroker{
		ttl:     ttl,
		now:     time.Now,
		issued:  make(chan struct{}),
		aborted: make(chan struct{}),
	}
}

// Issue replaces the current payload.
func (b *QRBroker) Issue(payload string) types.Pairing {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.seq++
	b.epoch++
	b.current = types.Pairing{
		Payload:   payload,
		IssuedAt:  now,
		ExpiresAt: now.Add(b.ttl),
		Seq:       b.seq,
	}
	close(b.issued)
	b.issued = make(chan struct{})
	return b.current
}

// Current returns the payload and whether it is stale. ok is false when none is held.
func (b *QRBroker) Current() (p types.Pairing, stale bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current.IsZero() {
		return types.Pairing{}, false, false
	}
	return b.current, b.current.StaleAt(b.now()), true
}

// Matches reports whether ref is the payload currently held.
func (b *QRBroker) Matches(ref string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.current.IsZero() && b.current.Payload == ref
}

// Clear drops the current payload.
func (b *QRBroker) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = types.Pairing{}
	b.epoch++
}

// Abort makes every in-progress Regenerate return ErrSessionTerminated.
func (b *QRBroker) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.aborted)
	b.aborted = make(chan struct{})
}

// Regenerate discards the current payload, calls trigger, and waits up to timeout for the
// next Issue. On timeout the discarded payload is restored and returned if it is still
// unexpired and the broker was not touched meanwhile; otherwise ErrPairingTimeout is returned.
func (b *QRBroker) Regenerate(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (types.Pairing, error) {
	b.mu.Lock()
	previous := b.current
	startSeq := b.seq
	startEpoch := b.epoch
	b.current = types.Pairing{}
	issued := b.issued
	aborted := b.aborted
	b.mu.Unlock()

	if trigger != nil {
		if err := trigger(ctx); err != nil {
			b.restore(previous, startEpoch)
			return types.Pairing{}, err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-issued:
			b.mu.Lock()
			if b.seq > startSeq && !b.current.IsZero() {
				if b.current.Payload != previous.Payload {
					p := b.current
					b.mu.Unlock()
					return p, nil
				}
				// the page is still showing the discarded code
				startSeq, startEpoch = b.seq, b.epoch
			}
			issued = b.issued
			b.mu.Unlock()
		case <-aborted:
			return types.Pairing{}, types.ErrSessionTerminated
		case <-ctx.Done():
			b.restore(previous, startEpoch)
			return types.Pairing{}, ctx.Err()
		case <-timer.C:
			if p, ok := b.restore(previous, startEpoch); ok {
				return p, nil
			}
			return types.Pairing{}, types.ErrPairingTimeout
		}
	}
}

// restore puts previous back when it is unexpired and nothing was issued or cleared since startEpoch.
func (b *QRBroker) restore(previous types.Pairing, startEpoch uint64) (types.Pairing, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if previous.IsZero() || b.epoch != startEpoch || previous.StaleAt(b.now()) {
		return types.Pairing{}, false
	}
	b.current = previous
	return previous, true
}
