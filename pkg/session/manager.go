package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// Options configures the session lifecycle timeouts.
type Options struct {
	// StartupTimeout bounds Launching: no restored session and no pairing payload within it moves to Failed.
	StartupTimeout time.Duration

	// QRTTL is the freshness window of a pairing payload.
	QRTTL time.Duration

	// PairingTimeout bounds RequestNewPairing.
	PairingTimeout time.Duration

	// InitializeWait is how long Initialize waits for Launching to settle before returning.
	InitializeWait time.Duration

	Retry RetryPolicy
}

// DefaultOptions returns the lifecycle defaults.
func DefaultOptions() Options {
	return Options{
		StartupTimeout: 60 * time.Second,
		QRTTL:          DefaultQRTTL,
		PairingTimeout: 30 * time.Second,
		InitializeWait: 15 * time.Second,
		Retry:          DefaultRetryPolicy(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = d.StartupTimeout
	}
	if o.QRTTL <= 0 {
		o.QRTTL = d.QRTTL
	}
	if o.PairingTimeout <= 0 {
		o.PairingTimeout = d.PairingTimeout
	}
	if o.InitializeWait <= 0 {
		o.InitializeWait = d.InitializeWait
	}
	if o.Retry == (RetryPolicy{}) {
		o.Retry = d.Retry
	}
	return o
}

var transitions = map[types.SessionState][]types.SessionState{
	types.StateUninitialized:   {types.StateLaunching},
	types.StateLaunching:       {types.StateAwaitingPairing, types.StateConnected, types.StateFailed},
	types.StateAwaitingPairing: {types.StateConnected},
	types.StateConnected:       {types.StateReconnecting},
	types.StateReconnecting:    {types.StateConnected, types.StateAwaitingPairing, types.StateFailed},
	types.StateFailed:          {types.StateLaunching},
	types.StateTerminated:      {types.StateUninitialized},
}

// CanTransition reports whether the state machine allows moving from one state to another.
// Every state may move to Terminated.
func CanTransition(from, to types.SessionState) bool {
	if to == types.StateTerminated {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// Manager owns the single automated session. All transitions are serialized under one lock;
// backend callbacks are consumed in arrival order by one dispatch goroutine per launch.
//
// Listeners registered with OnStatus and OnPairing run while the lock is held and must not
// block or call mutating Manager methods. OnInbound and OnAck listeners run on the dispatch
// goroutine, outside the lock.
type Manager struct {
	backend  Backend
	resolver Resolver
	opts     Options
	log      *logging.Logger
	now      func() time.Time

	qr    *QRBroker
	retry *RetryController

	mu                   sync.Mutex
	state                types.SessionState
	lastConnectedAt      *time.Time
	lastDisconnectReason string
	retryCount           int
	startupErr           error
	generation           uint64
	runCancel            context.CancelFunc
	startupTimer         *time.Timer
	changed              chan struct{}

	snapshot atomic.Pointer[types.SessionStatus]

	statusListeners    []func(types.SessionStatus)
	pairingListeners   []func(types.Pairing)
	inboundListeners   []func(types.InboundMessage)
	ackListeners       []func(types.Ack)
	terminateListeners []func()
}

// NewManager creates a manager in the Uninitialized state.
func NewManager(backend Backend, resolver Resolver, opts Options, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	opts = opts.withDefaults()

	m := &Manager{
		backend:  backend,
		resolver: resolver,
		opts:     opts,
		log:      log,
		now:      time.Now,
		qr:       NewQRBroker(opts.QRTTL),
		state:    types.StateUninitialized,
		changed:  make(chan struct{}),
	}
	m.retry = NewRetryController(opts.Retry, m.resume, RetryHooks{
		OnAttemptFailed:   m.onAttemptFailed,
		OnExhausted:       m.onRetryExhausted,
		OnResumed:         m.onResumed,
		OnPairingRequired: m.onResumePairingRequired,
	})
	m.publishLocked()
	return m
}

// OnStatus registers a listener for every status change.
func (m *Manager) OnStatus(fn func(types.SessionStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusListeners = append(m.statusListeners, fn)
}

// OnPairing registers a listener for newly issued pairing payloads.
func (m *Manager) OnPairing(fn func(types.Pairing)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairingListeners = append(m.pairingListeners, fn)
}

// OnInbound registers a listener for raw inbound messages.
func (m *Manager) OnInbound(fn func(types.InboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inboundListeners = append(m.inboundListeners, fn)
}

// OnAck registers a listener for delivery acknowledgments.
func (m *Manager) OnAck(fn func(types.Ack)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackListeners = append(m.ackListeners, fn)
}

// OnTerminate registers a listener called after Shutdown moves to Terminated.
func (m *Manager) OnTerminate(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateListeners = append(m.terminateListeners, fn)
}

// Status returns the last published snapshot. It never blocks.
func (m *Manager) Status() types.SessionStatus {
	st := *m.snapshot.Load()
	now := m.now()
	st.LastCheckedAt = now
	if st.QRExpiresAt != nil {
		st.QRStale = !now.Before(*st.QRExpiresAt)
	}
	return st
}

// State returns the current state without taking the lock.
func (m *Manager) State() types.SessionState {
	return m.snapshot.Load().State
}

// Initialize launches the session. In an active state it returns the current state without
// side effects. From Failed it clears the failure and relaunches; from Terminated it starts over
// from Uninitialized. It waits up to InitializeWait for Launching to settle.
func (m *Manager) Initialize(ctx context.Context) (types.SessionState, error) {
	m.mu.Lock()
	if m.state.IsActive() {
		state := m.state
		m.mu.Unlock()
		return state, nil
	}

	relaunch := m.state == types.StateFailed || m.state == types.StateTerminated
	if m.state == types.StateTerminated {
		_ = m.transitionLocked(types.StateUninitialized)
	}
	if m.state == types.StateFailed {
		m.retry.Reset()
		m.retryCount = 0
		m.lastDisconnectReason = ""
	}
	m.startupErr = nil
	m.generation++
	gen := m.generation
	if m.runCancel != nil {
		m.runCancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.runCancel = cancel
	_ = m.transitionLocked(types.StateLaunching)
	m.mu.Unlock()

	if relaunch {
		m.closeBackend()
	}

	opts, err := m.resolver.Resolve()
	if err != nil {
		return m.failLaunch(gen, err)
	}
	events, err := m.backend.Launch(runCtx, opts)
	if err != nil {
		return m.failLaunch(gen, err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		m.closeBackend()
		return types.StateTerminated, types.ErrSessionTerminated
	}
	if m.state == types.StateLaunching {
		m.startupTimer = time.AfterFunc(m.opts.StartupTimeout, func() { m.startupExpired(gen) })
	}
	m.mu.Unlock()

	m.log.Infof("browser launched: headless=%t containerized=%t", opts.Headless, opts.Containerized)
	go m.dispatch(runCtx, gen, events)

	return m.awaitSettled(ctx, gen)
}

func (m *Manager) awaitSettled(ctx context.Context, gen uint64) (types.SessionState, error) {
	wait := time.NewTimer(m.opts.InitializeWait)
	defer wait.Stop()

	for {
		m.mu.Lock()
		if m.generation != gen {
			state := m.state
			m.mu.Unlock()
			return state, types.ErrSessionTerminated
		}
		if m.state != types.StateLaunching {
			state, cause := m.state, m.startupErr
			m.mu.Unlock()
			if state == types.StateFailed && cause != nil {
				return state, &types.LaunchError{Cause: cause}
			}
			return state, nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-wait.C:
			return m.State(), nil
		case <-ctx.Done():
			return m.State(), ctx.Err()
		}
	}
}

func (m *Manager) failLaunch(gen uint64, err error) (types.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen {
		return m.state, types.ErrSessionTerminated
	}
	m.log.Errorf("launch failed: %v", err)
	m.startupErr = err
	m.lastDisconnectReason = err.Error()
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	_ = m.transitionLocked(types.StateFailed)
	return types.StateFailed, &types.LaunchError{Cause: err}
}

func (m *Manager) startupExpired(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state != types.StateLaunching {
		return
	}
	m.startupErr = fmt.Errorf("no restored session and no pairing payload within %s", m.opts.StartupTimeout)
	m.lastDisconnectReason = m.startupErr.Error()
	m.log.Warnf("startup timed out after %s", m.opts.StartupTimeout)
	_ = m.transitionLocked(types.StateFailed)
}

// RequestNewPairing discards the current pairing payload and waits for the backend to issue
// a new one. Valid only while AwaitingPairing or Reconnecting.
func (m *Manager) RequestNewPairing(ctx context.Context) (types.Pairing, error) {
	m.mu.Lock()
	state := m.state
	gen := m.generation
	m.mu.Unlock()

	if state != types.StateAwaitingPairing && state != types.StateReconnecting {
		return types.Pairing{}, &types.InvalidStateError{Op: "requestNewPairing", State: state}
	}

	trigger := func(ctx context.Context) error {
		m.refresh(gen)
		return m.backend.RequestPairing(ctx)
	}
	p, err := m.qr.Regenerate(ctx, trigger, m.opts.PairingTimeout)
	m.refresh(gen)
	if err != nil {
		m.log.Warnf("pairing regeneration failed: %v", err)
		return types.Pairing{}, err
	}
	return p, nil
}

// Shutdown moves to Terminated from any state, cancelling the reconnection schedule and any
// pending pairing wait. The browser is released best-effort; a failure to close is logged only.
// Shutting down an already terminated session does nothing.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == types.StateTerminated {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	m.stopStartupTimerLocked()
	m.retry.Reset()
	m.qr.Abort()
	m.qr.Clear()
	m.lastConnectedAt = nil
	m.retryCount = 0
	m.startupErr = nil
	m.lastDisconnectReason = "shutdown"
	_ = m.transitionLocked(types.StateTerminated)
	listeners := slices.Clone(m.terminateListeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}

	done := make(chan error, 1)
	go func() { done <- m.backend.Close() }()
	select {
	case err := <-done:
		if err != nil {
			m.log.Warnf("browser did not close cleanly: %v", err)
		}
	case <-ctx.Done():
		m.log.Warnf("browser close still running: %v", ctx.Err())
	}
	m.log.Infof("session terminated")
	return nil
}

// Deliver issues one outbound message against the session.
func (m *Manager) Deliver(ctx context.Context, msg types.OutboundMessage) error {
	if m.State() != types.StateConnected {
		return types.ErrNotConnected
	}
	return m.backend.Send(ctx, msg)
}

// ListChats returns the backend's conversation list.
func (m *Manager) ListChats(ctx context.Context) ([]types.ChatSummary, error) {
	if m.State() != types.StateConnected {
		return nil, types.ErrNotConnected
	}
	return m.backend.ListChats(ctx)
}

func (m *Manager) dispatch(ctx context.Context, gen uint64, events <-chan types.BackendEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				m.backendExited(gen)
				return
			}
			m.handle(gen, ev)
		}
	}
}

func (m *Manager) handle(gen uint64, ev types.BackendEvent) {
	switch ev.Kind {
	case types.BackendInbound:
		if ev.Inbound == nil {
			return
		}
		for _, fn := range listenersFor(m, gen, func() []func(types.InboundMessage) { return m.inboundListeners }) {
			fn(*ev.Inbound)
		}
		return
	case types.BackendAck:
		if ev.Ack == nil {
			return
		}
		for _, fn := range listenersFor(m, gen, func() []func(types.Ack) { return m.ackListeners }) {
			fn(*ev.Ack)
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}

	switch ev.Kind {
	case types.BackendPairingPayload:
		m.onPairingPayloadLocked(ev.Payload)
	case types.BackendAuthenticated:
		m.onAuthenticatedLocked(ev.Payload)
	case types.BackendDisconnected:
		m.onDisconnectedLocked(ev.Reason)
	case types.BackendPairingRequired:
		m.onPairingRequiredLocked(ev.Reason)
	case types.BackendStartupFailed:
		if m.state != types.StateLaunching {
			m.log.Warnf("ignoring startup failure while %s: %s", m.state, ev.Reason)
			return
		}
		m.startupErr = errors.New(ev.Reason)
		m.lastDisconnectReason = ev.Reason
		_ = m.transitionLocked(types.StateFailed)
	default:
		m.log.Debugf("ignoring backend event %q", ev.Kind)
	}
}

func listenersFor[T any](m *Manager, gen uint64, pick func() []T) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return nil
	}
	return slices.Clone(pick())
}

func (m *Manager) onPairingPayloadLocked(payload string) {
	switch m.state {
	case types.StateLaunching, types.StateAwaitingPairing, types.StateReconnecting:
	default:
		m.log.Debugf("ignoring pairing payload while %s", m.state)
		return
	}
	if payload == "" {
		return
	}

	p := m.qr.Issue(payload)
	m.retry.Stop()
	if m.state == types.StateAwaitingPairing {
		m.publishLocked()
	} else {
		_ = m.transitionLocked(types.StateAwaitingPairing)
	}
	m.log.Infof("pairing payload issued: seq=%d expires=%s", p.Seq, p.ExpiresAt.Format(time.RFC3339))
	for _, fn := range m.pairingListeners {
		fn(p)
	}
}

func (m *Manager) onAuthenticatedLocked(ref string) {
	switch m.state {
	case types.StateAwaitingPairing:
		if ref != "" && !m.qr.Matches(ref) {
			m.log.Warnf("rejected authentication for superseded pairing payload")
			return
		}
	case types.StateLaunching:
		m.log.Infof("restored previous session")
	case types.StateReconnecting:
	default:
		m.log.Debugf("ignoring authentication while %s", m.state)
		return
	}
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	now := m.now()
	m.qr.Clear()
	m.lastConnectedAt = &now
	m.retryCount = 0
	m.retry.Reset()
	_ = m.transitionLocked(types.StateConnected)
}

func (m *Manager) onDisconnectedLocked(reason string) {
	switch m.state {
	case types.StateConnected:
		m.lastDisconnectReason = reason
		_ = m.transitionLocked(types.StateReconnecting)
		m.retry.Start()
	case types.StateLaunching:
		m.startupErr = fmt.Errorf("disconnected during startup: %s", reason)
		m.lastDisconnectReason = reason
		_ = m.transitionLocked(types.StateFailed)
	default:
		m.log.Debugf("ignoring disconnect while %s: %s", m.state, reason)
	}
}

func (m *Manager) onPairingRequiredLocked(reason string) {
	switch m.state {
	case types.StateConnected:
		m.lastDisconnectReason = reason
		_ = m.transitionLocked(types.StateReconnecting)
		fallthrough
	case types.StateReconnecting, types.StateLaunching:
		m.retry.Stop()
		m.qr.Clear()
		_ = m.transitionLocked(types.StateAwaitingPairing)
	default:
		m.log.Debugf("ignoring pairing request while %s", m.state)
	}
}

// backendExited handles the event channel closing while the launch is still current.
func (m *Manager) backendExited(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}

	m.log.Warnf("browser process exited while %s", m.state)
	switch m.state {
	case types.StateLaunching:
		m.startupErr = errors.New("browser exited during startup")
		m.lastDisconnectReason = m.startupErr.Error()
		_ = m.transitionLocked(types.StateFailed)
	case types.StateConnected:
		m.lastDisconnectReason = "browser exited"
		_ = m.transitionLocked(types.StateReconnecting)
		m.retry.Start()
	}
}

func (m *Manager) resume(ctx context.Context) error {
	m.log.Infof("attempting session resume")
	return m.backend.Resume(ctx)
}

func (m *Manager) onAttemptFailed(attempts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateReconnecting {
		return
	}
	m.log.Warnf("resume attempt %d failed: %v", attempts, err)
	m.retryCount = attempts
	m.lastDisconnectReason = err.Error()
	m.publishLocked()
}

func (m *Manager) onRetryExhausted(attempts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateReconnecting {
		return
	}
	m.retryCount = attempts
	m.lastDisconnectReason = fmt.Errorf("%w after %d attempts: %v", types.ErrRetryExhausted, attempts, err).Error()
	m.log.Errorf("%s", m.lastDisconnectReason)
	_ = m.transitionLocked(types.StateFailed)
}

func (m *Manager) onResumed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateReconnecting {
		return
	}
	m.log.Infof("session resumed")
	m.connectLocked()
}

func (m *Manager) onResumePairingRequired(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.StateReconnecting {
		return
	}
	m.log.Infof("resume needs a new pairing: %v", err)
	m.qr.Clear()
	_ = m.transitionLocked(types.StateAwaitingPairing)
}

// transitionLocked moves to the target state if allowed and publishes the new snapshot.
func (m *Manager) transitionLocked(to types.SessionState) error {
	from := m.state
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		m.log.Errorf("illegal transition %s -> %s rejected", from, to)
		return &types.InvalidStateError{Op: "transition to " + string(to), State: from}
	}

	if from == types.StateLaunching {
		m.stopStartupTimerLocked()
	}
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})

	m.log.Infof("session %s -> %s", from, to)
	m.publishLocked()
	return nil
}

func (m *Manager) stopStartupTimerLocked() {
	if m.startupTimer != nil {
		m.startupTimer.Stop()
		m.startupTimer = nil
	}
}

// refresh republishes the snapshot if gen is still current.
func (m *Manager) refresh(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation == gen {
		m.publishLocked()
	}
}

func (m *Manager) publishLocked() {
	st := types.SessionStatus{
		State:                m.state,
		LastCheckedAt:        m.now(),
		LastDisconnectReason: m.lastDisconnectReason,
		RetryCount:           m.retryCount,
	}
	if m.lastConnectedAt != nil {
		t := *m.lastConnectedAt
		st.LastConnectedAt = &t
	}
	if p, stale, ok := m.qr.Current(); ok {
		issued, expires := p.IssuedAt, p.ExpiresAt
		st.QRPayload = p.Payload
		st.QRIssuedAt = &issued
		st.QRExpiresAt = &expires
		st.QRStale = stale
	}
	m.snapshot.Store(&st)

	for _, fn := range m.statusListeners {
		fn(st)
	}
}

func (m *Manager) closeBackend() {
	if err := m.backend.Close(); err != nil {
		m.log.Warnf("browser did not close cleanly: %v", err)
	}
}
