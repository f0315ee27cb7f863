package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// ErrQueueFull is returned when the outbound queue cannot take another send.
var ErrQueueFull = errors.New("send queue is full")

var errUntrackedChat = errors.New("group and broadcast chats are not tracked")

// Session is the part of the session manager the gateway sends through.
type Session interface {
	State() types.SessionState
	Deliver(ctx context.Context, msg types.OutboundMessage) error
}

// Correlator resolves phone identifiers to conversations.
type Correlator interface {
	Resolve(ctx context.Context, phone, displayName string) (*types.Conversation, *types.LinkedEntity, error)
	RecordActivity(ctx context.Context, conv *types.Conversation, msg *types.Message) error
}

// Publisher fans events out to subscribers. Publish must not block.
type Publisher interface {
	Publish(ev types.Event)
}

// MessageStore records messages once they leave the gateway.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *types.Message) error
	GetMessageByCorrelationID(ctx context.Context, correlationID string) (*types.Message, error)
}

// Responder reacts to inbound messages, typically with an automatic reply.
type Responder interface {
	Handle(ctx context.Context, msg *types.Message, conv *types.Conversation)
}

// Options tunes the gateway.
type Options struct {
	QueueSize     int           // outbound sends waiting for the worker
	InboundBuffer int           // raw inbound messages waiting for normalization
	SendTimeout   time.Duration // bound on a single Deliver call
	AckTimeout    time.Duration // bound on the acknowledgment after Deliver returns
	StoreTimeout  time.Duration // bound on each store write
}

// DefaultOptions returns the gateway defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize:     64,
		InboundBuffer: 256,
		SendTimeout:   30 * time.Second,
		AckTimeout:    30 * time.Second,
		StoreTimeout:  5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.InboundBuffer <= 0 {
		o.InboundBuffer = d.InboundBuffer
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = d.SendTimeout
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = d.AckTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	return o
}

// Receipt is returned by Send. It resolves once with the terminal delivery state.
type Receipt struct {
	CorrelationID string

	done  chan struct{}
	state types.DeliveryState
	err   error
}

func newReceipt(id string) *Receipt {
	return &Receipt{CorrelationID: id, done: make(chan struct{})}
}

func (r *Receipt) resolve(state types.DeliveryState, err error) {
	r.state, r.err = state, err
	close(r.done)
}

// Done is closed when the send reaches a terminal state.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Wait blocks until the send is terminal or ctx ends. A failed send returns its cause:
// ErrSendTimeout when no acknowledgment arrived, ErrSessionTerminated on shutdown.
func (r *Receipt) Wait(ctx context.Context) (types.DeliveryState, error) {
	select {
	case <-r.done:
		return r.state, r.err
	case <-ctx.Done():
		return types.DeliveryQueued, ctx.Err()
	}
}

type pendingSend struct {
	msg     *types.Message
	conv    *types.Conversation
	receipt *Receipt
	timer   *time.Timer
}

// Gateway serializes outbound sends, correlates acknowledgments, and normalizes inbound messages.
// It owns outbound message records until they are terminal, then hands them to the store.
type Gateway struct {
	session    Session
	correlator Correlator
	publisher  Publisher
	store      MessageStore
	opts       Options
	log        *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   map[string]*pendingSend
	closed    bool
	queue     chan *pendingSend
	responder Responder

	inMu    sync.RWMutex
	inbound chan types.InboundMessage

	workers   sync.WaitGroup
	replies   sync.WaitGroup
	closeOnce sync.Once
}

// New creates a gateway and starts its send and inbound workers.
func New(session Session, correlator Correlator, publisher Publisher, store MessageStore, opts Options, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.Nop()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		session:    session,
		correlator: correlator,
		publisher:  publisher,
		store:      store,
		opts:       opts,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]*pendingSend),
		queue:      make(chan *pendingSend, opts.QueueSize),
		inbound:    make(chan types.InboundMessage, opts.InboundBuffer),
	}

	g.workers.Add(2)
	go g.sendLoop()
	go g.inboundLoop(g.inbound)
	return g
}

// SetResponder installs the handler called for every inbound message after it is broadcast.
func (g *Gateway) SetResponder(r Responder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responder = r
}

// Send queues a message to a phone identifier and returns immediately with a receipt.
// It fails with ErrNotConnected, without recording anything, unless the session is connected.
func (g *Gateway) Send(ctx context.Context, to, body string) (*Receipt, error) {
	phone, err := NormalizeIdentifier(to)
	if err != nil {
		return nil, err
	}
	if g.session.State() != types.StateConnected {
		return nil, types.ErrNotConnected
	}

	id := uuid.NewString()
	msg := &types.Message{
		ID:            id,
		Direction:     types.DirectionOut,
		To:            phone,
		Body:          body,
		Timestamp:     time.Now(),
		DeliveryState: types.DeliveryQueued,
		CorrelationID: id,
	}
	p := &pendingSend{msg: msg, receipt: newReceipt(id)}
	if conv, _, err := g.correlator.Resolve(ctx, phone, ""); err != nil {
		g.log.Warnf("no conversation for outbound %s: %v", id, err)
	} else {
		msg.ConversationID = conv.ID
		p.conv = conv
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, types.ErrSessionTerminated
	}
	select {
	case g.queue <- p:
	default:
		return nil, ErrQueueFull
	}
	g.pending[id] = p
	g.log.Debugf("queued outbound %s to %s", id, phone)
	return p.receipt, nil
}

func (g *Gateway) sendLoop() {
	defer g.workers.Done()
	for p := range g.queue {
		g.deliver(p)
	}
}

// deliver runs one send; only this worker calls Session.Deliver.
func (g *Gateway) deliver(p *pendingSend) {
	id := p.receipt.CorrelationID

	g.mu.Lock()
	_, live := g.pending[id]
	msg := *p.msg
	g.mu.Unlock()
	if !live {
		return
	}

	if g.session.State() != types.StateConnected {
		g.finish(id, types.DeliveryFailed, types.ErrNotConnected)
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, g.opts.SendTimeout)
	err := g.session.Deliver(ctx, types.OutboundMessage{CorrelationID: id, ChatID: ChatID(msg.To), Body: msg.Body})
	cancel()
	if err != nil {
		g.log.Warnf("deliver %s failed: %v", id, err)
		g.finish(id, types.DeliveryFailed, fmt.Errorf("deliver: %w", err))
		return
	}

	// an ack may already have landed during Deliver
	g.mu.Lock()
	msg = *p.msg
	_, live = g.pending[id]
	if live {
		p.timer = time.AfterFunc(g.opts.AckTimeout, func() {
			if g.finish(id, types.DeliveryFailed, types.ErrSendTimeout) {
				g.log.Warnf("no acknowledgment for %s after %s", id, g.opts.AckTimeout)
			}
		})
	}
	g.mu.Unlock()

	if p.conv != nil {
		if err := g.correlator.RecordActivity(g.ctx, p.conv, &msg); err != nil {
			g.log.Warnf("failed to record activity for %s: %v", id, err)
		}
	}
	g.publish(types.NewMessageEvent(types.MessageEnvelope{Message: &msg, Conversation: p.conv}))
}

// HandleAck applies a delivery acknowledgment. Acks for unknown or already terminal sends are ignored.
func (g *Gateway) HandleAck(ack types.Ack) {
	if !ack.State.IsTerminal() {
		return
	}
	var err error
	if ack.State == types.DeliveryFailed {
		err = errors.New("delivery failed")
	}
	if !g.finish(ack.CorrelationID, ack.State, err) {
		g.log.Debugf("ignoring ack %s for %s", ack.State, ack.CorrelationID)
	}
}

// FailPending fails every send that has not reached a terminal state.
func (g *Gateway) FailPending(err error) {
	g.mu.Lock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.finish(id, types.DeliveryFailed, err)
	}
	if len(ids) > 0 {
		g.log.Infof("failed %d pending sends: %v", len(ids), err)
	}
}

// finish moves a pending send to a terminal state exactly once and reports whether it did.
func (g *Gateway) finish(id string, state types.DeliveryState, cause error) bool {
	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.msg.DeliveryState = state
	if cause != nil {
		p.msg.Error = cause.Error()
	}
	msg := *p.msg
	g.mu.Unlock()

	p.receipt.resolve(state, cause)

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.StoreTimeout)
	defer cancel()
	if err := g.store.SaveMessage(ctx, &msg); err != nil {
		g.log.Errorf("failed to record message %s: %v", id, err)
	}

	g.publish(types.NewMessageAckEvent(types.DeliveryUpdate{CorrelationID: id, State: state, Error: msg.Error}))
	return true
}

// Lookup returns an in-flight message or, once terminal, the recorded one.
func (g *Gateway) Lookup(ctx context.Context, correlationID string) (*types.Message, error) {
	g.mu.Lock()
	if p, ok := g.pending[correlationID]; ok {
		msg := *p.msg
		g.mu.Unlock()
		return &msg, nil
	}
	g.mu.Unlock()
	return g.store.GetMessageByCorrelationID(ctx, correlationID)
}

// Pending returns the number of sends awaiting a terminal state.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Ingest queues a raw inbound message for ordered processing. It blocks only while the
// inbound buffer is full.
func (g *Gateway) Ingest(raw types.InboundMessage) {
	g.inMu.RLock()
	defer g.inMu.RUnlock()
	if g.inbound == nil {
		return
	}
	select {
	case g.inbound <- raw:
	case <-g.ctx.Done():
	}
}

func (g *Gateway) inboundLoop(in <-chan types.InboundMessage) {
	defer g.workers.Done()
	for raw := range in {
		if _, err := g.HandleInbound(g.ctx, raw); err != nil {
			if errors.Is(err, errUntrackedChat) {
				g.log.Debugf("skipping %s: %v", raw.ChatID, err)
				continue
			}
			g.log.Warnf("inbound %s dropped: %v", raw.ID, err)
		}
	}
}

// HandleInbound normalizes one raw message, resolves its conversation, records and broadcasts it,
// then hands it to the responder. Messages authored on the paired phone are recorded as outbound
// and never reach the responder.
func (g *Gateway) HandleInbound(ctx context.Context, raw types.InboundMessage) (*types.MessageEnvelope, error) {
	partner := raw.ChatID
	if partner == "" {
		partner = raw.From
		if raw.FromMe {
			partner = raw.To
		}
	}
	if !isTrackedChat(partner) {
		return nil, errUntrackedChat
	}
	phone, err := NormalizeIdentifier(partner)
	if err != nil {
		return nil, err
	}

	msg := &types.Message{
		ID:        raw.ID,
		Direction: types.DirectionIn,
		From:      trimChatSuffix(raw.From),
		To:        trimChatSuffix(raw.To),
		Body:      raw.Body,
		Timestamp: raw.Timestamp,
		ChatName:  raw.ChatName,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if raw.FromMe {
		msg.Direction = types.DirectionOut
		msg.DeliveryState = types.DeliverySent
	}

	env := types.MessageEnvelope{Message: msg}
	conv, entity, err := g.correlator.Resolve(ctx, phone, raw.ChatName)
	if err != nil {
		g.log.Warnf("conversation lookup failed for %s: %v", phone, err)
	} else {
		msg.ConversationID = conv.ID
		env.Conversation, env.Entity = conv, entity
		if err := g.correlator.RecordActivity(ctx, conv, msg); err != nil {
			g.log.Warnf("failed to record activity for %s: %v", msg.ID, err)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, g.opts.StoreTimeout)
	if err := g.store.SaveMessage(sctx, msg); err != nil {
		g.log.Errorf("failed to record inbound %s: %v", msg.ID, err)
	}
	cancel()

	g.publish(types.NewMessageEvent(env))

	g.mu.Lock()
	responder := g.responder
	g.mu.Unlock()
	if responder != nil && !raw.FromMe && conv != nil {
		m, c := *msg, *conv
		g.replies.Add(1)
		go func() {
			defer g.replies.Done()
			responder.Handle(g.ctx, &m, &c)
		}()
	}
	return &env, nil
}

func (g *Gateway) publish(ev types.Event) {
	if g.publisher != nil {
		g.publisher.Publish(ev)
	}
}

// Close stops accepting work, fails pending sends with ErrSessionTerminated and waits for the workers.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		close(g.queue)
		g.mu.Unlock()

		g.cancel()
		g.inMu.Lock()
		close(g.inbound)
		g.inbound = nil
		g.inMu.Unlock()

		g.FailPending(types.ErrSessionTerminated)
		g.workers.Wait()
		g.replies.Wait()
	})
}

func trimChatSuffix(id string) string {
	return strings.TrimSuffix(strings.TrimSuffix(id, userSuffix), legacySuffix)
}
