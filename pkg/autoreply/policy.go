package autoreply

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/samikhalifabe/Pandorabox/pkg/gateway"
	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

const (
	// maxRemembered bounds the set of inbound ids already answered.
	maxRemembered = 4096

	defaultGenerateTimeout = 45 * time.Second
)

// ConfigSource supplies the current AIConfig. It is read on every decision.
type ConfigSource interface {
	AIConfig() types.AIConfig
}

// Generator produces the text of a reply.
type Generator interface {
	Generate(ctx context.Context, cfg types.AIConfig, conv *types.Conversation, msg *types.Message) (string, error)
}

// Sender queues an outbound message.
type Sender interface {
	Send(ctx context.Context, to, body string) (*gateway.Receipt, error)
}

// Reason explains a Decision.
type Reason string

const (
	ReasonReply       Reason = "reply"
	ReasonDisabled    Reason = "disabled"
	ReasonFromMe      Reason = "from_me"
	ReasonNoTrigger   Reason = "no_trigger"
	ReasonBadRules    Reason = "invalid_trigger_rules"
	ReasonDuplicate   Reason = "already_answered"
	ReasonRateLimited Reason = "rate_limited"
)

// Decision is the outcome of evaluating one inbound message.
type Decision struct {
	Reply  bool
	Reason Reason
}

type convLimiter struct {
	limit   types.RateLimit
	limiter *rate.Limiter
}

// Policy is the automated response policy.
type Policy struct {
	source    ConfigSource
	generator Generator
	sender    Sender
	log       *logging.Logger
	now       func() time.Time
	timeout   time.Duration

	triggers matcherCache

	mu       sync.Mutex
	limiters map[string]*convLimiter
	answered map[string]struct{}
	order    []string
}

// New creates a policy. source and sender are required; a nil generator disables replies.
func New(source ConfigSource, generator Generator, sender Sender, log *logging.Logger) *Policy {
	if log == nil {
		log = logging.Nop()
	}
	return &Policy{
		source:    source,
		generator: generator,
		sender:    sender,
		log:       log,
		now:       time.Now,
		timeout:   defaultGenerateTimeout,
		limiters:  make(map[string]*convLimiter),
		answered:  make(map[string]struct{}),
	}
}

// Evaluate decides whether msg gets a reply. A positive decision consumes one slot of the
// conversation's rate limit and marks msg as answered.
func (p *Policy) Evaluate(msg *types.Message, conv *types.Conversation) Decision {
	cfg := p.source.AIConfig()
	switch {
	case !cfg.Enabled || p.generator == nil:
		return Decision{Reason: ReasonDisabled}
	case msg.IsFromMe():
		return Decision{Reason: ReasonFromMe}
	}

	matcher, err := p.triggers.get(cfg.TriggerRules)
	if err != nil {
		p.log.Warnf("automated replies paused: %v", err)
		return Decision{Reason: ReasonBadRules}
	}
	if !matcher.Match(msg.Body) {
		return Decision{Reason: ReasonNoTrigger}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.answered[msg.ID]; ok {
		return Decision{Reason: ReasonDuplicate}
	}
	if !p.limiterLocked(conv.ID, cfg.RateLimit).AllowN(p.now(), 1) {
		return Decision{Reason: ReasonRateLimited}
	}
	p.rememberLocked(msg.ID)
	return Decision{Reply: true, Reason: ReasonReply}
}

func (p *Policy) limiterLocked(convID string, limit types.RateLimit) *rate.Limiter {
	if l, ok := p.limiters[convID]; ok && l.limit == limit {
		return l.limiter
	}
	var lim *rate.Limiter
	if limit.MaxReplies <= 0 || limit.Per <= 0 {
		lim = rate.NewLimiter(rate.Inf, 0)
	} else {
		lim = rate.NewLimiter(rate.Every(limit.Per/time.Duration(limit.MaxReplies)), limit.MaxReplies)
	}
	p.limiters[convID] = &convLimiter{limit: limit, limiter: lim}
	return lim
}

func (p *Policy) rememberLocked(id string) {
	p.answered[id] = struct{}{}
	p.order = append(p.order, id)
	if len(p.order) > maxRemembered {
		delete(p.answered, p.order[0])
		p.order = p.order[1:]
	}
}

// Handle evaluates msg and, when a reply is due, generates and sends it.
func (p *Policy) Handle(ctx context.Context, msg *types.Message, conv *types.Conversation) {
	d := p.Evaluate(msg, conv)
	if !d.Reply {
		p.log.Debugf("no automated reply to %s: %s", msg.ID, d.Reason)
		return
	}

	cfg := p.source.AIConfig()
	gctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.generator.Generate(gctx, cfg, conv, msg)
	if err != nil {
		p.log.Warnf("failed to generate reply to %s: %v", msg.ID, err)
		return
	}
	if text == "" {
		p.log.Debugf("generator returned an empty reply to %s", msg.ID)
		return
	}

	receipt, err := p.sender.Send(ctx, conv.PhoneIdentifier, text)
	if err != nil {
		p.log.Warnf("failed to queue reply to %s: %v", msg.ID, err)
		return
	}
	p.log.Infof("queued automated reply %s to %s", receipt.CorrelationID, conv.PhoneIdentifier)
}
