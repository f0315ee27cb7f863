package autoreply

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samikhalifabe/Pandorabox/pkg/gateway"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

type staticConfig struct {
	mu  sync.Mutex
	cfg types.AIConfig
}

func (s *staticConfig) AIConfig() types.AIConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *staticConfig) set(fn func(*types.AIConfig)) {
	s.mu.Lock()
	fn(&s.cfg)
	s.mu.Unlock()
}

type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(context.Context, types.AIConfig, *types.Conversation, *types.Message) (string, error) {
	f.calls++
	return f.reply, f.err
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, body string) (*gateway.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, to+":"+body)
	return &gateway.Receipt{CorrelationID: "c-1"}, nil
}

func enabledConfig() *staticConfig {
	return &staticConfig{cfg: types.AIConfig{
		Enabled:   true,
		RateLimit: types.RateLimit{MaxReplies: 2, Per: time.Minute},
	}}
}

func inbound(id, body string) *types.Message {
	return &types.Message{ID: id, Direction: types.DirectionIn, Body: body}
}

var testConv = &types.Conversation{ID: "conv-1", PhoneIdentifier: "33600000000"}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*types.AIConfig)
		msg    *types.Message
		reason Reason
	}{
		{name: "reply", msg: inbound("m1", "bonjour"), reason: ReasonReply},
		{name: "disabled", setup: func(c *types.AIConfig) { c.Enabled = false }, msg: inbound("m1", "bonjour"), reason: ReasonDisabled},
		{name: "own message", msg: &types.Message{ID: "m1", Direction: types.DirectionOut, Body: "bonjour"}, reason: ReasonFromMe},
		{name: "trigger matches", setup: func(c *types.AIConfig) { c.TriggerRules = []string{"*prix*", "*price*"} }, msg: inbound("m1", "Quel est le PRIX ?"), reason: ReasonReply},
		{name: "trigger misses", setup: func(c *types.AIConfig) { c.TriggerRules = []string{"*prix*"} }, msg: inbound("m1", "merci"), reason: ReasonNoTrigger},
		{name: "invalid rule", setup: func(c *types.AIConfig) { c.TriggerRules = []string{"[unclosed"} }, msg: inbound("m1", "merci"), reason: ReasonBadRules},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := enabledConfig()
			if tt.setup != nil {
				src.set(tt.setup)
			}
			p := New(src, &fakeGenerator{}, &fakeSender{}, nil)
			d := p.Evaluate(tt.msg, testConv)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.reason == ReasonReply, d.Reply)
		})
	}
}

func TestEvaluateOncePerMessage(t *testing.T) {
	p := New(enabledConfig(), &fakeGenerator{}, &fakeSender{}, nil)
	msg := inbound("m1", "hello")

	assert.True(t, p.Evaluate(msg, testConv).Reply)
	d := p.Evaluate(msg, testConv)
	assert.False(t, d.Reply)
	assert.Equal(t, ReasonDuplicate, d.Reason)
}

func TestEvaluateRateLimitPerConversation(t *testing.T) {
	p := New(enabledConfig(), &fakeGenerator{}, &fakeSender{}, nil)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	assert.True(t, p.Evaluate(inbound("m1", "a"), testConv).Reply)
	assert.True(t, p.Evaluate(inbound("m2", "b"), testConv).Reply)
	assert.Equal(t, ReasonRateLimited, p.Evaluate(inbound("m3", "c"), testConv).Reason)

	other := &types.Conversation{ID: "conv-2", PhoneIdentifier: "33611111111"}
	assert.True(t, p.Evaluate(inbound("m4", "d"), other).Reply)

	// one token refills every Per/MaxReplies
	now = now.Add(30 * time.Second)
	assert.True(t, p.Evaluate(inbound("m5", "e"), testConv).Reply)
}

func TestEvaluateRateLimitFollowsConfig(t *testing.T) {
	src := enabledConfig()
	p := New(src, &fakeGenerator{}, &fakeSender{}, nil)

	assert.True(t, p.Evaluate(inbound("m1", "a"), testConv).Reply)
	assert.True(t, p.Evaluate(inbound("m2", "a"), testConv).Reply)
	assert.False(t, p.Evaluate(inbound("m3", "a"), testConv).Reply)

	src.set(func(c *types.AIConfig) { c.RateLimit = types.RateLimit{} })
	for _, id := range []string{"m4", "m5", "m6"} {
		assert.True(t, p.Evaluate(inbound(id, "a"), testConv).Reply)
	}
}

func TestHandleSendsReply(t *testing.T) {
	gen := &fakeGenerator{reply: "Bonjour, le véhicule est disponible."}
	sender := &fakeSender{}
	p := New(enabledConfig(), gen, sender, nil)

	p.Handle(context.Background(), inbound("m1", "dispo ?"), testConv)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "33600000000:Bonjour, le véhicule est disponible.", sender.sent[0])

	// the same message is never answered twice
	p.Handle(context.Background(), inbound("m1", "dispo ?"), testConv)
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, 1, gen.calls)
}

func TestHandleGenerationFailure(t *testing.T) {
	sender := &fakeSender{}
	p := New(enabledConfig(), &fakeGenerator{err: errors.New("upstream 500")}, sender, nil)

	p.Handle(context.Background(), inbound("m1", "hello"), testConv)
	assert.Empty(t, sender.sent)
}

func TestHandleWithoutGenerator(t *testing.T) {
	sender := &fakeSender{}
	p := New(enabledConfig(), nil, sender, nil)

	assert.Equal(t, ReasonDisabled, p.Evaluate(inbound("m1", "hello"), testConv).Reason)
	p.Handle(context.Background(), inbound("m2", "hello"), testConv)
	assert.Empty(t, sender.sent)
}

func TestTriggerMatcher(t *testing.T) {
	m, err := NewTriggerMatcher(nil)
	require.NoError(t, err)
	assert.True(t, m.Match("anything"))

	m, err = NewTriggerMatcher([]string{"  ", "{bonjour,hello}*"})
	require.NoError(t, err)
	assert.True(t, m.Match("Hello there"))
	assert.True(t, m.Match("  bonjour!"))
	assert.False(t, m.Match("salut"))

	_, err = NewTriggerMatcher([]string{"[a-"})
	assert.Error(t, err)
}
