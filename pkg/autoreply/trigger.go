package autoreply

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// TriggerMatcher matches message bodies against glob trigger rules, case-insensitively.
type TriggerMatcher struct {
	patterns []glob.Glob
}

// NewTriggerMatcher compiles rules. An empty rule set matches every body.
func NewTriggerMatcher(rules []string) (*TriggerMatcher, error) {
	m := &TriggerMatcher{}
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		g, err := glob.Compile(strings.ToLower(rule))
		if err != nil {
			return nil, fmt.Errorf("invalid trigger rule '%s': %w", rule, err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// Match reports whether body triggers a reply.
func (m *TriggerMatcher) Match(body string) bool {
	if len(m.patterns) == 0 {
		return true
	}
	body = strings.ToLower(strings.TrimSpace(body))
	for _, p := range m.patterns {
		if p.Match(body) {
			return true
		}
	}
	return false
}

// matcherCache recompiles the trigger rules only when they change.
type matcherCache struct {
	mu      sync.Mutex
	ready   bool
	key     string
	matcher *TriggerMatcher
	err     error
}

func (c *matcherCache) get(rules []string) (*TriggerMatcher, error) {
	key := strings.Join(rules, "\x00")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready && c.key == key {
		return c.matcher, c.err
	}
	c.ready, c.key = true, key
	c.matcher, c.err = NewTriggerMatcher(rules)
	return c.matcher, c.err
}
