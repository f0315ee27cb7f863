package types

import "time"

// RateLimit bounds automated replies per conversation.
type RateLimit struct {
	MaxReplies int           `json:"maxReplies" yaml:"max_replies"`
	Per        time.Duration `json:"per" yaml:"per"`
}

// AIConfig drives automated replies. It is read on every decision and never mutated by the engine.
type AIConfig struct {
	Enabled          bool      `json:"enabled"`
	TriggerRules     []string  `json:"triggerRules"`
	RateLimit        RateLimit `json:"rateLimit"`
	Model            string    `json:"model"`
	SystemPrompt     string    `json:"systemPrompt"`
	MaxContextTokens int       `json:"maxContextTokens"`
}
