package config

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

const (
	// SectionIDAI is the identifier for the automated reply section
	SectionIDAI = "ai"
)

const (
	defaultAIModel            = "gpt-4o-mini"
	defaultAIMaxReplies       = 3
	defaultAIRatePeriod       = 10 * time.Minute
	defaultAIMaxContextTokens = 2000
	defaultAISystemPrompt     = "You are a courteous assistant answering WhatsApp messages about vehicles for sale. " +
		"Reply briefly in the language of the customer."
)

// AISection manages automated reply settings and the content generator credentials.
type AISection struct {
	Enabled          bool
	TriggerRules     []string
	MaxReplies       int
	RatePeriod       time.Duration
	Model            string
	SystemPrompt     string
	MaxContextTokens int
	APIKey           string
	BaseURL          string
	mu               sync.RWMutex
}

// NewAISection creates a new AI section with default settings.
func NewAISection() *AISection {
	s := &AISection{}
	s.Reset()
	return s
}

func (s *AISection) ID() string    { return SectionIDAI }
func (s *AISection) Title() string { return "Automated Replies" }
func (s *AISection) Description() string {
	return "Enable automated replies, restrict them with glob trigger rules and rate-limit them per conversation."
}

// Data returns the current configuration data.
func (s *AISection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"enabled":            s.Enabled,
		"trigger_rules":      slices.Clone(s.TriggerRules),
		"max_replies":        s.MaxReplies,
		"rate_period":        s.RatePeriod.String(),
		"model":              s.Model,
		"system_prompt":      s.SystemPrompt,
		"max_context_tokens": s.MaxContextTokens,
		"api_key":            s.APIKey,
		"base_url":           s.BaseURL,
	}
}

// SetData updates the configuration from the provided data.
func (s *AISection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok, err := boolValue(data, "enabled"); err != nil {
		return err
	} else if ok {
		s.Enabled = b
	}
	if rules, ok := stringSliceValue(data, "trigger_rules"); ok {
		s.TriggerRules = rules
	}
	if n, ok, err := intValue(data, "max_replies"); err != nil {
		return err
	} else if ok {
		s.MaxReplies = n
	}
	if d, ok, err := durationValue(data, "rate_period"); err != nil {
		return err
	} else if ok {
		s.RatePeriod = d
	}
	if n, ok, err := intValue(data, "max_context_tokens"); err != nil {
		return err
	} else if ok {
		s.MaxContextTokens = n
	}
	if v, ok := stringValue(data, "model"); ok {
		s.Model = v
	}
	if v, ok := stringValue(data, "system_prompt"); ok {
		s.SystemPrompt = v
	}
	if v, ok := stringValue(data, "api_key"); ok {
		s.APIKey = v
	}
	if v, ok := stringValue(data, "base_url"); ok {
		s.BaseURL = v
	}
	return nil
}

// Validate validates the current configuration.
func (s *AISection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.MaxReplies < 0 {
		return errors.New("max_replies must not be negative")
	}
	if s.MaxReplies > 0 && s.RatePeriod <= 0 {
		return errors.New("rate_period must be positive when max_replies is set")
	}
	if s.MaxContextTokens < 0 {
		return errors.New("max_context_tokens must not be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *AISection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enabled = false
	s.TriggerRules = nil
	s.MaxReplies = defaultAIMaxReplies
	s.RatePeriod = defaultAIRatePeriod
	s.Model = defaultAIModel
	s.SystemPrompt = defaultAISystemPrompt
	s.MaxContextTokens = defaultAIMaxContextTokens
	s.APIKey = ""
	s.BaseURL = ""
}

// AIConfig returns the current settings as the shared AIConfig value.
func (s *AISection) AIConfig() types.AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.AIConfig{
		Enabled:      s.Enabled,
		TriggerRules: slices.Clone(s.TriggerRules),
		RateLimit: types.RateLimit{
			MaxReplies: s.MaxReplies,
			Per:        s.RatePeriod,
		},
		Model:            s.Model,
		SystemPrompt:     s.SystemPrompt,
		MaxContextTokens: s.MaxContextTokens,
	}
}

// Credentials returns the API key and base URL for the content generator.
func (s *AISection) Credentials() (apiKey, baseURL string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.APIKey, s.BaseURL
}
