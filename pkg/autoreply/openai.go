package autoreply

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkoukk/tiktoken-go"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

const (
	// historyLimit is how many recent messages are considered before token budgeting.
	historyLimit = 50

	// tokensPerMessage approximates the chat format overhead of one message.
	tokensPerMessage = 4

	fallbackEncoding = "cl100k_base"
)

// ErrNoAPIKey is returned when no API key is configured for the generator.
var ErrNoAPIKey = errors.New("no API key configured for automated replies")

// CredentialSource supplies the API key and base URL. It is read on every generation so
// refreshed credentials apply without a restart.
type CredentialSource interface {
	Credentials() (apiKey, baseURL string)
}

// HistorySource returns the recent messages of a conversation, oldest first.
type HistorySource interface {
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error)
}

// OpenAIGenerator generates replies with an OpenAI-compatible chat completion API.
type OpenAIGenerator struct {
	creds   CredentialSource
	history HistorySource
	log     *logging.Logger

	mu       sync.Mutex
	counters map[string]func(string) int
}

// NewOpenAIGenerator creates a generator.
func NewOpenAIGenerator(creds CredentialSource, history HistorySource, log *logging.Logger) *OpenAIGenerator {
	if log == nil {
		log = logging.Nop()
	}
	return &OpenAIGenerator{creds: creds, history: history, log: log, counters: make(map[string]func(string) int)}
}

// Generate builds the prompt from the system prompt and as much conversation history as fits
// cfg.MaxContextTokens, then asks the model for a reply.
func (g *OpenAIGenerator) Generate(ctx context.Context, cfg types.AIConfig, conv *types.Conversation, msg *types.Message) (string, error) {
	apiKey, baseURL := g.creds.Credentials()
	if apiKey == "" {
		return "", ErrNoAPIKey
	}

	history, err := g.history.RecentMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	if n := len(history); n == 0 || history[n-1].ID != msg.ID {
		history = append(history, *msg)
	}

	count := g.counter(cfg.Model)
	history = fitHistory(history, cfg.MaxContextTokens-count(cfg.SystemPrompt)-tokensPerMessage, count)

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(cfg.Model),
		Messages: chatMessages(cfg.SystemPrompt, history),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return stripReasoning(resp.Choices[0].Message.Content), nil
}

// counter returns a token counter for model, falling back to a length estimate when no
// encoding can be loaded.
func (g *OpenAIGenerator) counter(model string) func(string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.counters[model]; ok {
		return c
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	var c func(string) int
	if err != nil {
		g.log.Warnf("tokenizer unavailable, estimating token counts: %v", err)
		c = estimateTokens
	} else {
		c = func(s string) int { return len(enc.Encode(s, nil, nil)) }
	}
	g.counters[model] = c
	return c
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// fitHistory keeps the newest messages whose total token count fits budget. The newest
// message is always kept. A non-positive budget keeps only the newest message.
func fitHistory(history []types.Message, budget int, count func(string) int) []types.Message {
	if len(history) == 0 {
		return history
	}
	start := len(history) - 1
	used := count(history[start].Body) + tokensPerMessage
	for start > 0 {
		cost := count(history[start-1].Body) + tokensPerMessage
		if used+cost > budget {
			break
		}
		used += cost
		start--
	}
	return history[start:]
}

func chatMessages(systemPrompt string, history []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		if m.Direction == types.DirectionOut {
			out = append(out, openai.AssistantMessage(m.Body))
		} else {
			out = append(out, openai.UserMessage(m.Body))
		}
	}
	return out
}
