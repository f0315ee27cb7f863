package autoreply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samikhalifabe/Pandorabox/pkg/store"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

type creds struct{ key, url string }

func (c creds) Credentials() (string, string) { return c.key, c.url }

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestFitHistory(t *testing.T) {
	count := func(s string) int { return len(strings.Fields(s)) }
	history := []types.Message{
		{ID: "1", Body: words(10)},
		{ID: "2", Body: words(10)},
		{ID: "3", Body: words(10)},
	}

	// each message costs 10 + tokensPerMessage
	kept := fitHistory(history, 30, count)
	require.Len(t, kept, 2)
	assert.Equal(t, "2", kept[0].ID)

	assert.Len(t, fitHistory(history, 1000, count), 3)
	assert.Len(t, fitHistory(history, 0, count), 1)
	assert.Empty(t, fitHistory(nil, 100, count))
}

func TestChatMessagesRoles(t *testing.T) {
	msgs := chatMessages("be brief", []types.Message{
		{Direction: types.DirectionIn, Body: "hi"},
		{Direction: types.DirectionOut, Body: "hello"},
	})
	require.Len(t, msgs, 3)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)

	assert.Len(t, chatMessages("", nil), 0)
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	g := NewOpenAIGenerator(creds{}, store.NewMemoryStore(), nil)
	_, err := g.Generate(context.Background(), types.AIConfig{Model: "gpt-4o-mini"}, testConv, inbound("m1", "hi"))
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","created":1,"model":"test-model",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Oui, toujours disponible. "}}]}`))
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	ctx := context.Background()
	prior := types.Message{ID: "m0", ConversationID: testConv.ID, Direction: types.DirectionOut, Body: "Bonjour"}
	require.NoError(t, st.SaveMessage(ctx, &prior))

	g := NewOpenAIGenerator(creds{key: "sk-test", url: srv.URL + "/v1"}, st, nil)
	g.counters["test-model"] = estimateTokens

	reply, err := g.Generate(ctx, types.AIConfig{Model: "test-model", SystemPrompt: "be brief", MaxContextTokens: 500},
		testConv, inbound("m1", "Toujours dispo ?"))
	require.NoError(t, err)
	assert.Equal(t, "Oui, toujours disponible.", reply)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Equal(t, "Toujours dispo ?", got.Messages[2].Content)
}
