package ollama_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/llm/ollama"
)

func TestChat_StreamsNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		fmt.Fprintln(w, `{"message":{"content":"Escape "},"done":false}`)
		fmt.Fprintln(w, `garbage`)
		fmt.Fprintln(w, `{"message":{"content":"output."},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"eval_count":3}`)
	}))
	defer srv.Close()

	var tokens []string
	full, err := ollama.NewProvider(srv.URL, "").Chat(context.Background(), llm.SinglePrompt("xss?"), llm.ChatOptions{},
		&llm.Callbacks{OnToken: func(s string) { tokens = append(tokens, s) }})

	require.NoError(t, err)
	assert.Equal(t, "Escape output.", full)
	assert.Equal(t, []string{"Escape ", "output."}, tokens)
}

func TestChat_NoHost(t *testing.T) {
	_, err := ollama.NewProvider("", "").Analyze(context.Background(), "x")
	assert.True(t, llm.IsCredentialError(err))
}
