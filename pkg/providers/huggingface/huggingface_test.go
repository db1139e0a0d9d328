package huggingface

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/sidenote/pkg/providers"
)

type wireRequest struct {
	Model     string  `json:"model"`
	Stream    bool    `json:"stream"`
	MaxTokens int     `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, content string, got *wireRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		b, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}]}`, b)
	}))
}

func snapshots(t *testing.T, s *providers.Stream) []string {
	var ret []string
	for {
		v, err := s.Recv()
		if err == io.EOF {
			return ret
		}
		require.NoError(t, err)
		ret = append(ret, v)
	}
}

func TestGenerateSimulatesWordStream(t *testing.T) {
	got := &wireRequest{}
	server := completionServer(t, "The answer is 42", got)
	defer server.Close()

	a := New("hf_test", "", providers.Settings{BaseURL: server.URL + "/v1"})
	s, err := a.Generate(context.Background(), providers.Request{
		Text:  "question",
		Image: &providers.Image{MimeType: "image/png", Data: []byte{1}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"The", "The answer", "The answer is", "The answer is 42"}, snapshots(t, s))
	assert.Equal(t, DefaultModel, got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 2048, got.MaxTokens)
	last := got.Messages[len(got.Messages)-1]
	assert.Equal(t, "question", last.Content)
}

func TestGenerateEmptyContentYieldsSentinel(t *testing.T) {
	server := completionServer(t, "", nil)
	defer server.Close()

	a := New("hf_test", "", providers.Settings{BaseURL: server.URL + "/v1"})
	s, err := a.Generate(context.Background(), providers.Request{Text: "q"})
	require.NoError(t, err)
	v, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, providers.EmptyResponseSentinel, v)
}

func TestExplainTruncatesContext(t *testing.T) {
	got := &wireRequest{}
	server := completionServer(t, "short", got)
	defer server.Close()

	long := ""
	for i := 0; i < 400; i++ {
		long += "x"
	}
	a := New("hf_test", "", providers.Settings{BaseURL: server.URL + "/v1"})
	v, err := a.Explain(context.Background(), "sel", long)
	require.NoError(t, err)
	assert.Equal(t, "short", v)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, explainSystemPrompt, got.Messages[0].Content)
	assert.Contains(t, got.Messages[1].Content, `"sel"`)
	assert.Contains(t, got.Messages[1].Content, `Context: "`+long[:300]+`"`)
}

func TestGenerateAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"message":"Invalid credentials"}}`)
	}))
	defer server.Close()

	a := New("bad", "", providers.Settings{BaseURL: server.URL + "/v1"})
	s, err := a.Generate(context.Background(), providers.Request{Text: "q"})
	require.NoError(t, err)
	_, err = s.Collect()
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.ErrorKindAuth))
}
