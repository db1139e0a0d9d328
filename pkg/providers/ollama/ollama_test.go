package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/sidenote/pkg/providers"
)

type fakeServer struct {
	models  []string
	chunks  []string
	status  int
	request api.ChatRequest
}

func (f *fakeServer) start(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{"models": []map[string]string{}}
		models := []map[string]string{}
		for _, m := range f.models {
			models = append(models, map[string]string{"name": m, "model": m})
		}
		resp["models"] = models
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.request))
		w.Header().Set("Content-Type", "application/x-ndjson")
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = fmt.Fprintln(w, `{}`)
			return
		}
		for _, c := range f.chunks {
			b, _ := json.Marshal(map[string]interface{}{
				"model":   f.request.Model,
				"message": map[string]string{"role": "assistant", "content": c},
				"done":    false,
			})
			_, _ = fmt.Fprintln(w, string(b))
		}
		_, _ = fmt.Fprintln(w, `{"model":"x","message":{"role":"assistant","content":""},"done":true}`)
	})
	return httptest.NewServer(mux)
}

func recvAll(t *testing.T, s *providers.Stream) ([]string, error) {
	var ret []string
	for {
		v, err := s.Recv()
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return ret, err
		}
		ret = append(ret, v)
	}
}

func TestPickModel(t *testing.T) {
	m, ok := PickModel([]string{"codellama:7b", "mistral:latest", "llama3.1:8b"})
	require.True(t, ok)
	assert.Equal(t, "llama3.1:8b", m)

	m, ok = PickModel([]string{"codellama:7b"})
	require.True(t, ok)
	assert.Equal(t, "codellama:7b", m)

	_, ok = PickModel(nil)
	assert.False(t, ok)
}

func TestGenerateDiscoversModelAndStreams(t *testing.T) {
	f := &fakeServer{models: []string{"phi3:mini", "llama3.2:latest"}, chunks: []string{"Hi", " there"}}
	server := f.start(t)
	defer server.Close()

	a, err := New("", providers.Settings{BaseURL: server.URL})
	require.NoError(t, err)
	s, err := a.Generate(context.Background(), providers.Request{
		History: []providers.Turn{{Role: providers.RoleAssistant, Text: "earlier"}},
		Text:    "hello",
	})
	require.NoError(t, err)

	got, err := recvAll(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "Hi there"}, got)

	assert.Equal(t, "llama3.2:latest", f.request.Model)
	require.Len(t, f.request.Messages, 3)
	assert.Equal(t, "system", f.request.Messages[0].Role)
	assert.Equal(t, "assistant", f.request.Messages[1].Role)
	assert.Equal(t, "hello", f.request.Messages[2].Content)
}

func TestGenerateWithoutModels(t *testing.T) {
	f := &fakeServer{}
	server := f.start(t)
	defer server.Close()

	a, err := New("", providers.Settings{BaseURL: server.URL})
	require.NoError(t, err)
	s, err := a.Generate(context.Background(), providers.Request{Text: "hello"})
	require.NoError(t, err)
	_, err = s.Collect()
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.ErrorKindModel))
	assert.Equal(t, noModelsMessage, err.Error())
}

func TestGenerateImageUsesVisionModel(t *testing.T) {
	f := &fakeServer{chunks: []string{"a dog"}}
	server := f.start(t)
	defer server.Close()

	a, err := New("", providers.Settings{BaseURL: server.URL})
	require.NoError(t, err)
	s, err := a.Generate(context.Background(), providers.Request{
		Image: &providers.Image{MimeType: "image/png", Data: []byte("png")},
	})
	require.NoError(t, err)
	v, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, "a dog", v)

	assert.Equal(t, VisionModel, f.request.Model)
	require.Len(t, f.request.Messages, 1)
	assert.Equal(t, providers.ImageOnlyPrompt, f.request.Messages[0].Content)
	require.Len(t, f.request.Messages[0].Images, 1)
	assert.Equal(t, []byte("png"), []byte(f.request.Messages[0].Images[0]))
}

func TestGenerateStatusError(t *testing.T) {
	f := &fakeServer{status: http.StatusNotFound}
	server := f.start(t)
	defer server.Close()

	a, err := New("missing", providers.Settings{BaseURL: server.URL})
	require.NoError(t, err)
	s, err := a.Generate(context.Background(), providers.Request{Text: "hello"})
	require.NoError(t, err)
	_, err = s.Collect()
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.ErrorKindModel), "got %v", err)
}

func TestGenerateUnreachable(t *testing.T) {
	a, err := New("llama3.2", providers.Settings{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	s, err := a.Generate(context.Background(), providers.Request{Text: "hello"})
	require.NoError(t, err)
	_, err = s.Collect()
	require.Error(t, err)
	assert.True(t, providers.IsKind(err, providers.ErrorKindNetwork), "got %v", err)
}
