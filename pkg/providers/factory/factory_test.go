package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/providers"
	"github.com/go-go-golems/sidenote/pkg/providers/gemini"
	"github.com/go-go-golems/sidenote/pkg/providers/huggingface"
	"github.com/go-go-golems/sidenote/pkg/providers/ollama"
	"github.com/go-go-golems/sidenote/pkg/providers/openai"
)

func TestCreateAdapterPerKind(t *testing.T) {
	f := NewStandardAdapterFactory(providers.Settings{}, nil)

	a, err := f.CreateAdapter(credentials.Credential{Kind: credentials.KindOpenAI, Secret: "sk", Model: "gpt-4o"})
	require.NoError(t, err)
	oa, ok := a.(*openai.Adapter)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", oa.Model())

	a, err = f.CreateAdapter(credentials.Credential{Kind: credentials.KindGemini, Secret: "g"})
	require.NoError(t, err)
	assert.IsType(t, &gemini.Adapter{}, a)

	a, err = f.CreateAdapter(credentials.Credential{Kind: credentials.KindHuggingFace, Secret: "hf"})
	require.NoError(t, err)
	assert.IsType(t, &huggingface.Adapter{}, a)

	a, err = f.CreateAdapter(credentials.Credential{Kind: credentials.KindOllama})
	require.NoError(t, err)
	assert.IsType(t, &ollama.Adapter{}, a)

	_, err = f.CreateAdapter(credentials.Credential{Kind: "claude"})
	assert.Error(t, err)

	assert.Equal(t, []string{"gemini", "huggingface", "ollama", "openai"}, f.SupportedProviders())
}

func TestCreateAdapterInvalidOllamaHost(t *testing.T) {
	f := NewStandardAdapterFactory(providers.Settings{}, map[credentials.Kind]string{
		credentials.KindOllama: "://bad",
	})
	_, err := f.CreateAdapter(credentials.Credential{Kind: credentials.KindOllama})
	assert.Error(t, err)
}
