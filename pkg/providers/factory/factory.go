// Package factory builds provider adapters from stored credentials.
package factory

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/providers"
	"github.com/go-go-golems/sidenote/pkg/providers/gemini"
	"github.com/go-go-golems/sidenote/pkg/providers/huggingface"
	"github.com/go-go-golems/sidenote/pkg/providers/openai"
	"github.com/go-go-golems/sidenote/pkg/providers/ollama"
)

// AdapterFactory creates the adapter serving a credential. Callers never
// branch on the provider kind themselves.
type AdapterFactory interface {
	CreateAdapter(cred credentials.Credential) (providers.Adapter, error)
}

// AdapterFactoryFunc adapts a plain function.
type AdapterFactoryFunc func(cred credentials.Credential) (providers.Adapter, error)

func (f AdapterFactoryFunc) CreateAdapter(cred credentials.Credential) (providers.Adapter, error) {
	return f(cred)
}

// Constructor builds one kind of adapter.
type Constructor func(cred credentials.Credential, settings providers.Settings) (providers.Adapter, error)

// StandardAdapterFactory maps each provider kind to its constructor. Settings
// are shared; BaseURLs overrides the endpoint per kind.
type StandardAdapterFactory struct {
	Settings     providers.Settings
	BaseURLs     map[credentials.Kind]string
	constructors map[credentials.Kind]Constructor
}

func NewStandardAdapterFactory(settings providers.Settings, baseURLs map[credentials.Kind]string) *StandardAdapterFactory {
	if baseURLs == nil {
		baseURLs = map[credentials.Kind]string{}
	}
	return &StandardAdapterFactory{
		Settings: settings,
		BaseURLs: baseURLs,
		constructors: map[credentials.Kind]Constructor{
			credentials.KindOpenAI: func(cred credentials.Credential, s providers.Settings) (providers.Adapter, error) {
				return openai.New(cred.Secret, cred.Model, s), nil
			},
			credentials.KindGemini: func(cred credentials.Credential, s providers.Settings) (providers.Adapter, error) {
				return gemini.New(cred.Secret, cred.Model, s), nil
			},
			credentials.KindHuggingFace: func(cred credentials.Credential, s providers.Settings) (providers.Adapter, error) {
				return huggingface.New(cred.Secret, cred.Model, s), nil
			},
			credentials.KindOllama: func(cred credentials.Credential, s providers.Settings) (providers.Adapter, error) {
				return ollama.New(cred.Model, s)
			},
		},
	}
}

// Register adds or replaces the constructor for a kind.
func (f *StandardAdapterFactory) Register(kind credentials.Kind, c Constructor) {
	f.constructors[kind] = c
}

func (f *StandardAdapterFactory) SupportedProviders() []string {
	ret := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		ret = append(ret, string(k))
	}
	sort.Strings(ret)
	return ret
}

func (f *StandardAdapterFactory) CreateAdapter(cred credentials.Credential) (providers.Adapter, error) {
	c, ok := f.constructors[cred.Kind]
	if !ok {
		return nil, errors.Errorf("unsupported provider %q", cred.Kind)
	}
	s := f.Settings
	if u := f.BaseURLs[cred.Kind]; u != "" {
		s.BaseURL = u
	}
	a, err := c(cred, s)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create %s adapter", cred.Kind)
	}
	return a, nil
}

var _ AdapterFactory = (*StandardAdapterFactory)(nil)
