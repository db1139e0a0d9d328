// Package config decodes the sidenote settings from viper: flags, SIDENOTE_
// environment variables and config.yaml.
package config

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/providers"
	"github.com/go-go-golems/sidenote/pkg/security"
)

const (
	KeyDB                  = "db"
	KeyLogLevel            = "log-level"
	KeyLogFormat           = "log-format"
	KeyLogFile             = "log-file"
	KeyWithCaller          = "with-caller"
	KeySystemPrompt        = "system-prompt"
	KeyChunkDelay          = "chunk-delay"
	KeyExplainContextChars = "explain-context-chars"
	KeyOpenAIBaseURL       = "openai-base-url"
	KeyHuggingFaceBaseURL  = "huggingface-base-url"
	KeyOllamaHost          = "ollama-host"
	KeyGeminiEndpoint      = "gemini-endpoint"
	KeyRequestTimeout      = "request-timeout"
	KeyAllowLocalEndpoints = "allow-local-endpoints"
)

type Settings struct {
	DB         string `mapstructure:"db" yaml:"db"`
	LogLevel   string `mapstructure:"log-level" yaml:"log-level"`
	LogFormat  string `mapstructure:"log-format" yaml:"log-format"`
	LogFile    string `mapstructure:"log-file" yaml:"log-file,omitempty"`
	WithCaller bool   `mapstructure:"with-caller" yaml:"with-caller"`

	SystemPrompt        string        `mapstructure:"system-prompt" yaml:"system-prompt,omitempty"`
	ChunkDelay          time.Duration `mapstructure:"chunk-delay" yaml:"chunk-delay"`
	ExplainContextChars int           `mapstructure:"explain-context-chars" yaml:"explain-context-chars"`

	OpenAIBaseURL      string `mapstructure:"openai-base-url" yaml:"openai-base-url,omitempty"`
	HuggingFaceBaseURL string `mapstructure:"huggingface-base-url" yaml:"huggingface-base-url,omitempty"`
	OllamaHost         string `mapstructure:"ollama-host" yaml:"ollama-host,omitempty"`
	GeminiEndpoint     string `mapstructure:"gemini-endpoint" yaml:"gemini-endpoint,omitempty"`
	// RequestTimeout bounds each provider HTTP request, 0 disables it.
	RequestTimeout time.Duration `mapstructure:"request-timeout" yaml:"request-timeout"`
	// AllowLocalEndpoints lets the hosted providers use http and local
	// network endpoints, such as a proxy on localhost. Ollama always may.
	AllowLocalEndpoints bool `mapstructure:"allow-local-endpoints" yaml:"allow-local-endpoints"`
}

// DefaultDBPath is $HOME/.sidenote/sidenote.db, or a relative path when the
// home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".sidenote", "sidenote.db")
	}
	return filepath.Join(home, ".sidenote", "sidenote.db")
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDB, DefaultDBPath())
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyChunkDelay, providers.DefaultChunkDelay)
	v.SetDefault(KeyExplainContextChars, providers.DefaultExplainContextChars)
	v.SetDefault(KeyRequestTimeout, 2*time.Minute)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	switch s.LogFormat {
	case "", "text", "json":
	default:
		return errors.Errorf("invalid %s %q (expected text or json)", KeyLogFormat, s.LogFormat)
	}
	switch s.LogLevel {
	case "", "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return errors.Errorf("invalid %s %q", KeyLogLevel, s.LogLevel)
	}
	if s.ChunkDelay < 0 {
		return errors.Errorf("%s must not be negative", KeyChunkDelay)
	}
	if s.ExplainContextChars < 0 {
		return errors.Errorf("%s must not be negative", KeyExplainContextChars)
	}
	if s.RequestTimeout < 0 {
		return errors.Errorf("%s must not be negative", KeyRequestTimeout)
	}
	if s.DB == "" {
		return errors.Errorf("%s must be set", KeyDB)
	}
	return s.validateEndpoints()
}

func (s *Settings) validateEndpoints() error {
	hosted := security.EndpointPolicy{AllowHTTP: s.AllowLocalEndpoints, AllowLocal: s.AllowLocalEndpoints}
	endpoints := []struct {
		key    string
		value  string
		policy security.EndpointPolicy
	}{
		{KeyOpenAIBaseURL, s.OpenAIBaseURL, hosted},
		{KeyHuggingFaceBaseURL, s.HuggingFaceBaseURL, hosted},
		{KeyOllamaHost, s.OllamaHost, security.EndpointPolicy{AllowHTTP: true, AllowLocal: true}},
		// the gemini endpoint may also be a bare host:port
		{KeyGeminiEndpoint, s.GeminiEndpoint, hosted},
	}
	for _, e := range endpoints {
		if e.value == "" || (e.key == KeyGeminiEndpoint && !strings.Contains(e.value, "://")) {
			continue
		}
		if err := security.ValidateEndpoint(e.value, e.policy); err != nil {
			return errors.Wrapf(err, "invalid %s", e.key)
		}
	}
	return nil
}

// ProviderSettings are the adapter settings shared by every provider kind.
func (s *Settings) ProviderSettings() providers.Settings {
	ret := providers.Settings{
		SystemPrompt:        s.SystemPrompt,
		ChunkDelay:          s.ChunkDelay,
		ExplainContextChars: s.ExplainContextChars,
	}
	if s.RequestTimeout > 0 {
		ret.HTTPClient = &http.Client{Timeout: s.RequestTimeout}
	}
	return ret
}

// BaseURLs holds the endpoint overrides that are set, keyed by provider kind.
func (s *Settings) BaseURLs() map[credentials.Kind]string {
	ret := map[credentials.Kind]string{}
	for kind, u := range map[credentials.Kind]string{
		credentials.KindOpenAI:      s.OpenAIBaseURL,
		credentials.KindHuggingFace: s.HuggingFaceBaseURL,
		credentials.KindOllama:      s.OllamaHost,
		credentials.KindGemini:      s.GeminiEndpoint,
	} {
		if u != "" {
			ret[kind] = u
		}
	}
	return ret
}
