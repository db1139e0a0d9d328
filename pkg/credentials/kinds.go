package credentials

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindGemini      Kind = "gemini"
	KindOpenAI      Kind = "openai"
	KindHuggingFace Kind = "huggingface"
	KindOllama      Kind = "ollama"
)

// ProviderInfo describes a provider kind for display and defaults.
type ProviderInfo struct {
	Kind         Kind     `json:"kind" yaml:"kind"`
	Name         string   `json:"name" yaml:"name"`
	DefaultModel string   `json:"default_model" yaml:"default_model"`
	Models       []string `json:"models" yaml:"models"`
	NeedsSecret  bool     `json:"needs_secret" yaml:"needs_secret"`
}

var Providers = map[Kind]ProviderInfo{
	KindOpenAI: {
		Kind:         KindOpenAI,
		Name:         "OpenAI",
		DefaultModel: "gpt-4o-mini",
		Models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo", "o1-mini"},
		NeedsSecret:  true,
	},
	KindGemini: {
		Kind:         KindGemini,
		Name:         "Google Gemini",
		DefaultModel: "gemini-2.0-flash",
		Models: []string{
			"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.5-flash-lite",
			"gemini-2.0-flash", "gemini-2.0-flash-001", "gemini-1.5-flash", "gemini-1.5-pro",
		},
		NeedsSecret: true,
	},
	KindHuggingFace: {
		Kind:         KindHuggingFace,
		Name:         "Hugging Face",
		DefaultModel: "meta-llama/Llama-3.1-8B-Instruct",
		Models: []string{
			"meta-llama/Llama-3.1-8B-Instruct",
			"meta-llama/Llama-3.2-3B-Instruct",
			"meta-llama/Llama-3.2-1B-Instruct",
			"meta-llama/Llama-3.3-70B-Instruct",
			"Qwen/Qwen2.5-7B-Instruct",
			"Qwen/Qwen2.5-72B-Instruct",
			"Qwen/Qwen2.5-Coder-32B-Instruct",
			"deepseek-ai/DeepSeek-R1-Distill-Qwen-32B",
		},
		NeedsSecret: true,
	},
	KindOllama: {
		Kind: KindOllama,
		Name: "Ollama",
		// empty model means pick one of the installed models
		DefaultModel: "",
		NeedsSecret:  false,
	},
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Providers[k]; !ok {
		return "", errors.Errorf("unknown provider %q (expected one of %s)", s, strings.Join(KindNames(), ", "))
	}
	return k, nil
}

func KindNames() []string {
	ret := make([]string, 0, len(Providers))
	for k := range Providers {
		ret = append(ret, string(k))
	}
	sort.Strings(ret)
	return ret
}
