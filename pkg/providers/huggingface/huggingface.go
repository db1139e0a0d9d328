// Package huggingface uses the Hugging Face inference router. The router
// answers in one piece, so replies are replayed word by word to look like a
// stream.
package huggingface

import (
	"bytes"
	"context"
	"text/template"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/sidenote/pkg/providers"
	"github.com/go-go-golems/sidenote/pkg/providers/openai"
)

const (
	ProviderName   = "huggingface"
	DefaultModel   = "meta-llama/Llama-3.1-8B-Instruct"
	DefaultBaseURL = "https://router.huggingface.co/v1"

	// the router rejects long explain prompts on small models
	explainContextChars = 300

	explainSystemPrompt = "You explain text concisely in under 150 words. If technical, simplify it."
)

var explainPrompt = template.Must(template.New("hf-explain").Funcs(providers.TemplateFuncs()).Parse(
	"Explain this:\n\n\"{{ .Selected }}\"\n\nContext: \"{{ .Context | trunc .MaxContext }}\"",
))

type Adapter struct {
	client   *go_openai.Client
	model    string
	settings providers.Settings
}

var _ providers.Adapter = (*Adapter)(nil)

func New(apiKey string, model string, settings providers.Settings) *Adapter {
	if model == "" {
		model = DefaultModel
	}
	return &Adapter{
		client:   openai.MakeClient(apiKey, settings, DefaultBaseURL),
		model:    model,
		settings: settings,
	}
}

func (a *Adapter) Model() string {
	return a.model
}

func (a *Adapter) Generate(ctx context.Context, req providers.Request) (*providers.Stream, error) {
	if req.Image != nil {
		log.Debug().Str("provider", ProviderName).Msg("image attachments are not supported, sending text only")
	}

	temperature := float32(0.7)
	topP := float32(0.95)
	chatReq := go_openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    openai.MakeMessages(a.settings.GetSystemPrompt(), req, false),
		MaxTokens:   2048,
		Temperature: temperature,
		TopP:        topP,
	}

	return providers.NewStream(ctx, func(ctx context.Context, emit providers.EmitFunc) error {
		resp, err := a.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return openai.ClassifyError(ProviderName, err)
		}
		text := ""
		if len(resp.Choices) > 0 {
			text = resp.Choices[0].Message.Content
		}
		if text == "" {
			text = providers.EmptyResponseSentinel
		}

		for _, snapshot := range providers.WordSnapshots(text) {
			if err := emit(snapshot); err != nil {
				return err
			}
			if err := providers.Pause(ctx, a.settings.ChunkDelay); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func (a *Adapter) Explain(ctx context.Context, selected string, messageContext string) (string, error) {
	var buf bytes.Buffer
	err := explainPrompt.Execute(&buf, map[string]interface{}{
		"Selected":   selected,
		"Context":    messageContext,
		"MaxContext": explainContextChars,
	})
	if err != nil {
		return "", errors.Wrap(err, "could not render explain prompt")
	}

	resp, err := a.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []go_openai.ChatCompletionMessage{
			{Role: go_openai.ChatMessageRoleSystem, Content: explainSystemPrompt},
			{Role: go_openai.ChatMessageRoleUser, Content: buf.String()},
		},
		MaxTokens:   300,
		Temperature: 0.5,
	})
	if err != nil {
		return "", openai.ClassifyError(ProviderName, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return providers.EmptyExplanation, nil
	}
	return resp.Choices[0].Message.Content, nil
}
