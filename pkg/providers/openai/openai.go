// Package openai talks to OpenAI's chat completions endpoint and streams
// answers over its server-sent events.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/sidenote/pkg/providers"
)

const (
	ProviderName   = "openai"
	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com/v1"
)

type Adapter struct {
	client   *go_openai.Client
	model    string
	settings providers.Settings
}

var _ providers.Adapter = (*Adapter)(nil)

func New(apiKey string, model string, settings providers.Settings) *Adapter {
	return &Adapter{
		client:   MakeClient(apiKey, settings, DefaultBaseURL),
		model:    orDefault(model, DefaultModel),
		settings: settings,
	}
}

// MakeClient builds a go-openai client against settings.BaseURL, or
// defaultBaseURL when unset.
func MakeClient(apiKey string, settings providers.Settings, defaultBaseURL string) *go_openai.Client {
	config := go_openai.DefaultConfig(apiKey)
	config.BaseURL = orDefault(settings.BaseURL, defaultBaseURL)
	if settings.HTTPClient != nil {
		config.HTTPClient = settings.HTTPClient
	}
	return go_openai.NewClientWithConfig(config)
}

func (a *Adapter) Model() string {
	return a.model
}

// MakeMessages converts a request into chat completion messages, starting with
// the system prompt.
func MakeMessages(systemPrompt string, req providers.Request, withImage bool) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(req.History)+2)
	if systemPrompt != "" {
		ret = append(ret, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, turn := range req.History {
		role := go_openai.ChatMessageRoleUser
		if turn.Role == providers.RoleAssistant {
			role = go_openai.ChatMessageRoleAssistant
		}
		ret = append(ret, go_openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}

	if withImage && req.Image != nil {
		url := fmt.Sprintf("data:%s;base64,%s", req.Image.MimeType, base64.StdEncoding.EncodeToString(req.Image.Data))
		ret = append(ret, go_openai.ChatCompletionMessage{
			Role: go_openai.ChatMessageRoleUser,
			MultiContent: []go_openai.ChatMessagePart{
				{Type: go_openai.ChatMessagePartTypeText, Text: req.UserText()},
				{Type: go_openai.ChatMessagePartTypeImageURL, ImageURL: &go_openai.ChatMessageImageURL{URL: url}},
			},
		})
		return ret
	}

	ret = append(ret, go_openai.ChatCompletionMessage{
		Role:    go_openai.ChatMessageRoleUser,
		Content: req.UserText(),
	})
	return ret
}

func (a *Adapter) Generate(ctx context.Context, req providers.Request) (*providers.Stream, error) {
	chatReq := go_openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: MakeMessages(a.settings.GetSystemPrompt(), req, true),
		Stream:   true,
	}

	return providers.NewStream(ctx, func(ctx context.Context, emit providers.EmitFunc) error {
		stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return ClassifyError(ProviderName, err)
		}
		defer stream.Close()

		message := ""
		chunks := 0
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				log.Debug().Str("provider", ProviderName).Int("chunks", chunks).Msg("stream completed")
				return nil
			}
			if err != nil {
				return ClassifyError(ProviderName, err)
			}
			chunks++
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			message += delta
			if err := emit(message); err != nil {
				return err
			}
		}
	}), nil
}

func (a *Adapter) Explain(ctx context.Context, selected string, messageContext string) (string, error) {
	prompt, err := providers.RenderExplainPrompt(selected, messageContext, a.settings.GetExplainContextChars())
	if err != nil {
		return "", err
	}

	resp, err := a.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []go_openai.ChatCompletionMessage{
			{Role: go_openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", ClassifyError(ProviderName, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return providers.EmptyExplanation, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// ClassifyError maps go-openai errors onto provider error kinds.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("%s API error (%d)", provider, apiErr.HTTPStatusCode)
		}
		return providers.NewError(providers.KindFromStatus(apiErr.HTTPStatusCode), provider, msg, err)
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return providers.NewError(
			providers.KindFromStatus(reqErr.HTTPStatusCode),
			provider,
			fmt.Sprintf("%s API error (%d)", provider, reqErr.HTTPStatusCode),
			err,
		)
	}
	return providers.Classify(provider, err)
}

func orDefault(v string, def string) string {
	if v == "" {
		return def
	}
	return v
}
