// Package gemini streams answers from Google's Gemini models through the
// generative-ai-go SDK.
package gemini

import (
	"context"
	"fmt"
	"io"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/go-go-golems/sidenote/pkg/providers"
)

const (
	ProviderName = "gemini"
	DefaultModel = "gemini-2.0-flash"
)

type Adapter struct {
	apiKey   string
	model    string
	settings providers.Settings
}

var _ providers.Adapter = (*Adapter)(nil)

func New(apiKey string, model string, settings providers.Settings) *Adapter {
	if model == "" {
		model = DefaultModel
	}
	return &Adapter{
		apiKey:   apiKey,
		model:    model,
		settings: settings,
	}
}

func (a *Adapter) Model() string {
	return a.model
}

func (a *Adapter) makeClient(ctx context.Context) (*genai.Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(a.apiKey)}
	if a.settings.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(a.settings.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}
	return client, nil
}

// MakeHistory converts prior turns into Gemini contents. Assistant turns use
// the "model" role.
func MakeHistory(history []providers.Turn) []*genai.Content {
	ret := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := "user"
		if turn.Role == providers.RoleAssistant {
			role = "model"
		}
		ret = append(ret, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Text)},
		})
	}
	return ret
}

// MakeParts builds the parts of the new user message.
func MakeParts(req providers.Request) []genai.Part {
	parts := []genai.Part{genai.Text(req.UserText())}
	if req.Image != nil {
		parts = append(parts, genai.Blob{MIMEType: req.Image.MimeType, Data: req.Image.Data})
	}
	return parts
}

// ResponseText concatenates the text parts of all candidates.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	ret := ""
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				ret += string(t)
			}
		}
	}
	return ret
}

func (a *Adapter) Generate(ctx context.Context, req providers.Request) (*providers.Stream, error) {
	if a.apiKey == "" {
		return nil, providers.NewError(providers.ErrorKindAuth, ProviderName, "No Gemini API key configured.", nil)
	}

	return providers.NewStream(ctx, func(ctx context.Context, emit providers.EmitFunc) error {
		client, err := a.makeClient(ctx)
		if err != nil {
			return providers.Classify(ProviderName, err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close gemini client")
			}
		}()

		model := client.GenerativeModel(a.model)
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(a.settings.GetSystemPrompt())},
		}
		cs := model.StartChat()
		cs.History = MakeHistory(req.History)

		iter := cs.SendMessageStream(ctx, MakeParts(req)...)
		message := ""
		chunks := 0
		for {
			resp, err := iter.Next()
			if err == iterator.Done || errors.Is(err, io.EOF) {
				log.Debug().Str("provider", ProviderName).Int("chunks", chunks).Msg("stream completed")
				return nil
			}
			if err != nil {
				return ClassifyError(err)
			}
			chunks++
			delta := ResponseText(resp)
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
	if a.apiKey == "" {
		return "", providers.NewError(providers.ErrorKindAuth, ProviderName, "No Gemini API key configured.", nil)
	}
	prompt, err := providers.RenderExplainPrompt(selected, messageContext, a.settings.GetExplainContextChars())
	if err != nil {
		return "", err
	}

	client, err := a.makeClient(ctx)
	if err != nil {
		return "", providers.Classify(ProviderName, err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close gemini client")
		}
	}()

	resp, err := client.GenerativeModel(a.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", ClassifyError(err)
	}
	text := ResponseText(resp)
	if text == "" {
		return providers.EmptyExplanation, nil
	}
	return text, nil
}

// ClassifyError maps Google API errors onto provider error kinds.
func ClassifyError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = fmt.Sprintf("Gemini API error (%d)", gerr.Code)
		}
		return providers.NewError(providers.KindFromStatus(gerr.Code), ProviderName, msg, err)
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return providers.NewError(providers.ErrorKindModel, ProviderName, blocked.Error(), err)
	}
	return providers.Classify(ProviderName, err)
}
