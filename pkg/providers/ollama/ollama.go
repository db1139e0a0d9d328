// Package ollama streams answers from a local Ollama server over its
// newline-delimited JSON chat endpoint.
package ollama

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sidenote/pkg/providers"
)

const (
	ProviderName = "ollama"
	DefaultHost  = "http://localhost:11434"
	// VisionModel is used for image turns when no model is configured.
	VisionModel = "llava"

	noModelsMessage = "No Ollama models available. Please run: ollama pull llama3.2"
)

// PreferredModels are tried in order, by prefix, when no model is configured.
var PreferredModels = []string{"llama3.2", "llama3.1", "llama3", "mistral", "phi3", "gemma2", "qwen2.5"}

type Adapter struct {
	client   *api.Client
	model    string
	settings providers.Settings
}

var _ providers.Adapter = (*Adapter)(nil)

func New(model string, settings providers.Settings) (*Adapter, error) {
	host := settings.BaseURL
	if host == "" {
		host = DefaultHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama host %q", host)
	}
	return &Adapter{
		client:   api.NewClient(base, settings.GetHTTPClient()),
		model:    model,
		settings: settings,
	}, nil
}

// Models lists the names of locally installed models.
func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	resp, err := a.client.List(ctx)
	if err != nil {
		return nil, ClassifyError(err)
	}
	ret := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		ret = append(ret, m.Name)
	}
	return ret, nil
}

// PickModel returns the first installed model matching PreferredModels, or
// the first installed model.
func PickModel(installed []string) (string, bool) {
	for _, preferred := range PreferredModels {
		for _, m := range installed {
			if strings.HasPrefix(m, preferred) {
				return m, true
			}
		}
	}
	if len(installed) > 0 {
		return installed[0], true
	}
	return "", false
}

func (a *Adapter) resolveModel(ctx context.Context, image bool) (string, error) {
	if a.model != "" {
		return a.model, nil
	}
	if image {
		return VisionModel, nil
	}
	installed, err := a.Models(ctx)
	if err != nil {
		return "", err
	}
	model, ok := PickModel(installed)
	if !ok {
		return "", providers.NewError(providers.ErrorKindModel, ProviderName, noModelsMessage, nil)
	}
	log.Debug().Str("provider", ProviderName).Str("model", model).Msg("picked installed model")
	return model, nil
}

func makeMessages(systemPrompt string, req providers.Request) []api.Message {
	ret := make([]api.Message, 0, len(req.History)+2)
	// vision models tend to ignore system prompts, image turns go without one
	if req.Image == nil {
		ret = append(ret, api.Message{Role: "system", Content: systemPrompt})
	}
	for _, turn := range req.History {
		role := "user"
		if turn.Role == providers.RoleAssistant {
			role = "assistant"
		}
		ret = append(ret, api.Message{Role: role, Content: turn.Text})
	}
	user := api.Message{Role: "user", Content: req.UserText()}
	if req.Image != nil {
		user.Images = []api.ImageData{req.Image.Data}
	}
	return append(ret, user)
}

func (a *Adapter) Generate(ctx context.Context, req providers.Request) (*providers.Stream, error) {
	return providers.NewStream(ctx, func(ctx context.Context, emit providers.EmitFunc) error {
		model, err := a.resolveModel(ctx, req.Image != nil)
		if err != nil {
			return err
		}

		stream := true
		chatReq := &api.ChatRequest{
			Model:    model,
			Messages: makeMessages(a.settings.GetSystemPrompt(), req),
			Stream:   &stream,
		}

		message := ""
		err = a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			message += resp.Message.Content
			return emit(message)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return ClassifyError(err)
		}
		return nil
	}), nil
}

func (a *Adapter) Explain(ctx context.Context, selected string, messageContext string) (string, error) {
	model, err := a.resolveModel(ctx, false)
	if err != nil {
		return "", err
	}
	prompt, err := providers.RenderExplainPrompt(selected, messageContext, a.settings.GetExplainContextChars())
	if err != nil {
		return "", err
	}

	stream := false
	text := ""
	err = a.client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}, func(resp api.ChatResponse) error {
		text += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", ClassifyError(err)
	}
	if text == "" {
		return providers.EmptyExplanation, nil
	}
	return text, nil
}

// ClassifyError maps Ollama status errors onto provider error kinds.
func ClassifyError(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		msg := se.ErrorMessage
		if msg == "" {
			msg = se.Status
		}
		return providers.NewError(
			providers.KindFromStatus(se.StatusCode),
			ProviderName,
			fmt.Sprintf("Ollama error: %s", msg),
			err,
		)
	}
	return providers.Classify(ProviderName, err)
}
