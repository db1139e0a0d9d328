// Package session runs chat turns: it streams a provider's snapshots into
// the assistant message, falls back to the other enabled credentials when the
// active one fails, and lets the user stop a turn midway.
package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-go-golems/sidenote/pkg/conversation"
	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/events"
	"github.com/go-go-golems/sidenote/pkg/providers"
	"github.com/go-go-golems/sidenote/pkg/providers/factory"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy         = errors.New("a response is already streaming")
	ErrNoCredential = errors.New("no API key configured")
	ErrNotStreaming = errors.New("nothing is streaming")
	ErrEmptyMessage = errors.New("message is empty")
)

type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
)

// Status is the read-only view of the manager for the UI. Text mirrors the
// latest snapshot of the streaming message.
type Status struct {
	State          State  `json:"state" yaml:"state"`
	ConversationID string `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	Text           string `json:"text,omitempty" yaml:"text,omitempty"`
}

// CredentialSource picks the credential for a turn and its fallbacks.
type CredentialSource interface {
	ActiveCredential() (credentials.Credential, bool)
	FallbackOrder(exclude string) []credentials.Credential
}

// DocumentSource provides the document context prefix of a conversation.
type DocumentSource interface {
	Context(conversationID string) string
}

type SubmitRequest struct {
	ConversationID string
	Text           string
	Image          *conversation.ImageRef
}

// Manager runs at most one turn at a time across all conversations.
type Manager struct {
	store       *conversation.Store
	credentials CredentialSource
	factory     factory.AdapterFactory
	documents   DocumentSource
	sinks       []events.EventSink

	mu     sync.Mutex
	active *Handle
	status Status
}

type ManagerOption func(*Manager)

func WithDocuments(d DocumentSource) ManagerOption {
	return func(m *Manager) {
		m.documents = d
	}
}

// WithSinks adds sinks receiving the events of every turn, in addition to
// the sinks attached to the context passed to Start.
func WithSinks(sinks ...events.EventSink) ManagerOption {
	return func(m *Manager) {
		m.sinks = append(m.sinks, sinks...)
	}
}

func NewManager(store *conversation.Store, creds CredentialSource, f factory.AdapterFactory, options ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		credentials: creds,
		factory:     f,
		status:      Status{State: StateIdle},
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) IsStreaming() bool {
	return m.Status().State == StateStreaming
}

// Submit runs a turn to completion.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*TurnResult, error) {
	h, err := m.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.Wait(), nil
}

// Start begins a turn and returns once the user and placeholder messages are
// stored. It fails with ErrBusy, without side effects, while another turn
// streams. Without a usable credential the turn ends at once with an inline
// error message and a result carrying ErrNoCredential.
func (m *Manager) Start(ctx context.Context, req SubmitRequest) (*Handle, error) {
	if req.Text == "" && req.Image == nil {
		return nil, ErrEmptyMessage
	}

	m.mu.Lock()
	if m.status.State == StateStreaming {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.status = Status{State: StateStreaming, ConversationID: req.ConversationID}
	m.mu.Unlock()

	h, err := m.start(ctx, req)
	if err != nil {
		m.release()
		return nil, err
	}
	return h, nil
}

// release drops the reservation taken by Start before a turn got going.
func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		m.status = Status{State: StateIdle}
	}
}

func (m *Manager) start(ctx context.Context, req SubmitRequest) (*Handle, error) {
	c, ok := m.store.Get(req.ConversationID)
	if !ok {
		return nil, errors.Wrapf(conversation.ErrNotFound, "conversation %s", req.ConversationID)
	}
	history := []providers.Turn{}
	for _, msg := range c.Messages {
		if msg.Content == "" {
			continue
		}
		history = append(history, providers.Turn{Role: providers.Role(msg.Role), Text: msg.Content})
	}

	user := conversation.Message{Role: conversation.RoleUser, Content: req.Text, Image: req.Image}

	cred, ok := m.credentials.ActiveCredential()
	if !ok {
		text := FormatError(ErrNoCredential)
		msgs, err := m.store.AppendMessages(req.ConversationID, user,
			conversation.Message{Role: conversation.RoleAssistant, Content: text})
		if err != nil {
			return nil, err
		}
		result := &TurnResult{
			ConversationID:     req.ConversationID,
			UserMessageID:      msgs[0].ID,
			AssistantMessageID: msgs[1].ID,
			Content:            text,
			Err:                ErrNoCredential,
		}
		log.Warn().Str("conversation", req.ConversationID).Msg("no enabled credential")
		m.release()
		m.publish(ctx, events.NewErrorEvent(m.metadata(result.ConversationID, result.AssistantMessageID, nil, 0), ErrNoCredential, text))
		return finishedHandle(result), nil
	}
	// the fallback order is frozen here, credential edits during the turn
	// do not change it
	order := append([]credentials.Credential{cred}, m.credentials.FallbackOrder(cred.ID)...)

	msgs, err := m.store.AppendMessages(req.ConversationID, user,
		conversation.Message{Role: conversation.RoleAssistant, Streaming: true})
	if err != nil {
		return nil, err
	}

	text := req.Text
	if m.documents != nil {
		text = m.documents.Context(req.ConversationID) + text
	}
	preq := providers.Request{History: history, Text: text}
	if req.Image != nil {
		preq.Image = &providers.Image{MimeType: req.Image.MimeType, Data: req.Image.Data}
		if req.Text == "" {
			preq.Text = text + providers.ImageOnlyPrompt
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(req.ConversationID, msgs[0].ID, msgs[1].ID, cancel)

	m.mu.Lock()
	m.active = h
	m.status = Status{State: StateStreaming, ConversationID: req.ConversationID, MessageID: h.AssistantMessageID}
	m.mu.Unlock()

	log.Debug().
		Str("conversation", req.ConversationID).
		Str("message", h.AssistantMessageID).
		Int("candidates", len(order)).
		Msg("starting turn")
	m.publish(runCtx, events.NewStartEvent(m.metadata(h.ConversationID, h.AssistantMessageID, &cred, 1), req.Text))

	go m.run(runCtx, h, order, preq)
	return h, nil
}

// Stop ends the streaming turn. Content already written is kept and the
// message is sealed. A new turn may start as soon as Stop returns.
func (m *Manager) Stop() error {
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()
	if h == nil {
		return ErrNotStreaming
	}
	m.stop(h)
	return nil
}

func (m *Manager) stop(h *Handle) {
	if !h.markCanceled() {
		return
	}
	if err := m.store.SealMessage(h.ConversationID, h.AssistantMessageID); err != nil {
		log.Warn().Err(err).Str("message", h.AssistantMessageID).Msg("could not seal stopped message")
	}
	m.mu.Lock()
	if m.active == h {
		m.active = nil
		m.status = Status{State: StateIdle}
	}
	m.mu.Unlock()
	log.Info().Str("conversation", h.ConversationID).Msg("stopped turn")
}

func (m *Manager) finish(h *Handle, result *TurnResult) {
	m.mu.Lock()
	if m.active == h {
		m.active = nil
		m.status = Status{State: StateIdle}
	}
	m.mu.Unlock()
	h.setResult(result)
}

func (m *Manager) run(ctx context.Context, h *Handle, order []credentials.Credential, req providers.Request) {
	result := &TurnResult{
		ConversationID:     h.ConversationID,
		UserMessageID:      h.UserMessageID,
		AssistantMessageID: h.AssistantMessageID,
	}
	var (
		firstErr error
		lastErr  error
		prev     *credentials.Credential
	)

	for i := range order {
		cred := order[i]
		meta := m.metadata(h.ConversationID, h.AssistantMessageID, &cred, i+1)
		if prev != nil {
			ok, err := h.unlessCanceled(func() error {
				return m.store.SetMessageContent(h.ConversationID, h.AssistantMessageID, "")
			})
			if !ok {
				break
			}
			if err != nil {
				log.Warn().Err(err).Msg("could not reset message before fallback")
			}
			m.setStatusText(h, "")
			m.publish(ctx, events.NewFailoverEvent(meta, prev.ID, lastErr.Error()))
		}

		result.Attempts++
		content, err := m.attempt(ctx, h, cred, req, meta)
		if err == nil {
			ok, ferr := h.unlessCanceled(func() error {
				return m.store.FinishMessage(h.ConversationID, h.AssistantMessageID, content)
			})
			if !ok {
				break
			}
			if ferr != nil {
				log.Error().Err(ferr).Str("message", h.AssistantMessageID).Msg("could not finish message")
			}
			result.Content = content
			result.CredentialID = cred.ID
			result.Provider = cred.Kind
			log.Debug().Str("credential", cred.ID).Str("provider", string(cred.Kind)).Int("attempt", i+1).Msg("turn finished")
			m.publish(ctx, events.NewFinalEvent(meta, content))
			m.finish(h, result)
			return
		}
		if h.Canceled() || errors.Is(err, context.Canceled) {
			break
		}

		log.Warn().Err(err).
			Str("credential", cred.ID).
			Str("provider", string(cred.Kind)).
			Int("attempt", i+1).
			Msg("provider failed")
		if firstErr == nil {
			firstErr = err
		}
		lastErr = err
		prev = &order[i]
	}

	if h.Canceled() || ctx.Err() != nil {
		m.stop(h)
		result.Canceled = true
		if c, ok := m.store.Get(h.ConversationID); ok {
			if msg, ok := c.Message(h.AssistantMessageID); ok {
				result.Content = msg.Content
			}
		}
		m.publish(ctx, events.NewInterruptEvent(m.metadata(h.ConversationID, h.AssistantMessageID, nil, result.Attempts), result.Content))
		m.finish(h, result)
		return
	}

	text := FormatError(firstErr)
	if _, err := h.unlessCanceled(func() error {
		return m.store.FinishMessage(h.ConversationID, h.AssistantMessageID, text)
	}); err != nil {
		log.Error().Err(err).Str("message", h.AssistantMessageID).Msg("could not write error message")
	}
	result.Content = text
	result.Err = firstErr
	m.publish(ctx, events.NewErrorEvent(m.metadata(h.ConversationID, h.AssistantMessageID, nil, result.Attempts), firstErr, text))
	m.finish(h, result)
}

// attempt streams one credential's snapshots into the message and returns
// the final snapshot.
func (m *Manager) attempt(
	ctx context.Context,
	h *Handle,
	cred credentials.Credential,
	req providers.Request,
	meta events.EventMetadata,
) (string, error) {
	adapter, err := m.factory.CreateAdapter(cred)
	if err != nil {
		return "", providers.Classify(string(cred.Kind), err)
	}
	stream, err := adapter.Generate(ctx, req)
	if err != nil {
		return "", providers.Classify(string(cred.Kind), err)
	}
	defer stream.Close()

	last := ""
	for {
		snapshot, err := stream.Recv()
		if err == io.EOF {
			// a canceled context also ends the stream early
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, nil
		}
		if err != nil {
			return last, providers.Classify(string(cred.Kind), err)
		}

		ok, err := h.unlessCanceled(func() error {
			return m.store.SetMessageContent(h.ConversationID, h.AssistantMessageID, snapshot)
		})
		if !ok {
			return last, context.Canceled
		}
		if err != nil {
			return last, errors.Wrap(err, "could not write snapshot")
		}

		delta := snapshot
		if strings.HasPrefix(snapshot, last) {
			delta = snapshot[len(last):]
		}
		last = snapshot
		m.setStatusText(h, snapshot)
		m.publish(ctx, events.NewPartialCompletionEvent(meta, delta, snapshot))
	}
}

func (m *Manager) setStatusText(h *Handle, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == h {
		m.status.Text = text
	}
}

func (m *Manager) metadata(conversationID string, messageID string, cred *credentials.Credential, attempt int) events.EventMetadata {
	id, _ := uuid.Parse(messageID)
	meta := events.EventMetadata{
		ID:             id,
		ConversationID: conversationID,
		Attempt:        attempt,
	}
	if cred != nil {
		meta.CredentialID = cred.ID
		meta.Provider = string(cred.Kind)
		meta.Model = cred.Model
	}
	return meta
}

func (m *Manager) publish(ctx context.Context, ev events.Event) {
	for _, s := range m.sinks {
		if err := s.PublishEvent(ev); err != nil {
			log.Warn().Err(err).Str("type", string(ev.Type())).Msg("could not publish event")
		}
	}
	events.PublishEventToContext(ctx, ev)
}

// FormatError renders a turn failure as the assistant message shown to the
// user.
func FormatError(err error) string {
	if errors.Is(err, ErrNoCredential) {
		return "⚠️ **Error:** No API key configured.\n\nAdd an API key with `sidenote keys add`."
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return fmt.Sprintf("⚠️ **Error:** %s\n\nPlease check your API keys with `sidenote keys list`.", msg)
}
