package annotation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-go-golems/sidenote/pkg/conversation"
	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/providers"
	"github.com/go-go-golems/sidenote/pkg/providers/factory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	MinSelectionLength = 3
	seedSelectionChars = 100

	ExplainFailedText  = "Sorry, I could not generate an explanation at this time."
	FollowUpFailedText = "Sorry, I could not answer that."
	NoCredentialText   = "No API key configured."
)

var (
	ErrSelectionTooShort = errors.Errorf("selection must be at least %d characters", MinSelectionLength)
	ErrNotAssistant      = errors.New("only assistant messages can be annotated")
	ErrMessageStreaming  = errors.New("message is still streaming")
	ErrEmptyQuestion     = errors.New("question is empty")
	ErrNoCredential      = errors.New("no enabled credential")
)

// CredentialSource yields the credential serving explain calls.
type CredentialSource interface {
	ActiveCredential() (credentials.Credential, bool)
}

// Engine creates annotations from selections and runs their dialogues.
type Engine struct {
	store       *conversation.Store
	credentials CredentialSource
	factory     factory.AdapterFactory
}

func NewEngine(store *conversation.Store, creds CredentialSource, f factory.AdapterFactory) *Engine {
	return &Engine{store: store, credentials: creds, factory: f}
}

func (e *Engine) adapter() (providers.Adapter, credentials.Credential, error) {
	cred, ok := e.credentials.ActiveCredential()
	if !ok {
		return nil, credentials.Credential{}, ErrNoCredential
	}
	a, err := e.factory.CreateAdapter(cred)
	if err != nil {
		return nil, cred, err
	}
	return a, cred, nil
}

// explain calls the active adapter. The returned text is the explanation on
// success and the apology for the failure otherwise.
func (e *Engine) explain(ctx context.Context, selected string, messageContext string, apology string) (string, error) {
	a, cred, err := e.adapter()
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return NoCredentialText, err
		}
		return apology, err
	}
	text, err := a.Explain(ctx, selected, messageContext)
	if err != nil {
		log.Warn().Err(err).Str("credential", cred.ID).Str("provider", string(cred.Kind)).Msg("explain failed")
		return apology, err
	}
	return text, nil
}

// Explain resolves a new selection on an assistant message and asks for an
// explanation. Invalid selections return an error. Provider failures do
// not: the dialogue then holds an apology and nothing is stored.
func (e *Engine) Explain(ctx context.Context, conversationID string, messageID string, selection string) (*Dialogue, error) {
	selection = strings.TrimSpace(selection)
	if utf8.RuneCountInString(selection) < MinSelectionLength {
		return nil, ErrSelectionTooShort
	}
	c, ok := e.store.Get(conversationID)
	if !ok {
		return nil, errors.Wrapf(conversation.ErrNotFound, "conversation %s", conversationID)
	}
	msg, ok := c.Message(messageID)
	if !ok {
		return nil, errors.Wrapf(conversation.ErrNotFound, "message %s", messageID)
	}
	if msg.Role != conversation.RoleAssistant {
		return nil, ErrNotAssistant
	}
	if msg.Streaming {
		return nil, ErrMessageStreaming
	}
	if start, _ := IndexFold(msg.Content, selection); start < 0 {
		return nil, conversation.ErrSubstringNotFound
	}

	d := e.newDialogue(conversationID, messageID, selection)
	text, err := e.explain(ctx, selection, msg.Content, ExplainFailedText)
	d.turns = append(d.turns, DialogueTurn{Role: conversation.RoleAssistant, Text: text})
	if err != nil {
		d.Err = err
		return d, nil
	}

	a, err := e.store.AddAnnotation(conversationID, messageID, selection, text)
	if err != nil {
		return nil, errors.Wrap(err, "could not store annotation")
	}
	d.Annotation = &a
	log.Debug().Str("conversation", conversationID).Str("message", messageID).Str("annotation", a.ID).Msg("added annotation")
	return d, nil
}

// FindAnnotation looks an annotation up by id or id prefix across all
// messages of a conversation.
func (e *Engine) FindAnnotation(conversationID string, idOrPrefix string) (string, conversation.Annotation, error) {
	c, ok := e.store.Get(conversationID)
	if !ok {
		return "", conversation.Annotation{}, errors.Wrapf(conversation.ErrNotFound, "conversation %s", conversationID)
	}
	var (
		foundMsg string
		found    *conversation.Annotation
	)
	for _, m := range c.Messages {
		for _, a := range c.Annotations[m.ID] {
			a := a
			if a.ID == idOrPrefix {
				return m.ID, a, nil
			}
			if idOrPrefix != "" && strings.HasPrefix(a.ID, idOrPrefix) {
				if found != nil {
					return "", conversation.Annotation{}, errors.Errorf("annotation prefix %q is ambiguous", idOrPrefix)
				}
				foundMsg, found = m.ID, &a
			}
		}
	}
	if found == nil {
		return "", conversation.Annotation{}, errors.Wrapf(conversation.ErrNotFound, "annotation %s", idOrPrefix)
	}
	return foundMsg, *found, nil
}

// Reopen rebuilds the dialogue of a stored annotation without calling a
// provider.
func (e *Engine) Reopen(conversationID string, annotationID string) (*Dialogue, error) {
	messageID, a, err := e.FindAnnotation(conversationID, annotationID)
	if err != nil {
		return nil, err
	}
	d := e.newDialogue(conversationID, messageID, a.Text)
	d.turns = append(d.turns, DialogueTurn{Role: conversation.RoleAssistant, Text: a.Explanation})
	d.Annotation = &a
	return d, nil
}

func (e *Engine) newDialogue(conversationID string, messageID string, selection string) *Dialogue {
	return &Dialogue{
		engine:         e,
		ConversationID: conversationID,
		MessageID:      messageID,
		Selection:      selection,
		turns: []DialogueTurn{{
			Role: conversation.RoleUser,
			Text: fmt.Sprintf("Explain: \"%s\"", truncate(selection, seedSelectionChars)),
		}},
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

type DialogueTurn struct {
	Role conversation.Role `json:"role" yaml:"role"`
	Text string            `json:"text" yaml:"text"`
}

// Dialogue is the ad-hoc conversation anchored to one selection. Its turns
// live only in memory; follow-ups never change the stored annotation.
type Dialogue struct {
	engine *Engine

	ConversationID string
	MessageID      string
	Selection      string
	// Annotation is nil when the first explanation failed.
	Annotation *conversation.Annotation
	// Err is the provider failure behind an apology, if any.
	Err error

	mu    sync.Mutex
	turns []DialogueTurn
}

func (d *Dialogue) Turns() []DialogueTurn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialogueTurn{}, d.turns...)
}

// Transcript renders the turns as "User: ..." and "Assistant: ..." lines.
func (d *Dialogue) Transcript() string {
	turns := d.Turns()
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		who := "User"
		if t.Role == conversation.RoleAssistant {
			who = "Assistant"
		}
		lines = append(lines, who+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

// FollowUpContext is the context string sent along with a follow-up
// question.
func (d *Dialogue) FollowUpContext(question string) string {
	return fmt.Sprintf("Original selected text: \"%s\"\n\nConversation so far:\n%s\n\nUser's follow-up question: %s",
		d.Selection, d.Transcript(), question)
}

// Ask sends a follow-up question and appends both sides to the dialogue.
// Provider failures are answered with an apology and reported as the
// returned error.
func (d *Dialogue) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	fullContext := d.FollowUpContext(question)

	d.mu.Lock()
	d.turns = append(d.turns, DialogueTurn{Role: conversation.RoleUser, Text: question})
	d.mu.Unlock()

	answer, err := d.engine.explain(ctx, question, fullContext, FollowUpFailedText)

	d.mu.Lock()
	d.turns = append(d.turns, DialogueTurn{Role: conversation.RoleAssistant, Text: answer})
	d.mu.Unlock()
	return answer, err
}
