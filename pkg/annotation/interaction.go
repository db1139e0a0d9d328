package annotation

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
)

type Action string

const (
	// ActionReopen opened the dialogue of a clicked highlight.
	ActionReopen Action = "reopen"
	// ActionAsk offers to explain the live selection.
	ActionAsk Action = "ask"
	// ActionDismiss closed the ask affordance.
	ActionDismiss Action = "dismiss"
)

var ErrNoSelection = errors.New("no pending selection")

// Click is a click on a rendered assistant message. AnnotationID is set when
// the click hit a highlighted segment; Selection holds the text selected at
// the time of the click.
type Click struct {
	AnnotationID string
	Selection    string
}

// Interaction tracks the transient annotation state of one message view: a
// pending selection offered for explanation and the open dialogue.
type Interaction struct {
	engine         *Engine
	conversationID string
	messageID      string

	mu       sync.Mutex
	pending  string
	dialogue *Dialogue
}

func NewInteraction(engine *Engine, conversationID string, messageID string) *Interaction {
	return &Interaction{engine: engine, conversationID: conversationID, messageID: messageID}
}

// HandleClick reopens a clicked highlight or offers a live selection for
// explanation. Selections shorter than MinSelectionLength dismiss the offer.
func (i *Interaction) HandleClick(c Click) (Action, error) {
	if c.AnnotationID != "" {
		d, err := i.engine.Reopen(i.conversationID, c.AnnotationID)
		if err != nil {
			return "", err
		}
		i.mu.Lock()
		i.pending = ""
		i.dialogue = d
		i.mu.Unlock()
		return ActionReopen, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if utf8.RuneCountInString(strings.TrimSpace(c.Selection)) >= MinSelectionLength {
		i.pending = c.Selection
		return ActionAsk, nil
	}
	i.pending = ""
	return ActionDismiss, nil
}

// Pending is the selection currently offered for explanation.
func (i *Interaction) Pending() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending
}

// Ask explains the pending selection and opens its dialogue.
func (i *Interaction) Ask(ctx context.Context) (*Dialogue, error) {
	i.mu.Lock()
	selection := i.pending
	i.pending = ""
	i.mu.Unlock()
	if selection == "" {
		return nil, ErrNoSelection
	}

	d, err := i.engine.Explain(ctx, i.conversationID, i.messageID, selection)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.dialogue = d
	i.mu.Unlock()
	return d, nil
}

// Dialogue is the open dialogue, or nil.
func (i *Interaction) Dialogue() *Dialogue {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dialogue
}

func (i *Interaction) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dialogue = nil
	i.pending = ""
}
