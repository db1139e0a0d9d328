package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrMessageSealed     = errors.New("message is not streaming")
	ErrSubstringNotFound = errors.New("selected text does not occur in the message")
)

// Mutation is one change to a conversation. Apply works on a private copy
// owned by the Store.
type Mutation interface {
	Apply(c *Conversation, now time.Time) error
	Name() string
}

type appendMessagesMutation struct {
	messages []Message
}

func (m appendMessagesMutation) Apply(c *Conversation, now time.Time) error {
	for _, msg := range m.messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		if msg.Role == RoleUser && !c.hasUserMessage() && c.Title == DefaultTitle {
			c.Title = TitleFromText(msg.Content)
		}
		c.Messages = append(c.Messages, msg)
	}
	return nil
}

func (m appendMessagesMutation) Name() string { return "append_messages" }

// MutateAppendMessages appends messages in order. Missing ids and timestamps
// are filled in. The first user message names an untitled conversation.
func MutateAppendMessages(msgs ...Message) Mutation {
	return appendMessagesMutation{messages: msgs}
}

type setContentMutation struct {
	messageID string
	content   string
}

func (m setContentMutation) Apply(c *Conversation, _ time.Time) error {
	i := c.messageIndex(m.messageID)
	if i < 0 {
		return errors.Wrapf(ErrNotFound, "message %s", m.messageID)
	}
	if !c.Messages[i].Streaming {
		return errors.Wrapf(ErrMessageSealed, "message %s", m.messageID)
	}
	c.Messages[i].Content = m.content
	return nil
}

func (m setContentMutation) Name() string { return "set_content" }

// MutateSetContent replaces the content of a streaming message.
func MutateSetContent(messageID string, content string) Mutation {
	return setContentMutation{messageID: messageID, content: content}
}

type sealMutation struct {
	messageID string
}

func (m sealMutation) Apply(c *Conversation, _ time.Time) error {
	i := c.messageIndex(m.messageID)
	if i < 0 {
		return errors.Wrapf(ErrNotFound, "message %s", m.messageID)
	}
	c.Messages[i].Streaming = false
	return nil
}

func (m sealMutation) Name() string { return "seal" }

// MutateSeal ends streaming on a message, making its content immutable.
func MutateSeal(messageID string) Mutation {
	return sealMutation{messageID: messageID}
}

type addAnnotationMutation struct {
	messageID  string
	annotation *Annotation
}

func (m addAnnotationMutation) Apply(c *Conversation, now time.Time) error {
	msg, ok := c.Message(m.messageID)
	if !ok {
		return errors.Wrapf(ErrNotFound, "message %s", m.messageID)
	}
	if m.annotation.Text == "" || !ContainsFold(msg.Content, m.annotation.Text) {
		return ErrSubstringNotFound
	}
	if m.annotation.ID == "" {
		m.annotation.ID = uuid.NewString()
	}
	if m.annotation.CreatedAt.IsZero() {
		m.annotation.CreatedAt = now
	}
	if c.Annotations == nil {
		c.Annotations = map[string][]Annotation{}
	}
	c.Annotations[m.messageID] = append(c.Annotations[m.messageID], *m.annotation)
	return nil
}

func (m addAnnotationMutation) Name() string { return "add_annotation" }

// MutateAddAnnotation attaches an annotation to a message. The annotated text
// must occur in the message, ignoring case. The passed annotation receives
// the generated id and timestamp.
func MutateAddAnnotation(messageID string, a *Annotation) Mutation {
	return addAnnotationMutation{messageID: messageID, annotation: a}
}

type renameMutation struct {
	title string
}

func (m renameMutation) Apply(c *Conversation, _ time.Time) error {
	if m.title == "" {
		return errors.New("title cannot be empty")
	}
	c.Title = m.title
	return nil
}

func (m renameMutation) Name() string { return "rename" }

func MutateRename(title string) Mutation {
	return renameMutation{title: title}
}
