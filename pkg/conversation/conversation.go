// Package conversation holds conversations, their messages and the
// annotations attached to messages. The Store is the single owner of this
// state: every change is applied to a copy and swapped in whole.
package conversation

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	DefaultTitle   = "New chat"
	titleMaxLength = 40
)

// ImageRef is an image attached to a user message.
type ImageRef struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	MimeType string `json:"mimeType" yaml:"mime_type"`
	Data     []byte `json:"data,omitempty" yaml:"-"`
}

type Message struct {
	ID      string    `json:"id" yaml:"id"`
	Role    Role      `json:"role" yaml:"role"`
	Content string    `json:"content" yaml:"content"`
	Image   *ImageRef `json:"image,omitempty" yaml:"image,omitempty"`
	// Streaming is set while a generation writes into the message. Only
	// streaming messages accept content updates.
	Streaming bool      `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

type Annotation struct {
	ID          string    `json:"id" yaml:"id"`
	Text        string    `json:"text" yaml:"text"`
	Explanation string    `json:"explanation" yaml:"explanation"`
	CreatedAt   time.Time `json:"createdAt" yaml:"created_at"`
}

type Conversation struct {
	ID       string    `json:"id" yaml:"id"`
	Title    string    `json:"title" yaml:"title"`
	Messages []Message `json:"messages" yaml:"messages"`
	// Annotations maps message ids to annotations in creation order.
	Annotations map[string][]Annotation `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	CreatedAt   time.Time               `json:"createdAt" yaml:"created_at"`
	UpdatedAt   time.Time               `json:"updatedAt" yaml:"updated_at"`
}

func (c *Conversation) messageIndex(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Message returns the message with the given id.
func (c *Conversation) Message(id string) (Message, bool) {
	if i := c.messageIndex(id); i >= 0 {
		return c.Messages[i], true
	}
	return Message{}, false
}

// FindMessage looks a message up by id or by an unambiguous id prefix.
func (c *Conversation) FindMessage(idOrPrefix string) (Message, bool) {
	if m, ok := c.Message(idOrPrefix); ok {
		return m, true
	}
	var found *Message
	for i := range c.Messages {
		if idOrPrefix != "" && strings.HasPrefix(c.Messages[i].ID, idOrPrefix) {
			if found != nil {
				return Message{}, false
			}
			found = &c.Messages[i]
		}
	}
	if found == nil {
		return Message{}, false
	}
	return *found, true
}

func (c *Conversation) hasUserMessage() bool {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// TitleFromText derives a conversation title from the first user message.
func TitleFromText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(text) <= titleMaxLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:titleMaxLength])) + "..."
}
