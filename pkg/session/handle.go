package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/sidenote/pkg/credentials"
)

// TurnResult describes how a turn ended.
type TurnResult struct {
	ConversationID     string `json:"conversation_id" yaml:"conversation_id"`
	UserMessageID      string `json:"user_message_id" yaml:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id" yaml:"assistant_message_id"`
	// CredentialID is the credential that produced Content, empty if none did.
	CredentialID string           `json:"credential_id,omitempty" yaml:"credential_id,omitempty"`
	Provider     credentials.Kind `json:"provider,omitempty" yaml:"provider,omitempty"`
	Content      string           `json:"content" yaml:"content"`
	Attempts     int              `json:"attempts" yaml:"attempts"`
	Canceled     bool             `json:"canceled,omitempty" yaml:"canceled,omitempty"`
	// Err is the first failure when no credential succeeded, or
	// ErrNoCredential.
	Err error `json:"-" yaml:"-"`
}

// Succeeded reports whether a provider produced the final content.
func (r *TurnResult) Succeeded() bool {
	return r != nil && r.Err == nil && !r.Canceled
}

// Handle is one in-flight turn. It can be stopped and waited on.
type Handle struct {
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string

	done chan struct{}

	// mu orders snapshot writes against Stop: once canceled is set no
	// further snapshot reaches the store.
	mu       sync.Mutex
	cancel   context.CancelFunc
	canceled bool
	result   *TurnResult
}

func newHandle(conversationID, userMessageID, assistantMessageID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		ConversationID:     conversationID,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		done:               make(chan struct{}),
		cancel:             cancel,
	}
}

func finishedHandle(result *TurnResult) *Handle {
	h := newHandle(result.ConversationID, result.UserMessageID, result.AssistantMessageID, nil)
	h.setResult(result)
	return h
}

func (h *Handle) setResult(r *TurnResult) {
	h.mu.Lock()
	h.result = r
	h.cancel = nil
	h.mu.Unlock()
	close(h.done)
}

// markCanceled sets the cancel flag and returns whether it was newly set.
func (h *Handle) markCanceled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled {
		return false
	}
	h.canceled = true
	if h.cancel != nil {
		h.cancel()
	}
	return true
}

func (h *Handle) Canceled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

// unlessCanceled runs f while holding the cancel lock, unless the turn was
// stopped.
func (h *Handle) unlessCanceled(f func() error) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled {
		return false, nil
	}
	return true, f()
}

// Done is closed when the turn has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the turn ends.
func (h *Handle) Wait() *TurnResult {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *Handle) IsRunning() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
