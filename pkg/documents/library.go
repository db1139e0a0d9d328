package documents

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("document not found")

// Persister stores the documents of every conversation.
type Persister interface {
	LoadDocuments() (map[string][]Document, error)
	SaveDocuments(docs map[string][]Document) error
}

// Library keeps the uploaded documents of each conversation in upload order.
// Mutations are written through the persister; a failed write leaves the
// library unchanged.
type Library struct {
	mu        sync.RWMutex
	docs      map[string][]Document
	persister Persister
}

// NewLibrary loads stored documents from p, which may be nil. An unreadable
// store starts empty.
func NewLibrary(p Persister) *Library {
	l := &Library{docs: map[string][]Document{}, persister: p}
	if p == nil {
		return l
	}
	docs, err := p.LoadDocuments()
	if err != nil {
		log.Warn().Err(err).Msg("could not load documents, starting empty")
		return l
	}
	for k, v := range docs {
		l.docs[k] = v
	}
	return l
}

func (l *Library) copyDocs() map[string][]Document {
	ret := make(map[string][]Document, len(l.docs))
	for k, v := range l.docs {
		ret[k] = append([]Document{}, v...)
	}
	return ret
}

func (l *Library) commit(next map[string][]Document) error {
	if l.persister != nil {
		if err := l.persister.SaveDocuments(next); err != nil {
			return errors.Wrap(err, "could not save documents")
		}
	}
	l.docs = next
	return nil
}

func (l *Library) Add(conversationID string, doc Document) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.copyDocs()
	next[conversationID] = append(next[conversationID], doc)
	if err := l.commit(next); err != nil {
		return err
	}
	log.Info().Str("conversation", conversationID).Str("document", doc.Name).Msg("added document")
	return nil
}

// Remove deletes a document by id or by name.
func (l *Library) Remove(conversationID string, idOrName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	docs := l.docs[conversationID]
	for i, d := range docs {
		if d.ID != idOrName && d.Name != idOrName {
			continue
		}
		next := l.copyDocs()
		next[conversationID] = append(next[conversationID][:i:i], next[conversationID][i+1:]...)
		if len(next[conversationID]) == 0 {
			delete(next, conversationID)
		}
		return l.commit(next)
	}
	return errors.Wrapf(ErrNotFound, "%s in conversation %s", idOrName, conversationID)
}

func (l *Library) List(conversationID string) []Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Document{}, l.docs[conversationID]...)
}

// Context is the BuildContext prefix for the next turn of a conversation.
func (l *Library) Context(conversationID string) string {
	return BuildContext(l.List(conversationID))
}

// DeleteConversation drops every document of a conversation.
func (l *Library) DeleteConversation(conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.docs[conversationID]; !ok {
		return nil
	}
	next := l.copyDocs()
	delete(next, conversationID)
	return l.commit(next)
}
