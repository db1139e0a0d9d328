package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is handed to subscribers after every successful mutation.
type Change struct {
	Version        uint64
	Kind           ChangeKind
	ConversationID string
	Mutation       string
}

// Store owns all conversations. Stored conversations are never modified in
// place: a mutation clones the conversation, applies itself to the clone and
// replaces the stored pointer. Readers get clones as well.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	version       uint64

	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSub     int

	now func() time.Time
}

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithConversations seeds the store. Messages left streaming by an earlier
// process are sealed.
func WithConversations(convs []Conversation) StoreOption {
	return func(s *Store) {
		for i := range convs {
			c := clone.Clone(&convs[i]).(*Conversation)
			if c.ID == "" {
				log.Warn().Str("title", c.Title).Msg("skipping stored conversation without id")
				continue
			}
			for j := range c.Messages {
				c.Messages[j].Streaming = false
			}
			s.conversations[c.ID] = c
		}
	}
}

func NewStore(options ...StoreOption) *Store {
	s := &Store{
		conversations: map[string]*Conversation{},
		subscribers:   map[int]func(Change){},
		now:           time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Subscribe registers f for change notifications and returns a function that
// removes it. f runs synchronously after the store lock is released.
func (s *Store) Subscribe(f func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = f
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) notify(ch Change) {
	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subscribers))
	for _, f := range s.subscribers {
		subs = append(subs, f)
	}
	s.subMu.Unlock()
	for _, f := range subs {
		f(ch)
	}
}

// Version counts successful mutations.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Create starts an empty conversation. An empty title uses DefaultTitle.
func (s *Store) Create(title string) Conversation {
	if title == "" {
		title = DefaultTitle
	}
	s.mu.Lock()
	now := s.now()
	c := &Conversation{
		ID:          uuid.NewString(),
		Title:       title,
		Messages:    []Message{},
		Annotations: map[string][]Annotation{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.conversations[c.ID] = c
	s.version++
	ch := Change{Version: s.version, Kind: ChangeCreated, ConversationID: c.ID, Mutation: "create"}
	ret := *clone.Clone(c).(*Conversation)
	s.mu.Unlock()

	log.Debug().Str("conversation", c.ID).Msg("created conversation")
	s.notify(ch)
	return ret
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.conversations[id]; !ok {
		s.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	delete(s.conversations, id)
	s.version++
	ch := Change{Version: s.version, Kind: ChangeDeleted, ConversationID: id, Mutation: "delete"}
	s.mu.Unlock()

	s.notify(ch)
	return nil
}

// Apply runs mutations against conversation id as one change. Either all
// mutations apply or the stored conversation is left untouched.
func (s *Store) Apply(id string, mutations ...Mutation) (Conversation, error) {
	s.mu.Lock()
	cur, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return Conversation{}, errors.Wrapf(ErrNotFound, "conversation %s", id)
	}

	next := clone.Clone(cur).(*Conversation)
	now := s.now()
	name := ""
	for _, m := range mutations {
		if err := m.Apply(next, now); err != nil {
			s.mu.Unlock()
			return Conversation{}, errors.Wrapf(err, "%s failed", m.Name())
		}
		if name == "" {
			name = m.Name()
		}
	}
	if now.After(cur.UpdatedAt) {
		next.UpdatedAt = now
	}
	s.conversations[id] = next
	s.version++
	ch := Change{Version: s.version, Kind: ChangeUpdated, ConversationID: id, Mutation: name}
	ret := *clone.Clone(next).(*Conversation)
	s.mu.Unlock()

	s.notify(ch)
	return ret, nil
}

func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return *clone.Clone(c).(*Conversation), true
}

// Find resolves a conversation by id or unambiguous id prefix.
func (s *Store) Find(idOrPrefix string) (Conversation, error) {
	if c, ok := s.Get(idOrPrefix); ok {
		return c, nil
	}
	s.mu.RLock()
	var found *Conversation
	for id, c := range s.conversations {
		if idOrPrefix != "" && len(id) >= len(idOrPrefix) && id[:len(idOrPrefix)] == idOrPrefix {
			if found != nil {
				s.mu.RUnlock()
				return Conversation{}, errors.Errorf("conversation prefix %q is ambiguous", idOrPrefix)
			}
			found = c
		}
	}
	s.mu.RUnlock()
	if found == nil {
		return Conversation{}, errors.Wrapf(ErrNotFound, "conversation %s", idOrPrefix)
	}
	return *clone.Clone(found).(*Conversation), nil
}

// List returns all conversations, most recently created first.
func (s *Store) List() []Conversation {
	s.mu.RLock()
	ret := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		ret = append(ret, *clone.Clone(c).(*Conversation))
	}
	s.mu.RUnlock()

	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

func (s *Store) Rename(id string, title string) error {
	_, err := s.Apply(id, MutateRename(title))
	return err
}

// AppendMessages appends messages and returns them with ids and timestamps
// filled in.
func (s *Store) AppendMessages(id string, msgs ...Message) ([]Message, error) {
	now := s.now()
	filled := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		filled[i] = m
	}
	if _, err := s.Apply(id, MutateAppendMessages(filled...)); err != nil {
		return nil, err
	}
	return filled, nil
}

// SetMessageContent overwrites a streaming message's content.
func (s *Store) SetMessageContent(id string, messageID string, content string) error {
	_, err := s.Apply(id, MutateSetContent(messageID, content))
	return err
}

// SealMessage ends streaming on a message.
func (s *Store) SealMessage(id string, messageID string) error {
	_, err := s.Apply(id, MutateSeal(messageID))
	return err
}

// FinishMessage writes the final content and seals the message in one change.
func (s *Store) FinishMessage(id string, messageID string, content string) error {
	_, err := s.Apply(id, MutateSetContent(messageID, content), MutateSeal(messageID))
	return err
}

func (s *Store) AddAnnotation(id string, messageID string, text string, explanation string) (Annotation, error) {
	a := &Annotation{Text: text, Explanation: explanation}
	if _, err := s.Apply(id, MutateAddAnnotation(messageID, a)); err != nil {
		return Annotation{}, err
	}
	return *a, nil
}

// Annotations returns the annotations of a message in creation order.
func (s *Store) Annotations(id string, messageID string) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil
	}
	return append([]Annotation{}, c.Annotations[messageID]...)
}

// Snapshot returns every conversation for persistence.
func (s *Store) Snapshot() []Conversation {
	return s.List()
}
