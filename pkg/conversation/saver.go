package conversation

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Persister stores the whole conversation collection.
type Persister interface {
	LoadConversations() ([]Conversation, error)
	SaveConversations(convs []Conversation) error
}

// LoadStore builds a store from p. An unreadable collection starts empty.
func LoadStore(p Persister, options ...StoreOption) *Store {
	convs, err := p.LoadConversations()
	if err != nil {
		log.Warn().Err(err).Msg("could not load conversations, starting empty")
		return NewStore(options...)
	}
	log.Debug().Int("count", len(convs)).Msg("loaded conversations")
	return NewStore(append([]StoreOption{WithConversations(convs)}, options...)...)
}

// Saver writes the store through a persister whenever it changes, coalescing
// bursts of changes (such as streaming snapshots) into one write per delay.
type Saver struct {
	store       *Store
	persister   Persister
	delay       time.Duration
	unsubscribe func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	lastErr error
}

func NewSaver(store *Store, persister Persister, delay time.Duration) *Saver {
	s := &Saver{
		store:     store,
		persister: persister,
		delay:     delay,
	}
	s.unsubscribe = store.Subscribe(s.onChange)
	return s
}

func (s *Saver) onChange(Change) {
	if s.delay <= 0 {
		_ = s.Flush()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, func() {
			_ = s.Flush()
		})
		return
	}
	s.timer.Reset(s.delay)
}

// Flush writes the current state now.
func (s *Saver) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
	if err := s.persister.SaveConversations(s.store.Snapshot()); err != nil {
		s.lastErr = errors.Wrap(err, "could not save conversations")
		log.Error().Err(err).Msg("could not save conversations")
		return s.lastErr
	}
	s.lastErr = nil
	return nil
}

// Pending reports whether changes are waiting for the next write.
func (s *Saver) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Close stops listening and writes any pending changes.
func (s *Saver) Close() error {
	s.unsubscribe()
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending {
		return s.Flush()
	}
	return nil
}
