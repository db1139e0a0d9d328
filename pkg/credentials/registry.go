package credentials

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound      = errors.New("credential not found")
	ErrMissingSecret = errors.New("an API key is required for this provider")
)

// Registry owns the credentials and the active pointer. Every mutation is
// written through the persister before it returns; a failed write leaves the
// registry unchanged.
type Registry struct {
	mu        sync.RWMutex
	creds     []Credential
	activeID  string
	persister Persister
	now       func() time.Time
}

type RegistryOption func(*Registry)

func WithPersister(p Persister) RegistryOption {
	return func(r *Registry) {
		r.persister = p
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry loads the stored credentials. An unreadable store starts the
// registry empty.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{now: time.Now}
	for _, o := range options {
		o(r)
	}
	if r.persister == nil {
		return r
	}

	creds, activeID, err := r.persister.LoadCredentials()
	if err != nil {
		log.Warn().Err(err).Msg("could not load credentials, starting empty")
		return r
	}
	changed := false
	for i := range creds {
		clean := CleanSecret(creds[i].Secret)
		if clean != creds[i].Secret {
			creds[i].Secret = clean
			changed = true
		}
	}
	r.creds = creds
	r.activeID = activeID
	if changed {
		if err := r.persister.SaveCredentials(r.creds, r.activeID); err != nil {
			log.Warn().Err(err).Msg("could not save cleaned credentials")
		}
	}
	log.Debug().Int("count", len(creds)).Str("active", activeID).Msg("loaded credentials")
	return r
}

// commit persists next and swaps it in on success. Callers hold r.mu.
func (r *Registry) commit(next []Credential, activeID string) error {
	if r.persister != nil {
		if err := r.persister.SaveCredentials(next, activeID); err != nil {
			return errors.Wrap(err, "could not save credentials")
		}
	}
	r.creds = next
	r.activeID = activeID
	return nil
}

func (r *Registry) index(id string) int {
	for i, c := range r.creds {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) copyCreds() []Credential {
	return append([]Credential{}, r.creds...)
}

// Add stores a new enabled credential. Empty model and label get the
// provider's defaults. The first enabled credential becomes active.
func (r *Registry) Add(c Credential) (Credential, error) {
	info, ok := Providers[c.Kind]
	if !ok {
		return Credential{}, errors.Errorf("unknown provider %q", c.Kind)
	}
	c.Secret = CleanSecret(c.Secret)
	if info.NeedsSecret && c.Secret == "" {
		return Credential{}, ErrMissingSecret
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Label == "" {
		c.Label = info.Name + " Key"
	}
	if c.Model == "" {
		c.Model = info.DefaultModel
	}
	c.Enabled = true
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index(c.ID) >= 0 {
		return Credential{}, errors.Errorf("credential %s already exists", c.ID)
	}

	next := append(r.copyCreds(), c)
	activeID := r.activeID
	enabled := 0
	for _, n := range next {
		if n.Enabled {
			enabled++
		}
	}
	if enabled == 1 {
		activeID = c.ID
	}
	if err := r.commit(next, activeID); err != nil {
		return Credential{}, err
	}
	log.Info().Str("id", c.ID).Str("provider", string(c.Kind)).Str("label", c.Label).Msg("added credential")
	return c, nil
}

// Remove deletes a credential. Removing the active one clears the pointer.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	next := append(r.copyCreds()[:i:i], r.creds[i+1:]...)
	activeID := r.activeID
	if activeID == id {
		activeID = ""
	}
	if err := r.commit(next, activeID); err != nil {
		return err
	}
	log.Info().Str("id", id).Msg("removed credential")
	return nil
}

func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	next := r.copyCreds()
	next[i].Enabled = enabled
	return r.commit(next, r.activeID)
}

// SetModel changes the model a credential requests.
func (r *Registry) SetModel(id string, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	next := r.copyCreds()
	next[i].Model = model
	return r.commit(next, r.activeID)
}

// SetActive marks id as active. An empty id clears the pointer.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" && r.index(id) < 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	return r.commit(r.creds, id)
}

func (r *Registry) Get(id string) (Credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.index(id)
	if i < 0 {
		return Credential{}, false
	}
	return r.creds[i], true
}

// List returns the credentials in insertion order.
func (r *Registry) List() []Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyCreds()
}

func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// ActiveCredential returns the marked credential if it is enabled, else the
// first enabled credential.
func (r *Registry) ActiveCredential() (Credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID != "" {
		if i := r.index(r.activeID); i >= 0 && r.creds[i].Enabled {
			return r.creds[i], true
		}
	}
	for _, c := range r.creds {
		if c.Enabled {
			return c, true
		}
	}
	return Credential{}, false
}

// FallbackOrder returns every enabled credential except exclude, in
// insertion order.
func (r *Registry) FallbackOrder(exclude string) []Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := []Credential{}
	for _, c := range r.creds {
		if c.Enabled && c.ID != exclude {
			ret = append(ret, c)
		}
	}
	return ret
}

// HasEnabled reports whether any credential can serve a turn.
func (r *Registry) HasEnabled() bool {
	_, ok := r.ActiveCredential()
	return ok
}
