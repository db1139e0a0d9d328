package cmds

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/go-go-golems/sidenote/pkg/annotation"
	"github.com/go-go-golems/sidenote/pkg/config"
	"github.com/go-go-golems/sidenote/pkg/conversation"
	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/documents"
	"github.com/go-go-golems/sidenote/pkg/events"
	"github.com/go-go-golems/sidenote/pkg/providers/factory"
	"github.com/go-go-golems/sidenote/pkg/session"
	"github.com/go-go-golems/sidenote/pkg/storage"
)

// saveDelay coalesces streaming snapshots into fewer bolt writes.
const saveDelay = 250 * time.Millisecond

// App is everything a command needs, loaded from one bolt file.
type App struct {
	Settings      *config.Settings
	DB            *storage.DB
	Credentials   *credentials.Registry
	Conversations *conversation.Store
	Documents     *documents.Library
	Factory       *factory.StandardAdapterFactory

	saver *conversation.Saver
}

// OpenApp loads the settings from viper and opens the store they point to.
func OpenApp() (*App, error) {
	settings, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(settings.DB)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("db", db.Path()).Msg("opened store")

	store := conversation.LoadStore(db)
	return &App{
		Settings:      settings,
		DB:            db,
		Credentials:   credentials.NewRegistry(credentials.WithPersister(db)),
		Conversations: store,
		Documents:     documents.NewLibrary(db),
		Factory:       factory.NewStandardAdapterFactory(settings.ProviderSettings(), settings.BaseURLs()),
		saver:         conversation.NewSaver(store, db, saveDelay),
	}, nil
}

func (a *App) NewManager(sinks ...events.EventSink) *session.Manager {
	return session.NewManager(a.Conversations, a.Credentials, a.Factory,
		session.WithDocuments(a.Documents),
		session.WithSinks(sinks...),
	)
}

func (a *App) NewEngine() *annotation.Engine {
	return annotation.NewEngine(a.Conversations, a.Credentials, a.Factory)
}

// Close writes pending conversation changes and closes the store.
func (a *App) Close() error {
	saveErr := a.saver.Close()
	if err := a.DB.Close(); err != nil {
		return err
	}
	return saveErr
}

// withApp opens the app around f.
func withApp(f func(a *App) error) error {
	a, err := OpenApp()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("could not close store")
		}
	}()
	return f(a)
}

// FindCredential resolves a credential by id or unique id prefix.
func (a *App) FindCredential(idOrPrefix string) (credentials.Credential, error) {
	if c, ok := a.Credentials.Get(idOrPrefix); ok {
		return c, nil
	}
	var found []credentials.Credential
	for _, c := range a.Credentials.List() {
		if idOrPrefix != "" && strings.HasPrefix(c.ID, idOrPrefix) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return credentials.Credential{}, errors.Wrap(credentials.ErrNotFound, idOrPrefix)
	case 1:
		return found[0], nil
	default:
		return credentials.Credential{}, errors.Errorf("credential prefix %q is ambiguous", idOrPrefix)
	}
}

// FindMessage resolves a conversation and one of its messages by id or id
// prefix.
func (a *App) FindMessage(convIDOrPrefix string, msgIDOrPrefix string) (conversation.Conversation, conversation.Message, error) {
	c, err := a.Conversations.Find(convIDOrPrefix)
	if err != nil {
		return conversation.Conversation{}, conversation.Message{}, err
	}
	m, ok := c.FindMessage(msgIDOrPrefix)
	if !ok {
		return c, conversation.Message{}, errors.Wrapf(conversation.ErrNotFound, "message %s", msgIDOrPrefix)
	}
	return c, m, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
