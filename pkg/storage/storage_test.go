package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/sidenote/pkg/conversation"
	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/documents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "sidenote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEmptyDatabase(t *testing.T) {
	db := openTestDB(t)

	creds, active, err := db.LoadCredentials()
	require.NoError(t, err)
	assert.Empty(t, creds)
	assert.Equal(t, "", active)

	convs, err := db.LoadConversations()
	require.NoError(t, err)
	assert.Empty(t, convs)

	docs, err := db.LoadDocuments()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCorruptFileIsMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sidenote.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a bolt file\n"), 1024), 0o600))

	db, err := Open(path)
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	creds, active, err := db.LoadCredentials()
	require.NoError(t, err)
	assert.Empty(t, creds)
	assert.Equal(t, "", active)

	convs, err := db.LoadConversations()
	require.NoError(t, err)
	assert.Empty(t, convs)

	moved, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	data, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("not a bolt file")))
}

func TestCredentialsKeepOrderAndSecret(t *testing.T) {
	db := openTestDB(t)
	creds := []credentials.Credential{
		{ID: "zz", Kind: credentials.KindOpenAI, Secret: "sk-one", Enabled: true},
		{ID: "aa", Kind: credentials.KindGemini, Secret: "g-two", Enabled: false},
		{ID: "mm", Kind: credentials.KindOllama, Enabled: true},
	}
	require.NoError(t, db.SaveCredentials(creds, "aa"))

	loaded, active, err := db.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "aa", active)
	require.Len(t, loaded, 3)
	assert.Equal(t, "zz", loaded[0].ID)
	assert.Equal(t, "aa", loaded[1].ID)
	assert.Equal(t, "mm", loaded[2].ID)
	assert.Equal(t, "sk-one", loaded[0].Secret)

	require.NoError(t, db.SaveCredentials(creds[:1], ""))
	loaded, active, err = db.LoadCredentials()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	assert.Equal(t, "", active)
}

func TestRegistryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	r := credentials.NewRegistry(credentials.WithPersister(db))
	c, err := r.Add(credentials.Credential{Kind: credentials.KindOpenAI, Secret: " sk-abc "})
	require.NoError(t, err)

	reloaded := credentials.NewRegistry(credentials.WithPersister(db))
	active, ok := reloaded.ActiveCredential()
	require.True(t, ok)
	assert.Equal(t, c.ID, active.ID)
	assert.Equal(t, "sk-abc", active.Secret)
}

func TestConversationsSnapshotReplacesBucket(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := conversation.Conversation{
		ID:    "a",
		Title: "first",
		Messages: []conversation.Message{
			{ID: "m1", Role: conversation.RoleAssistant, Content: "machine learning", CreatedAt: now},
		},
		Annotations: map[string][]conversation.Annotation{
			"m1": {{ID: "x", Text: "learning", Explanation: "it learns"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	b := conversation.Conversation{ID: "b", Title: "second", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.SaveConversations([]conversation.Conversation{a, b}))
	require.NoError(t, db.SaveConversations([]conversation.Conversation{a}))

	loaded, err := db.LoadConversations()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "first", loaded[0].Title)
	assert.Equal(t, "it learns", loaded[0].Annotations["m1"][0].Explanation)
	assert.True(t, now.Equal(loaded[0].UpdatedAt))
}

func TestMalformedEntriesAreSkipped(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveConversations([]conversation.Conversation{{ID: "good", Title: "ok"}}))
	require.NoError(t, db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).Put([]byte("bad"), []byte("{not json"))
	}))

	loaded, err := db.LoadConversations()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].ID)
}

func TestStoreSaverWritesThrough(t *testing.T) {
	db := openTestDB(t)
	store := conversation.LoadStore(db)
	saver := conversation.NewSaver(store, db, 0)
	defer func() { _ = saver.Close() }()

	c := store.Create("")
	_, err := store.AppendMessages(c.ID, conversation.Message{Role: conversation.RoleUser, Content: "hello there"})
	require.NoError(t, err)

	reloaded := conversation.LoadStore(db)
	got, ok := reloaded.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, "hello there", got.Title)
	assert.Len(t, got.Messages, 1)
}

func TestDocuments(t *testing.T) {
	db := openTestDB(t)
	lib := documents.NewLibrary(db)
	require.NoError(t, lib.Add("c1", documents.Document{ID: "d1", Name: "a.txt", Content: "alpha"}))

	docs, err := db.LoadDocuments()
	require.NoError(t, err)
	require.Len(t, docs["c1"], 1)
	assert.Equal(t, "alpha", docs["c1"][0].Content)

	assert.Equal(t, "alpha", documents.NewLibrary(db).List("c1")[0].Content)
}
